// Package plot renders stored readings as a PNG line chart for offline
// inspection (particulate plot).
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/particulate/internal/readings"
)

// Default image size.
const (
	DefaultWidth  = 14 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

var ErrNoReadings = errors.New("no readings to plot")

// Options controls the rendered image. Zero values use the defaults.
type Options struct {
	Title    string
	Width    vg.Length
	Height   vg.Length
	Location *time.Location
}

func (o Options) normalise() Options {
	if o.Title == "" {
		o.Title = "PM2.5"
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Build lays out one line per sensor. A failed cycle breaks the sensor's line
// and is marked with a cross on the time axis.
func Build(rs []readings.Reading, o Options) (*plot.Plot, error) {
	if len(rs) == 0 {
		return nil, ErrNoReadings
	}
	o = o.normalise()

	p := plot.New()
	p.Title.Text = o.Title
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "µg/m³"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04", Time: plot.UnixTimeIn(o.Location)}
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	bySensor := make(map[string][]readings.Reading)
	for _, r := range rs {
		bySensor[r.Sensor] = append(bySensor[r.Sensor], r)
	}
	names := make([]string, 0, len(bySensor))
	for name := range bySensor {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed plotter.XYs
	for i, name := range names {
		series := bySensor[name]
		sort.Slice(series, func(a, b int) bool { return series[a].At.Before(series[b].At) })

		c := plotutil.Color(i)
		var segments []plotter.XYs
		var cur plotter.XYs
		for _, r := range series {
			x := float64(r.At.Unix())
			if !r.Valid() {
				failed = append(failed, plotter.XY{X: x, Y: 0})
				if len(cur) > 0 {
					segments = append(segments, cur)
					cur = nil
				}
				continue
			}
			cur = append(cur, plotter.XY{X: x, Y: r.Value})
		}
		if len(cur) > 0 {
			segments = append(segments, cur)
		}

		labelled := false
		for _, seg := range segments {
			line, points, err := plotter.NewLinePoints(seg)
			if err != nil {
				return nil, fmt.Errorf("sensor %s: %w", name, err)
			}
			line.Color = c
			line.Width = vg.Points(1)
			points.Color = c
			points.Radius = vg.Points(1)
			p.Add(line, points)
			if !labelled {
				p.Legend.Add(name, line)
				labelled = true
			}
		}
	}

	if len(failed) > 0 {
		marks, err := plotter.NewScatter(failed)
		if err != nil {
			return nil, err
		}
		marks.Color = color.RGBA{R: 200, A: 255}
		marks.Shape = draw.CrossGlyph{}
		marks.Radius = vg.Points(3)
		p.Add(marks)
		p.Legend.Add("no reading", marks)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders rs as a PNG to w.
func WritePNG(w io.Writer, rs []readings.Reading, o Options) error {
	p, err := Build(rs, o)
	if err != nil {
		return err
	}
	o = o.normalise()
	wt, err := p.WriterTo(o.Width, o.Height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders rs to file.
func SavePNG(file string, rs []readings.Reading, o Options) error {
	p, err := Build(rs, o)
	if err != nil {
		return err
	}
	o = o.normalise()
	if err := p.Save(o.Width, o.Height, file); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
