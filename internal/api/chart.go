package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/particulate/internal/httputil"
	"github.com/banshee-data/particulate/internal/readings"
)

// showChart renders stored readings as an HTML line chart, one series per
// sensor. Cycles without a reading leave a gap in the line.
// Query params are the same as /api/readings; since defaults to 24h.
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q, err := s.parseQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if q.Since.IsZero() {
		q.Since = s.now().Add(-24 * time.Hour)
	}

	rs, err := s.history.Readings(q)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}

	line := buildLineChart(rs, q.Since)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func buildLineChart(rs []readings.Reading, since time.Time) *charts.Line {
	series := make(map[string][]opts.LineData)
	for _, rd := range rs {
		var v interface{} = "-" // echarts' marker for a missing point
		if rd.Valid() {
			v = rd.Value
		}
		series[rd.Sensor] = append(series[rd.Sensor], opts.LineData{
			Value: []interface{}{rd.At.UnixMilli(), v},
		})
	}
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Particulate readings", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "PM2.5",
			Subtitle: fmt.Sprintf("since %s, %d readings", since.Format(time.RFC3339), len(rs)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "µg/m³"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	for _, name := range names {
		line.AddSeries(name, series[name],
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), ConnectNulls: opts.Bool(false)}),
		)
	}
	return line
}
