package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/banshee-data/particulate/internal/db"
	"github.com/banshee-data/particulate/internal/plot"
	"github.com/banshee-data/particulate/internal/security"
)

// runPlot handles "particulate plot", writing stored readings to a PNG.
func runPlot(args []string, dbPath string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	sensorName := fs.String("sensor", "", "Only plot this sensor")
	since := fs.Duration("since", 24*time.Hour, "How far back to plot")
	out := fs.String("out", "", "Output PNG file (default particulate-<sensor>.png)")
	title := fs.String("title", "", "Chart title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		name := *sensorName
		if name == "" {
			name = "all"
		}
		*out = "particulate-" + security.SafeFilename(name) + ".png"
	}
	if err := security.ValidateOutputPath(*out); err != nil {
		return err
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	rs, err := database.Readings(db.Query{
		Sensor: *sensorName,
		Since:  time.Now().Add(-*since),
		Limit:  db.MaxQueryLimit,
	})
	if err != nil {
		return err
	}

	if err := plot.SavePNG(*out, rs, plot.Options{Title: *title}); err != nil {
		return err
	}
	fmt.Printf("Wrote %d readings to %s\n", len(rs), *out)
	return nil
}
