package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/particulate/internal/httputil"
	"github.com/banshee-data/particulate/internal/readings"
	"github.com/banshee-data/particulate/internal/sensor"
)

// runStatus handles "particulate status": it asks a running daemon for its
// sensors and their latest readings.
func runStatus(ctx context.Context, args []string, listenAddr string, c httputil.Doer, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	addr := fs.String("addr", baseURL(listenAddr), "Base URL of the running daemon")
	if err := fs.Parse(args); err != nil {
		return err
	}
	base := strings.TrimRight(*addr, "/")

	var statuses []sensor.Status
	if err := httputil.GetJSON(ctx, c, base+"/api/sensors", &statuses); err != nil {
		return err
	}
	var latest []readings.Reading
	if err := httputil.GetJSON(ctx, c, base+"/api/readings/latest", &latest); err != nil {
		return err
	}
	byName := make(map[string]readings.Reading, len(latest))
	for _, r := range latest {
		byName[r.Sensor] = r
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tSTATUS\tCYCLES\tLAST\tVALUE\tOUTCOME")
	for _, st := range statuses {
		status := "ok"
		if !st.Functional {
			status = "FAILED"
		}
		last, value, outcome := "-", "-", "-"
		if r, ok := byName[st.Name]; ok {
			last = r.At.Local().Format(time.DateTime)
			outcome = r.Outcome
			if r.Valid() {
				value = fmt.Sprintf("%.0f", r.Value)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", st.Name, status, st.Cycles, last, value, outcome)
	}
	return tw.Flush()
}

// baseURL turns a listen address such as ":8080" into a URL on localhost.
func baseURL(listenAddr string) string {
	if strings.HasPrefix(listenAddr, ":") {
		listenAddr = "localhost" + listenAddr
	}
	return "http://" + listenAddr
}

func defaultStatusClient() httputil.Doer {
	return &http.Client{Timeout: 5 * time.Second}
}
