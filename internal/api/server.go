package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/particulate/internal/db"
	"github.com/banshee-data/particulate/internal/httputil"
	"github.com/banshee-data/particulate/internal/monitoring"
	"github.com/banshee-data/particulate/internal/readings"
	"github.com/banshee-data/particulate/internal/sensor"
	"github.com/banshee-data/particulate/internal/version"
)

// ANSI escape codes for request logs
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// StatusReporter is implemented by *sensor.Sensor.
type StatusReporter interface {
	Status() sensor.Status
}

// Latest is implemented by *readings.Hub.
type Latest interface {
	Latest() []readings.Reading
	LatestFor(sensor string) (readings.Reading, bool)
}

// History is implemented by *db.DB.
type History interface {
	Readings(q db.Query) ([]readings.Reading, error)
	Sensors() ([]string, error)
}

type Server struct {
	sensors []StatusReporter
	latest  Latest
	history History
	now     func() time.Time
}

func NewServer(sensors []StatusReporter, latest Latest, history History) *Server {
	return &Server{
		sensors: sensors,
		latest:  latest,
		history: history,
		now:     time.Now,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	logf := monitoring.Tagged("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sensors", s.listSensors)
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/readings/latest", s.showLatest)
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/chart", s.showChart)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	statuses := make([]sensor.Status, 0, len(s.sensors))
	for _, sr := range s.sensors {
		statuses = append(statuses, sr.Status())
	}
	httputil.WriteJSONOK(w, statuses)
}

func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	if name := r.URL.Query().Get("sensor"); name != "" {
		reading, ok := s.latest.LatestFor(name)
		if !ok {
			httputil.NotFound(w, fmt.Sprintf("No reading for sensor %q", name))
			return
		}
		httputil.WriteJSONOK(w, reading)
		return
	}
	httputil.WriteJSONOK(w, s.latest.Latest())
}

// parseQuery reads sensor, since, until and limit. since and until accept
// RFC 3339 timestamps or a duration back from now such as "24h".
func (s *Server) parseQuery(r *http.Request) (db.Query, error) {
	v := r.URL.Query()
	q := db.Query{Sensor: strings.TrimSpace(v.Get("sensor"))}

	var err error
	if q.Since, err = s.parseTime(v.Get("since")); err != nil {
		return q, fmt.Errorf("invalid 'since' parameter: %w", err)
	}
	if q.Until, err = s.parseTime(v.Get("until")); err != nil {
		return q, fmt.Errorf("invalid 'until' parameter: %w", err)
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > db.MaxQueryLimit {
			return q, fmt.Errorf("invalid 'limit' parameter: must be 1..%d", db.MaxQueryLimit)
		}
		q.Limit = n
	}
	return q, nil
}

func (s *Server) parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("duration %s must be positive", v)
		}
		return s.now().Add(-d), nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q, err := s.parseQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rs, err := s.history.Readings(q)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}
	if rs == nil {
		rs = []readings.Reading{}
	}
	httputil.WriteJSONOK(w, rs)
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
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
	if q.Limit == 0 {
		q.Limit = db.MaxQueryLimit
	}

	// each sensor gets its own limit so a busy sensor cannot crowd out
	// another's window; a sensor that hits the limit is flagged truncated
	names := []string{q.Sensor}
	if q.Sensor == "" {
		if names, err = s.history.Sensors(); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to list sensors: %v", err))
			return
		}
	}

	summaries := make([]readings.Summary, 0, len(names))
	for _, name := range names {
		sq := q
		sq.Sensor = name
		rs, err := s.history.Readings(sq)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve readings: %v", err))
			return
		}
		for _, sum := range readings.Summarize(rs) {
			sum.Truncated = len(rs) >= sq.Limit
			summaries = append(summaries, sum)
		}
	}
	httputil.WriteJSONOK(w, summaries)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Info())
}
