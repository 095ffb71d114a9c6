package readings

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a run of readings from one sensor. The statistics cover
// valid readings only and are nil when there are none.
type Summary struct {
	Sensor     string         `json:"sensor"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	Cycles     int            `json:"cycles"`
	Valid      int            `json:"valid"`
	ValidRatio float64        `json:"valid_ratio"`
	Outcomes   map[string]int `json:"outcomes"`
	// Truncated is set when the query limit cut off older readings, so
	// From is later than the requested window start.
	Truncated bool `json:"truncated,omitempty"`

	Mean   *float64 `json:"mean"`
	StdDev *float64 `json:"stddev"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	P50    *float64 `json:"p50"`
	P90    *float64 `json:"p90"`
}

// Summarize groups rs by sensor and summarises each group. The result is
// sorted by sensor name.
func Summarize(rs []Reading) []Summary {
	groups := make(map[string][]Reading)
	for _, r := range rs {
		groups[r.Sensor] = append(groups[r.Sensor], r)
	}

	out := make([]Summary, 0, len(groups))
	for name, g := range groups {
		out = append(out, summarizeOne(name, g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sensor < out[j].Sensor })
	return out
}

func summarizeOne(name string, rs []Reading) Summary {
	s := Summary{Sensor: name, Cycles: len(rs), Outcomes: make(map[string]int)}

	values := make([]float64, 0, len(rs))
	for i, r := range rs {
		if i == 0 || r.At.Before(s.From) {
			s.From = r.At
		}
		if i == 0 || r.At.After(s.To) {
			s.To = r.At
		}
		s.Outcomes[r.Outcome]++
		if r.Valid() {
			values = append(values, r.Value)
		}
	}

	s.Valid = len(values)
	if s.Cycles > 0 {
		s.ValidRatio = float64(s.Valid) / float64(s.Cycles)
	}
	if len(values) == 0 {
		return s
	}

	sort.Float64s(values)
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	minV, maxV := floats.Min(values), floats.Max(values)
	p50 := stat.Quantile(0.5, stat.Empirical, values, nil)
	p90 := stat.Quantile(0.9, stat.Empirical, values, nil)

	s.Mean, s.StdDev = &mean, &std
	s.Min, s.Max = &minV, &maxV
	s.P50, s.P90 = &p50, &p90
	return s
}
