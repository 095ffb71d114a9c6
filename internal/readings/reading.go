// Package readings defines the value a poll cycle reports and the sinks that
// receive it.
package readings

import (
	"encoding/json"
	"math"
	"time"
)

// Reading is what one poll cycle reports. Value is NaN when the cycle
// produced no valid measurement; Outcome then says why.
type Reading struct {
	Sensor  string
	At      time.Time
	Value   float64
	Outcome string
	Detail  string
}

// Invalid returns the no-reading marker for sensor.
func Invalid(sensor string, at time.Time, outcome, detail string) Reading {
	return Reading{Sensor: sensor, At: at, Value: math.NaN(), Outcome: outcome, Detail: detail}
}

// Valid reports whether r carries a measurement.
func (r Reading) Valid() bool {
	return !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

type readingJSON struct {
	Sensor  string    `json:"sensor"`
	At      time.Time `json:"at"`
	Value   *float64  `json:"value"`
	Valid   bool      `json:"valid"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// MarshalJSON encodes the no-reading marker as a null value, since JSON has
// no NaN.
func (r Reading) MarshalJSON() ([]byte, error) {
	out := readingJSON{
		Sensor:  r.Sensor,
		At:      r.At,
		Valid:   r.Valid(),
		Outcome: r.Outcome,
		Detail:  r.Detail,
	}
	if out.Valid {
		v := r.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores NaN for a null value.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var in readingJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Reading{
		Sensor:  in.Sensor,
		At:      in.At,
		Value:   math.NaN(),
		Outcome: in.Outcome,
		Detail:  in.Detail,
	}
	if in.Value != nil {
		r.Value = *in.Value
	}
	return nil
}

// Sink receives exactly one Reading per poll cycle.
type Sink interface {
	Publish(Reading)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Reading)

func (f SinkFunc) Publish(r Reading) { f(r) }

// Multi fans one reading out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(r Reading) {
	for _, s := range m {
		if s != nil {
			s.Publish(r)
		}
	}
}
