package plot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/particulate/internal/readings"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func sample() []readings.Reading {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []readings.Reading{
		{Sensor: "kitchen", At: t0, Value: 12, Outcome: "ok"},
		{Sensor: "kitchen", At: t0.Add(15 * time.Second), Value: 14, Outcome: "ok"},
		readings.Invalid("kitchen", t0.Add(30*time.Second), "bad_checksum", ""),
		{Sensor: "kitchen", At: t0.Add(45 * time.Second), Value: 11, Outcome: "ok"},
		{Sensor: "porch", At: t0.Add(5 * time.Second), Value: 30, Outcome: "ok"},
	}
}

func TestBuild(t *testing.T) {
	p, err := Build(sample(), Options{Title: "test", Location: time.UTC})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Title.Text != "test" {
		t.Errorf("title = %q", p.Title.Text)
	}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if p.X.Min != float64(t0.Unix()) || p.X.Max != float64(t0.Add(45*time.Second).Unix()) {
		t.Errorf("x range = [%v, %v]", p.X.Min, p.X.Max)
	}
	if p.Y.Min != 0 || p.Y.Max != 30 {
		t.Errorf("y range = [%v, %v], want [0, 30]", p.Y.Min, p.Y.Max)
	}
}

func TestBuild_Empty(t *testing.T) {
	if _, err := Build(nil, Options{}); !errors.Is(err, ErrNoReadings) {
		t.Fatalf("expected ErrNoReadings, got %v", err)
	}
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, sample(), Options{Width: 400, Height: 200}); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), pngMagic) {
		t.Fatalf("output is not a PNG")
	}
}

func TestSavePNG(t *testing.T) {
	file := filepath.Join(t.TempDir(), "readings.png")
	if err := SavePNG(file, sample(), Options{}); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Fatalf("%s is not a PNG", file)
	}
}
