package main

import (
	"fmt"

	"github.com/banshee-data/particulate/internal/config"
	"github.com/banshee-data/particulate/internal/readings"
	"github.com/banshee-data/particulate/internal/sensor"
	"github.com/banshee-data/particulate/internal/serialport"
)

// devSensor is polled when --dev is given without any configured sensors.
var devSensor = config.SensorConfig{Name: "dev", Port: "simulated", Preset: "pms5003", PollInterval: "2s"}

// buildSensors creates one unopened sensor per configured entry. In dev mode
// every sensor reads from a simulated port emitting frames in its layout.
func buildSensors(cfg *config.Config, dev bool, sink readings.Sink, observer sensor.Observer) ([]*sensor.Sensor, error) {
	entries := cfg.Sensors
	if dev && len(entries) == 0 {
		entries = []config.SensorConfig{devSensor}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no sensors configured (use --config, or --dev for a simulated sensor)")
	}

	sensors := make([]*sensor.Sensor, 0, len(entries))
	for i, sc := range entries {
		layout, err := sc.Layout()
		if err != nil {
			return nil, fmt.Errorf("sensor %q: %w", sc.Name, err)
		}
		opts, err := sc.PortOptions()
		if err != nil {
			return nil, fmt.Errorf("sensor %q: %w", sc.Name, err)
		}

		opener := serialport.RealOpener(sc.Port, opts)
		transport := sc.Port + " " + opts.String()
		if dev {
			opener = serialport.PorterOpener(serialport.NewSimulatedPort(layout, uint64(i+1)), opts)
			transport = "simulated " + opts.String()
		}

		s, err := sensor.New(sensor.Config{
			Name:      sc.Name,
			Layout:    layout,
			Open:      opener.Source(),
			Transport: transport,
			Sink:      sink,
			Observer:  observer,
		})
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
	}
	return sensors, nil
}
