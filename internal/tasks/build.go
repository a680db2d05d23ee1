package tasks

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"edge-telemetry-agent/internal/config"
	"edge-telemetry-agent/internal/display"
	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/probe"
	"edge-telemetry-agent/internal/sensor"
)

// BuildSampler returns the configured sensor source and a closer for it.
func BuildSampler(cfg config.Config, logger *slog.Logger) (sensor.Sampler, io.Closer, error) {
	switch strings.ToLower(cfg.Bus.Protocol) {
	case "simulated":
		return sensor.NewSimulated(cfg.Device.Sensors, cfg.Device.Actuators, 1), nopCloser{}, nil
	default:
		s, err := sensor.NewModbus(cfg.Bus, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("sensor bus: %w", err)
		}
		return s, s, nil
	}
}

// BuildDisplay fans out to every configured display. The returned func releases them.
func BuildDisplay(cfg config.Config, logger *slog.Logger) (display.Display, func()) {
	var (
		out     display.Multi
		closers []func()
	)
	for _, t := range cfg.Display.Types {
		switch t {
		case "log":
			out = append(out, display.NewLog(logger))
		case "serial":
			d := display.NewSerial(cfg.Display.Serial, cfg.Display.Width, logger)
			out = append(out, d)
			closers = append(closers, func() { _ = d.Close() })
		case "mqtt":
			d := display.NewMQTT(display.MQTTOptions{
				Broker:   cfg.Display.MQTT.Broker,
				Topic:    cfg.Display.MQTT.Topic,
				ClientID: cfg.Display.MQTT.ClientID,
			}, logger)
			out = append(out, d)
			closers = append(closers, d.Close)
		}
	}
	return out, func() {
		for _, c := range closers {
			c()
		}
	}
}

// BuildAssociator returns the wireless associator named in the config.
func BuildAssociator(cfg config.Config) probe.Associator {
	if cfg.Network.Associator == "nmcli" {
		return probe.NMCLI{SSID: cfg.Network.SSID, Password: cfg.Network.Password, Interface: cfg.Network.Interface}
	}
	return probe.Static(true)
}

// Channels describes the configured channels for the archive.
func Channels(cfg config.Config) []model.Channel {
	points := make(map[string]sensor.Point, len(cfg.Bus.Points))
	for _, p := range cfg.Bus.Points {
		points[p.Name] = p
	}
	var out []model.Channel
	add := func(names []string, kind string) {
		for _, n := range names {
			p := points[n]
			out = append(out, model.Channel{Name: n, Kind: kind, Unit: p.Unit, Address: int(p.Address), RegisterType: p.RegisterType})
		}
	}
	add(cfg.Device.Sensors, model.KindSensor)
	add(cfg.Device.Actuators, model.KindActuator)
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
