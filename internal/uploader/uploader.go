// Package uploader translates queued readings into the wire payload expected by
// the remote service and submits them in a single request.
package uploader

import (
	"context"
	"fmt"
	"log/slog"

	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/transport"
)

// Path is the readings endpoint.
const Path = "/readings"

// SensorValue is one sensor reading on the wire.
type SensorValue struct {
	Sensor     string `json:"sensor"`
	Value      string `json:"value"`
	Sequence   int64  `json:"sequence"`
	DelayCount int    `json:"delay_count"`
}

// ActuatorValue is one actuator reading on the wire.
type ActuatorValue struct {
	Actuator   string `json:"actuator"`
	Value      string `json:"value"`
	Sequence   int64  `json:"sequence"`
	DelayCount int    `json:"delay_count"`
}

// Payload is the body of POST /readings.
type Payload struct {
	Sensors   []SensorValue   `json:"sensors"`
	Actuators []ActuatorValue `json:"actuators"`
}

// Len returns the number of readings carried.
func (p Payload) Len() int { return len(p.Sensors) + len(p.Actuators) }

// Uploader submits queued readings. It never touches the queue itself.
type Uploader struct {
	http *transport.Client
	log  *slog.Logger
}

// New returns an uploader sending through h.
func New(h *transport.Client, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{http: h, log: logger.With("component", "uploader")}
}

// Upload sends the whole queue once. A nil error means the service acknowledged
// every reading; the caller is then free to clear the queue.
func (u *Uploader) Upload(ctx context.Context, state model.QueueState, reg model.RegistrationRecord) error {
	p, dropped := translate(state, reg)
	if dropped > 0 {
		u.log.Debug("dropped unbound or empty readings", "count", dropped)
	}
	if p.Len() == 0 {
		u.log.Debug("nothing to upload")
		return nil
	}
	resp, err := u.http.PostJSON(ctx, Path, p)
	if err != nil {
		return fmt.Errorf("upload %d readings: %w", p.Len(), err)
	}
	if !resp.OK() {
		return fmt.Errorf("upload %d readings: %w", p.Len(), transport.Rejected(resp))
	}
	u.log.Info("readings acknowledged", "sensors", len(p.Sensors), "actuators", len(p.Actuators))
	return nil
}

// Translate maps local names to remote ids, preserving order. Readings without a
// binding or without a value are left out.
func Translate(state model.QueueState, reg model.RegistrationRecord) Payload {
	p, _ := translate(state, reg)
	return p
}

func translate(state model.QueueState, reg model.RegistrationRecord) (Payload, int) {
	p := Payload{Sensors: []SensorValue{}, Actuators: []ActuatorValue{}}
	dropped := 0
	for _, r := range state.Sensors {
		id, ok := reg.SensorID(r.Name)
		if !ok || r.Value == nil {
			dropped++
			continue
		}
		p.Sensors = append(p.Sensors, SensorValue{Sensor: id, Value: *r.Value, Sequence: r.Sequence, DelayCount: r.DelayCount})
	}
	for _, r := range state.Actuators {
		id, ok := reg.ActuatorID(r.Name)
		if !ok || r.Value == nil {
			dropped++
			continue
		}
		p.Actuators = append(p.Actuators, ActuatorValue{Actuator: id, Value: *r.Value, Sequence: r.Sequence, DelayCount: r.DelayCount})
	}
	return p, dropped
}
