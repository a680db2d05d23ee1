// Package registration performs the one-time handshake that binds local channel
// names to identifiers assigned by the remote service.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"edge-telemetry-agent/internal/fault"
	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/transport"
)

// Path is the registration endpoint.
const Path = "/iot/register"

// Identity is how the device presents itself when registering.
type Identity struct {
	Name   string
	Status string
}

type channel struct {
	Name string `json:"name"`
}

type request struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Sensors   []channel `json:"sensors"`
	Actuators []channel `json:"actuators"`
}

// Client registers the device and persists the answer.
type Client struct {
	http  *transport.Client
	store *Store
	log   *slog.Logger
}

// NewClient wires the registration client to its transport and store.
func NewClient(h *transport.Client, store *Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: h, store: store, log: logger.With("component", "registration")}
}

// Register sends the registration request. Only a 201 answer is accepted; its body
// is persisted verbatim and returned parsed. On any failure nothing is written, so
// calling Register again is always safe.
func (c *Client) Register(ctx context.Context, id Identity, sensors, actuators []string) (model.RegistrationRecord, error) {
	req := request{
		Name:      id.Name,
		Status:    id.Status,
		Sensors:   channels(sensors),
		Actuators: channels(actuators),
	}
	c.log.Info("sending registration", "name", id.Name, "sensors", len(sensors), "actuators", len(actuators))

	resp, err := c.http.PostJSON(ctx, Path, req)
	if err != nil {
		return model.RegistrationRecord{}, fmt.Errorf("register: %w", err)
	}
	if resp.Status != http.StatusCreated {
		return model.RegistrationRecord{}, fmt.Errorf("register: %w", transport.Rejected(resp))
	}

	rec, err := parse(resp.Body)
	if err != nil {
		return model.RegistrationRecord{}, fmt.Errorf("register: unreadable answer: %w",
			&fault.RejectedError{Status: resp.Status, Body: err.Error()})
	}
	if err := c.store.Save(resp.Body); err != nil {
		return model.RegistrationRecord{}, err
	}
	c.log.Info("registration saved", "device_id", rec.DeviceID, "sensors", len(rec.Sensors), "actuators", len(rec.Actuators))
	return rec, nil
}

func channels(names []string) []channel {
	out := make([]channel, 0, len(names))
	for _, n := range names {
		out = append(out, channel{Name: n})
	}
	return out
}
