// Package archivedb exposes the agent's local SQLite archive to other programs
// (dashboards, maintenance scripts) without reaching into internal packages.
package archivedb

import (
	"context"
	"encoding/json"
	"time"

	dbpkg "edge-telemetry-agent/internal/db"
	"edge-telemetry-agent/internal/model"
)

// Client is a read-mostly handle on the archive.
type Client struct{ db *dbpkg.DB }

// Open opens the database file, creating the schema if needed.
func Open(path string) (*Client, error) {
	d, err := dbpkg.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{db: d}, nil
}

func (c *Client) Close() error { return c.db.Close() }

// Reading is one archived sample.
type Reading struct {
	Channel   string    `json:"channel"`
	Kind      string    `json:"kind"`
	Sequence  int64     `json:"sequence"`
	Mode      string    `json:"mode"`
	Value     *float64  `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel describes a configured sensor or actuator.
type Channel struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Unit         string `json:"unit"`
	Address      int    `json:"address"`
	RegisterType string `json:"register_type"`
}

// ChannelStats is re-exported from the archive.
type ChannelStats = dbpkg.ChannelStats

func fromModel(r model.ArchivedReading) Reading {
	return Reading{Channel: r.Channel, Kind: r.Kind, Sequence: r.Sequence, Mode: r.Mode, Value: r.Value, Timestamp: r.Timestamp}
}

func fromModels(rs []model.ArchivedReading) []Reading {
	out := make([]Reading, 0, len(rs))
	for _, r := range rs {
		out = append(out, fromModel(r))
	}
	return out
}

// Channels lists the channel table.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	chs, err := c.db.Channels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(chs))
	for _, ch := range chs {
		out = append(out, Channel{Name: ch.Name, Kind: ch.Kind, Unit: ch.Unit, Address: ch.Address, RegisterType: ch.RegisterType})
	}
	return out, nil
}

// SaveReadings appends readings, for imports and tests.
func (c *Client) SaveReadings(ctx context.Context, rs []Reading) error {
	arr := make([]model.ArchivedReading, 0, len(rs))
	for _, r := range rs {
		arr = append(arr, model.ArchivedReading{Channel: r.Channel, Kind: r.Kind, Sequence: r.Sequence, Mode: r.Mode, Value: r.Value, Timestamp: r.Timestamp.UTC()})
	}
	return c.db.SaveReadings(ctx, arr, 100)
}

// Latest returns the newest reading of each channel.
func (c *Client) Latest(ctx context.Context) ([]Reading, error) {
	rs, err := c.db.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return fromModels(rs), nil
}

// LatestJSON is Latest encoded as a JSON array.
func (c *Client) LatestJSON(ctx context.Context) ([]byte, error) {
	rs, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rs)
}

// History returns up to limit newest readings of channel; empty channel means all.
func (c *Client) History(ctx context.Context, channel string, limit int) ([]Reading, error) {
	rs, err := c.db.History(ctx, channel, limit)
	if err != nil {
		return nil, err
	}
	return fromModels(rs), nil
}

// Range returns readings in [from, to) oldest first.
func (c *Client) Range(ctx context.Context, from, to time.Time) ([]Reading, error) {
	rs, err := c.db.Range(ctx, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return fromModels(rs), nil
}

// Stats summarises each channel.
func (c *Client) Stats(ctx context.Context) ([]ChannelStats, error) {
	return c.db.Stats(ctx)
}

// Prune removes readings older than the retention window.
func (c *Client) Prune(ctx context.Context, retain time.Duration) (int64, error) {
	return c.db.Prune(ctx, time.Now().Add(-retain).UTC())
}
