// Package db is the SQLite archive of locally logged readings.
package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"edge-telemetry-agent/internal/model"
)

// DB wraps the GORM connection.
type DB struct {
	ORM *gorm.DB
}

// Open opens the database file and migrates the schema.
func Open(path string) (*DB, error) {
	g, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &DB{ORM: g}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// SeedChannels records the configured channel layout.
func (d *DB) SeedChannels(ctx context.Context, chs []model.Channel) error {
	return upsertChannels(ctx, d.ORM, chs)
}

// Channels lists known channels ordered by kind then name.
func (d *DB) Channels(ctx context.Context) ([]model.Channel, error) {
	var out []model.Channel
	err := d.ORM.WithContext(ctx).Order("kind, name").Find(&out).Error
	return out, err
}

// SaveReadings appends readings in batches.
func (d *DB) SaveReadings(ctx context.Context, rs []model.ArchivedReading, batchSize int) error {
	return insertReadings(ctx, d.ORM, rs, batchSize)
}

// History returns the newest readings of one channel (all channels when empty).
// limit <= 0 returns everything.
func (d *DB) History(ctx context.Context, channel string, limit int) ([]model.ArchivedReading, error) {
	q := d.ORM.WithContext(ctx).Order("timestamp DESC, id DESC")
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.ArchivedReading
	err := q.Find(&out).Error
	return out, err
}

// Range returns readings with from <= timestamp < to in chronological order.
// A zero bound is open.
func (d *DB) Range(ctx context.Context, from, to time.Time) ([]model.ArchivedReading, error) {
	q := d.ORM.WithContext(ctx).Order("timestamp, id")
	if !from.IsZero() {
		q = q.Where("timestamp >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("timestamp < ?", to)
	}
	var out []model.ArchivedReading
	err := q.Find(&out).Error
	return out, err
}

// Latest returns the most recent reading of every channel, ordered by channel.
func (d *DB) Latest(ctx context.Context) ([]model.ArchivedReading, error) {
	sub := d.ORM.Model(&model.ArchivedReading{}).Select("MAX(id)").Group("channel")
	var out []model.ArchivedReading
	err := d.ORM.WithContext(ctx).Where("id IN (?)", sub).Order("channel").Find(&out).Error
	return out, err
}

// ChannelStats summarises the archive of one channel.
type ChannelStats struct {
	Channel string    `json:"channel"`
	Count   int64     `json:"count"`
	Missing int64     `json:"missing"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
}

// Stats aggregates counts per channel.
func (d *DB) Stats(ctx context.Context) ([]ChannelStats, error) {
	type row struct {
		Channel string
		Count   int64
		Missing int64
		First   string
		Last    string
	}
	var rows []row
	err := d.ORM.WithContext(ctx).Model(&model.ArchivedReading{}).
		Select("channel, COUNT(*) AS count, SUM(CASE WHEN value IS NULL THEN 1 ELSE 0 END) AS missing, MIN(timestamp) AS first, MAX(timestamp) AS last").
		Group("channel").Order("channel").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ChannelStats, 0, len(rows))
	for _, r := range rows {
		out = append(out, ChannelStats{Channel: r.Channel, Count: r.Count, Missing: r.Missing, First: parseTime(r.First), Last: parseTime(r.Last)})
	}
	return out, nil
}

// Prune deletes readings older than before and reports how many were removed.
func (d *DB) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := d.ORM.WithContext(ctx).Where("timestamp < ?", before).Delete(&model.ArchivedReading{})
	return res.RowsAffected, res.Error
}

// parseTime reads the text form SQLite aggregates return for DATETIME columns.
func parseTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
