package model

import "time"

// Channel represents a configured sensor or actuator channel of this device.
type Channel struct {
	Name         string `gorm:"column:name;primaryKey"`
	Kind         string `gorm:"column:kind;index"` // sensor | actuator
	Unit         string `gorm:"column:unit"`
	Address      int    `gorm:"column:address"`
	RegisterType string `gorm:"column:register_type"`
}

func (Channel) TableName() string { return "channels" }

// ArchivedReading is one locally logged sample of a channel.
// Value is NULL when the channel failed to read.
type ArchivedReading struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Channel   string    `gorm:"column:channel;index"`
	Kind      string    `gorm:"column:kind"`
	Sequence  int64     `gorm:"column:sequence;index"`
	Value     *float64  `gorm:"column:value"`
	Mode      string    `gorm:"column:mode"`
	Timestamp time.Time `gorm:"column:timestamp;index"`
}

func (ArchivedReading) TableName() string { return "archived_readings" }
