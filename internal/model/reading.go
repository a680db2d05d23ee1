package model

import "strconv"

// Reading kinds.
const (
	KindSensor   = "sensor"
	KindActuator = "actuator"
)

// Reading is a single queued channel value awaiting upload.
// Value is nil when the channel produced no reading at sample time.
type Reading struct {
	Name       string  `json:"name"`
	Value      *string `json:"value"`
	Sequence   int64   `json:"sequence"`
	DelayCount int     `json:"delay_count"`
}

// NewReading builds a Reading from a numeric sample; nil stays absent.
func NewReading(name string, v *float64, seq int64) Reading {
	r := Reading{Name: name, Sequence: seq}
	if v != nil {
		s := strconv.FormatFloat(*v, 'f', -1, 64)
		r.Value = &s
	}
	return r
}

// Batch is an ordered group of readings produced by one caching cycle.
type Batch struct {
	Sensors   []Reading `json:"sensors"`
	Actuators []Reading `json:"actuators"`
}

// Len returns the number of readings in the batch.
func (b Batch) Len() int { return len(b.Sensors) + len(b.Actuators) }

// QueueState is the full persisted content of the durable queue.
type QueueState struct {
	Sensors   []Reading `json:"sensors"`
	Actuators []Reading `json:"actuators"`
}

// Empty reports whether nothing is queued.
func (q QueueState) Empty() bool { return len(q.Sensors) == 0 && len(q.Actuators) == 0 }

// Len returns the number of queued readings.
func (q QueueState) Len() int { return len(q.Sensors) + len(q.Actuators) }

// MaxSequence returns the highest sequence number held in the queue, or 0.
func (q QueueState) MaxSequence() int64 {
	var max int64
	for _, r := range q.Sensors {
		if r.Sequence > max {
			max = r.Sequence
		}
	}
	for _, r := range q.Actuators {
		if r.Sequence > max {
			max = r.Sequence
		}
	}
	return max
}
