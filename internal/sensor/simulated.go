package sensor

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// profile is the nominal level and swing of a simulated hydroponics channel.
type profile struct {
	base, amplitude, noise, min, max float64
}

var profiles = map[string]profile{
	"ambient_temp": {base: 24, amplitude: 3, noise: 0.2, min: -10, max: 50},
	"humidity":     {base: 60, amplitude: 10, noise: 1, min: 0, max: 100},
	"water_temp":   {base: 21, amplitude: 1.5, noise: 0.1, min: 0, max: 40},
	"tds":          {base: 800, amplitude: 50, noise: 5, min: 0, max: 2000},
	"ph":           {base: 6.2, amplitude: 0.3, noise: 0.02, min: 0, max: 14},
	"water_level":  {base: 75, amplitude: 5, noise: 0.5, min: 0, max: 100},
}

// Simulated produces smooth, plausible values for bench runs without hardware.
// Unknown names get a generic 0..100 signal; names listed in Actuators toggle 0/1.
type Simulated struct {
	names     []string
	actuators map[string]bool
	start     time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulated returns a simulator for the given sensor and actuator names.
func NewSimulated(sensors, actuators []string, seed uint64) *Simulated {
	s := &Simulated{
		actuators: make(map[string]bool, len(actuators)),
		start:     time.Now(),
		rnd:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	s.names = append(s.names, sensors...)
	for _, a := range actuators {
		s.actuators[a] = true
		s.names = append(s.names, a)
	}
	return s
}

func (s *Simulated) Sample(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	phase := time.Since(s.start).Seconds() / 600 * 2 * math.Pi
	snap := make(Snapshot, len(s.names))
	for _, n := range s.names {
		var v float64
		if s.actuators[n] {
			if s.rnd.Float64() < 0.5 {
				v = 1
			}
		} else {
			p, ok := profiles[n]
			if !ok {
				p = profile{base: 50, amplitude: 20, noise: 2, min: 0, max: 100}
			}
			v = p.base + p.amplitude*math.Sin(phase) + s.rnd.NormFloat64()*p.noise
			v = math.Max(p.min, math.Min(p.max, v))
			v = math.Round(v*100) / 100
		}
		snap[n] = &v
	}
	return snap
}
