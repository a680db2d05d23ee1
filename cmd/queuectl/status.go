package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/queue"
	"edge-telemetry-agent/internal/registration"
)

func status(w io.Writer, q *queue.Store, regs *registration.Store) error {
	st, err := q.Read()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "queue:        %s\n", q.Path())
	if fi, err := os.Stat(q.Path()); err == nil {
		fmt.Fprintf(w, "  size:       %s (modified %s)\n", humanize.Bytes(uint64(fi.Size())), humanize.Time(fi.ModTime()))
	}
	fmt.Fprintf(w, "  readings:   %s sensors, %s actuators\n",
		humanize.Comma(int64(len(st.Sensors))), humanize.Comma(int64(len(st.Actuators))))
	if !st.Empty() {
		fmt.Fprintf(w, "  sequence:   up to %d\n", st.MaxSequence())
		fmt.Fprintf(w, "  max delay:  %d cycles\n", maxDelay(st))
	}

	rec, ok, err := regs.Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "registration: %s\n", regs.Path())
	if !ok {
		fmt.Fprintln(w, "  not registered")
		return nil
	}
	fmt.Fprintf(w, "  device:     %s (%s, %s)\n", rec.DeviceID, rec.Name, rec.Status)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  KIND\tNAME\tID")
	for _, b := range rec.Sensors {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", model.KindSensor, b.Name, b.ID)
	}
	for _, b := range rec.Actuators {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", model.KindActuator, b.Name, b.ID)
	}
	return tw.Flush()
}

func maxDelay(st model.QueueState) int {
	m := 0
	for _, rs := range [][]model.Reading{st.Sensors, st.Actuators} {
		for _, r := range rs {
			if r.DelayCount > m {
				m = r.DelayCount
			}
		}
	}
	return m
}
