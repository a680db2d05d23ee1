// Command queuectl inspects and maintains the agent's on-disk state: the
// durable upload queue and the persisted registration.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"edge-telemetry-agent/internal/config"
	"edge-telemetry-agent/internal/logging"
	"edge-telemetry-agent/internal/queue"
	"edge-telemetry-agent/internal/registration"
)

const usage = `usage: queuectl [--config path] <command>

commands:
  status   show queue depth, oldest delay and registration bindings
  clear    drop every queued reading
  forget   remove the persisted registration so the agent registers again
`

func main() {
	fs := pflag.NewFlagSet("queuectl", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "config/agent.yaml", "path to YAML config")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	if err := run(os.Stdout, *configPath, fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "queuectl: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, configPath, cmd string) error {
	cfg, err := config.LoadYAML(configPath)
	if err != nil {
		return err
	}
	q := queue.New(cfg.QueuePath(), logging.Discard())
	regs := registration.NewStore(cfg.RegistrationPath())

	switch cmd {
	case "status":
		return status(w, q, regs)
	case "clear":
		if err := q.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(w, "queue cleared")
		return nil
	case "forget":
		if err := regs.Remove(); err != nil {
			return err
		}
		fmt.Fprintln(w, "registration removed")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
