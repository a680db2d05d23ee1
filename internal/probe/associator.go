package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Associator joins and reports membership of the device's wireless network.
type Associator interface {
	Associated(ctx context.Context) (bool, error)
	Join(ctx context.Context) error
}

// Static reports a fixed association state; used for wired or bench devices.
type Static bool

func (s Static) Associated(context.Context) (bool, error) { return bool(s), nil }

func (s Static) Join(context.Context) error { return nil }

// NMCLI drives NetworkManager through the nmcli command line tool.
type NMCLI struct {
	SSID      string
	Password  string
	Interface string
	// Timeout bounds each nmcli invocation.
	Timeout time.Duration
}

// Associated reports whether the configured SSID is the active connection on the interface.
func (n NMCLI) Associated(ctx context.Context) (bool, error) {
	out, err := n.run(ctx, "-t", "-f", "ACTIVE,SSID", "dev", "wifi")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(out), "\n") {
		active, ssid, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && active == "yes" && (n.SSID == "" || ssid == n.SSID) {
			return true, nil
		}
	}
	return false, nil
}

// Join asks NetworkManager to connect to the configured SSID.
func (n NMCLI) Join(ctx context.Context) error {
	if n.SSID == "" {
		return fmt.Errorf("nmcli: no ssid configured")
	}
	args := []string{"dev", "wifi", "connect", n.SSID}
	if n.Password != "" {
		args = append(args, "password", n.Password)
	}
	if n.Interface != "" {
		args = append(args, "ifname", n.Interface)
	}
	_, err := n.run(ctx, args...)
	return err
}

func (n NMCLI) run(ctx context.Context, args ...string) ([]byte, error) {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "nmcli", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("nmcli %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
