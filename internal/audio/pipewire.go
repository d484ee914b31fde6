package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// PipeWire manages PipeWire/JACK port operations through pw-link.
type PipeWire struct {
	// listCommand is replaceable so port parsing can be exercised without PipeWire.
	listCommand func() ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{listCommand: func() ([]byte, error) {
		return exec.Command("pw-link", "-io").Output()
	}}
}

// ListPorts returns all available JACK ports via PipeWire
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.listCommand()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// ValidatePort checks that a port exists exactly once in the graph.
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" || portName == "disabled" {
		return nil
	}
	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortInList(portName, ports)
}

func validatePortInList(portName string, ports []string) error {
	count := 0
	for _, p := range ports {
		if p == portName {
			count++
		}
	}
	switch {
	case count == 0:
		return fmt.Errorf("port not found: %s", portName)
	case count > 1:
		return fmt.Errorf("duplicate sources detected for '%s' (%d instances). Please close conflicting applications", portName, count)
	}
	return nil
}

// PortsPresent reports which of the given ports are currently in the graph.
func (pw *PipeWire) PortsPresent(names []string) (map[string]bool, error) {
	ports, err := pw.ListPorts()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ports))
	for _, p := range ports {
		seen[p] = true
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = seen[n]
	}
	return present, nil
}

// ConnectPortsWithRetry connects two JACK ports, retrying while the source appears.
func (pw *PipeWire) ConnectPortsWithRetry(sourcePort, destPort string) error {
	maxRetries := 5
	retryDelay := 500 * time.Millisecond
	if isEphemeralPort(sourcePort) {
		// Browsers and streaming apps may take longer to appear
		maxRetries = 15
		retryDelay = time.Second
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := pw.ValidatePort(sourcePort); err != nil {
			slog.Debug("Source port not yet available", "source", sourcePort, "attempt", attempt, "error", err)
		} else if err := connectPorts(sourcePort, destPort); err != nil {
			slog.Debug("Connection attempt failed", "source", sourcePort, "dest", destPort, "attempt", attempt, "error", err)
		} else {
			slog.Debug("Connected ports", "source", sourcePort, "dest", destPort, "attempt", attempt)
			return nil
		}
		if attempt < maxRetries {
			time.Sleep(retryDelay)
		}
	}
	return fmt.Errorf("failed to connect %s to %s after %d attempts", sourcePort, destPort, maxRetries)
}

func connectPorts(sourcePort, destPort string) error {
	output, err := exec.Command("pw-link", sourcePort, destPort).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to connect ports: %w (output: %s)", err, string(output))
	}
	return nil
}

func isEphemeralPort(portName string) bool {
	lower := strings.ToLower(portName)
	for _, app := range []string{"chrome", "firefox", "spotify", "discord", "vlc", "mpv", "zoom"} {
		if strings.Contains(lower, app) {
			return true
		}
	}
	return false
}
