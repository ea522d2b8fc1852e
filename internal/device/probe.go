// Package device identifies the firmware on the other end of a connection.
package device

import (
	"context"
	"fmt"
	"strings"
)

const unknownField = "unknown"

// Info identifies one device connection for cache keying. A firmware upgrade
// or a different board must never reuse another identity's cache entries.
type Info struct {
	DeviceType      string
	FirmwareVersion string
}

// Prober queries firmware identity once per connection.
type Prober interface {
	Probe(ctx context.Context) (Info, error)
}

// ExecFunc runs one code string on the device and returns its printed output.
type ExecFunc func(ctx context.Context, code string) (string, error)

// ReplProber asks the interpreter itself who it is.
type ReplProber struct {
	exec ExecFunc
}

func NewReplProber(exec ExecFunc) *ReplProber {
	return &ReplProber{exec: exec}
}

const probeCode = "import sys\n" +
	"print(sys.platform)\n" +
	"print('.'.join(str(v) for v in sys.implementation.version))"

func (p *ReplProber) Probe(ctx context.Context) (Info, error) {
	out, err := p.exec(ctx, probeCode)
	if err != nil {
		return Info{}, fmt.Errorf("device: probe failed: %w", err)
	}

	info := Info{DeviceType: unknownField, FirmwareVersion: unknownField}
	normalized := strings.ReplaceAll(out, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(normalized), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		info.DeviceType = strings.TrimSpace(lines[0])
	}
	if len(lines) > 1 && strings.TrimSpace(lines[1]) != "" {
		info.FirmwareVersion = strings.TrimSpace(lines[1])
	}
	return info, nil
}
