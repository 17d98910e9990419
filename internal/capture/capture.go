// Package capture collects calibration bench samples from a serial port.
// During a calibration run the device under test streams its raw reading
// alongside the reference instrument's value, one sample per line, either as
// CSV ("raw,reference") or as a small JSON object. Each parsed sample is
// delivered on a channel for the caller to append to a calibration table.
package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.bug.st/serial"

	"github.com/banshee-data/calibrate.report/internal/monitoring"
)

// Sample is one calibration bench reading: the device's raw value and the
// reference instrument's value for the same stimulus.
type Sample struct {
	Raw       float64 `json:"raw"`
	Reference float64 `json:"reference"`
}

// PortInterface is the capture source. Monitor reads until the context is
// cancelled or the source is exhausted, delivering parsed samples on the
// Samples channel. Lines that don't parse are logged at debug level and
// skipped; a noisy serial link must not abort a bench run.
type PortInterface interface {
	Samples() <-chan Sample
	Monitor(ctx context.Context) error
	Close() error
}

// ParseSample parses one capture line. Accepted forms:
//
//	"1023.5,25.0"                          CSV: raw,reference
//	`{"raw": 1023.5, "reference": 25.0}`   JSON
func ParseSample(line string) (Sample, error) {
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "{") {
		var s Sample
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return Sample{}, fmt.Errorf("failed to unmarshal JSON sample: %w", err)
		}
		return s, nil
	}

	segments := strings.Split(line, ",")
	if len(segments) != 2 {
		return Sample{}, fmt.Errorf("expected \"raw,reference\", got %q", line)
	}

	raw, err := strconv.ParseFloat(strings.TrimSpace(segments[0]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to parse raw value: %w", err)
	}
	ref, err := strconv.ParseFloat(strings.TrimSpace(segments[1]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to parse reference value: %w", err)
	}

	return Sample{Raw: raw, Reference: ref}, nil
}

// monitorLines is the shared scan loop for real and mock ports.
func monitorLines(ctx context.Context, r io.Reader, samples chan<- Sample) error {
	scan := bufio.NewScanner(r)

	for scan.Scan() {
		line := scan.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		s, err := ParseSample(line)
		if err != nil {
			monitoring.Debugf("skipping capture line: %v", err)
			continue
		}

		select {
		case samples <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scan.Err()
}

// Port reads samples from a real serial port.
type Port struct {
	port    serial.Port
	samples chan Sample
}

// NewPort opens the named serial port for capture.
func NewPort(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}

	return &Port{port: port, samples: make(chan Sample)}, nil
}

// Samples returns the channel of parsed bench samples.
func (p *Port) Samples() <-chan Sample {
	return p.samples
}

// Monitor reads the serial port line by line until the context is cancelled
// or the port read fails.
func (p *Port) Monitor(ctx context.Context) error {
	// Closing the port on cancellation unblocks the pending Read.
	go func() {
		<-ctx.Done()
		p.port.Close()
	}()

	err := monitorLines(ctx, p.port, p.samples)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close closes the serial port.
func (p *Port) Close() error {
	return p.port.Close()
}

// MockPort replays capture data from an in-memory reader, for dev mode and
// tests.
type MockPort struct {
	data    io.Reader
	samples chan Sample
}

// NewMockPort returns a capture port that replays the given bytes.
func NewMockPort(data []byte) *MockPort {
	return &MockPort{
		data:    strings.NewReader(string(data)),
		samples: make(chan Sample),
	}
}

// Samples returns the channel of parsed bench samples.
func (m *MockPort) Samples() <-chan Sample {
	return m.samples
}

// Monitor replays the fixture data, then blocks until the context is
// cancelled, mirroring a quiet serial line.
func (m *MockPort) Monitor(ctx context.Context) error {
	if err := monitorLines(ctx, m.data, m.samples); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Close is a no-op for the mock.
func (m *MockPort) Close() error {
	return nil
}
