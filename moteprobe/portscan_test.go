package moteprobe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temoto/meshview/log2"
)

func TestScannerEchoFilter(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)

	dir := t.TempDir()
	for _, name := range []string{"ttyUSB0", "ttyUSB1", "ttyUSB2"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	scanner := NewScanner(log)
	scanner.Globs = []string{filepath.Join(dir, "ttyUSB*")}
	scanner.Bauds = []int{DefaultBaudrate}
	scanner.Timeout = 100 * time.Millisecond
	scanner.open = func(device string, baud int) (Transport, error) {
		switch filepath.Base(device) {
		case "ttyUSB0":
			// a mote, mirrors echo frames
			return newLoopbackTransport(echoMirror), nil
		case "ttyUSB1":
			// some other serial gadget, never answers
			return newLoopbackTransport(echoDrop), nil
		default:
			return nil, errors.Errorf("device busy")
		}
	}

	reg := NewRegistry(log)
	found, err := scanner.Scan(reg)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, PortBaud{Port: filepath.Join(dir, "ttyUSB0"), Baud: DefaultBaudrate}, found[0])

	// scan left no subscriptions behind
	require.NoError(t, reg.Subscribe(found[0].Port, func(string, []byte) {}))
}

func TestScannerBaudFallback(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)

	dir := t.TempDir()
	device := filepath.Join(dir, "ttyACM0")
	require.NoError(t, os.WriteFile(device, nil, 0o600))

	scanner := NewScanner(log)
	scanner.Globs = []string{device}
	scanner.Bauds = []int{500000, DefaultBaudrate}
	scanner.Timeout = 100 * time.Millisecond
	scanner.open = func(_ string, baud int) (Transport, error) {
		if baud == DefaultBaudrate {
			return newLoopbackTransport(echoMirror), nil
		}
		// wrong speed reads as noise
		return newLoopbackTransport(echoDrop), nil
	}

	found, err := scanner.Scan(NewRegistry(log))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, PortBaud{Port: device, Baud: DefaultBaudrate}, found[0])
}

func TestScannerNoDevices(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	scanner := NewScanner(log)
	scanner.Globs = []string{filepath.Join(t.TempDir(), "nothing*")}
	found, err := scanner.Scan(NewRegistry(log))
	require.NoError(t, err)
	assert.Empty(t, found)
}
