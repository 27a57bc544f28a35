package moteprobe

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"

	"github.com/temoto/meshview/log2"
)

// PortBaud is one discovered mote attachment: a serial device that
// answered an echo probe at the given line speed.
type PortBaud struct {
	Port string
	Baud int
}

var DefaultScanBauds = []int{DefaultBaudrate}

// one echo packet per baud is enough to tell a mote from line noise
const (
	scanEchoRounds = 1
	scanEchoSize   = 8
)

// Scanner enumerates candidate serial devices and keeps only those that
// mirror echo frames. Devices that fail to open or stay silent are skipped
// with a warning, never a hard error: a scan over a box full of unrelated
// USB serial adapters must still succeed.
type Scanner struct {
	Log *log2.Log

	// Globs overrides OS enumeration with explicit device patterns.
	Globs []string
	Bauds []int
	// Timeout bounds one echo round-trip.
	Timeout time.Duration

	open func(device string, baud int) (Transport, error)
}

func NewScanner(log *log2.Log) *Scanner {
	return &Scanner{
		Log:     log,
		Bauds:   DefaultScanBauds,
		Timeout: DefaultEchoTimeout,
		open: func(device string, baud int) (Transport, error) {
			return NewSerial(device, baud)
		},
	}
}

// Scan returns every responding device with the first baudrate it answered
// at. reg must have no subscribers on the candidate device names.
func (self *Scanner) Scan(reg *Registry) ([]PortBaud, error) {
	candidates, err := self.candidates()
	if err != nil {
		return nil, errors.Trace(err)
	}

	found := make([]PortBaud, 0, len(candidates))
	for _, device := range candidates {
		if baud, ok := self.probeDevice(device, reg); ok {
			found = append(found, PortBaud{Port: device, Baud: baud})
		}
	}
	return found, nil
}

func (self *Scanner) candidates() ([]string, error) {
	var devices []string
	if len(self.Globs) > 0 {
		for _, g := range self.Globs {
			matched, err := filepath.Glob(g)
			if err != nil {
				return nil, errors.Annotatef(err, "portscan glob=%s", g)
			}
			devices = append(devices, matched...)
		}
	} else {
		list, err := serial.GetPortsList()
		if err != nil {
			return nil, errors.Annotate(err, "portscan enumerate")
		}
		devices = list
	}
	sort.Strings(devices)
	return devices, nil
}

// probeDevice tries each configured baudrate in order and accepts the
// first one where at least one echo came back intact.
func (self *Scanner) probeDevice(device string, reg *Registry) (int, bool) {
	for _, baud := range self.Bauds {
		tr, err := self.open(device, baud)
		if err != nil {
			self.Log.Warningf("portscan device=%s baud=%d open: %s", device, baud, err)
			continue
		}
		probe := New(ModeSerial, device, tr, reg, self.Log)
		probe.Start()
		tester := NewSerialTester(probe, reg, self.Timeout, self.Log)
		stats, err := tester.Run(scanEchoRounds, scanEchoSize)
		probe.Close()
		if err != nil {
			self.Log.Warningf("portscan device=%s baud=%d echo: %s", device, baud, err)
			continue
		}
		if stats.Ok > 0 {
			self.Log.Infof("portscan device=%s baud=%d ok=%d/%d", device, baud, stats.Ok, stats.Sent)
			return baud, true
		}
		self.Log.Debugf("portscan device=%s baud=%d silent", device, baud)
	}
	return 0, false
}
