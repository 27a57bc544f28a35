package moteprobe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temoto/meshview/hdlc"
	"github.com/temoto/meshview/log2"
)

type echoBehavior uint8

const (
	echoMirror echoBehavior = iota
	echoDrop
	echoMangle
)

// loopbackTransport plays the mote side of an echo exchange.
type loopbackTransport struct {
	behavior echoBehavior
	rx       chan []byte
	quit     chan struct{}
	once     sync.Once
}

func newLoopbackTransport(behavior echoBehavior) *loopbackTransport {
	return &loopbackTransport{
		behavior: behavior,
		rx:       make(chan []byte, 16),
		quit:     make(chan struct{}),
	}
}

func (self *loopbackTransport) ReadChunk() ([]byte, error) {
	select {
	case bs := <-self.rx:
		return bs, nil
	case <-self.quit:
		return nil, ErrTransportClosed
	}
}

func (self *loopbackTransport) WriteFrame(wire []byte) error {
	// mote output comes back flow-control-stuffed, like real firmware
	switch self.behavior {
	case echoMirror:
		self.rx <- hdlc.StuffFlowControl(wire)
	case echoDrop:
	case echoMangle:
		self.rx <- hdlc.StuffFlowControl(hdlc.Encode([]byte{EchoPrefix, 0x00}))
	}
	return nil
}

func (self *loopbackTransport) DoneReading() {}

func (self *loopbackTransport) Close() error {
	self.once.Do(func() { close(self.quit) })
	return nil
}

func TestSerialTester(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		behavior echoBehavior
		expect   EchoStats
	}{
		{"all echoed", echoMirror, EchoStats{Sent: 3, Ok: 3}},
		{"silent mote", echoDrop, EchoStats{Sent: 3, Timeout: 3}},
		{"mangled echo", echoMangle, EchoStats{Sent: 3, Corrupt: 3}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			reg := NewRegistry(log)
			tr := newLoopbackTransport(c.behavior)
			p := New(ModeSerial, "loop", tr, reg, log)
			p.Start()
			defer p.Close()

			tester := NewSerialTester(p, reg, 100*time.Millisecond, log)
			stats, err := tester.Run(3, 16)
			require.NoError(t, err)
			assert.Equal(t, c.expect, stats)

			// registry slot released after the run
			require.NoError(t, reg.Subscribe("loop", func(string, []byte) {}))
		})
	}
}
