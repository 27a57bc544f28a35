package simengine

import (
	"sync"

	"github.com/juju/errors"
)

// UART is the serial device of one emulated mote. The host side drives
// it through the moteprobe.EmulatedUart interface: ReadUnit/DoneReading
// for mote output, Write for host input. The mote side emits output with
// EmitBytes, which blocks until the host drained the unit, the same way
// real firmware stalls on a busy UART.
type UART struct {
	units chan []byte
	done  chan struct{}
	quit  chan struct{}
	once  sync.Once

	rxlk sync.Mutex
	rx   func(p []byte)
}

func NewUART() *UART {
	return &UART{
		units: make(chan []byte),
		done:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
}

// SetReceiver installs the mote-side sink for host input.
func (self *UART) SetReceiver(rx func(p []byte)) {
	self.rxlk.Lock()
	self.rx = rx
	self.rxlk.Unlock()
}

// EmitBytes transmits mote output towards the host and blocks until the
// host acknowledged the unit or the device closed.
func (self *UART) EmitBytes(p []byte) error {
	cp := append([]byte(nil), p...)
	select {
	case self.units <- cp:
	case <-self.quit:
		return errors.Errorf("uart emit after close")
	}
	select {
	case <-self.done:
		return nil
	case <-self.quit:
		return errors.Errorf("uart closed while emitting")
	}
}

// ReadUnit blocks for the next unit of mote output; nil means closed.
func (self *UART) ReadUnit() []byte {
	select {
	case u := <-self.units:
		return u
	case <-self.quit:
		return nil
	}
}

// DoneReading acknowledges the unit returned by the last ReadUnit.
func (self *UART) DoneReading() {
	select {
	case self.done <- struct{}{}:
	default:
	}
}

// Write delivers host bytes into the mote.
func (self *UART) Write(p []byte) (int, error) {
	select {
	case <-self.quit:
		return 0, errors.Errorf("uart write after close")
	default:
	}
	self.rxlk.Lock()
	rx := self.rx
	self.rxlk.Unlock()
	if rx == nil {
		return 0, errors.Errorf("uart no receiver")
	}
	rx(append([]byte(nil), p...))
	return len(p), nil
}

func (self *UART) Close() error {
	self.once.Do(func() { close(self.quit) })
	return nil
}
