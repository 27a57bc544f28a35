package moteprobe

import (
	"fmt"

	"github.com/juju/errors"
)

// EmulatedUart is the probe-facing side of an emulated mote's serial
// device. ReadUnit blocks until the mote emits bytes and returns nil once
// the device is closed; after consuming a unit the probe must call
// DoneReading so the emulator's clock can advance past the I/O.
type EmulatedUart interface {
	ReadUnit() []byte
	DoneReading()
	Write(p []byte) (int, error)
	Close() error
}

type emulatedTransport struct {
	uart EmulatedUart
	name string
}

// EmulatedPortname derives the synthetic identity of emulated mote id.
func EmulatedPortname(id int) string { return fmt.Sprintf("emulated%d", id) }

func NewEmulated(id int, uart EmulatedUart) *emulatedTransport {
	return &emulatedTransport{uart: uart, name: EmulatedPortname(id)}
}

func (self *emulatedTransport) ReadChunk() ([]byte, error) {
	bs := self.uart.ReadUnit()
	if bs == nil {
		return nil, ErrTransportClosed
	}
	return bs, nil
}

func (self *emulatedTransport) WriteFrame(wire []byte) error {
	err := writeFull(self.uart, wire, "emulated "+self.name)
	return errors.Trace(err)
}

func (self *emulatedTransport) DoneReading() { self.uart.DoneReading() }

func (self *emulatedTransport) Close() error { return self.uart.Close() }
