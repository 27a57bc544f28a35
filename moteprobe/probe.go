// Package moteprobe acquires raw byte streams from motes over
// interchangeable transports (serial, emulated, TCP socket, MQTT testbed),
// reconstructs HDLC frames from them and routes completed frames to the
// subscriber registered under the probe's port name.
package moteprobe

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/temoto/meshview/hdlc"
	"github.com/temoto/meshview/helpers/atomic_clock"
	"github.com/temoto/meshview/log2"
)

const modName = "moteprobe"

type Mode uint8

const (
	ModeSerial Mode = iota
	ModeEmulated
	ModeSocket
	ModeTestbed
)

func (m Mode) String() string {
	switch m {
	case ModeSerial:
		return "serial"
	case ModeEmulated:
		return "emulated"
	case ModeSocket:
		return "socket"
	case ModeTestbed:
		return "testbed"
	}
	return "unknown!"
}

type MoteProbe struct { //nolint:maligned
	Log *log2.Log

	alive    *alive.Alive
	mode     Mode
	portname string
	tr       Transport
	reg      *Registry

	txlk sync.Mutex

	// frame assembly state, touched only by the read loop
	inFrame  bool
	escaping bool
	lastRx   byte
	inputBuf []byte

	// time accounting
	lastRxAt *atomic_clock.Clock
	lastTxAt *atomic_clock.Clock
}

func New(mode Mode, portname string, tr Transport, reg *Registry, log *log2.Log) *MoteProbe {
	return &MoteProbe{
		Log:      log,
		alive:    alive.NewAlive(),
		mode:     mode,
		portname: portname,
		tr:       tr,
		reg:      reg,
		lastRx:   hdlc.Flag,
		inputBuf: make([]byte, 0, 256),
		lastRxAt: atomic_clock.New(0),
		lastTxAt: atomic_clock.New(0),
	}
}

func (self *MoteProbe) Mode() Mode       { return self.mode }
func (self *MoteProbe) Portname() string { return self.portname }

func (self *MoteProbe) LastFrameAt() *atomic_clock.Clock { return self.lastRxAt }
func (self *MoteProbe) LastSendAt() *atomic_clock.Clock  { return self.lastTxAt }

// Start spawns the acquisition loop on a dedicated worker.
func (self *MoteProbe) Start() {
	if !self.alive.Add(1) {
		self.Log.Errorf("%s %s Start() after Close()", modName, self.portname)
		return
	}
	go self.readLoop()
}

// Send frames payload and transmits it through the owned transport.
// Concurrent sends are serialized, two frames never interleave mid-write.
func (self *MoteProbe) Send(payload []byte) error {
	wire := hdlc.Encode(payload)

	self.txlk.Lock()
	defer self.txlk.Unlock()
	if !self.alive.IsRunning() {
		return errors.Errorf("%s %s send after close", modName, self.portname)
	}
	if err := self.tr.WriteFrame(wire); err != nil {
		return errors.Annotatef(err, "%s %s send", modName, self.portname)
	}
	self.lastTxAt.SetNow()
	return nil
}

// Close requests cooperative termination and waits for the read loop to
// release the transport.
func (self *MoteProbe) Close() {
	self.alive.Stop()
	// unblock a pending read; the loop's scoped release tolerates double close
	self.tr.Close()
	self.alive.Wait()
}

func (self *MoteProbe) readLoop() {
	defer self.alive.Done()
	// release transport on every exit path
	defer self.tr.Close()

	for self.alive.IsRunning() {
		chunk, err := self.tr.ReadChunk()
		if err != nil {
			if self.alive.IsRunning() {
				self.Log.Warningf("%s %s read: %s", modName, self.portname, err)
				self.alive.Stop()
			}
			return
		}
		for _, b := range chunk {
			self.feedByte(b)
		}
		self.tr.DoneReading()
	}
}

// feedByte runs the frame assembly state machine for one raw byte.
func (self *MoteProbe) feedByte(b byte) {
	switch {
	case !self.inFrame && self.lastRx == hdlc.Flag && b != hdlc.Flag:
		// start of frame; runs of flag bytes before this were idempotent
		self.inFrame = true
		self.escaping = false
		self.inputBuf = append(self.inputBuf[:0], hdlc.Flag)
		self.absorb(b)

	case self.inFrame && b != hdlc.Flag:
		self.absorb(b)

	case self.inFrame && b == hdlc.Flag:
		// end of frame
		self.inFrame = false
		self.escaping = false
		self.inputBuf = append(self.inputBuf, b)
		if payload, err := hdlc.Decode(self.inputBuf); err != nil {
			// drop and resynchronize on the next flag byte
			self.Log.Warningf("%s %s invalid frame=%x: %s", modName, self.portname, self.inputBuf, err)
		} else {
			self.lastRxAt.SetNow()
			if self.Log.Enabled(log2.LDebug) {
				self.Log.Debugf("%s %s frame=%x", modName, self.portname, payload)
			}
			self.reg.publish(self.portname, payload)
		}
		self.inputBuf = self.inputBuf[:0]
	}
	self.lastRx = b
}

// absorb applies in-band software flow control before a byte reaches the
// frame buffer: the escape byte is swallowed, an escaped byte is unmasked,
// bare XON/XOFF are discarded. Firmware stuffs its output on every
// transport, testbed notifications included, so absorption is uniform.
func (self *MoteProbe) absorb(b byte) {
	if b == hdlc.XonXoffEscape {
		self.escaping = true
		return
	}
	if self.escaping {
		self.inputBuf = append(self.inputBuf, b^hdlc.XonXoffMask)
		self.escaping = false
		return
	}
	if b == hdlc.Xon || b == hdlc.Xoff {
		return
	}
	self.inputBuf = append(self.inputBuf, b)
}
