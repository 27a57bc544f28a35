package simengine

import (
	"sync"
	"time"

	"github.com/temoto/meshview/hdlc"
	"github.com/temoto/meshview/log2"
	"github.com/temoto/meshview/motestate"
)

// Serial commands understood by the emulated firmware.
const (
	CmdSetDAGRoot byte = 'R'
	CmdEcho       byte = 'P'
)

// rankRoot is the rank a DAG root advertises; everyone else sits
// rankStep deeper per hop from mote 1.
const (
	rankRoot uint16 = 0x0100
	rankStep uint16 = 0x0200
)

// serialLatency models the round-trip of one serial exchange.
const serialLatency = 5 * time.Millisecond

// MoteHandler emulates one mote: a powered-off shell until SwitchOn,
// then a firmware stub that reports status, answers echo requests and
// can be promoted to DAG root. All I/O goes through its UART as
// HDLC-framed exchanges, identical to a physical mote's serial line.
type MoteHandler struct {
	log  *log2.Log
	id   int
	tl   *Timeline
	uart *UART

	mu        sync.Mutex
	poweredOn bool
	dagroot   bool
	neighbors []motestate.Neighbor
}

func NewMoteHandler(id int, tl *Timeline, log *log2.Log) *MoteHandler {
	self := &MoteHandler{
		log:  log,
		id:   id,
		tl:   tl,
		uart: NewUART(),
	}
	self.uart.SetReceiver(self.onHostBytes)
	return self
}

func (self *MoteHandler) ID() int        { return self.id }
func (self *MoteHandler) Addr16() uint16 { return uint16(self.id) }
func (self *MoteHandler) UART() *UART    { return self.uart }

func (self *MoteHandler) PoweredOn() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.poweredOn
}

func (self *MoteHandler) IsDAGRoot() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.dagroot
}

// setNeighbors installs the radio adjacency the engine assigned.
func (self *MoteHandler) setNeighbors(nbrs []motestate.Neighbor) {
	self.mu.Lock()
	self.neighbors = nbrs
	self.mu.Unlock()
}

// SwitchOn powers the mote and schedules its boot status report at the
// current simulated time. Returns false if it was already on.
func (self *MoteHandler) SwitchOn() bool {
	self.mu.Lock()
	if self.poweredOn {
		self.mu.Unlock()
		return false
	}
	self.poweredOn = true
	self.mu.Unlock()
	self.tl.ScheduleIn(0, "boot", self.emitStatus)
	return true
}

// onHostBytes handles one wire frame of host input. A powered-off mote
// hears nothing.
func (self *MoteHandler) onHostBytes(wire []byte) {
	if !self.PoweredOn() {
		self.log.Debugf("%s mote=%d ignores input while off", modName, self.id)
		return
	}
	payload, err := hdlc.Decode(wire)
	if err != nil {
		self.log.Warningf("%s mote=%d bad frame=%x: %s", modName, self.id, wire, err)
		return
	}
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case CmdSetDAGRoot:
		self.mu.Lock()
		self.dagroot = true
		self.mu.Unlock()
		self.log.Infof("%s mote=%d becomes DAG root", modName, self.id)
		self.tl.ScheduleIn(serialLatency, "dagroot status", self.emitStatus)
	case CmdEcho:
		reply := append([]byte(nil), payload...)
		self.tl.ScheduleIn(serialLatency, "echo", func() { self.emit(reply) })
	default:
		self.log.Warningf("%s mote=%d unknown command=%02x", modName, self.id, payload[0])
	}
}

func (self *MoteHandler) status() motestate.Status {
	self.mu.Lock()
	defer self.mu.Unlock()
	st := motestate.Status{
		Addr16:    uint16(self.id),
		IsSync:    self.poweredOn,
		IsDAGRoot: self.dagroot,
		Neighbors: append([]motestate.Neighbor(nil), self.neighbors...),
	}
	if self.dagroot {
		st.Rank = rankRoot
	} else {
		st.Rank = rankRoot + rankStep*uint16(self.id-1)
	}
	return st
}

func (self *MoteHandler) emitStatus() {
	st := self.status()
	self.emit(st.Encode())
}

func (self *MoteHandler) emit(payload []byte) {
	// firmware escapes XON/XOFF on its serial output, so does the emulation
	wire := hdlc.StuffFlowControl(hdlc.Encode(payload))
	if err := self.uart.EmitBytes(wire); err != nil {
		self.log.Debugf("%s mote=%d emit: %s", modName, self.id, err)
	}
}
