package motestate

import (
	"fmt"
	"sync"

	"github.com/temoto/meshview/helpers/atomic_clock"
)

// MoteState is the live view of one attached mote. It is written by the
// connector's notification handler and read by the command surface.
type MoteState struct {
	portname string

	mu   sync.RWMutex
	st   Status
	seen bool

	lastStatusAt *atomic_clock.Clock
}

func New(portname string) *MoteState {
	return &MoteState{
		portname:     portname,
		lastStatusAt: atomic_clock.New(0),
	}
}

func (self *MoteState) Portname() string { return self.portname }

// Seen reports whether at least one status notification arrived, i.e.
// whether Addr16 is meaningful yet.
func (self *MoteState) Seen() bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.seen
}

func (self *MoteState) Addr16() uint16 {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.st.Addr16
}

// AddrString renders the 16-bit address the way operators type it: four
// lowercase hex digits.
func (self *MoteState) AddrString() string {
	return fmt.Sprintf("%04x", self.Addr16())
}

func (self *MoteState) IsDAGRoot() bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.st.IsDAGRoot
}

func (self *MoteState) LastStatusAt() *atomic_clock.Clock { return self.lastStatusAt }

func (self *MoteState) Update(st Status) {
	self.mu.Lock()
	self.st = st
	self.st.Neighbors = append([]Neighbor(nil), st.Neighbors...)
	self.seen = true
	self.mu.Unlock()
	self.lastStatusAt.SetNow()
}

// Snapshot returns a copy safe to hold across further updates.
func (self *MoteState) Snapshot() Status {
	self.mu.RLock()
	defer self.mu.RUnlock()
	st := self.st
	st.Neighbors = append([]Neighbor(nil), self.st.Neighbors...)
	return st
}
