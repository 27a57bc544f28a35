// Package ebm is the traffic monitor: per-port counters of frames and
// bytes seen on the mote serial lines, cheap enough to leave on.
package ebm

import (
	"sync"
	"sync/atomic"

	"github.com/temoto/meshview/log2"
)

type Stats struct {
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`
}

type Monitor struct {
	log     *log2.Log
	enabled uint32

	mu      sync.Mutex
	perPort map[string]*Stats
}

func New(enabled bool, log *log2.Log) *Monitor {
	self := &Monitor{
		log:     log,
		perPort: make(map[string]*Stats, 16),
	}
	self.SetEnabled(enabled)
	return self
}

func (self *Monitor) Enabled() bool { return atomic.LoadUint32(&self.enabled) != 0 }

func (self *Monitor) SetEnabled(on bool) {
	v := uint32(0)
	if on {
		v = 1
	}
	atomic.StoreUint32(&self.enabled, v)
	self.log.Infof("ebm enabled=%t", on)
}

// CountFrame accounts one inbound frame of n payload bytes on portname.
func (self *Monitor) CountFrame(portname string, n int) {
	if !self.Enabled() {
		return
	}
	self.mu.Lock()
	st := self.perPort[portname]
	if st == nil {
		st = &Stats{}
		self.perPort[portname] = st
	}
	st.Frames++
	st.Bytes += uint64(n)
	self.mu.Unlock()
}

func (self *Monitor) Snapshot() map[string]Stats {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make(map[string]Stats, len(self.perPort))
	for port, st := range self.perPort {
		out[port] = *st
	}
	return out
}
