package simengine

import (
	"github.com/juju/errors"

	"github.com/temoto/meshview/log2"
	"github.com/temoto/meshview/motestate"
)

// defaultRSSI is the link quality assigned to emulated adjacencies.
const defaultRSSI int8 = -50

// Engine owns the timeline and a fixed population of emulated motes
// arranged in a chain: mote i hears motes i-1 and i+1, and prefers the
// lower-numbered side as routing parent.
type Engine struct {
	log   *log2.Log
	tl    *Timeline
	motes []*MoteHandler
}

func NewEngine(numMotes int, log *log2.Log) (*Engine, error) {
	if numMotes <= 0 {
		return nil, errors.Errorf("%s numMotes=%d must be positive", modName, numMotes)
	}
	self := &Engine{
		log:   log,
		tl:    NewTimeline(log),
		motes: make([]*MoteHandler, numMotes),
	}
	for i := range self.motes {
		self.motes[i] = NewMoteHandler(i+1, self.tl, log)
	}
	for i, m := range self.motes {
		nbrs := make([]motestate.Neighbor, 0, 2)
		if i > 0 {
			nbrs = append(nbrs, motestate.Neighbor{
				Addr16:          self.motes[i-1].Addr16(),
				RSSI:            defaultRSSI,
				PreferredParent: true,
			})
		}
		if i < len(self.motes)-1 {
			nbrs = append(nbrs, motestate.Neighbor{
				Addr16: self.motes[i+1].Addr16(),
				RSSI:   defaultRSSI,
			})
		}
		m.setNeighbors(nbrs)
	}
	return self, nil
}

func (self *Engine) Timeline() *Timeline { return self.tl }

func (self *Engine) Motes() []*MoteHandler { return self.motes }

// Mote returns the handler for 1-based mote id, nil when out of range.
func (self *Engine) Mote(id int) *MoteHandler {
	if id < 1 || id > len(self.motes) {
		return nil
	}
	return self.motes[id-1]
}

// Pause freezes simulated time so several motes can be switched on at
// the same instant.
func (self *Engine) Pause() { self.tl.Pause() }

func (self *Engine) Resume() { self.tl.Resume() }

func (self *Engine) Close() {
	for _, m := range self.motes {
		m.uart.Close()
	}
	self.tl.Close()
}
