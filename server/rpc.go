package server

import (
	"strconv"
	"time"

	"github.com/temoto/meshview/ebm"
	"github.com/temoto/meshview/motestate"
	"github.com/temoto/meshview/simengine"
)

// setRootConfirmWait bounds how long set_root waits for the mote to
// report the root flag in a status notification.
const setRootConfirmWait = 5 * time.Second

// MoteDict maps each known 16-bit address to its port name. A mote that
// never reported a status yet is keyed by port name with a null value.
func (self *Server) MoteDict() map[string]*string {
	out := make(map[string]*string, 16)
	for _, c := range self.connectors() {
		port := c.Portname()
		if c.State().Seen() {
			out[c.State().AddrString()] = &port
		} else {
			out[port] = nil
		}
	}
	return out
}

// BootMotes powers on emulated motes: either ["all"] or a list of mote
// ids. The whole request is validated before anything is switched on,
// then all of them boot at the same simulated instant.
func (self *Server) BootMotes(ids []string) *Fault {
	if self.engine == nil {
		return newFault(FaultNotSupported, "boot_motes requires emulated mode, this is %s", self.mode)
	}

	var motes []*simengine.MoteHandler
	if len(ids) == 1 && ids[0] == "all" {
		for _, m := range self.engine.Motes() {
			if !m.PoweredOn() {
				motes = append(motes, m)
			}
		}
		if len(motes) == 0 {
			return newFault(FaultConflict, "all motes already booted")
		}
	} else {
		if len(ids) == 0 {
			return newFault(FaultBadRequest, "boot_motes requires mote ids or \"all\"")
		}
		for _, s := range ids {
			id, err := strconv.Atoi(s)
			if err != nil {
				return newFault(FaultBadRequest, "invalid mote id=%s", s)
			}
			m := self.engine.Mote(id)
			if m == nil {
				return newFault(FaultUnknownMote, "unknown mote id=%d", id)
			}
			if m.PoweredOn() {
				return newFault(FaultConflict, "mote id=%d already booted", id)
			}
			motes = append(motes, m)
		}
	}

	// freeze simulated time so every mote boots at the same instant
	self.engine.Pause()
	defer self.engine.Resume()
	booted := 0
	for _, m := range motes {
		if m.SwitchOn() {
			booted++
		}
	}
	self.Log.Infof("%s boot_motes booted=%d", modName, booted)
	return nil
}

// SetRoot promotes a mote, named by port or by 16-bit address, to DAG
// root and waits for the mote to confirm through a status notification.
func (self *Server) SetRoot(key string) *Fault {
	conn := self.connectorByKey(key)
	if conn == nil {
		return newFault(FaultUnknownMote, "unknown mote port/addr=%s", key)
	}
	if conn.State().IsDAGRoot() {
		return newFault(FaultConflict, "mote %s is already DAG root", key)
	}
	if err := conn.TriggerDAGRoot(); err != nil {
		return newFault(FaultInternal, "set_root %s: %s", key, err)
	}
	deadline := time.Now().Add(setRootConfirmWait)
	for time.Now().Before(deadline) {
		if conn.State().IsDAGRoot() {
			self.Log.Infof("%s set_root %s confirmed", modName, key)
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return newFault(FaultTimeout, "set_root %s not confirmed within %s", key, setRootConfirmWait)
}

// MoteStateReply is the mote_state operation result.
type MoteStateReply struct {
	Portname string           `json:"portname"`
	Addr     string           `json:"addr"`
	Status   motestate.Status `json:"status"`
}

func (self *Server) MoteState(addr string) (*MoteStateReply, *Fault) {
	conn := self.connectorByAddr(addr)
	if conn == nil {
		return nil, newFault(FaultUnknownMote, "unknown mote addr=%s", addr)
	}
	return &MoteStateReply{
		Portname: conn.Portname(),
		Addr:     conn.State().AddrString(),
		Status:   conn.State().Snapshot(),
	}, nil
}

// DAGRoot returns the address of the current root, empty when no mote
// claimed the role yet.
func (self *Server) DAGRoot() string {
	for _, c := range self.connectors() {
		if c.State().Seen() && c.State().IsDAGRoot() {
			return c.State().AddrString()
		}
	}
	return ""
}

func (self *Server) states() []*motestate.MoteState {
	conns := self.connectors()
	out := make([]*motestate.MoteState, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.State())
	}
	return out
}

func (self *Server) DAG() []motestate.Edge { return motestate.BuildDAG(self.states()) }

func (self *Server) Connectivity() motestate.Graph { return motestate.Connectivity(self.states()) }

// EbmEnable flips the traffic monitor and returns the previous setting.
func (self *Server) EbmEnable(on bool) bool {
	prev := self.mon.Enabled()
	self.mon.SetEnabled(on)
	return prev
}

func (self *Server) EbmWiresharkEnabled() bool { return self.mon.Enabled() }

func (self *Server) EbmStats() map[string]ebm.Stats { return self.mon.Snapshot() }

// Shutdown requests orderly termination; the owner of the server sees
// it on StopChan and tears everything down.
func (self *Server) Shutdown() {
	self.Log.Infof("%s shutdown requested", modName)
	self.alive.Stop()
}
