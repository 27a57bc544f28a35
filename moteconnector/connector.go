// Package moteconnector pairs a probe with the live state of its mote:
// it consumes decoded frames, dispatches them by notification type and
// exposes the commands a single mote understands.
package moteconnector

import (
	"github.com/juju/errors"

	"github.com/temoto/meshview/ebm"
	"github.com/temoto/meshview/log2"
	"github.com/temoto/meshview/moteprobe"
	"github.com/temoto/meshview/motestate"
)

const modName = "moteconnector"

// CmdSetDAGRoot asks the firmware to become routing root.
const CmdSetDAGRoot byte = 'R'

type Connector struct {
	log   *log2.Log
	probe *moteprobe.MoteProbe
	reg   *moteprobe.Registry
	state *motestate.MoteState
	mon   *ebm.Monitor
}

// New subscribes to the probe's port and owns the probe from then on.
func New(probe *moteprobe.MoteProbe, reg *moteprobe.Registry, mon *ebm.Monitor, log *log2.Log) (*Connector, error) {
	self := &Connector{
		log:   log,
		probe: probe,
		reg:   reg,
		state: motestate.New(probe.Portname()),
		mon:   mon,
	}
	if err := reg.Subscribe(probe.Portname(), self.onFrame); err != nil {
		return nil, errors.Annotatef(err, "%s %s", modName, probe.Portname())
	}
	return self, nil
}

func (self *Connector) Portname() string            { return self.probe.Portname() }
func (self *Connector) State() *motestate.MoteState { return self.state }
func (self *Connector) Probe() *moteprobe.MoteProbe { return self.probe }

// TriggerDAGRoot commands this mote to become the routing root. The
// promotion is confirmed asynchronously by a later status notification.
func (self *Connector) TriggerDAGRoot() error {
	err := self.probe.Send([]byte{CmdSetDAGRoot})
	return errors.Annotatef(err, "%s %s dagroot", modName, self.Portname())
}

func (self *Connector) Close() {
	self.reg.Unsubscribe(self.Portname())
	self.probe.Close()
}

func (self *Connector) onFrame(portname string, payload []byte) {
	self.mon.CountFrame(portname, len(payload))
	if len(payload) == 0 {
		self.log.Warningf("%s %s empty frame", modName, portname)
		return
	}
	switch payload[0] {
	case motestate.NotifStatus:
		st, err := motestate.DecodeStatus(payload)
		if err != nil {
			self.log.Warningf("%s %s status frame=%x: %s", modName, portname, payload, err)
			return
		}
		self.state.Update(st)
	case motestate.NotifError:
		self.log.Errorf("%s %s mote error: %s", modName, portname, payload[1:])
	case motestate.NotifData:
		if self.log.Enabled(log2.LDebug) {
			self.log.Debugf("%s %s data frame=%x", modName, portname, payload[1:])
		}
	default:
		self.log.Warningf("%s %s unknown notification type=%02x frame=%x", modName, portname, payload[0], payload)
	}
}
