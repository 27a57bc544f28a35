package moteprobe

import (
	"bytes"
	"math/rand"
	"time"

	"github.com/juju/errors"

	"github.com/temoto/meshview/helpers"
	"github.com/temoto/meshview/log2"
)

// EchoPrefix marks a frame as an echo request; the mote firmware mirrors
// the whole frame back unchanged.
const EchoPrefix byte = 'P'

const DefaultEchoTimeout = 2 * time.Second

type EchoStats struct {
	Sent    uint32
	Ok      uint32
	Timeout uint32
	Corrupt uint32
}

// SerialTester measures round-trip frame integrity of a single mote by
// sending random echo frames and comparing the mirrored reply byte for
// byte. It claims the probe's registry slot for the duration of a run, so
// it cannot share a port with a live connector.
type SerialTester struct {
	log     *log2.Log
	probe   *MoteProbe
	reg     *Registry
	timeout time.Duration
	rnd     *rand.Rand
	replies chan []byte
}

func NewSerialTester(probe *MoteProbe, reg *Registry, timeout time.Duration, log *log2.Log) *SerialTester {
	if timeout <= 0 {
		timeout = DefaultEchoTimeout
	}
	return &SerialTester{
		log:     log,
		probe:   probe,
		reg:     reg,
		timeout: timeout,
		rnd:     helpers.RandUnix(),
		replies: make(chan []byte, 1),
	}
}

// Run performs rounds echo exchanges of size payload bytes each and
// reports the aggregate outcome. Errors from the transport abort the run;
// timeouts and corrupt replies only count against the stats.
func (self *SerialTester) Run(rounds int, size int) (EchoStats, error) {
	stats := EchoStats{}
	portname := self.probe.Portname()
	if err := self.reg.Subscribe(portname, self.onFrame); err != nil {
		return stats, errors.Annotatef(err, "serialtester %s", portname)
	}
	defer self.reg.Unsubscribe(portname)

	payload := make([]byte, 1+size)
	payload[0] = EchoPrefix
	for i := 0; i < rounds; i++ {
		for j := 1; j < len(payload); j++ {
			payload[j] = byte(self.rnd.Intn(256))
		}
		// flush a stale reply left over from a timed out round
		select {
		case <-self.replies:
		default:
		}
		if err := self.probe.Send(payload); err != nil {
			return stats, errors.Trace(err)
		}
		stats.Sent++

		select {
		case reply := <-self.replies:
			if bytes.Equal(reply, payload) {
				stats.Ok++
			} else {
				stats.Corrupt++
				self.log.Warningf("serialtester %s corrupt echo sent=%x received=%x", portname, payload, reply)
			}
		case <-time.After(self.timeout):
			stats.Timeout++
			self.log.Warningf("serialtester %s echo timeout round=%d", portname, i)
		}
	}
	return stats, nil
}

func (self *SerialTester) onFrame(_ string, payload []byte) {
	select {
	case self.replies <- payload:
	default:
	}
}
