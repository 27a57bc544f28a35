// Package server is the orchestrator: it attaches every configured mote
// through the transport the mode dictates, keeps one connector per mote
// and exposes the remote command surface over HTTP.
package server

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/temoto/meshview/config"
	"github.com/temoto/meshview/ebm"
	"github.com/temoto/meshview/helpers"
	"github.com/temoto/meshview/log2"
	"github.com/temoto/meshview/moteconnector"
	"github.com/temoto/meshview/moteprobe"
	"github.com/temoto/meshview/simengine"
)

const modName = "server"

type Server struct {
	Log *log2.Log

	alive *alive.Alive
	cfg   *config.Config
	mode  moteprobe.Mode
	reg   *moteprobe.Registry
	mon   *ebm.Monitor

	// engine is set in emulated mode only
	engine *simengine.Engine

	mu     sync.RWMutex
	conns  []*moteconnector.Connector
	byPort map[string]*moteconnector.Connector
}

func ParseMode(s string) (moteprobe.Mode, error) {
	switch s {
	case "serial":
		return moteprobe.ModeSerial, nil
	case "emulated":
		return moteprobe.ModeEmulated, nil
	case "socket":
		return moteprobe.ModeSocket, nil
	case "testbed":
		return moteprobe.ModeTestbed, nil
	}
	return 0, errors.Errorf("%s unknown mode=%s, want serial|emulated|socket|testbed", modName, s)
}

// New attaches every mote the configuration names (or discovery finds)
// before returning. A mode that ends up with zero motes is a startup
// error, not a silent idle server.
func New(cfg *config.Config, log *log2.Log) (*Server, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, errors.Trace(err)
	}
	self := &Server{
		Log:    log,
		alive:  alive.NewAlive(),
		cfg:    cfg,
		mode:   mode,
		reg:    moteprobe.NewRegistry(log),
		mon:    ebm.New(cfg.Ebm.Enable, log),
		byPort: make(map[string]*moteconnector.Connector, 16),
	}

	switch mode {
	case moteprobe.ModeSerial:
		err = self.setupSerial()
	case moteprobe.ModeEmulated:
		err = self.setupEmulated()
	case moteprobe.ModeSocket:
		err = self.setupSocket()
	case moteprobe.ModeTestbed:
		err = self.setupTestbed()
	}
	if err == nil && len(self.conns) == 0 {
		err = errors.Errorf("%s mode=%s no motes attached", modName, mode)
	}
	if err != nil {
		self.Close()
		return nil, errors.Trace(err)
	}
	log.Infof("%s mode=%s motes=%d", modName, mode, len(self.conns))

	if self.engine != nil && cfg.Emulated.AutoBoot {
		if fault := self.BootMotes([]string{"all"}); fault != nil {
			self.Close()
			return nil, errors.Errorf("%s auto_boot: %s", modName, fault.Message)
		}
	}
	if cfg.Root != "" {
		if self.engine != nil && !cfg.Emulated.AutoBoot {
			log.Warningf("%s root=%s ignored, motes are not booted", modName, cfg.Root)
		} else if fault := self.setRootAtStartup(cfg.Root); fault != nil {
			self.Close()
			return nil, errors.Errorf("%s root=%s: %s", modName, cfg.Root, fault.Message)
		}
	}
	return self, nil
}

// setRootAtStartup gives freshly booted motes a moment to claim their
// address before the promotion, an address key cannot resolve earlier.
func (self *Server) setRootAtStartup(key string) *Fault {
	deadline := time.Now().Add(setRootConfirmWait)
	for self.connectorByKey(key) == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return self.SetRoot(key)
}

func (self *Server) Mode() moteprobe.Mode { return self.mode }

func (self *Server) Monitor() *ebm.Monitor { return self.mon }

// StopChan closes when Shutdown was requested.
func (self *Server) StopChan() <-chan struct{} { return self.alive.StopChan() }

func (self *Server) Close() {
	self.alive.Stop()
	self.mu.Lock()
	conns := self.conns
	self.conns = nil
	self.byPort = make(map[string]*moteconnector.Connector)
	self.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	if self.engine != nil {
		self.engine.Close()
	}
	self.alive.Wait()
}

func (self *Server) attach(portname string, tr moteprobe.Transport) error {
	probe := moteprobe.New(self.mode, portname, tr, self.reg, self.Log)
	conn, err := moteconnector.New(probe, self.reg, self.mon, self.Log)
	if err != nil {
		tr.Close()
		return errors.Trace(err)
	}
	probe.Start()
	self.mu.Lock()
	self.conns = append(self.conns, conn)
	self.byPort[portname] = conn
	self.mu.Unlock()
	self.Log.Infof("%s attached mode=%s portname=%s", modName, self.mode, portname)
	return nil
}

func (self *Server) setupSerial() error {
	baud := self.cfg.Serial.Baudrate
	if baud == 0 {
		baud = moteprobe.DefaultBaudrate
	}
	devices := self.cfg.Serial.Devices
	bauds := make(map[string]int, len(devices))
	if len(devices) == 0 {
		scanner := moteprobe.NewScanner(self.Log)
		scanner.Globs = self.cfg.Serial.Globs
		scanner.Bauds = []int{baud}
		found, err := scanner.Scan(self.reg)
		if err != nil {
			return errors.Trace(err)
		}
		for _, pb := range found {
			devices = append(devices, pb.Port)
			bauds[pb.Port] = pb.Baud
		}
	}
	for _, device := range devices {
		b := baud
		if scanned, ok := bauds[device]; ok {
			b = scanned
		}
		tr, err := moteprobe.NewSerial(device, b)
		if err != nil {
			return errors.Trace(err)
		}
		if err = self.attach(device, tr); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (self *Server) setupEmulated() error {
	n := self.cfg.Emulated.NumMotes
	if n <= 0 {
		return errors.Errorf("%s mode=emulated requires emulated.num_motes", modName)
	}
	engine, err := simengine.NewEngine(n, self.Log)
	if err != nil {
		return errors.Trace(err)
	}
	self.engine = engine
	for _, m := range engine.Motes() {
		tr := moteprobe.NewEmulated(m.ID(), m.UART())
		if err = self.attach(moteprobe.EmulatedPortname(m.ID()), tr); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (self *Server) setupSocket() error {
	timeout := helpers.IntSecondDefault(self.cfg.Socket.TimeoutSec, 10*time.Second)
	for _, host := range self.cfg.Socket.Hosts {
		tr, err := moteprobe.NewSocket(host, timeout)
		if err != nil {
			return errors.Trace(err)
		}
		if err = self.attach(host, tr); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (self *Server) setupTestbed() error {
	broker := self.cfg.Testbed.BrokerURL
	if broker == "" {
		return errors.Errorf("%s mode=testbed requires testbed.broker_url", modName)
	}
	timeout := helpers.IntSecondDefault(self.cfg.Testbed.NetworkTimeoutSec, 30*time.Second)
	eui64s := self.cfg.Testbed.Motes
	if len(eui64s) == 0 {
		window := helpers.IntSecondDefault(self.cfg.Testbed.DiscoverSec, moteprobe.DefaultDiscoverWindow)
		found, err := moteprobe.FindTestbedMotes(broker, window, self.Log)
		if err != nil {
			return errors.Trace(err)
		}
		eui64s = found
	}
	for _, eui64 := range eui64s {
		tr, err := moteprobe.NewTestbed(broker, eui64, timeout, self.Log)
		if err != nil {
			return errors.Trace(err)
		}
		if err = self.attach(moteprobe.TestbedPortname(eui64), tr); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (self *Server) connectors() []*moteconnector.Connector {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return append([]*moteconnector.Connector(nil), self.conns...)
}

func (self *Server) connectorByAddr(addr string) *moteconnector.Connector {
	self.mu.RLock()
	defer self.mu.RUnlock()
	for _, c := range self.conns {
		if c.State().Seen() && c.State().AddrString() == addr {
			return c
		}
	}
	return nil
}

// connectorByKey resolves a mote by port name or by 16-bit address.
func (self *Server) connectorByKey(key string) *moteconnector.Connector {
	self.mu.RLock()
	if c, ok := self.byPort[key]; ok {
		self.mu.RUnlock()
		return c
	}
	self.mu.RUnlock()
	return self.connectorByAddr(key)
}
