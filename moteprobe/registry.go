package moteprobe

import (
	"sync"

	"github.com/juju/errors"

	"github.com/temoto/meshview/log2"
)

// FrameHandler consumes one decoded frame payload published under portname.
type FrameHandler func(portname string, payload []byte)

// Registry routes decoded frames from probes to their single active
// subscriber. Registration is a relation keyed by port name, not ownership
// of the probe.
type Registry struct {
	log *log2.Log
	mu  sync.RWMutex
	m   map[string]FrameHandler
}

func NewRegistry(log *log2.Log) *Registry {
	return &Registry{
		log: log,
		m:   make(map[string]FrameHandler, 16),
	}
}

// Subscribe binds handler as the sole frame consumer for portname.
func (self *Registry) Subscribe(portname string, h FrameHandler) error {
	if h == nil {
		return errors.Errorf("registry subscribe portname=%s nil handler", portname)
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	if _, ok := self.m[portname]; ok {
		return errors.Errorf("registry subscribe portname=%s already bound", portname)
	}
	self.m[portname] = h
	return nil
}

func (self *Registry) Unsubscribe(portname string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	delete(self.m, portname)
}

func (self *Registry) publish(portname string, payload []byte) {
	self.mu.RLock()
	h := self.m[portname]
	self.mu.RUnlock()
	if h == nil {
		self.log.Debugf("registry publish portname=%s no subscriber, frame dropped", portname)
		return
	}
	h(portname, payload)
}
