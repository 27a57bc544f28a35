// Package simengine runs a farm of emulated motes against a pausable
// event timeline. Simulated time only advances when events fire, so a
// paused timeline freezes every emulated mote at once.
package simengine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/temoto/alive/v2"

	"github.com/temoto/meshview/log2"
)

const modName = "simengine"

type event struct {
	at   time.Duration
	seq  uint64
	desc string
	fn   func()
}

// eventHeap orders by firing time, then by schedule order for stability.
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// Timeline executes scheduled callbacks in simulated-time order on a
// single worker. Pause blocks the worker before the next callback;
// Resume releases it. Pause and Resume must pair up exactly, the pair
// may span other calls on other goroutines.
type Timeline struct {
	log   *log2.Log
	alive *alive.Alive

	// held for the whole paused span
	pauselk sync.Mutex

	mu     sync.Mutex
	cond   *sync.Cond
	now    time.Duration
	seq    uint64
	events eventHeap
}

func NewTimeline(log *log2.Log) *Timeline {
	self := &Timeline{
		log:   log,
		alive: alive.NewAlive(),
	}
	self.cond = sync.NewCond(&self.mu)
	self.alive.Add(1)
	go self.worker()
	return self
}

// Now returns the current simulated time.
func (self *Timeline) Now() time.Duration {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.now
}

// ScheduleIn queues fn at now+delay. Zero delay fires as soon as the
// worker gets to it, still in schedule order.
func (self *Timeline) ScheduleIn(delay time.Duration, desc string, fn func()) {
	if delay < 0 {
		delay = 0
	}
	self.mu.Lock()
	self.seq++
	heap.Push(&self.events, &event{at: self.now + delay, seq: self.seq, desc: desc, fn: fn})
	self.mu.Unlock()
	self.cond.Signal()
}

// Pause freezes the timeline after the callback in flight, if any,
// completes. Events scheduled while paused accumulate.
func (self *Timeline) Pause() { self.pauselk.Lock() }

// Resume releases a Pause.
func (self *Timeline) Resume() { self.pauselk.Unlock() }

func (self *Timeline) Close() {
	self.alive.Stop()
	self.cond.Broadcast()
	self.alive.Wait()
}

func (self *Timeline) worker() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	go func() {
		// wake the worker out of cond.Wait on stop
		<-stopch
		self.cond.Broadcast()
	}()

	for {
		self.mu.Lock()
		for len(self.events) == 0 && self.alive.IsRunning() {
			self.cond.Wait()
		}
		if !self.alive.IsRunning() {
			self.mu.Unlock()
			return
		}
		ev := heap.Pop(&self.events).(*event)
		if ev.at > self.now {
			self.now = ev.at
		}
		self.mu.Unlock()

		// pause gate
		self.pauselk.Lock()
		self.pauselk.Unlock() //nolint:staticcheck

		if self.log.Enabled(log2.LDebug) {
			self.log.Debugf("%s event at=%s desc=%s", modName, ev.at, ev.desc)
		}
		ev.fn()
	}
}
