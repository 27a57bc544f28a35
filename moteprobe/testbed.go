package moteprobe

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"

	"github.com/temoto/meshview/log2"
)

// testbed MQTT surface, per-mote topics keyed by hardware EUI-64
const (
	testbedTopicNotifFmt = "opentestbed/deviceType/mote/deviceId/%s/notif/frommoteserialbytes"
	testbedTopicCmdFmt   = "opentestbed/deviceType/mote/deviceId/%s/cmd/tomoteserialbytes"
)

const testbedToken = 123

// inbound MQTT messages are buffered here; producer overflow is dropped
const testbedQueueSize = 10

type serialBytesMessage struct {
	Token       int   `json:"token"`
	SerialBytes []int `json:"serialbytes,omitempty"`
}

// TestbedPortname derives the identity of a testbed mote from its EUI-64.
func TestbedPortname(eui64 string) string { return "opentestbed_" + eui64 }

// testbedTransport attaches a remote testbed mote through an MQTT broker:
// inbound serial bytes arrive as JSON notifications on a per-mote topic,
// outbound frames are published to the matching command topic.
type testbedTransport struct {
	log       *log2.Log
	eui64     string
	m         mqtt.Client
	queue     chan []byte
	quit      chan struct{}
	closeOnce sync.Once

	topicNotif string
	topicCmd   string
}

func NewTestbed(brokerURL, eui64 string, networkTimeout time.Duration, log *log2.Log) (*testbedTransport, error) {
	self := &testbedTransport{
		log:        log,
		eui64:      eui64,
		queue:      make(chan []byte, testbedQueueSize),
		quit:       make(chan struct{}),
		topicNotif: fmt.Sprintf(testbedTopicNotifFmt, eui64),
		topicCmd:   fmt.Sprintf(testbedTopicCmdFmt, eui64),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("meshview-" + eui64).
		SetAutoReconnect(true).
		SetConnectTimeout(networkTimeout * 3).
		SetKeepAlive(networkTimeout).
		SetOrderMatters(false).
		SetPingTimeout(networkTimeout).
		SetWriteTimeout(networkTimeout)
	self.m = mqtt.NewClient(opts)

	if err := tokenWait(self.m.Connect(), "connect broker="+brokerURL); err != nil {
		return nil, errors.Trace(err)
	}
	if err := tokenWait(self.m.Subscribe(self.topicNotif, 1, self.onSerialBytes), "subscribe "+self.topicNotif); err != nil {
		self.m.Disconnect(250)
		return nil, errors.Trace(err)
	}
	return self, nil
}

func (self *testbedTransport) ReadChunk() ([]byte, error) {
	select {
	case bs := <-self.queue:
		return bs, nil
	case <-self.quit:
		return nil, ErrTransportClosed
	}
}

func (self *testbedTransport) WriteFrame(wire []byte) error {
	msg := serialBytesMessage{Token: testbedToken, SerialBytes: make([]int, len(wire))}
	for i, b := range wire {
		msg.SerialBytes[i] = int(b)
	}
	payload, err := json.Marshal(&msg)
	if err != nil {
		return errors.Annotatef(err, "testbed %s marshal", self.eui64)
	}
	err = tokenWait(self.m.Publish(self.topicCmd, 1, false, payload), "publish "+self.topicCmd)
	return errors.Trace(err)
}

func (self *testbedTransport) DoneReading() {}

// Close may race with the probe's read loop release, sync.Once keeps the
// quit channel single-shot.
func (self *testbedTransport) Close() error {
	self.closeOnce.Do(func() {
		close(self.quit)
		if self.m != nil {
			self.m.Disconnect(250)
		}
	})
	return nil
}

// onSerialBytes runs on the MQTT client's callback worker; it must never
// block there, overflow is dropped instead.
func (self *testbedTransport) onSerialBytes(_ mqtt.Client, msg mqtt.Message) {
	var parsed serialBytesMessage
	if err := json.Unmarshal(msg.Payload(), &parsed); err != nil {
		self.log.Errorf("testbed %s bad notification payload=%s err=%s", self.eui64, msg.Payload(), err)
		return
	}
	bs := make([]byte, len(parsed.SerialBytes))
	for i, v := range parsed.SerialBytes {
		bs[i] = byte(v)
	}
	select {
	case self.queue <- bs:
	default:
		self.log.Warningf("testbed %s queue overflow, %d bytes dropped", self.eui64, len(bs))
	}
}

func tokenWait(t mqtt.Token, tag string) error {
	if !t.Wait() {
		return errors.Timeoutf("mqtt %s", tag)
	}
	if err := t.Error(); err != nil {
		return errors.Annotate(err, tag)
	}
	return nil
}
