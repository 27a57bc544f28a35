package moteprobe

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"

	"github.com/temoto/meshview/log2"
)

// Boxes report their attached motes in response to a broadcast status
// query.
const (
	testbedTopicStatusCmd  = "opentestbed/deviceType/box/deviceId/all/cmd/status"
	testbedTopicStatusResp = "opentestbed/deviceType/box/deviceId/+/resp/status"
)

const DefaultDiscoverWindow = 10 * time.Second

type boxStatusResponse struct {
	Token     int  `json:"token"`
	Success   bool `json:"success"`
	ReturnVal struct {
		Motes []struct {
			EUI64      string `json:"EUI64"`
			SerialPort string `json:"serialport"`
			Firmware   string `json:"firmware"`
		} `json:"motes"`
	} `json:"returnVal"`
}

// FindTestbedMotes broadcasts a status query to every testbed box and
// collects the EUI-64 of each mote announced during the window. Boxes
// answer independently; whatever arrived when the window closes is the
// result.
func FindTestbedMotes(brokerURL string, window time.Duration, log *log2.Log) ([]string, error) {
	if window <= 0 {
		window = DefaultDiscoverWindow
	}

	var mu sync.Mutex
	seen := make(map[string]struct{}, 16)

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("meshview-discover").
		SetConnectTimeout(window).
		SetOrderMatters(false)
	m := mqtt.NewClient(opts)
	if err := tokenWait(m.Connect(), "connect broker="+brokerURL); err != nil {
		return nil, errors.Trace(err)
	}
	defer m.Disconnect(250)

	onResp := func(_ mqtt.Client, msg mqtt.Message) {
		var parsed boxStatusResponse
		if err := json.Unmarshal(msg.Payload(), &parsed); err != nil {
			log.Warningf("testbedfinder bad response topic=%s payload=%s err=%s", msg.Topic(), msg.Payload(), err)
			return
		}
		mu.Lock()
		for _, mote := range parsed.ReturnVal.Motes {
			if mote.EUI64 == "" {
				continue
			}
			if _, ok := seen[mote.EUI64]; !ok {
				seen[mote.EUI64] = struct{}{}
				log.Debugf("testbedfinder mote=%s serialport=%s", mote.EUI64, mote.SerialPort)
			}
		}
		mu.Unlock()
	}
	if err := tokenWait(m.Subscribe(testbedTopicStatusResp, 1, onResp), "subscribe "+testbedTopicStatusResp); err != nil {
		return nil, errors.Trace(err)
	}

	cmd, err := json.Marshal(&serialBytesMessage{Token: testbedToken})
	if err != nil {
		return nil, errors.Annotate(err, "testbedfinder marshal")
	}
	if err := tokenWait(m.Publish(testbedTopicStatusCmd, 1, false, cmd), "publish "+testbedTopicStatusCmd); err != nil {
		return nil, errors.Trace(err)
	}

	time.Sleep(window)

	mu.Lock()
	eui64s := make([]string, 0, len(seen))
	for eui64 := range seen {
		eui64s = append(eui64s, eui64)
	}
	mu.Unlock()
	sort.Strings(eui64s)
	log.Infof("testbedfinder found %d motes", len(eui64s))
	return eui64s, nil
}
