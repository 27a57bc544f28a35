package moteprobe

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temoto/meshview/log2"
)

const testbedBoxRespTopicFmt = "opentestbed/deviceType/box/deviceId/%s/resp/status"

func TestFindTestbedMotes(t *testing.T) {
	t.Parallel()
	const timeout = 5 * time.Second
	log := log2.NewTest(t, log2.LDebug)

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		require.NoError(t, conn.SetDeadline(time.Now().Add(timeout)))
		b := transport.NewNetConn(conn)
		for {
			pkt, err := b.Receive()
			if err != nil {
				return
			}
			switch p := pkt.(type) {
			case *packet.Connect:
				connack := packet.NewConnack()
				connack.ReturnCode = packet.ConnectionAccepted
				require.NoError(t, b.Send(connack, false))
			case *packet.Subscribe:
				require.Len(t, p.Subscriptions, 1)
				assert.Equal(t, testbedTopicStatusResp, p.Subscriptions[0].Topic)
				suback := packet.NewSuback()
				suback.ID = p.ID
				suback.ReturnCodes = []packet.QOS{packet.QOSAtLeastOnce}
				require.NoError(t, b.Send(suback, false))
			case *packet.Publish:
				// the broadcast status query; boxes answer independently
				assert.Equal(t, testbedTopicStatusCmd, p.Message.Topic)
				assert.JSONEq(t, `{"token":123}`, string(p.Message.Payload))
				if p.Message.QOS == packet.QOSAtLeastOnce {
					puback := packet.NewPuback()
					puback.ID = p.ID
					require.NoError(t, b.Send(puback, false))
				}
				for i, payload := range []string{
					`{"token":123,"success":true,"returnVal":{"motes":[
						{"EUI64":"00-12-4b-00-14-b5-b6-01","serialport":"/dev/ttyUSB0"},
						{"serialport":"/dev/ttyUSB1"}]}}`,
					`{"token":123,"success":true,"returnVal":{"motes":[
						{"EUI64":"00-12-4b-00-14-b5-b6-02"},
						{"EUI64":"00-12-4b-00-14-b5-b6-01"}]}}`,
				} {
					resp := packet.NewPublish()
					resp.Message = packet.Message{
						Topic:   fmt.Sprintf(testbedBoxRespTopicFmt, fmt.Sprintf("box%d", i+1)),
						Payload: []byte(payload),
					}
					require.NoError(t, b.Send(resp, false))
				}
			case *packet.Pingreq:
				require.NoError(t, b.Send(packet.NewPingresp(), false))
			case *packet.Disconnect:
				return
			}
		}
	}()

	found, err := FindTestbedMotes(fmt.Sprintf("tcp://%s", ln.Addr().String()), 500*time.Millisecond, log)
	require.NoError(t, err)
	// duplicates collapsed, replies without EUI64 ignored, sorted
	assert.Equal(t, []string{"00-12-4b-00-14-b5-b6-01", "00-12-4b-00-14-b5-b6-02"}, found)
}
