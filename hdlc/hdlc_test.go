package hdlc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temoto/meshview/helpers"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte{0x01, 0x02, 0x03}},
		{"flag-inside", []byte{0x7e, 0x00, 0x7e}},
		{"escape-inside", []byte{0x7d, 0x7d}},
		{"mixed", []byte{0x7e, 0x7d, 0x5e, 0x5d, 0xff, 0x00}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			wire := Encode(c.payload)
			assert.Equal(t, Flag, wire[0])
			assert.Equal(t, Flag, wire[len(wire)-1])
			for _, b := range wire[1 : len(wire)-1] {
				assert.NotEqual(t, Flag, b, "flag must not appear unescaped inside body")
			}
			payload, err := Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, c.payload, payload)
		})
	}
}

func TestRoundTripRandom(t *testing.T) {
	t.Parallel()

	rnd := helpers.RandUnix()
	for i := 0; i < 200; i++ {
		payload := make([]byte, rnd.Intn(200))
		rnd.Read(payload)
		decoded, err := Decode(Encode(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, decoded)
	}
}

// payload of only escape bytes round-trips regardless of run length
func TestEscapeRuns(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 64; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = Escape
		}
		decoded, err := Decode(Encode(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, decoded)
	}
}

func TestStuffFlowControl(t *testing.T) {
	t.Parallel()

	// clean data passes through untouched
	clean := []byte{0x7e, 0x01, 0x7d, 0xff}
	assert.Equal(t, clean, StuffFlowControl(clean))

	stuffed := StuffFlowControl([]byte{Xon, XonXoffEscape, Xoff, 0x42})
	assert.Equal(t, []byte{
		XonXoffEscape, Xon ^ XonXoffMask,
		XonXoffEscape, XonXoffEscape ^ XonXoffMask,
		XonXoffEscape, Xoff ^ XonXoffMask,
		0x42,
	}, stuffed)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		wire []byte
	}{
		{"nil", nil},
		{"no-flags", []byte{0x01, 0x02, 0x03}},
		{"short-body", []byte{0x7e, 0x01, 0x7e}},
		{"dangling-escape", []byte{0x7e, 0x01, 0x02, 0x03, 0x7d, 0x7e}},
		{"bad-fcs", func() []byte {
			w := Encode([]byte{0x11, 0x22, 0x33})
			w[2] ^= 0x01
			return w
		}()},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(c.wire)
			assert.Error(t, err)
		})
	}
}
