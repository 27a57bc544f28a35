// Package hdlc implements asynchronous byte-stuffed framing:
// a reserved flag byte delimits frames, payload bytes colliding with
// the flag or escape values are escaped and XOR-masked, and a
// CRC-16/X.25 trailer protects the payload.
package hdlc

import (
	"github.com/juju/errors"
)

const (
	Flag       byte = 0x7e
	Escape     byte = 0x7d
	EscapeMask byte = 0x20
)

// Software flow control bytes that firmware keeps in-band on the serial
// line. Mote output escapes them so they never collide with payload:
//
// Xon           goes on the wire as [XonXoffEscape,           Xon^XonXoffMask]==[0x12,0x01]
// Xoff          goes on the wire as [XonXoffEscape,          Xoff^XonXoffMask]==[0x12,0x03]
// XonXoffEscape goes on the wire as [XonXoffEscape, XonXoffEscape^XonXoffMask]==[0x12,0x02]
const (
	Xon           byte = 0x11
	Xoff          byte = 0x13
	XonXoffEscape byte = 0x12
	XonXoffMask   byte = 0x10
)

// StuffFlowControl escapes flow control bytes in wire data, the way mote
// firmware does on its serial output. The receive side absorbs the escape
// sequences before frame assembly.
func StuffFlowControl(wire []byte) []byte {
	out := make([]byte, 0, len(wire)+4)
	for _, b := range wire {
		switch b {
		case Xon, Xoff, XonXoffEscape:
			out = append(out, XonXoffEscape, b^XonXoffMask)
		default:
			out = append(out, b)
		}
	}
	return out
}

const (
	fcsInit uint16 = 0xffff
	// remainder of a correct frame checked over payload+fcs
	fcsGood uint16 = 0xf0b8
)

var fcsTab [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		v := uint16(i)
		for b := 0; b < 8; b++ {
			if v&1 != 0 {
				v = (v >> 1) ^ 0x8408
			} else {
				v >>= 1
			}
		}
		fcsTab[i] = v
	}
}

func fcs16(crc uint16, bs []byte) uint16 {
	for _, b := range bs {
		crc = (crc >> 8) ^ fcsTab[byte(crc)^b]
	}
	return crc
}

func stuff(dst, src []byte) []byte {
	for _, b := range src {
		if b == Flag || b == Escape {
			dst = append(dst, Escape, b^EscapeMask)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// Encode wraps payload into a flag-delimited frame with escaped body and FCS.
func Encode(payload []byte) []byte {
	crc := fcs16(fcsInit, payload) ^ 0xffff
	wire := make([]byte, 0, len(payload)+6)
	wire = append(wire, Flag)
	wire = stuff(wire, payload)
	wire = stuff(wire, []byte{byte(crc), byte(crc >> 8)})
	wire = append(wire, Flag)
	return wire
}

// Decode is the exact inverse of Encode. Input must carry exactly one
// flag byte at each end.
func Decode(wire []byte) ([]byte, error) {
	if len(wire) < 2 || wire[0] != Flag || wire[len(wire)-1] != Flag {
		return nil, errors.Errorf("hdlc: frame not flag-delimited len=%d", len(wire))
	}
	body := wire[1 : len(wire)-1]

	buf := make([]byte, 0, len(body))
	escaping := false
	for _, b := range body {
		switch {
		case b == Flag:
			return nil, errors.Errorf("hdlc: flag inside frame body")
		case b == Escape && !escaping:
			escaping = true
		case escaping:
			buf = append(buf, b^EscapeMask)
			escaping = false
		default:
			buf = append(buf, b)
		}
	}
	if escaping {
		return nil, errors.Errorf("hdlc: dangling escape at frame end")
	}
	if len(buf) < 2 {
		return nil, errors.Errorf("hdlc: frame too short len=%d", len(buf))
	}
	if fcs16(fcsInit, buf) != fcsGood {
		return nil, errors.Errorf("hdlc: wrong checksum buf=%x", buf)
	}
	return buf[:len(buf)-2], nil
}
