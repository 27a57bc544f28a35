// Package motestate keeps the last reported view of each mote: address,
// synchronization, routing role, rank and neighbor table, as parsed from
// the periodic status notifications on the serial line.
package motestate

import (
	"github.com/juju/errors"
)

// First payload byte of a mote notification.
const (
	NotifStatus byte = 'S'
	NotifError  byte = 'E'
	NotifData   byte = 'D'
)

// neighborFlagParent marks the neighbor currently used as routing parent.
const neighborFlagParent byte = 0x01

const statusHeaderLen = 8
const neighborRecordLen = 4

type Neighbor struct {
	Addr16          uint16 `json:"addr16"`
	RSSI            int8   `json:"rssi"`
	PreferredParent bool   `json:"preferred_parent"`
}

// Status is one decoded status notification.
type Status struct {
	Addr16    uint16     `json:"addr16"`
	IsSync    bool       `json:"sync"`
	IsDAGRoot bool       `json:"dagroot"`
	Rank      uint16     `json:"rank"`
	Neighbors []Neighbor `json:"neighbors"`
}

// Encode renders the status notification payload:
// type byte, addr16, sync and root flags, rank, neighbor count, then one
// 4-byte record per neighbor (addr16, rssi, flags).
func (st *Status) Encode() []byte {
	buf := make([]byte, 0, statusHeaderLen+len(st.Neighbors)*neighborRecordLen)
	buf = append(buf, NotifStatus,
		byte(st.Addr16>>8), byte(st.Addr16),
		encodeBool(st.IsSync), encodeBool(st.IsDAGRoot),
		byte(st.Rank>>8), byte(st.Rank),
		byte(len(st.Neighbors)))
	for _, nbr := range st.Neighbors {
		flags := byte(0)
		if nbr.PreferredParent {
			flags |= neighborFlagParent
		}
		buf = append(buf, byte(nbr.Addr16>>8), byte(nbr.Addr16), byte(nbr.RSSI), flags)
	}
	return buf
}

// DecodeStatus parses a status notification payload, the inverse of
// Status.Encode.
func DecodeStatus(payload []byte) (Status, error) {
	st := Status{}
	if len(payload) < statusHeaderLen {
		return st, errors.Errorf("status too short len=%d", len(payload))
	}
	if payload[0] != NotifStatus {
		return st, errors.Errorf("not a status notification type=%02x", payload[0])
	}
	st.Addr16 = uint16(payload[1])<<8 | uint16(payload[2])
	st.IsSync = payload[3] != 0
	st.IsDAGRoot = payload[4] != 0
	st.Rank = uint16(payload[5])<<8 | uint16(payload[6])
	n := int(payload[7])
	if len(payload) != statusHeaderLen+n*neighborRecordLen {
		return st, errors.Errorf("status neighbor table truncated n=%d len=%d", n, len(payload))
	}
	if n > 0 {
		st.Neighbors = make([]Neighbor, n)
		for i := 0; i < n; i++ {
			rec := payload[statusHeaderLen+i*neighborRecordLen:]
			st.Neighbors[i] = Neighbor{
				Addr16:          uint16(rec[0])<<8 | uint16(rec[1]),
				RSSI:            int8(rec[2]),
				PreferredParent: rec[3]&neighborFlagParent != 0,
			}
		}
	}
	return st, nil
}

func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}
