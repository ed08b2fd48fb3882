// Package bgp validates and normalizes the raw BGP UPDATE bytes the
// archive subsystem receives from the BGP session layer before they are
// wrapped in an MRT BGP4MP record. It does not parse path attributes
// semantically — the archive only needs enough of the BGP header to
// confirm the message is an UPDATE and to re-synthesize a canonical
// 16-byte marker, per RFC 4271 section 4.1 and RFC 6396's BGP4MP framing.
package bgp

import "errors"

// BGP message type codes (RFC 4271 section 4.1).
const (
	MsgTypeOpen         uint8 = 1
	MsgTypeUpdate       uint8 = 2
	MsgTypeNotification uint8 = 3
	MsgTypeKeepalive    uint8 = 4
)

// HeaderSize is marker(16) + length(2) + type(1).
const HeaderSize = 19

// MarkerSize is the BGP header's marker field width.
const MarkerSize = 16

// ErrNotUpdate is returned when the supplied message is not a BGP UPDATE.
var ErrNotUpdate = errors.New("bgp: message is not an UPDATE")

// ErrShortMessage is returned when the message is too short to contain a
// full BGP header.
var ErrShortMessage = errors.New("bgp: message shorter than header")
