package bgp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// canonicalMarker is the all-ones 16-byte marker RFC 4271 requires for
// non-OPEN messages; real routers always send this, but we re-synthesize
// it rather than trust the wire bytes so a corrupt or truncated marker
// never ends up in an archived record.
var canonicalMarker = bytes.Repeat([]byte{0xff}, MarkerSize)

// ValidateAndNormalize confirms raw is a well-formed BGP UPDATE message
// and returns a copy with the marker forced to all-ones and the length
// field recomputed from len(raw). It does not interpret withdrawn
// routes, path attributes, or NLRI — MRT framing only needs the message
// type and a canonical header.
func ValidateAndNormalize(raw []byte) ([]byte, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(raw))
	}

	msgType := raw[MarkerSize+2]
	if msgType != MsgTypeUpdate {
		return nil, fmt.Errorf("%w: type %d", ErrNotUpdate, msgType)
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	copy(out[:MarkerSize], canonicalMarker)
	binary.BigEndian.PutUint16(out[MarkerSize:MarkerSize+2], uint16(len(raw)))

	return out, nil
}
