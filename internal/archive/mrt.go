package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/bgpkit-collab/bgparchive/internal/bgp"
)

// MRT record type/subtype constants (RFC 6396, IANA "MRT" registry). Named
// the way the wire format names them rather than after any particular
// client library, since the archive subsystem builds these bytes directly.
const (
	mrtTypeBGP4MP      uint16 = 16
	mrtTypeTableDumpV2 uint16 = 13

	bgp4mpSubMessageAS4    uint16 = 4
	bgp4mpSubStateChangeAS4 uint16 = 5

	tableDumpV2SubPeerIndexTable   uint16 = 1
	tableDumpV2SubRibIPv4Unicast   uint16 = 2

	afiIPv4 uint16 = 1
	afiIPv6 uint16 = 2
)

// mrtCommonHeaderLen is timestamp(4) + type(2) + subtype(2) + length(4).
const mrtCommonHeaderLen = 12

// encodeCommonHeader writes the 12-byte MRT common header followed by
// payload, per RFC 6396 §2.
func encodeCommonHeader(timestamp uint32, recordType, subtype uint16, payload []byte) []byte {
	out := make([]byte, mrtCommonHeaderLen+len(payload))
	binary.BigEndian.PutUint32(out[0:4], timestamp)
	binary.BigEndian.PutUint16(out[4:6], recordType)
	binary.BigEndian.PutUint16(out[6:8], subtype)
	binary.BigEndian.PutUint32(out[8:12], uint32(len(payload)))
	copy(out[mrtCommonHeaderLen:], payload)
	return out
}

// ipBytesAndAFI returns the wire-format address bytes (4 for IPv4, 16 for
// IPv6) and the MRT address family code for ip.
func ipBytesAndAFI(ip net.IP) ([]byte, uint16, error) {
	if v4 := ip.To4(); v4 != nil {
		return v4, afiIPv4, nil
	}
	if v6 := ip.To16(); v6 != nil {
		return v6, afiIPv6, nil
	}
	return nil, 0, fmt.Errorf("%w: invalid IP address %v", ErrEncode, ip)
}

// EncodeBGP4MPUpdate validates and wraps a raw BGP UPDATE message observed
// on a session into an MRT BGP4MP_MESSAGE_AS4 record.
func EncodeBGP4MPUpdate(input UpdateRecordInput) ([]byte, error) {
	normalized, err := bgp.ValidateAndNormalize(input.BGPMessage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	peerBytes, afi, err := ipBytesAndAFI(input.PeerIP)
	if err != nil {
		return nil, err
	}
	localBytes, localAFI, err := ipBytesAndAFI(input.LocalIP)
	if err != nil {
		return nil, err
	}
	if afi != localAFI {
		return nil, fmt.Errorf("%w: peer_ip and local_ip address families differ", ErrEncode)
	}

	var payload bytes.Buffer
	writeUint32(&payload, input.PeerASN)
	writeUint32(&payload, input.LocalASN)
	writeUint16(&payload, input.InterfaceIndex)
	writeUint16(&payload, afi)
	payload.Write(peerBytes)
	payload.Write(localBytes)
	payload.Write(normalized)

	return encodeCommonHeader(uint32(input.Timestamp), mrtTypeBGP4MP, bgp4mpSubMessageAS4, payload.Bytes()), nil
}

// EncodeBGP4MPStateChange wraps an observed BGP FSM transition into an MRT
// BGP4MP_STATE_CHANGE_AS4 record.
func EncodeBGP4MPStateChange(input PeerStateRecordInput) ([]byte, error) {
	peerBytes, afi, err := ipBytesAndAFI(input.PeerIP)
	if err != nil {
		return nil, err
	}
	localBytes, localAFI, err := ipBytesAndAFI(input.LocalIP)
	if err != nil {
		return nil, err
	}
	if afi != localAFI {
		return nil, fmt.Errorf("%w: peer_ip and local_ip address families differ", ErrEncode)
	}

	var payload bytes.Buffer
	writeUint32(&payload, input.PeerASN)
	writeUint32(&payload, input.LocalASN)
	writeUint16(&payload, input.InterfaceIndex)
	writeUint16(&payload, afi)
	payload.Write(peerBytes)
	payload.Write(localBytes)
	writeUint16(&payload, input.OldState)
	writeUint16(&payload, input.NewState)

	return encodeCommonHeader(uint32(input.Timestamp), mrtTypeBGP4MP, bgp4mpSubStateChangeAS4, payload.Bytes()), nil
}

// BuildTableDumpV2 encodes a RIB snapshot as a TABLE_DUMP_V2 peer index
// table record followed by one RIB_IPV4_UNICAST record per route.
func BuildTableDumpV2(snapshot RibSnapshotInput) ([][]byte, error) {
	if len(snapshot.Peers) > 0xFFFF {
		return nil, fmt.Errorf("%w: peer count exceeds TABLE_DUMP_V2 limit", ErrEncode)
	}

	records := make([][]byte, 0, 1+len(snapshot.Routes))

	peerIndexRecord, err := encodePeerIndexTable(snapshot)
	if err != nil {
		return nil, err
	}
	records = append(records, peerIndexRecord)

	for _, route := range snapshot.Routes {
		if route.PrefixLen > 32 {
			return nil, fmt.Errorf("%w: invalid IPv4 prefix length %d", ErrEncode, route.PrefixLen)
		}
		if int(route.PeerIndex) >= len(snapshot.Peers) {
			return nil, fmt.Errorf("%w: route references unknown peer_index %d (peers: %d)", ErrEncode, route.PeerIndex, len(snapshot.Peers))
		}

		record, err := encodeRibEntry(snapshot.Timestamp, route)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func encodePeerIndexTable(snapshot RibSnapshotInput) ([]byte, error) {
	collectorBytes, _, err := ipBytesAndAFI(snapshot.CollectorBGPID)
	if err != nil {
		return nil, err
	}
	if len(collectorBytes) != 4 {
		return nil, fmt.Errorf("%w: collector_bgp_id must be an IPv4 address", ErrEncode)
	}

	var payload bytes.Buffer
	payload.Write(collectorBytes)
	writeUint16(&payload, uint16(len(snapshot.ViewName)))
	payload.WriteString(snapshot.ViewName)
	writeUint16(&payload, uint16(len(snapshot.Peers)))

	for _, peer := range snapshot.Peers {
		peerBGPIDBytes, _, err := ipBytesAndAFI(peer.PeerBGPID)
		if err != nil {
			return nil, err
		}
		if len(peerBGPIDBytes) != 4 {
			return nil, fmt.Errorf("%w: peer_bgp_id must be an IPv4 address", ErrEncode)
		}

		peerIPBytes, afi, err := ipBytesAndAFI(peer.PeerIP)
		if err != nil {
			return nil, err
		}

		// Peer type flag 0x02 marks a 4-byte peer AS (always set here);
		// flag 0x01 marks an IPv6 peer address.
		peerType := byte(0x02)
		if afi == afiIPv6 {
			peerType |= 0x01
		}

		payload.WriteByte(peerType)
		payload.Write(peerBGPIDBytes)
		payload.Write(peerIPBytes)
		writeUint32(&payload, peer.PeerASN)
	}

	return encodeCommonHeader(uint32(snapshot.Timestamp), mrtTypeTableDumpV2, tableDumpV2SubPeerIndexTable, payload.Bytes()), nil
}

func encodeRibEntry(timestamp int64, route SnapshotRoute) ([]byte, error) {
	prefixBytes := route.Prefix.To4()
	if prefixBytes == nil {
		return nil, fmt.Errorf("%w: route prefix %v is not an IPv4 address", ErrEncode, route.Prefix)
	}
	prefixOctets := (int(route.PrefixLen) + 7) / 8

	var entry bytes.Buffer
	writeUint16(&entry, route.PeerIndex)
	writeUint32(&entry, route.OriginatedTime)
	writeUint16(&entry, uint16(len(route.PathAttributes)))
	entry.Write(route.PathAttributes)

	var payload bytes.Buffer
	writeUint32(&payload, route.Sequence)
	payload.WriteByte(route.PrefixLen)
	payload.Write(prefixBytes[:prefixOctets])
	writeUint16(&payload, 1) // entry count: one RIB entry per record
	payload.Write(entry.Bytes())

	return encodeCommonHeader(uint32(timestamp), mrtTypeTableDumpV2, tableDumpV2SubRibIPv4Unicast, payload.Bytes()), nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}
