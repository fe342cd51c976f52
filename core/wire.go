package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
)

// WireMagic tags every halo-exchange message buffer so a misrouted or
// stale message is caught instead of silently misinterpreted as another
// var's data.
const WireMagic = 0x4c4f4853 // "SHOL" little-endian: Stencil HalO

// WireHeader frames a halo buffer sent over the transport. VarIndex and
// Neighbor identify the (var, direction, neighbor-offset) triple the buffer
// belongs to; ElemCount lets the receiver validate the payload length before
// unpacking.
type WireHeader struct {
	Magic     uint32
	VarIndex  uint16
	Neighbor  int16
	ElemCount uint32
	Checksum  uint32
}

const WireHeaderSize = 4 + 2 + 2 + 4 + 4

// EncodeWireMessage frames payload with a WireHeader and a CRC32 checksum
// of the payload bytes.
func EncodeWireMessage(varIndex uint16, neighbor int16, elemCount uint32, payload []byte) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(WireHeaderSize + len(payload))

	hdr := WireHeader{
		Magic:     WireMagic,
		VarIndex:  varIndex,
		Neighbor:  neighbor,
		ElemCount: elemCount,
		Checksum:  crc32.ChecksumIEEE(payload),
	}
	_ = binary.Write(buf, binary.LittleEndian, hdr)
	buf.Write(payload)
	return buf.Bytes()
}

// DecodeWireMessage validates and strips a WireHeader, returning the header
// and the payload bytes it covers.
func DecodeWireMessage(msg []byte) (WireHeader, []byte, error) {
	var hdr WireHeader
	if len(msg) < WireHeaderSize {
		return hdr, nil, errors.New("wire message shorter than header")
	}
	if err := binary.Read(bytes.NewReader(msg[:WireHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, err
	}
	if hdr.Magic != WireMagic {
		return hdr, nil, errors.New("wire message has bad magic number")
	}
	payload := msg[WireHeaderSize:]
	if crc32.ChecksumIEEE(payload) != hdr.Checksum {
		return hdr, nil, errors.New("wire message failed checksum")
	}
	return hdr, payload, nil
}

// FloatsToBytes converts a slice of float64 elements to a little-endian
// byte buffer, the wire representation used for element-mode halo copies.
func FloatsToBytes(f []float64) []byte {
	out := make([]byte, len(f)*8)
	for i, v := range f {
		binary.LittleEndian.PutUint64(out[i*8:(i+1)*8], math.Float64bits(v))
	}
	return out
}

// BytesToFloats is the inverse of FloatsToBytes.
func BytesToFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, errors.New("byte slice length not a multiple of 8")
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8 : (i+1)*8]))
	}
	return out, nil
}
