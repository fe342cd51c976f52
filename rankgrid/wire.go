package rankgrid

import (
	"encoding/binary"

	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/kerr"
)

// encodeRankInfo packs this rank's coordinates and domain sizes as a flat
// little-endian int64 array, one pair per dim in dims' order, so it can
// travel over the same Transport.Broadcast call used for setup.
func encodeRankInfo(coords, domain map[string]int64, dims []dim.Dim) []byte {
	buf := make([]byte, len(dims)*16)
	for i, d := range dims {
		binary.LittleEndian.PutUint64(buf[i*16:i*16+8], uint64(coords[d.Name]))
		binary.LittleEndian.PutUint64(buf[i*16+8:i*16+16], uint64(domain[d.Name]))
	}
	return buf
}

func decodeRankInfo(buf []byte, dims []dim.Dim) (map[string]int64, map[string]int64, error) {
	if len(buf) != len(dims)*16 {
		return nil, nil, kerr.Newf(kerr.LayoutMismatch, "rank info buffer length %d, want %d", len(buf), len(dims)*16)
	}
	coords := make(map[string]int64, len(dims))
	domain := make(map[string]int64, len(dims))
	for i, d := range dims {
		coords[d.Name] = int64(binary.LittleEndian.Uint64(buf[i*16 : i*16+8]))
		domain[d.Name] = int64(binary.LittleEndian.Uint64(buf[i*16+8 : i*16+16]))
	}
	return coords, domain, nil
}
