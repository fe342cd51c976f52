//go:build !amd64

package dispatch

const useLaneASM = false

// CopyLanesOptimized copies src into dst lane-for-lane using pure Go.
func CopyLanesOptimized(dst, src []float64) {
	if len(dst) != len(src) {
		panic("lane count mismatch")
	}
	copy(dst, src)
}
