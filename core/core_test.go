package core

import "testing"

func TestRoundUp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		n, m int
		want int
	}{
		{"exact multiple", 16, 4, 16},
		{"needs rounding", 17, 4, 20},
		{"zero granularity means no constraint", 17, 0, 17},
		{"m larger than n", 3, 8, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundUp(tt.n, tt.m); got != tt.want {
				t.Errorf("RoundUp(%d,%d) = %d, want %d", tt.n, tt.m, got, tt.want)
			}
		})
	}
}

func TestAlignedBytes(t *testing.T) {
	t.Parallel()
	buf := AlignedBytes(128)
	if len(buf) != 128 {
		t.Fatalf("len = %d, want 128", len(buf))
	}
}

func TestWireRoundTrip(t *testing.T) {
	t.Parallel()
	payload := FloatsToBytes([]float64{1, 2, 3.5, -4})

	msg := EncodeWireMessage(3, -1, 4, payload)
	hdr, decoded, err := DecodeWireMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hdr.VarIndex != 3 || hdr.Neighbor != -1 || hdr.ElemCount != 4 {
		t.Fatalf("unexpected header: %+v", hdr)
	}

	floats, err := BytesToFloats(decoded)
	if err != nil {
		t.Fatalf("bytes to floats: %v", err)
	}
	want := []float64{1, 2, 3.5, -4}
	for i := range want {
		if floats[i] != want[i] {
			t.Errorf("floats[%d] = %v, want %v", i, floats[i], want[i])
		}
	}
}

func TestDecodeWireMessageRejectsBadMagic(t *testing.T) {
	t.Parallel()
	msg := EncodeWireMessage(0, 0, 0, nil)
	msg[0] ^= 0xFF
	if _, _, err := DecodeWireMessage(msg); err == nil {
		t.Fatal("expected error for corrupted magic number")
	}
}
