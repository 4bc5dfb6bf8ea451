package hexutil

import "testing"

func TestRoundTripUint64(t *testing.T) {
	cases := []uint64{0, 1, 0xffffffc000000000, ^uint64(0)}
	for _, v := range cases {
		enc := EncodeUint64BE(v)
		if len(enc) != 16 {
			t.Fatalf("encoded length = %d, want 16", len(enc))
		}
		got, err := DecodeUint64BE(enc)
		if err != nil {
			t.Fatalf("decode(%s): %v", enc, err)
		}
		if got != v {
			t.Fatalf("round trip mismatch: %x != %x", got, v)
		}
	}
}

func TestDecodeFixedWrongLength(t *testing.T) {
	if _, err := DecodeFixed("abcd", 32); err == nil {
		t.Fatalf("expected error for wrong length hash")
	}
}

func TestDecodeFixedBadSyntax(t *testing.T) {
	if _, err := DecodeFixed("zz", 1); err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestRoundTripHash(t *testing.T) {
	want := "718cc2121c3e641059bc1c2cfc45666c99e8ae922f7a807b7d07b62c995d79e2"
	b, err := DecodeFixed(want, 32)
	if err != nil {
		t.Fatal(err)
	}
	if got := EncodeLower(b); got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
