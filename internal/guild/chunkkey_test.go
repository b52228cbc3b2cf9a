package guild

import "testing"

func TestChunkKey_RoundTrip(t *testing.T) {
	keys := []ChunkKey{
		{World: "world", X: 0, Z: 0},
		{World: "world_nether", X: -12, Z: 340},
		{World: "my,odd,world", X: 7, Z: -7},
	}
	for _, k := range keys {
		got, err := ParseChunkKey(k.String())
		if err != nil {
			t.Fatalf("ParseChunkKey(%q): %v", k.String(), err)
		}
		if got != k {
			t.Fatalf("round trip %q: got %+v want %+v", k.String(), got, k)
		}
	}
}

func TestParseChunkKey_Malformed(t *testing.T) {
	for _, s := range []string{"", "world", "world,1", "world,a,b", ",1,2", "world,1,"} {
		if _, err := ParseChunkKey(s); err == nil {
			t.Fatalf("ParseChunkKey(%q): expected error", s)
		}
	}
}

func TestChunkKey_Adjacent(t *testing.T) {
	base := ChunkKey{World: "world", X: 10, Z: 10}
	adj := []ChunkKey{
		{World: "world", X: 11, Z: 10},
		{World: "world", X: 9, Z: 10},
		{World: "world", X: 10, Z: 11},
		{World: "world", X: 10, Z: 9},
	}
	for _, k := range adj {
		if !base.Adjacent(k) {
			t.Fatalf("%v should be adjacent to %v", k, base)
		}
	}
	notAdj := []ChunkKey{
		base,
		{World: "world", X: 11, Z: 11},
		{World: "world", X: 12, Z: 10},
		{World: "world_nether", X: 11, Z: 10},
	}
	for _, k := range notAdj {
		if base.Adjacent(k) {
			t.Fatalf("%v should not be adjacent to %v", k, base)
		}
	}
}
