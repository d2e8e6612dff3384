package discovery

import "testing"

func TestParseTXT(t *testing.T) {
	txt := parseTXT([]string{"features=0x445F8A00,0x1C340", "flags=0x4", "bare"})
	if txt["features"] != "0x445F8A00,0x1C340" {
		t.Fatalf("features = %q", txt["features"])
	}
	if v, ok := txt["bare"]; !ok || v != "" {
		t.Fatalf("bare = %q ok=%v", v, ok)
	}
	if parseTXT(nil) != nil {
		t.Fatal("nil records should stay nil")
	}
}

func TestCleanInstanceName(t *testing.T) {
	if got := cleanInstanceName("airplay", "AABBCCDDEEFF@Kitchen Speaker"); got != "Kitchen Speaker" {
		t.Fatalf("name = %q", got)
	}
	if got := cleanInstanceName("cast", "Den-TV"); got != "Den-TV" {
		t.Fatalf("name = %q", got)
	}
}

func TestIsAirplay2(t *testing.T) {
	cases := []struct {
		name string
		txt  map[string]string
		want bool
	}{
		// 0x1C340 carries bit 16 (48-32) in the high word.
		{"two-part with bit 48", map[string]string{"features": "0x445F8A00,0x1C340"}, true},
		{"two-part without bit 48", map[string]string{"features": "0x445F8A00,0xC340"}, false},
		{"ft fallback key", map[string]string{"ft": "0x445F8A00,0x1C340"}, true},
		{"missing", map[string]string{}, false},
		{"garbage", map[string]string{"features": "lots"}, false},
	}
	for _, tc := range cases {
		if got := isAirplay2(tc.txt); got != tc.want {
			t.Errorf("%s: airplay2 = %v, want %v", tc.name, got, tc.want)
		}
	}
}
