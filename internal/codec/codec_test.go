package codec

import (
	"math"
	"strings"
	"testing"
)

func TestBase62RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 61, 62, 3843, 1234567890, math.MaxUint64}
	for _, n := range cases {
		enc := EncodeBase62(n)
		got, err := DecodeBase62(enc)
		if err != nil {
			t.Fatalf("DecodeBase62(%q): %v", enc, err)
		}
		if got != n {
			t.Errorf("round trip %d: got %d via %q", n, got, enc)
		}
	}
}

func TestBase62Ordering(t *testing.T) {
	// Equal-length encodings sort like their values.
	a, b := EncodeBase62(100), EncodeBase62(101)
	if len(a) == len(b) && a >= b {
		t.Errorf("expected %q < %q", a, b)
	}
}

func TestBase62Invalid(t *testing.T) {
	for _, in := range []string{"", "ab!", "-1", "é"} {
		if _, err := DecodeBase62(in); err == nil {
			t.Errorf("DecodeBase62(%q): expected error", in)
		}
	}
}

func TestFixedPointRoundTrip(t *testing.T) {
	cases := []struct {
		v         float64
		precision int
	}{
		{0, 2},
		{1.5, 2},
		{-1.5, 2},
		{123.456, 3},
		{-0.000001, 6},
		{99999.99, 2},
	}
	for _, tc := range cases {
		enc, err := EncodeFixedPoint(tc.v, tc.precision)
		if err != nil {
			t.Fatalf("EncodeFixedPoint(%v, %d): %v", tc.v, tc.precision, err)
		}
		got, err := DecodeFixedPoint(enc, tc.precision)
		if err != nil {
			t.Fatalf("DecodeFixedPoint(%q): %v", enc, err)
		}
		if math.Abs(got-tc.v) > 1e-9 {
			t.Errorf("round trip %v @%d: got %v via %q", tc.v, tc.precision, got, enc)
		}
	}
}

func TestMoney(t *testing.T) {
	enc, err := EncodeMoney(19.99)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(enc, "$") {
		t.Errorf("money encoding %q missing $ prefix", enc)
	}
	got, err := DecodeMoney(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got != 19.99 {
		t.Errorf("got %v", got)
	}

	neg, err := EncodeMoney(-5.25)
	if err != nil {
		t.Fatal(err)
	}
	got, err = DecodeMoney(neg)
	if err != nil {
		t.Fatal(err)
	}
	if got != -5.25 {
		t.Errorf("got %v", got)
	}
}

func TestGeo(t *testing.T) {
	lat, err := EncodeGeoLat(-23.55052)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(lat, "g") {
		t.Errorf("lat encoding %q missing g prefix", lat)
	}
	gotLat, err := DecodeGeoLat(lat)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(gotLat-(-23.55052)) > 1e-6 {
		t.Errorf("lat round trip: %v", gotLat)
	}

	lon, err := EncodeGeoLon(-46.633308)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(lon, "G") {
		t.Errorf("lon encoding %q missing G prefix", lon)
	}
	gotLon, err := DecodeGeoLon(lon)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(gotLon-(-46.633308)) > 1e-6 {
		t.Errorf("lon round trip: %v", gotLon)
	}

	if _, err := EncodeGeoLat(91); err == nil {
		t.Error("latitude 91 should fail")
	}
	if _, err := EncodeGeoLon(-181); err == nil {
		t.Error("longitude -181 should fail")
	}
}

func TestIPv4(t *testing.T) {
	enc, err := EncodeIPv4("192.168.1.100")
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != 8 {
		t.Errorf("IPv4 encoding %q should be 8 chars", enc)
	}
	got, err := DecodeIPv4(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got != "192.168.1.100" {
		t.Errorf("got %q", got)
	}

	if _, err := EncodeIPv4("not-an-ip"); err == nil {
		t.Error("expected error for junk input")
	}
	if _, err := EncodeIPv4("::1"); err == nil {
		t.Error("expected error for IPv6 input")
	}
}

func TestIPv6(t *testing.T) {
	// Short compressed forms stay textual.
	enc, err := EncodeIPv6("::1")
	if err != nil {
		t.Fatal(err)
	}
	if enc != "::1" {
		t.Errorf("short form changed: %q", enc)
	}
	got, err := DecodeIPv6(enc)
	if err != nil || got != "::1" {
		t.Errorf("got %q, %v", got, err)
	}

	// Full form packs to base64 without colons.
	full := "2001:0db8:85a3:0000:0000:8a2e:0370:7334"
	enc, err = EncodeIPv6(full)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(enc, ":") {
		t.Errorf("long form should be packed: %q", enc)
	}
	if len(enc) > ipv6MaxText {
		t.Errorf("packed form too long: %q", enc)
	}
	got, err = DecodeIPv6(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2001:db8:85a3::8a2e:370:7334" {
		t.Errorf("got %q", got)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	v := []float64{0.1, -0.25, 0.999999, 0}
	enc, err := EncodeEmbedding(v, 4)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeEmbedding(enc, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range v {
		if math.Abs(got[i]-v[i]) > 1e-6 {
			t.Errorf("element %d: got %v want %v", i, got[i], v[i])
		}
	}

	if _, err := EncodeEmbedding(v, 3); err == nil {
		t.Error("dimension mismatch should fail")
	}
}

func TestSmartStringDictionary(t *testing.T) {
	enc := EncodeString("active")
	if !strings.HasPrefix(enc, "d:") {
		t.Fatalf("dictionary token got %q", enc)
	}
	if len(enc) > 5 {
		t.Errorf("sigil %q too long", enc)
	}
	got, err := DecodeString(enc)
	if err != nil || got != "active" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestSmartStringRoundTrip(t *testing.T) {
	cases := []string{
		"plain ascii",
		"",
		"café au lait",        // Latin-1
		"日本語",                  // beyond Latin-1
		"d:0",                 // collides with a dictionary sigil
		"u:already-encoded",   // collides with the url prefix
		"b:already-encoded",   // collides with the base64 prefix
		"x\x00binary\xffdata", // raw bytes
	}
	for _, in := range cases {
		enc := EncodeString(in)
		got, err := DecodeString(enc)
		if err != nil {
			t.Fatalf("DecodeString(%q) from %q: %v", enc, in, err)
		}
		if got != in {
			t.Errorf("round trip %q: got %q via %q", in, got, enc)
		}
	}
}

func TestSmartStringReservedPrefixEscaped(t *testing.T) {
	// Inputs that merely start with a dispatch prefix must not be stored
	// as-is.
	for _, in := range []string{"d:anything", "u:x", "b:x"} {
		enc := EncodeString(in)
		if enc == in {
			t.Errorf("input %q stored verbatim, decode would misfire", in)
		}
	}
}

func TestSmartStringEncodeIsStable(t *testing.T) {
	// Cache hits must not change the answer.
	in := "stability check"
	first := EncodeString(in)
	for i := 0; i < 3; i++ {
		if got := EncodeString(in); got != first {
			t.Fatalf("encoding changed between calls: %q vs %q", got, first)
		}
	}
}

func TestLRUEviction(t *testing.T) {
	c := newLRU(2)
	c.put("a", classASCII)
	c.put("b", classLatin1)
	c.put("c", classBinary)
	if _, ok := c.get("a"); ok {
		t.Error("oldest entry should be evicted")
	}
	if v, ok := c.get("c"); !ok || v != classBinary {
		t.Error("newest entry missing")
	}
	if c.len() != 2 {
		t.Errorf("len = %d", c.len())
	}
}
