package geo

import "testing"

func TestParseLatLng_Empty(t *testing.T) {
	p, err := ParseLatLng(" ", "")
	if err != nil || p != nil {
		t.Fatalf("empty cells: got %v, %v", p, err)
	}
}

func TestParseLatLng_RoundTrip(t *testing.T) {
	p, err := ParseLatLng("33.770050", "-118.193740")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Lat() != 33.77005 || p.Lon() != -118.19374 {
		t.Fatalf("unexpected point %v", *p)
	}
	lat, lng := FormatLatLng(p)
	if lat != "33.770050" || lng != "-118.193740" {
		t.Fatalf("format: %s,%s", lat, lng)
	}
}

func TestParseLatLng_Rejects(t *testing.T) {
	cases := [][2]string{{"abc", "1"}, {"1", ""}, {"91", "0"}, {"0", "181"}}
	for _, c := range cases {
		if _, err := ParseLatLng(c[0], c[1]); err == nil {
			t.Fatalf("expected error for %v", c)
		}
	}
}

func TestFormatLatLng_Nil(t *testing.T) {
	lat, lng := FormatLatLng(nil)
	if lat != "" || lng != "" {
		t.Fatalf("nil should format empty, got %q %q", lat, lng)
	}
}
