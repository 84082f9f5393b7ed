package arenadata

import "testing"

func TestParseNameCases(t *testing.T) {
	cases := []struct {
		in   string
		want ParsedName
	}{
		{"duel3", ParsedName{Base: "duel", Number: 3}},
		{"0", ParsedName{Base: PublicBase, Number: 0, Public: true}},
		{"#league", ParsedName{Base: "#league", Number: 0, Private: true}},
		{"  duel3  ", ParsedName{Base: "duel", Number: 3}},
	}
	for _, c := range cases {
		got, ok := ParseName(c.in)
		if !ok {
			t.Fatalf("ParseName(%q): expected success", c.in)
		}
		if got != c.want {
			t.Fatalf("ParseName(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseNameRejectsEmpty(t *testing.T) {
	if _, ok := ParseName("   "); ok {
		t.Fatal("expected failure on all-whitespace name")
	}
}

func TestCreateNameCases(t *testing.T) {
	if got, err := CreateName("duel", 0); err != nil || got != "duel" {
		t.Fatalf("got %q, %v", got, err)
	}
	if got, err := CreateName(PublicBase, 7); err != nil || got != "7" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := CreateName("foo", -1); err == nil {
		t.Fatal("expected error on negative number")
	}
}

func TestParseCreateRoundTrip(t *testing.T) {
	cases := []struct {
		base string
		n    int
	}{
		{"duel", 3}, {"arena", 0}, {"#league", 0},
	}
	for _, c := range cases {
		name, err := CreateName(c.base, c.n)
		if err != nil {
			t.Fatalf("CreateName(%q,%d): %v", c.base, c.n, err)
		}
		parsed, ok := ParseName(name)
		if !ok {
			t.Fatalf("ParseName(%q) failed", name)
		}
		if parsed.Base != c.base || parsed.Number != c.n {
			t.Fatalf("round trip mismatch: got (%q,%d) want (%q,%d)", parsed.Base, parsed.Number, c.base, c.n)
		}
	}
}

func TestPublicRoundTrip(t *testing.T) {
	name, err := CreateName(PublicBase, 42)
	if err != nil {
		t.Fatal(err)
	}
	if name != "42" {
		t.Fatalf("got %q", name)
	}
	parsed, ok := ParseName(name)
	if !ok || parsed.Base != PublicBase || parsed.Number != 42 {
		t.Fatalf("got %+v", parsed)
	}
}
