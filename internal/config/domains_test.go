package config

import (
	"strings"
	"testing"
)

func TestParseDomainsSkipsBlankAndCommentLines(t *testing.T) {
	input := `example.com
# a full-line comment

other.test   # trailing comment

quic.test`
	domains, err := ParseDomains(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseDomains: %v", err)
	}
	want := []string{"example.com", "other.test", "quic.test"}
	if len(domains) != len(want) {
		t.Fatalf("len = %d, want %d (%+v)", len(domains), len(want), domains)
	}
	for i, w := range want {
		if domains[i].Host != w {
			t.Errorf("domains[%d].Host = %q, want %q", i, domains[i].Host, w)
		}
		if domains[i].Index != i {
			t.Errorf("domains[%d].Index = %d, want %d", i, domains[i].Index, i)
		}
	}
}

func TestParseDomainsOnEmptyInputReturnsNoDomains(t *testing.T) {
	domains, err := ParseDomains(strings.NewReader("# only a comment\n"))
	if err != nil {
		t.Fatalf("ParseDomains: %v", err)
	}
	if len(domains) != 0 {
		t.Fatalf("len(domains) = %d, want 0", len(domains))
	}
}

func TestLoadDomainsReturnsIoErrorForMissingFile(t *testing.T) {
	_, err := LoadDomains("/nonexistent/domains.txt")
	if err == nil {
		t.Fatal("expected an error for a missing domains file")
	}
}
