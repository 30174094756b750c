package version

import "testing"

func TestFallbacks(t *testing.T) {
	defer func(t0, c0, d0 string) { tag, commit, date = t0, c0, d0 }(tag, commit, date)

	tag, commit, date = "", "unknown", "unknown"
	if String() != "dev" || Full() != "dev" {
		t.Fatalf("dev build: %q / %q", String(), Full())
	}

	commit, date = "abc1234", "2026-01-01"
	if String() != "abc1234" || Full() != "abc1234 built 2026-01-01" {
		t.Fatalf("untagged build: %q / %q", String(), Full())
	}

	tag = "v0.3.0"
	if got := Banner("roomchat-server"); got != "roomchat-server v0.3.0 (abc1234) built 2026-01-01" {
		t.Fatalf("Banner = %q", got)
	}
}
