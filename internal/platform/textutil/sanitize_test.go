package textutil

import "testing"

func TestPlainText(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                    "",
		"  Leave at   the front desk ":        "Leave at the front desk",
		"<b>Ring</b> twice<script>x()</script>": "Ring twice",
		"Tom &amp; Jerry":                     "Tom & Jerry",
	}
	for input, want := range cases {
		if got := PlainText(input); got != want {
			t.Errorf("PlainText(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got := Clip("ঢাকা শহর", 4); got != "ঢাকা" {
		t.Fatalf("expected rune-aware clip, got %q", got)
	}
	if got := Clip("short", 10); got != "short" {
		t.Fatalf("expected untouched value, got %q", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	t.Parallel()

	if got := FirstNonEmpty("", "  ", " Dhaka ", "Chittagong"); got != "Dhaka" {
		t.Fatalf("expected Dhaka, got %q", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
