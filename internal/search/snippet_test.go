package search

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildSnippetWindowsAroundMatch(t *testing.T) {
	body := strings.Repeat("padding ", 30) + "the budget numbers look good" + strings.Repeat(" trailing", 30)
	got := BuildSnippet(body, "budget")

	if !strings.Contains(got, "budget") {
		t.Fatalf("snippet %q does not contain the match", got)
	}
	if !strings.HasPrefix(got, "…") || !strings.HasSuffix(got, "…") {
		t.Errorf("snippet %q missing ellipses for a mid-body window", got)
	}
	if len(got) > 200 {
		t.Errorf("snippet too long: %d bytes", len(got))
	}
}

func TestBuildSnippetFallbackWithoutMatch(t *testing.T) {
	short := "No relevant terms here."
	if got := BuildSnippet(short, "budget"); got != short {
		t.Errorf("short fallback = %q", got)
	}

	long := strings.Repeat("word ", 100)
	got := BuildSnippet(long, "budget")
	if !strings.HasSuffix(got, "…") {
		t.Errorf("long fallback %q missing ellipsis", got)
	}
	if len(got) > snippetFallback+len("…") {
		t.Errorf("fallback too long: %d bytes", len(got))
	}
}

func TestBuildSnippetMultiByteSafe(t *testing.T) {
	body := strings.Repeat("日本語のテキスト", 20) + " budget " + strings.Repeat("日本語のテキスト", 20)
	got := BuildSnippet(body, "budget")
	if !utf8.ValidString(got) {
		t.Fatalf("snippet split a multi-byte rune: %q", got)
	}
	if !strings.Contains(got, "budget") {
		t.Errorf("snippet %q lost the match", got)
	}

	longCJK := strings.Repeat("検索エンジンのテスト", 50)
	if got := BuildSnippet(longCJK, "budget"); !utf8.ValidString(got) {
		t.Fatalf("fallback split a multi-byte rune: %q", got)
	}
}

func TestBuildSnippetCaseFoldedWidthChange(t *testing.T) {
	// The Kelvin sign is three bytes but folds to a one-byte 'k', shifting
	// byte offsets between the body and its lowered copy. The window must
	// still land on the match.
	body := strings.Repeat("K", 60) + " quarterly budget figures attached"
	got := BuildSnippet(body, "budget")
	if !utf8.ValidString(got) {
		t.Fatalf("snippet split a rune: %q", got)
	}
	if !strings.Contains(got, "budget") {
		t.Errorf("snippet %q lost the match after width-changing fold", got)
	}

	// 'Ⱥ' drifts the other way: two bytes that fold to a three-byte 'ⱥ'.
	body = strings.Repeat("Ⱥ", 60) + " quarterly budget figures"
	got = BuildSnippet(body, "budget")
	if !utf8.ValidString(got) {
		t.Fatalf("snippet split a rune: %q", got)
	}
	if !strings.Contains(got, "budget") {
		t.Errorf("snippet %q lost the match", got)
	}
}

func TestBuildSnippetEarliestTermWins(t *testing.T) {
	body := "first the planning doc, later the budget doc"
	got := BuildSnippet(body, "budget planning")
	if !strings.HasPrefix(got, "first") {
		t.Errorf("snippet %q should start at the earliest match", got)
	}
}

func TestBuildSnippetCollapsesWhitespace(t *testing.T) {
	got := BuildSnippet("line one\n\n\tline   two budget", "budget")
	if strings.ContainsAny(got, "\n\t") || strings.Contains(got, "  ") {
		t.Errorf("whitespace not collapsed: %q", got)
	}
}

func TestBuildSnippetEmptyBody(t *testing.T) {
	if got := BuildSnippet("   ", "budget"); got != "" {
		t.Errorf("empty body snippet = %q", got)
	}
}
