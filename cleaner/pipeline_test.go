package cleaner

import (
	"strings"
	"testing"
)

func TestApplyCSSSelector_MatchesElement(t *testing.T) {
	html := `<html><body><div class="ad">skip</div><article id="main"><p>keep me</p></article></body></html>`
	out, err := ApplyCSSSelector(html, "#main")
	if err != nil {
		t.Fatalf("ApplyCSSSelector: %v", err)
	}
	if !strings.Contains(out, "keep me") {
		t.Fatalf("expected matched element content, got %q", out)
	}
	if strings.Contains(out, "skip") {
		t.Fatalf("expected unmatched element to be dropped, got %q", out)
	}
}

func TestApplyCSSSelector_NoMatchFallsBackToOriginal(t *testing.T) {
	html := `<html><body><p>hello</p></body></html>`
	out, err := ApplyCSSSelector(html, "#does-not-exist")
	if err != nil {
		t.Fatalf("ApplyCSSSelector: %v", err)
	}
	if out != html {
		t.Fatalf("expected unchanged HTML on no match, got %q", out)
	}
}

func TestConvertToCitations_DeduplicatesURLs(t *testing.T) {
	md := "See [Google](https://google.com) and again [Google search](https://google.com)"
	out := ConvertToCitations(md)
	if !strings.Contains(out, "[Google][1]") || !strings.Contains(out, "[Google search][1]") {
		t.Fatalf("expected both links to share reference 1, got %q", out)
	}
	if !strings.Contains(out, "[1]: https://google.com") {
		t.Fatalf("expected a reference list entry, got %q", out)
	}
}

func TestConvertToCitations_NoLinksReturnsInput(t *testing.T) {
	md := "no links here"
	if out := ConvertToCitations(md); out != md {
		t.Fatalf("expected input unchanged, got %q", out)
	}
}

func TestClean_CSSSelectorNarrowsExtraction(t *testing.T) {
	c := NewCleaner()
	html := `<html><body><nav>menu</nav><article id="content"><p>the real content, long enough to survive readability's length heuristics without being discarded as boilerplate text, padded further here.</p></article></body></html>`

	result, err := c.Clean(html, "https://example.com/a", "text", "raw", CleanOptions{CSSSelector: "#content"})
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if strings.Contains(result.Content, "menu") {
		t.Fatalf("expected nav content to be excluded by the selector, got %q", result.Content)
	}
}

func TestClean_CitationsOptionAppliesToMarkdown(t *testing.T) {
	c := NewCleaner()
	html := `<html><body><article><p>Visit <a href="https://example.com">Example</a> for more, padded with enough text to survive extraction heuristics comfortably here.</p></article></body></html>`

	result, err := c.Clean(html, "https://example.com/a", "markdown", "raw", CleanOptions{Citations: true})
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if !strings.Contains(result.Content, "[1]: https://example.com") {
		t.Fatalf("expected a reference-style citation list, got %q", result.Content)
	}
}
