package cleaner

import (
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
)

// Metadata holds page-level information extracted during cleaning.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Author      string `json:"author,omitempty"`
	Language    string `json:"language,omitempty"`
	SourceURL   string `json:"source_url"`
}

// TokenInfo provides before/after token estimates to show cleaning efficacy.
type TokenInfo struct {
	OriginalEstimate int     `json:"original_estimate"`
	CleanedEstimate  int     `json:"cleaned_estimate"`
	SavingsPercent   float64 `json:"savings_percent"`
}

// Result is what Clean produces: the formatted content plus the metadata
// and token accounting the edge surface reports alongside it.
type Result struct {
	Content    string
	Metadata   Metadata
	Links      LinksResult
	Images     []Image
	OGMetadata OGMetadata
	Tokens     TokenInfo
}

// Error is Clean's error type, carrying a stable code for the API layer
// to map onto an HTTP status.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

const ErrCodeFormatFailure = "CONTENT_FORMAT_FAILED"

// Cleaner orchestrates the two-stage cleaning pipeline:
//
//	Stage 1 (readability): extract main content, strip nav/footer/sidebar/ads
//	Stage 2 (markdown):    convert clean HTML → Markdown (or html/text pass-through)
//
// The converter is created once and reused across all requests (goroutine-safe).
type Cleaner struct {
	mdConverter *converter.Converter
}

// NewCleaner initialises the Cleaner with a pre-configured Markdown converter.
func NewCleaner() *Cleaner {
	return &Cleaner{
		mdConverter: newMarkdownConverter(),
	}
}

// CleanOptions carries optional content-filtering parameters for the pipeline.
type CleanOptions struct {
	IncludeTags []string
	ExcludeTags []string

	// CSSSelector, if set, narrows rawHTML to the matching elements before
	// extraction runs — useful when the caller knows exactly which part of
	// the page it wants (a product card, an article body).
	CSSSelector string

	// Citations converts inline Markdown links in the final output to
	// reference-style citations, trading inline noise for a trailing list.
	Citations bool
}

// Clean runs the full pipeline and returns a *Result; timing is left to
// the API layer.
//
// Flow:
//  1. Estimate original tokens from raw HTML.
//  1b. Apply include/exclude tag filters and the CSS selector (if provided).
//  2. Stage 1: extract main content per extractMode (readability by
//     default, or pruning, auto, raw).
//     Fallback: if readability fails or content is too short, use raw HTML.
//  3. Stage 2: convert to the requested output format.
//  3b. Convert inline links to citations (if requested; not for html).
//  4. Estimate cleaned tokens and compute savings.
//  5. Extract links, images and OG metadata.
//  6. Assemble and return the result.
func (c *Cleaner) Clean(rawHTML string, sourceURL string, format string, extractMode string, opts ...CleanOptions) (*Result, error) {
	// ── 1. Original token estimate ──────────────────────────────────
	originalTokens := EstimateTokens(rawHTML)

	// ── 1b. Content filtering (include/exclude tags, CSS selector) ──
	var opt CleanOptions
	if len(opts) > 0 {
		opt = opts[0]
		rawHTML = FilterContent(rawHTML, opt.IncludeTags, opt.ExcludeTags)
	}
	if opt.CSSSelector != "" {
		if narrowed, err := ApplyCSSSelector(rawHTML, opt.CSSSelector); err == nil {
			rawHTML = narrowed
		} else {
			slog.Warn("css selector: failed, using unfiltered HTML",
				"selector", opt.CSSSelector, "error", err,
			)
		}
	}

	// ── 2. Stage 1: Content extraction ──────────────────────────────
	var article readability.Article
	switch extractMode {
	case "raw":
		// Skip readability; use the full rendered HTML as-is.
		article = fallbackArticle(rawHTML)

	case "pruning":
		// Scoring-based content extraction.
		prunedHTML, err := PruneContent(rawHTML, sourceURL)
		if err != nil {
			slog.Warn("pruning: extraction failed, falling back to raw HTML",
				"url", sourceURL, "error", err,
			)
			prunedHTML = rawHTML
		}
		// Build an Article from pruned HTML. Metadata comes from
		// readability on the original HTML so we get title/author/etc.
		metaArticle, _ := ExtractContent(rawHTML, sourceURL)
		article = readability.Article{
			Title:       metaArticle.Title,
			Byline:      metaArticle.Byline,
			Excerpt:     metaArticle.Excerpt,
			SiteName:    metaArticle.SiteName,
			Language:    metaArticle.Language,
			Content:     prunedHTML,
			TextContent: stripTags(prunedHTML),
		}

	case "auto":
		// Run both readability and pruning concurrently, pick the
		// result with more extracted text content.
		article = autoExtract(rawHTML, sourceURL)

	default:
		// "readability" (default).
		article, _ = ExtractContent(rawHTML, sourceURL)
	}

	// ── 3. Stage 2: Format conversion ───────────────────────────────
	var content string
	var err error

	switch format {
	case "markdown", "":
		content, err = ToMarkdown(c.mdConverter, article.Content, sourceURL)
		if err != nil {
			return nil, &Error{Code: ErrCodeFormatFailure, Message: "markdown conversion failed", Err: err}
		}
	case "html":
		// Return the readability-cleaned HTML as-is.
		content = article.Content
	case "text":
		// Return the plain text extracted by readability.
		content = article.TextContent
	default:
		// Defensive: treat unknown formats as markdown.
		content, err = ToMarkdown(c.mdConverter, article.Content, sourceURL)
		if err != nil {
			return nil, &Error{Code: ErrCodeFormatFailure, Message: "markdown conversion failed", Err: err}
		}
	}

	// ── 3b. Optional reference-style citations ──────────────────────
	if opt.Citations && format != "html" {
		content = ConvertToCitations(content)
	}

	// ── 4. Cleaned token estimate + savings ─────────────────────────
	cleanedTokens := EstimateTokens(content)

	savingsPercent := 0.0
	if originalTokens > 0 {
		savingsPercent = float64(originalTokens-cleanedTokens) / float64(originalTokens) * 100
		// Round to 2 decimal places.
		savingsPercent = math.Round(savingsPercent*100) / 100
	}

	// ── 5. Extract links, images, OG metadata from raw HTML ────────
	links := ExtractLinks(rawHTML, sourceURL)
	images := ExtractImages(rawHTML, sourceURL)
	ogMeta := ExtractOGMetadata(rawHTML)

	// ── 6. Assemble result ──────────────────────────────────────────
	return &Result{
		Content: content,
		Metadata: Metadata{
			Title:       article.Title,
			Description: article.Excerpt,
			SiteName:    article.SiteName,
			Author:      article.Byline,
			Language:    article.Language,
			SourceURL:   sourceURL,
		},
		Links:      links,
		Images:     images,
		OGMetadata: ogMeta,
		Tokens: TokenInfo{
			OriginalEstimate: originalTokens,
			CleanedEstimate:  cleanedTokens,
			SavingsPercent:   savingsPercent,
		},
	}, nil
}

// autoExtract runs both Readability and Pruning concurrently, then picks the
// result that extracted more meaningful text content.
func autoExtract(rawHTML, sourceURL string) readability.Article {
	var (
		readabilityArticle readability.Article
		prunedHTML         string
		pruneErr           error
	)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		readabilityArticle, _ = ExtractContent(rawHTML, sourceURL)
	}()

	go func() {
		defer wg.Done()
		prunedHTML, pruneErr = PruneContent(rawHTML, sourceURL)
	}()

	wg.Wait()

	// If pruning failed, use readability result.
	if pruneErr != nil {
		slog.Warn("auto: pruning failed, using readability result",
			"url", sourceURL, "error", pruneErr,
		)
		return readabilityArticle
	}

	prunedText := stripTags(prunedHTML)
	readabilityText := strings.TrimSpace(readabilityArticle.TextContent)

	// Pick the result with more extracted text. If readability produced
	// very little (< minContentLength), prefer pruning, and vice versa.
	// When both are substantial, prefer whichever has more content.
	useReadability := len(readabilityText) >= len(prunedText)

	// Quality check: if the longer result is >10x the shorter, it may
	// contain too much noise — prefer the shorter one if it still has
	// a reasonable amount of content.
	if useReadability && len(prunedText) > minContentLength {
		if len(readabilityText) > 10*len(prunedText) {
			useReadability = false
		}
	} else if !useReadability && len(readabilityText) > minContentLength {
		if len(prunedText) > 10*len(readabilityText) {
			useReadability = true
		}
	}

	if useReadability {
		return readabilityArticle
	}

	// Build Article from pruned result, with metadata from readability.
	return readability.Article{
		Title:       readabilityArticle.Title,
		Byline:      readabilityArticle.Byline,
		Excerpt:     readabilityArticle.Excerpt,
		SiteName:    readabilityArticle.SiteName,
		Language:    readabilityArticle.Language,
		Content:     prunedHTML,
		TextContent: prunedText,
	}
}

// stripTags is a simple helper that extracts visible text from an HTML
// fragment by parsing it with goquery. Returns trimmed plain text.
func stripTags(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.TrimSpace(doc.Text())
}
