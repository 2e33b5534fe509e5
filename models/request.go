package models

// ScrapeRequest is the payload for POST /api/v1/scrape (spec.md §6 "Scrape
// input").
type ScrapeRequest struct {
	// URL is the target page to scrape. Required, must be http/https.
	URL string `json:"url" binding:"required,url"`

	// Tags selects (or, on creation, labels) the serving context.
	Tags []string `json:"tags,omitempty"`

	// Proxy, if set, is only ever used on context creation — selection
	// never matches on it (spec.md §4.4 "selection vs. creation tags").
	Proxy string `json:"proxy,omitempty"`

	// WaitUntil is one of load|domcontentloaded|networkidle|commit.
	WaitUntil string `json:"wait_until,omitempty" binding:"omitempty,oneof=load domcontentloaded networkidle commit"`

	// TimeoutMs bounds navigation and, separately, script evaluation.
	// Default 30000, range 1000-120000.
	TimeoutMs int `json:"timeout_ms,omitempty" binding:"omitempty,min=1000,max=120000"`

	// GetContent toggles returning the page's rendered HTML. Default true.
	GetContent *bool `json:"get_content,omitempty"`

	// Script, if set, is evaluated in-page after navigation.
	Script string `json:"script,omitempty"`

	Screenshot         bool `json:"screenshot,omitempty"`
	ScreenshotFullPage bool `json:"screenshot_full_page,omitempty"`

	// DomainDelayMs overrides the pool's default per-context-per-domain delay.
	DomainDelayMs int `json:"domain_delay_ms,omitempty"`

	// MaxAge, when > 0, allows serving a cached response up to this many
	// milliseconds old instead of running a fresh scrape.
	MaxAge int `json:"max_age,omitempty"`

	// Format is the output format for Content: "markdown" (default), "html",
	// or "text".
	Format string `json:"format,omitempty" binding:"omitempty,oneof=markdown html text"`

	// ExtractMode picks the content-extraction strategy: "readability"
	// (default), "pruning", "auto", or "raw".
	ExtractMode string `json:"extract_mode,omitempty" binding:"omitempty,oneof=readability pruning auto raw"`

	// IncludeTags/ExcludeTags narrow the HTML considered for extraction to
	// (or away from) the given tag names, before the extractor runs.
	IncludeTags []string `json:"include_tags,omitempty"`
	ExcludeTags []string `json:"exclude_tags,omitempty"`

	// CSSSelector, if set, narrows the page to matching elements before
	// extraction.
	CSSSelector string `json:"css_selector,omitempty"`

	// Citations converts inline Markdown links in Content to reference-style
	// citations.
	Citations bool `json:"citations,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if r.GetContent == nil {
		t := true
		r.GetContent = &t
	}
	if r.TimeoutMs == 0 {
		r.TimeoutMs = 30000
	}
	if r.WaitUntil == "" {
		r.WaitUntil = "load"
	}
	if r.Format == "" {
		r.Format = "markdown"
	}
	if r.ExtractMode == "" {
		r.ExtractMode = "readability"
	}
}

// JobSubmitRequest is the payload for POST /api/v1/jobs: a ScrapeRequest
// plus an optional completion webhook.
type JobSubmitRequest struct {
	ScrapeRequest
	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// ContextCreateRequest is the payload for POST /api/v1/contexts.
type ContextCreateRequest struct {
	Proxy      string   `json:"proxy,omitempty"`
	Persistent bool     `json:"persistent,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// ContextPatchRequest is the payload for PATCH /api/v1/contexts/:id/tags.
type ContextPatchRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}
