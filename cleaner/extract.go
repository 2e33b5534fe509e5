package cleaner

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is one anchor extracted from a page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// LinksResult splits a page's extracted links by same-host vs. cross-host.
type LinksResult struct {
	Internal []Link `json:"internal"`
	External []Link `json:"external"`
}

// Image is one img element extracted from a page.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// OGMetadata holds a page's Open Graph meta tags.
type OGMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ExtractLinks parses the raw HTML and separates links into internal and external
// based on whether their host matches the source URL's host.
func ExtractLinks(rawHTML string, sourceURL string) LinksResult {
	result := LinksResult{
		Internal: []Link{},
		External: []Link{},
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		return result
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return result
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" {
			return
		}

		// Resolve relative URLs against the base.
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}

		absURL := resolved.String()
		// Skip fragments, javascript:, mailto:, tel: etc.
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		// Deduplicate.
		if _, ok := seen[absURL]; ok {
			return
		}
		seen[absURL] = struct{}{}

		text := strings.TrimSpace(s.Text())
		link := Link{Href: absURL, Text: text}

		if strings.EqualFold(resolved.Host, base.Host) {
			result.Internal = append(result.Internal, link)
		} else {
			result.External = append(result.External, link)
		}
	})

	return result
}

// ExtractImages parses the raw HTML and returns image elements with absolute URLs.
func ExtractImages(rawHTML string, sourceURL string) []Image {
	images := []Image{}

	base, err := url.Parse(sourceURL)
	if err != nil {
		return images
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return images
	}

	seen := make(map[string]struct{})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, exists := s.Attr("src")
		if !exists || src == "" {
			return
		}

		// Resolve relative URLs.
		resolved, err := base.Parse(src)
		if err != nil {
			return
		}

		absURL := resolved.String()
		// Skip data URIs.
		if resolved.Scheme == "data" {
			return
		}

		if _, ok := seen[absURL]; ok {
			return
		}
		seen[absURL] = struct{}{}

		alt, _ := s.Attr("alt")
		images = append(images, Image{
			Src: absURL,
			Alt: strings.TrimSpace(alt),
		})
	})

	return images
}

// ExtractOGMetadata parses Open Graph meta tags from the raw HTML.
func ExtractOGMetadata(rawHTML string) OGMetadata {
	og := OGMetadata{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return og
	}

	doc.Find("meta[property]").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		if content == "" {
			return
		}
		switch prop {
		case "og:title":
			og.Title = content
		case "og:description":
			og.Description = content
		case "og:image":
			og.Image = content
		case "og:type":
			og.Type = content
		}
	})

	return og
}
