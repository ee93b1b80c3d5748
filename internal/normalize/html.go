package normalize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlToText strips markup from an HTML body, keeping a readable
// plain-text rendering with block elements separated by newlines.
type htmlToText struct {
	spaces    *regexp.Regexp
	newlines  *regexp.Regexp
	invisible *regexp.Regexp
}

func newHTMLToText() *htmlToText {
	return &htmlToText{
		spaces:   regexp.MustCompile(`[^\S\n]+`),
		newlines: regexp.MustCompile(`\n{3,}`),
		// Zero-width and other invisible Unicode characters
		invisible: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}]+`),
	}
}

// Strip converts HTML to clean plain text. Returns an error only when
// the document cannot be parsed at all.
func (h *htmlToText) Strip(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()

	// Block elements become line breaks
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := doc.Text()
	text = h.invisible.ReplaceAllString(text, "")
	text = h.spaces.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	clean := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			clean = append(clean, line)
		}
	}
	text = strings.Join(clean, "\n")
	text = h.newlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}
