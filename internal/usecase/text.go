package usecase

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Package-level compiled regex pattern for performance
var multipleSpacesRegex = regexp.MustCompile(`\s+`)

// normalizeText lowercases s and collapses all whitespace runs to one space
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = multipleSpacesRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// plainText extracts the visible text of an HTML fragment such as a
// product body_html. Unparseable input is returned with whitespace collapsed.
func plainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(multipleSpacesRegex.ReplaceAllString(html, " "))
	}
	doc.Find("script, style").Remove()

	var parts []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	text := strings.Join(parts, " ")
	return strings.TrimSpace(multipleSpacesRegex.ReplaceAllString(text, " "))
}

// matchesTitle reports whether title contains term, ignoring case
func matchesTitle(title, term string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(term))
}
