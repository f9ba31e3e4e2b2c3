// Package extract converts user-supplied sources (pasted text, uploaded
// documents, web pages) into the plain text the generation pipeline
// consumes.
package extract

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNotEnoughText is returned when a source yields too little
	// text to build a useful study guide from
	ErrNotEnoughText = errors.New("could not extract enough text")

	// ErrFetchFailed is returned when a URL cannot be retrieved
	ErrFetchFailed = errors.New("could not fetch the URL")
)

// MinTextLength is the minimum usable source size in bytes
const MinTextLength = 100

// Content is an extracted source document
type Content struct {
	Title string
	Text  string
}

var whitespaceRun = regexp.MustCompile(`\s\s+`)

// CleanText collapses whitespace runs and trims the result
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// FromPlainText validates pasted or uploaded plain text
func FromPlainText(title, text string) (*Content, error) {
	cleaned := CleanText(text)
	if len(cleaned) < MinTextLength {
		return nil, ErrNotEnoughText
	}
	return &Content{Title: title, Text: cleaned}, nil
}
