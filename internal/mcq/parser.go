package mcq

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// minQuestionLen is the length a non-option line must exceed to be picked as
// the question line.
const minQuestionLen = 20

// ErrNotParsable is returned when neither parsing strategy finds a question
// with four options.
var ErrNotParsable = errors.New("mcq: text not parsable")

// ParseError carries the raw text that could not be parsed.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return ErrNotParsable.Error()
}

func (e *ParseError) Unwrap() error { return ErrNotParsable }

var (
	horizontalSpace = regexp.MustCompile(`[\t\f\v\r\p{Zs}]+`)
	optionLine      = regexp.MustCompile(`([A-D])\)\s*(.+)`)
	optionMarker    = regexp.MustCompile(`[A-D]\)`)
	leadingMarker   = regexp.MustCompile(`^[A-D]\)\s*`)
)

// Parse turns OCR output into a Question. It first classifies lines into
// option lines and a question line. An option marker may sit anywhere in a
// line, so bullets such as "(A)" or "1. A)" are tolerated, and a line holding
// a marker is never taken as the question. When fewer than four options are
// found it re-splits the whole text in front of every option marker.
func Parse(raw string) (Question, error) {
	lines := normalize(raw)
	if len(lines) == 0 {
		return Question{}, &ParseError{Raw: raw}
	}

	if q, ok := parseLines(lines); ok {
		return q, nil
	}
	if q, ok := parseSegments(strings.Join(lines, " ")); ok {
		return q, nil
	}
	return Question{}, &ParseError{Raw: raw}
}

func normalize(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func parseLines(lines []string) (Question, bool) {
	var (
		slots    [4]string
		filled   [4]bool
		matches  int
		question string
	)

	for _, line := range lines {
		m := optionLine.FindStringSubmatch(line)
		if m == nil {
			if question == "" && !optionMarker.MatchString(line) &&
				utf8.RuneCountInString(line) > minQuestionLen {
				question = line
			}
			continue
		}
		if matches == 4 {
			continue
		}
		matches++
		i := Letter(m[1]).Index()
		if !filled[i] {
			slots[i] = strings.TrimSpace(m[2])
			filled[i] = true
		}
	}

	for _, ok := range filled {
		if !ok {
			return Question{}, false
		}
	}
	if question == "" {
		question = lines[0]
	}

	q, err := NewQuestion(question, slots)
	if err != nil {
		return Question{}, false
	}
	return q, true
}

func parseSegments(text string) (Question, bool) {
	parts := splitBeforeMarkers(text)
	if len(parts) < 5 {
		return Question{}, false
	}

	var options [4]string
	for i, part := range parts[1:5] {
		options[i] = leadingMarker.ReplaceAllString(part, "")
	}

	q, err := NewQuestion(parts[0], options)
	if err != nil {
		return Question{}, false
	}
	return q, true
}

// splitBeforeMarkers cuts s in front of every option marker, keeping the
// marker at the start of the following segment. The first segment is always
// present, even when s starts with a marker.
func splitBeforeMarkers(s string) []string {
	locs := optionMarker.FindAllStringIndex(s, -1)
	parts := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		parts = append(parts, s[prev:loc[0]])
		prev = loc[0]
	}
	return append(parts, s[prev:])
}
