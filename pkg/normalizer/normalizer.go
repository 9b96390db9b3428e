package normalizer

import (
	"strings"
	"unicode"

	"github.com/chartline-health/chartline/pkg/common/faults"
)

// Segment is one sentence-level span of the raw input. Start and End are
// byte offsets into the raw string so extracted events can point back at
// the exact text they came from.
type Segment struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Normalized is the cleaned form of one free-text observation.
type Normalized struct {
	Raw      string    `json:"raw"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Normalize validates raw input, canonicalizes case and whitespace, and
// splits it into sentence segments. It interprets no clinical meaning and
// has no failure mode beyond input validation.
func Normalize(raw string) (*Normalized, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, faults.Validation("input text is empty")
	}

	segments := segment(raw)
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}

	return &Normalized{
		Raw:      raw,
		Text:     strings.Join(parts, ". "),
		Segments: segments,
	}, nil
}

// segment splits raw on sentence boundaries (., ;, !, ?, newlines) and
// returns lowercase, whitespace-collapsed segments with raw-text offsets.
func segment(raw string) []Segment {
	var segments []Segment
	start := 0
	for i := 0; i <= len(raw); i++ {
		atEnd := i == len(raw)
		if !atEnd && !isBoundary(rune(raw[i])) {
			continue
		}
		// A period between digits is a decimal point, not a boundary.
		if !atEnd && raw[i] == '.' && i > 0 && i+1 < len(raw) &&
			isDigit(raw[i-1]) && isDigit(raw[i+1]) {
			continue
		}
		text := canonical(raw[start:i])
		if text != "" {
			s, e := trimmedSpan(raw, start, i)
			segments = append(segments, Segment{Text: text, Start: s, End: e})
		}
		start = i + 1
	}
	return segments
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isBoundary(r rune) bool {
	switch r {
	case '.', ';', '!', '?', '\n':
		return true
	}
	return false
}

// canonical lowercases and collapses runs of whitespace to single spaces.
func canonical(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.ToLower(strings.Join(fields, " "))
}

// trimmedSpan narrows [start, end) to exclude leading and trailing
// whitespace in raw.
func trimmedSpan(raw string, start, end int) (int, int) {
	for start < end && unicode.IsSpace(rune(raw[start])) {
		start++
	}
	for end > start && unicode.IsSpace(rune(raw[end-1])) {
		end--
	}
	return start, end
}
