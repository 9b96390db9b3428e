package extraction

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/normalizer"
)

var (
	doseRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(mg|mcg|g|ml|units?|tablets?)\b`)
	tempRe     = regexp.MustCompile(`(?:temp(?:erature)?\s*(?:of|is|was)?\s*)?(\d{2,3}(?:\.\d+)?)\s*°\s*([cf])\b`)
	tempWordRe = regexp.MustCompile(`temp(?:erature)?\s*(?:of|is|was)?\s*(\d{2,3}(?:\.\d+)?)\b`)
	bpRe       = regexp.MustCompile(`(?:bp|blood pressure)\s*(?:of|is|was)?\s*(\d{2,3})\s*/\s*(\d{2,3})`)
	pulseRe    = regexp.MustCompile(`(?:pulse|heart rate)\s*(?:of|is|was)?\s*(\d{2,3})\b`)
	spo2Re     = regexp.MustCompile(`(?:spo2|o2 sat(?:uration)?|oxygen saturation)\s*(?:of|is|was)?\s*(\d{2,3})\s*%?`)
	clockRe    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24Re  = regexp.MustCompile(`\bat\s+(\d{1,2}):(\d{2})\b`)
)

var timeOfDayHours = []struct {
	words []string
	hour  int
}{
	{[]string{"morning", "breakfast"}, 8},
	{[]string{"afternoon", "lunch", "noon"}, 13},
	{[]string{"evening", "dinner"}, 18},
	{[]string{"night", "bedtime"}, 21},
}

var foodRelations = []struct {
	relation string
	patterns []string
}{
	{"after food", []string{"after food", "after eating", "after meal", "after breakfast", "after lunch", "after dinner"}},
	{"before food", []string{"before food", "before eating", "before meal", "before breakfast", "before lunch", "before dinner"}},
	{"with food", []string{"with food", "with meal", "with meals", "during meal"}},
	{"empty stomach", []string{"empty stomach", "on empty stomach", "without food"}},
}

var frequencyMarkers = []string{
	"again", "twice", "three times", "multiple times", "every day", "daily", "since yesterday",
}

const (
	symptomConfidence    = 0.82
	medicationConfidence = 0.86
	vitalConfidence      = 0.93
	timeBonus            = 0.04
	doseBonus            = 0.06
)

// RuleModel is the local extraction model: a deterministic safe-list and
// pattern matcher over normalized nursing text. It never proposes a term
// outside its vocabulary.
type RuleModel struct {
	vocab Vocabulary
	now   func() time.Time
}

func NewRuleModel(vocab Vocabulary) *RuleModel {
	return &RuleModel{vocab: vocab, now: time.Now}
}

// Extract scans each segment for symptoms, medications and vital signs.
// Candidates come back ordered by their position in the input, which is
// stable for a fixed input.
func (m *RuleModel) Extract(ctx context.Context, norm *normalizer.Normalized, contextEvents []models.ClinicalEvent) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ASCII-only lowering: Unicode case mapping can change byte length
	// (e.g. U+212A), which would break the segment offsets into raw. The
	// vocabulary and patterns are all ASCII, so this loses no matches.
	rawLower := lowerASCII(norm.Raw)
	var candidates []Candidate

	for _, seg := range norm.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		segText := rawLower[seg.Start:seg.End]
		onset := m.parseOnset(segText)
		food := parseFoodRelation(segText)
		freq := parseFrequency(segText)

		var segCandidates []Candidate

		for _, term := range m.vocab.Symptoms {
			idx := indexWord(segText, term)
			if idx < 0 {
				continue
			}
			conf := symptomConfidence
			if !onset.IsZero() {
				conf += timeBonus
			}
			segCandidates = append(segCandidates, Candidate{
				Kind:         models.KindSymptom,
				Description:  term,
				Confidence:   conf,
				Onset:        onset,
				SpanStart:    seg.Start + idx,
				SpanEnd:      seg.Start + idx + len(term),
				FoodRelation: food,
				Frequency:    freq,
			})
		}

		for _, term := range m.vocab.Medications {
			idx := indexWord(segText, term)
			if idx < 0 {
				continue
			}
			conf := medicationConfidence
			measurement := parseDose(segText)
			if measurement != nil {
				conf += doseBonus
			}
			segCandidates = append(segCandidates, Candidate{
				Kind:         models.KindMedication,
				Description:  term,
				Measurement:  measurement,
				Confidence:   conf,
				Onset:        onset,
				SpanStart:    seg.Start + idx,
				SpanEnd:      seg.Start + idx + len(term),
				FoodRelation: food,
				Frequency:    freq,
				Route:        "oral",
			})
		}

		segCandidates = append(segCandidates, m.extractVitals(seg, segText, onset)...)

		sort.SliceStable(segCandidates, func(i, j int) bool {
			return segCandidates[i].SpanStart < segCandidates[j].SpanStart
		})
		candidates = append(candidates, segCandidates...)
	}

	return candidates, nil
}

func (m *RuleModel) extractVitals(seg normalizer.Segment, segText string, onset time.Time) []Candidate {
	var out []Candidate

	vital := func(desc string, value float64, unit string, loc []int) {
		out = append(out, Candidate{
			Kind:        models.KindVitalSign,
			Description: desc,
			Measurement: &models.Measurement{Value: value, Unit: unit},
			Confidence:  vitalConfidence,
			Onset:       onset,
			SpanStart:   seg.Start + loc[0],
			SpanEnd:     seg.Start + loc[1],
		})
	}

	if loc := tempRe.FindStringSubmatchIndex(segText); loc != nil {
		v, _ := strconv.ParseFloat(segText[loc[2]:loc[3]], 64)
		unit := "°C"
		if segText[loc[4]:loc[5]] == "f" {
			unit = "°F"
		}
		vital("temperature", v, unit, loc)
	} else if loc := tempWordRe.FindStringSubmatchIndex(segText); loc != nil {
		v, _ := strconv.ParseFloat(segText[loc[2]:loc[3]], 64)
		vital("temperature", v, "°C", loc)
	}

	if loc := bpRe.FindStringSubmatchIndex(segText); loc != nil {
		systolic, _ := strconv.ParseFloat(segText[loc[2]:loc[3]], 64)
		diastolic := segText[loc[4]:loc[5]]
		vital("blood pressure "+segText[loc[2]:loc[3]]+"/"+diastolic, systolic, "mmHg", loc)
	}

	if loc := pulseRe.FindStringSubmatchIndex(segText); loc != nil {
		v, _ := strconv.ParseFloat(segText[loc[2]:loc[3]], 64)
		vital("pulse", v, "bpm", loc)
	}

	if loc := spo2Re.FindStringSubmatchIndex(segText); loc != nil {
		v, _ := strconv.ParseFloat(segText[loc[2]:loc[3]], 64)
		vital("oxygen saturation", v, "%", loc)
	}

	return out
}

// parseOnset resolves an explicit clock time or a time-of-day word to a
// timestamp on the current date. Zero when the text carries neither.
func (m *RuleModel) parseOnset(segText string) time.Time {
	ref := m.now()

	if match := clockRe.FindStringSubmatch(segText); match != nil {
		hour, _ := strconv.Atoi(match[1])
		minute := 0
		if match[2] != "" {
			minute, _ = strconv.Atoi(match[2])
		}
		if match[3] == "pm" && hour < 12 {
			hour += 12
		}
		if match[3] == "am" && hour == 12 {
			hour = 0
		}
		if hour < 24 && minute < 60 {
			return time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
		}
	}

	if match := clock24Re.FindStringSubmatch(segText); match != nil {
		hour, _ := strconv.Atoi(match[1])
		minute, _ := strconv.Atoi(match[2])
		if hour < 24 && minute < 60 {
			return time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
		}
	}

	for _, tod := range timeOfDayHours {
		for _, word := range tod.words {
			if indexWord(segText, word) >= 0 {
				return time.Date(ref.Year(), ref.Month(), ref.Day(), tod.hour, 0, 0, 0, ref.Location())
			}
		}
	}

	return time.Time{}
}

func parseDose(segText string) *models.Measurement {
	match := doseRe.FindStringSubmatch(segText)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	return &models.Measurement{Value: value, Unit: match[2]}
}

func parseFoodRelation(segText string) string {
	for _, fr := range foodRelations {
		for _, pattern := range fr.patterns {
			if strings.Contains(segText, pattern) {
				return fr.relation
			}
		}
	}
	return ""
}

func parseFrequency(segText string) string {
	for _, marker := range frequencyMarkers {
		if indexWord(segText, marker) >= 0 {
			return marker
		}
	}
	return ""
}

// indexWord finds term in text at word boundaries, so "aspirin" does not
// match inside "aspiring".
func indexWord(text, term string) int {
	from := 0
	for {
		idx := strings.Index(text[from:], term)
		if idx < 0 {
			return -1
		}
		idx += from
		before := idx == 0 || !isWordByte(text[idx-1])
		afterIdx := idx + len(term)
		after := afterIdx >= len(text) || !isWordByte(text[afterIdx])
		if before && after {
			return idx
		}
		from = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// lowerASCII lowercases A-Z byte-wise and leaves every other byte alone,
// so the result is always the same length as the input.
func lowerASCII(s string) string {
	lowered := []byte(s)
	changed := false
	for i, b := range lowered {
		if b >= 'A' && b <= 'Z' {
			lowered[i] = b + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(lowered)
}
