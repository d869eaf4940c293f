package plate

import (
	"strings"

	"anpr-recorder/internal/domain/anpr"
	"anpr-recorder/internal/utils"
)

const (
	ocrWeight  = 0.7
	matchBonus = 0.3
)

// Result is the engine's verdict for one frame's worth of OCR candidates.
type Result struct {
	Text           string
	Confidence     float64
	PatternMatched bool
	Pattern        string
	Corrected      bool
}

// Engine selects, corrects and validates plate text from raw OCR candidates.
type Engine struct {
	rules  Rules
	region string
}

// NewEngine builds an engine from a rule set and an optional region hint
// restricting which patterns are considered.
func NewEngine(rules Rules, region string) *Engine {
	return &Engine{rules: rules, region: region}
}

// Score runs the full pipeline: blacklist filtering, weighted ranking,
// confusion-map correction and pattern validation. When no candidate
// survives filtering it returns an empty text with confidence 0; event
// disposition is left to the aggregation stage.
func (e *Engine) Score(candidates []anpr.RawTextCandidate, plateBox anpr.BoundingBox) Result {
	best, ok := e.selectCandidate(candidates, plateBox)
	if !ok {
		return Result{}
	}

	text := utils.NormalizePlate(best.Text)
	corrected, pattern, matched := e.correct(text)

	res := Result{
		Text:           corrected,
		PatternMatched: matched,
		Corrected:      corrected != text,
	}
	if matched {
		res.Pattern = pattern.Name
	}
	res.Confidence = best.Confidence * ocrWeight
	if matched {
		res.Confidence += matchBonus
	}
	return res
}

func (e *Engine) selectCandidate(candidates []anpr.RawTextCandidate, plateBox anpr.BoundingBox) (anpr.RawTextCandidate, bool) {
	var (
		best      anpr.RawTextCandidate
		bestScore = -1.0
		found     bool
	)
	for _, c := range candidates {
		if e.blacklisted(c.Text) {
			continue
		}
		score := e.scoreCandidate(c, plateBox)
		// Ties go to the longer string.
		if score > bestScore || (score == bestScore && len(c.Text) > len(best.Text)) {
			best, bestScore, found = c, score, true
		}
	}
	return best, found
}

func (e *Engine) blacklisted(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, token := range e.rules.Blacklist {
		if strings.Contains(upper, token) {
			return true
		}
	}
	return false
}

func (e *Engine) scoreCandidate(c anpr.RawTextCandidate, plateBox anpr.BoundingBox) float64 {
	w := e.rules.Weights
	score := w.OCRConfidence * clamp01(c.Confidence)
	score += w.BoxArea * areaRatio(c.Box, plateBox)
	score += w.Centrality * centrality(c.Box, plateBox)

	n := len(utils.NormalizePlate(c.Text))
	if n >= e.rules.MinLength && n <= e.rules.MaxLength {
		score += w.Length
	}
	return score
}

// areaRatio is the candidate box area relative to the detector's plate
// region, clamped to [0,1].
func areaRatio(c, plate anpr.BoundingBox) float64 {
	pa := plate.Area()
	if pa <= 0 {
		return 0
	}
	return clamp01(float64(c.Area()) / float64(pa))
}

// centrality is 1 when the candidate is horizontally centered in the plate
// region and falls off linearly toward the edges.
func centrality(c, plate anpr.BoundingBox) float64 {
	if plate.Width <= 0 {
		return 0
	}
	offset := c.CenterX() - plate.CenterX()
	if offset < 0 {
		offset = -offset
	}
	return clamp01(1 - offset/(float64(plate.Width)/2))
}

// correct applies the confusion map position-by-position against each
// candidate pattern of matching length. A substitution is made only where
// the pattern expects the other character class and the confusion map has
// an entry for the recognized character; corrections are never invented
// without that pattern signal.
func (e *Engine) correct(text string) (string, Pattern, bool) {
	patterns := e.rules.patternsFor(e.region)

	// An uncorrected exact match wins over any corrected one.
	for _, p := range patterns {
		if matchesLayout(text, p.Layout) {
			return text, p, true
		}
	}

	for _, p := range patterns {
		if p.length() != len(text) {
			continue
		}
		fixed, ok := e.applyConfusions(text, p.Layout)
		if ok {
			return fixed, p, true
		}
	}
	return text, Pattern{}, false
}

func (e *Engine) applyConfusions(text, layout string) (string, bool) {
	b := []byte(text)
	for i := 0; i < len(b); i++ {
		if matchesClass(layout[i], b[i]) {
			continue
		}
		switch layout[i] {
		case 'D':
			d, ok := e.rules.toDigit[b[i]]
			if !ok {
				return "", false
			}
			b[i] = d
		case 'L':
			l, ok := e.rules.toLetter[b[i]]
			if !ok {
				return "", false
			}
			b[i] = l
		default:
			return "", false
		}
	}
	return string(b), true
}

func matchesLayout(text, layout string) bool {
	if len(text) != len(layout) {
		return false
	}
	for i := 0; i < len(text); i++ {
		if !matchesClass(layout[i], text[i]) {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
