package duration

import (
	"strings"

	"github.com/rewind-fm/rewind/models"
)

// GlobalAverageSeconds is the last-resort duration estimate.
const GlobalAverageSeconds = 210

// Estimate is a best-effort duration with its provenance.
type Estimate struct {
	Seconds    int64
	Method     string
	Confidence float64
}

// titlePattern maps a substring trigger to a duration guess. Patterns
// are evaluated in order; the first hit wins, so more specific
// triggers come before the generic ones they contain.
type titlePattern struct {
	trigger    string
	seconds    int64
	confidence float64
	wholeWord  bool
}

var titlePatterns = []titlePattern{
	{trigger: "extended mix", seconds: 390, confidence: 0.8},
	{trigger: "extended", seconds: 390, confidence: 0.8},
	{trigger: "radio edit", seconds: 195, confidence: 0.9},
	{trigger: "club mix", seconds: 345, confidence: 0.85},
	{trigger: "club remix", seconds: 345, confidence: 0.85},
	{trigger: "remix", seconds: 270, confidence: 0.75},
	{trigger: "interlude", seconds: 120, confidence: 0.85},
	{trigger: "intro", seconds: 90, confidence: 0.85},
	{trigger: "outro", seconds: 120, confidence: 0.85},
	{trigger: "instrumental", seconds: 210, confidence: 0.75},
	{trigger: "acoustic", seconds: 200, confidence: 0.75},
	{trigger: "demo", seconds: 180, confidence: 0.7},
	// "live" needs a word boundary so "olive", "alive" and "delivery"
	// don't trigger it.
	{trigger: "live", seconds: 285, confidence: 0.7, wholeWord: true},
}

var genreAverages = map[string]int64{
	"pop":         195,
	"hip-hop":     225,
	"hip hop":     225,
	"rap":         225,
	"rock":        240,
	"electronic":  270,
	"dance":       270,
	"classical":   480,
	"country":     215,
	"jazz":        300,
	"reggae":      230,
	"folk":        220,
	"alternative": 230,
	"indie":       230,
	"r&b":         205,
	"soul":        205,
	"punk":        150,
	"metal":       280,
	"blues":       260,
	"latin":       220,
}

// Estimator supplies a duration guess when no authoritative value is
// available. Purely computational: identical inputs always yield the
// identical estimate.
type Estimator struct{}

func New() *Estimator {
	return &Estimator{}
}

// Estimate runs the tiered fallback: title patterns, then genre
// averages, then the global average.
func (e *Estimator) Estimate(title, artist string, genreHints []string) Estimate {
	if est, ok := e.fromTitle(title); ok {
		return est
	}
	if est, ok := e.fromGenre(genreHints); ok {
		return est
	}
	return Estimate{
		Seconds:    GlobalAverageSeconds,
		Method:     models.EstimationGlobalAverage,
		Confidence: 0.4,
	}
}

func (e *Estimator) fromTitle(title string) (Estimate, bool) {
	lower := strings.ToLower(title)

	for _, pattern := range titlePatterns {
		if pattern.wholeWord {
			if !containsWord(lower, pattern.trigger) {
				continue
			}
		} else if !strings.Contains(lower, pattern.trigger) {
			continue
		}

		return Estimate{
			Seconds:    pattern.seconds,
			Method:     models.EstimationTitlePattern,
			Confidence: pattern.confidence,
		}, true
	}

	return Estimate{}, false
}

func (e *Estimator) fromGenre(genreHints []string) (Estimate, bool) {
	if len(genreHints) == 0 {
		return Estimate{}, false
	}

	genre := strings.ToLower(strings.TrimSpace(genreHints[0]))
	seconds, ok := genreAverages[genre]
	confidence := 0.6
	if !ok {
		seconds = GlobalAverageSeconds
		confidence = 0.5
	}

	return Estimate{
		Seconds:    seconds,
		Method:     models.EstimationGenreDefault,
		Confidence: confidence,
	}, true
}

// containsWord reports whether word appears in text delimited by
// non-letter characters on both sides.
func containsWord(text, word string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)

		beforeOK := start == 0 || !isLetter(text[start-1])
		afterOK := end == len(text) || !isLetter(text[end])
		if beforeOK && afterOK {
			return true
		}

		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
