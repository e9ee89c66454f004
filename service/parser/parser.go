package parser

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"github.com/rewind-fm/rewind/models"
)

// Header value marking a record as a music-service play.
const musicHeader = "YouTube Music"

const (
	minTitleLength = 3
	maxTitleLength = 200

	subtitleConfidence = 0.95
	unknownConfidence  = 0.2

	// UnknownArtist is emitted when no extraction strategy matches.
	UnknownArtist = "Unknown Artist"

	// DefaultMaxErrors caps collected per-record errors before the
	// parse aborts early with partial results.
	DefaultMaxErrors = 100
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
}

// strategy is one pure artist/title extraction heuristic. Strategies
// are evaluated in fixed priority order; the first one that yields a
// plausible artist wins.
type strategy struct {
	name       string
	expr       *regexp2.Regexp
	confidence float64
}

// Result is the outcome of parsing one exported activity payload.
type Result struct {
	Events    []models.PlayEvent
	TotalSeen int
	MusicSeen int
	Errors    []string
}

// Parser turns raw activity records into normalized play events.
type Parser struct {
	cleaner    *Cleaner
	strategies []strategy
	videoIDs   []*regexp2.Regexp
	maxErrors  int
	logger     *log.Logger
}

func New() *Parser {
	return NewWithMaxErrors(DefaultMaxErrors)
}

func NewWithMaxErrors(maxErrors int) *Parser {
	strategies := []strategy{
		{name: "dash", expr: regexp2.MustCompile(`^(?<artist>.+?)\s+-\s+(?<title>.+)$`, 0), confidence: 0.7},
		{name: "middledot", expr: regexp2.MustCompile(`^(?<artist>.+?)\s*·\s*(?<title>.+)$`, 0), confidence: 0.7},
		{name: "by", expr: regexp2.MustCompile(`(?i)^(?<title>.+?)\s+by\s+(?<artist>.+)$`, 0), confidence: 0.6},
		{name: "colon", expr: regexp2.MustCompile(`^(?<artist>.+?):\s+(?<title>.+)$`, 0), confidence: 0.5},
		{name: "reversed-dash", expr: regexp2.MustCompile(`^(?<title>.+?)\s+-\s+(?<artist>.+)$`, 0), confidence: 0.4},
	}

	videoIDPatterns := []string{
		`[?&]v=(?<id>[A-Za-z0-9_-]{11})`,
		`youtu\.be/(?<id>[A-Za-z0-9_-]{11})`,
		`/embed/(?<id>[A-Za-z0-9_-]{11})`,
	}

	compiledIDs := make([]*regexp2.Regexp, 0, len(videoIDPatterns))
	for _, pattern := range videoIDPatterns {
		compiledIDs = append(compiledIDs, regexp2.MustCompile(pattern, 0))
	}

	return &Parser{
		cleaner:    NewCleaner(),
		strategies: strategies,
		videoIDs:   compiledIDs,
		maxErrors:  maxErrors,
		logger:     log.New(os.Stdout, "parser: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// Cleaner exposes the parser's cleanup rules so the resolver and the
// aggregator apply the same normalization.
func (p *Parser) Cleaner() *Cleaner {
	return p.cleaner
}

// ParsePayload decodes the exported JSON payload and parses it. A
// payload whose top level is not an array of records is a terminal
// failure with zero events.
func (p *Parser) ParsePayload(data []byte) (*Result, error) {
	var records []models.RawActivityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("payload is not a valid export: %w", err)
	}
	return p.Parse(records), nil
}

// Parse runs every record through qualification, cleanup and
// extraction. Non-qualifying records are skipped silently; records
// with unparsable timestamps are dropped and counted as errors, up to
// the error cap.
func (p *Parser) Parse(records []models.RawActivityRecord) *Result {
	result := &Result{TotalSeen: len(records)}

	for i, record := range records {
		if !p.qualifies(&record) {
			continue
		}
		result.MusicSeen++

		playedAt, err := parseTimestamp(record.Time)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i, err))
			if len(result.Errors) >= p.maxErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("aborted after %d record errors", p.maxErrors))
				p.logger.Printf("Aborting parse early: %d record errors reached", p.maxErrors)
				return result
			}
			continue
		}

		event := p.extractEvent(&record)
		event.PlayedAt = playedAt
		result.Events = append(result.Events, event)
	}

	return result
}

// qualifies applies the record filter: music header, usable title and
// time, no exclusion phrases, sane title length.
func (p *Parser) qualifies(record *models.RawActivityRecord) bool {
	if record.Title == "" || record.Time == "" {
		return false
	}
	if record.Header != musicHeader {
		return false
	}

	lower := strings.ToLower(record.Title)
	if strings.Contains(lower, "video that has been removed") ||
		strings.Contains(lower, "private video") {
		return false
	}
	if lower == "watched a video" {
		return false
	}
	if strings.HasPrefix(lower, "visited ") || strings.HasPrefix(lower, "searched for ") {
		return false
	}

	length := utf8.RuneCountInString(p.cleaner.CleanTitle(record.Title))
	return length >= minTitleLength && length <= maxTitleLength
}

// extractEvent derives artist and song title for one qualifying record.
func (p *Parser) extractEvent(record *models.RawActivityRecord) models.PlayEvent {
	cleanedTitle := p.cleaner.CleanTitle(record.Title)

	event := models.PlayEvent{
		OriginalTitle: record.Title,
		VideoID:       p.extractVideoID(record.TitleURL),
	}

	// A subtitle channel name is the most authoritative artist source.
	if len(record.Subtitles) > 0 && strings.TrimSpace(record.Subtitles[0].Name) != "" {
		artist := p.cleaner.CleanArtist(record.Subtitles[0].Name)
		event.Artist = artist
		event.Title = p.cleaner.CleanSongTitle(p.stripArtistPrefix(cleanedTitle, artist))
		event.ParseConfidence = subtitleConfidence
		return event
	}

	if artist, title, confidence, ok := p.ExtractArtistTitle(cleanedTitle); ok {
		event.Artist = artist
		event.Title = title
		event.ParseConfidence = confidence
		return event
	}

	event.Artist = UnknownArtist
	event.Title = p.cleaner.CleanSongTitle(cleanedTitle)
	event.ParseConfidence = unknownConfidence
	return event
}

// stripArtistPrefix removes a leading "artist - " or "artist · "
// prefix from the title when the known artist matches. When it does
// not, the dash and by strategies are tried so a differently spelled
// artist prefix still gets separated from the song title.
func (p *Parser) stripArtistPrefix(title, artist string) string {
	lowerTitle := strings.ToLower(title)
	lowerArtist := strings.ToLower(artist)

	for _, sep := range []string{" - ", " · "} {
		prefix := lowerArtist + sep
		if strings.HasPrefix(lowerTitle, prefix) {
			return strings.TrimSpace(title[len(prefix):])
		}
	}

	for _, name := range []string{"dash", "by"} {
		if _, songTitle, _, ok := p.applyStrategy(name, title); ok {
			return songTitle
		}
	}

	return title
}

// ExtractArtistTitle runs the ordered strategy cascade over a cleaned
// title. The forward strategies decline implausible artists (generic
// labels, overlong fragments), which is what lets the reversed-dash
// strategy fire last on titles shaped like "Song - Artist".
func (p *Parser) ExtractArtistTitle(title string) (artist, song string, confidence float64, ok bool) {
	for _, s := range p.strategies {
		if a, t, c, matched := p.applyStrategy(s.name, title); matched {
			return a, t, c, true
		}
	}
	return "", "", 0, false
}

func (p *Parser) applyStrategy(name, title string) (artist, song string, confidence float64, ok bool) {
	for _, s := range p.strategies {
		if s.name != name {
			continue
		}

		match, _ := s.expr.FindStringMatch(title)
		if match == nil {
			return "", "", 0, false
		}

		rawArtist := strings.TrimSpace(match.GroupByName("artist").String())
		rawTitle := strings.TrimSpace(match.GroupByName("title").String())

		artist = p.cleaner.CleanArtist(rawArtist)
		song = p.cleaner.CleanSongTitle(rawTitle)

		if !p.plausibleArtist(artist, s.name) || song == "" {
			return "", "", 0, false
		}

		return artist, song, s.confidence, true
	}
	return "", "", 0, false
}

// plausibleArtist rejects candidates that are clearly not artist
// names. The last-resort reversed-dash strategy accepts generic-looking
// names since nothing better will follow it.
func (p *Parser) plausibleArtist(artist, strategyName string) bool {
	if artist == "" {
		return false
	}
	if utf8.RuneCountInString(artist) > 50 {
		return false
	}
	if strategyName == "reversed-dash" {
		return true
	}
	return !p.cleaner.IsGenericArtist(artist)
}

// extractVideoID pulls the external video identifier out of a titleUrl.
// Absence is not an error.
func (p *Parser) extractVideoID(titleURL string) string {
	if titleURL == "" {
		return ""
	}
	for _, expr := range p.videoIDs {
		match, _ := expr.FindStringMatch(titleURL)
		if match != nil {
			return match.GroupByName("id").String()
		}
	}
	return ""
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", value)
}
