package parser

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// Channel/publisher labels that are not real performing-artist names.
// Checked after artist cleanup, lowercase.
var genericArtistNames = map[string]struct{}{
	"":                {},
	"release":         {},
	"releases":        {},
	"various artists": {},
	"vevo":            {},
	"topic":           {},
	"official":        {},
	"records":         {},
	"label":           {},
	"music":           {},
	"audio library":   {},
}

// Cleaner normalizes raw titles and channel names before extraction.
// All cleanup methods are idempotent: re-cleaning clean text is a no-op.
type Cleaner struct {
	watchedPrefix  *regexp2.Regexp
	trailingGuff   []*regexp2.Regexp
	featClause     *regexp2.Regexp
	remixMarker    *regexp2.Regexp
	artistSuffixes []*regexp2.Regexp
	whitespaceExpr *regexp2.Regexp
}

func NewCleaner() *Cleaner {
	trailingPatterns := []string{
		// bracketed official video/audio/lyric annotations
		`\s*[\(\[](?:official\s+)?(?:music\s+)?video[\)\]]$`,
		`\s*[\(\[]official\s+(?:video|audio|visualizer|lyric\s+video)[\)\]]$`,
		`\s*[\(\[](?:full\s+)?(?:audio|lyrics?|lyric\s+video|visualizer)[\)\]]$`,
		`\s*[\(\[](?:hd|hq|4k|full\s+hd|1080p|720p)[\)\]]$`,
		// trailing four-digit year in parentheses
		`\s*\((?:19|20)\d{2}\)$`,
		// bare trailing quality markers
		`\s+(?:hd|hq|4k)$`,
	}

	artistSuffixPatterns := []string{
		`\s*-\s*topic$`,
		`\s+official$`,
		`\s+vevo$`,
		`\s+records$`,
	}

	compiledTrailing := make([]*regexp2.Regexp, 0, len(trailingPatterns))
	for _, pattern := range trailingPatterns {
		compiledTrailing = append(compiledTrailing, regexp2.MustCompile(`(?i)`+pattern, 0))
	}

	compiledSuffixes := make([]*regexp2.Regexp, 0, len(artistSuffixPatterns))
	for _, pattern := range artistSuffixPatterns {
		compiledSuffixes = append(compiledSuffixes, regexp2.MustCompile(`(?i)`+pattern, 0))
	}

	return &Cleaner{
		watchedPrefix:  regexp2.MustCompile(`(?i)^watched\s+`, 0),
		trailingGuff:   compiledTrailing,
		featClause:     regexp2.MustCompile(`(?i)\s*[\(\[]?\b(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]?\s*$`, 0),
		remixMarker:    regexp2.MustCompile(`(?i)\s*[\(\[]remix[\)\]]$`, 0),
		artistSuffixes: compiledSuffixes,
		whitespaceExpr: regexp2.MustCompile(`\s{2,}`, 0),
	}
}

// CleanTitle strips the takeout "Watched " prefix and trailing
// annotations (official video/audio, lyric video, quality markers,
// a parenthesized year), then collapses whitespace.
func (c *Cleaner) CleanTitle(text string) string {
	text = strings.TrimSpace(text)

	if out, err := c.watchedPrefix.Replace(text, "", -1, 1); err == nil {
		text = out
	}

	// Annotations can stack ("Song (Official Video) HD"), so strip
	// until no expression matches anymore.
	for {
		before := text
		for _, expr := range c.trailingGuff {
			if out, err := expr.Replace(text, "", -1, 1); err == nil {
				text = out
			}
		}
		text = strings.TrimSpace(text)
		if text == before {
			break
		}
	}

	return c.collapseWhitespace(text)
}

// CleanSongTitle applies CleanTitle plus song-specific cleanup:
// trailing featuring clauses and a trailing remix marker.
func (c *Cleaner) CleanSongTitle(text string) string {
	text = c.CleanTitle(text)

	if out, err := c.featClause.Replace(text, "", -1, 1); err == nil {
		text = out
	}
	if out, err := c.remixMarker.Replace(text, "", -1, 1); err == nil {
		text = out
	}

	return c.collapseWhitespace(strings.TrimSpace(text))
}

// CleanArtist strips trailing channel decorations ("- Topic",
// "Official", "VEVO", "Records") from a channel name.
func (c *Cleaner) CleanArtist(text string) string {
	text = strings.TrimSpace(text)

	for {
		before := text
		for _, expr := range c.artistSuffixes {
			if out, err := expr.Replace(text, "", -1, 1); err == nil {
				text = out
			}
		}
		text = strings.TrimSpace(text)
		if text == before {
			break
		}
	}

	return c.collapseWhitespace(text)
}

// IsGenericArtist reports whether a cleaned artist name is a
// publisher/aggregator label rather than a performing artist.
func (c *Cleaner) IsGenericArtist(name string) bool {
	_, generic := genericArtistNames[strings.ToLower(strings.TrimSpace(name))]
	return generic
}

func (c *Cleaner) collapseWhitespace(text string) string {
	if out, err := c.whitespaceExpr.Replace(text, " ", -1, -1); err == nil {
		return out
	}
	return text
}

// SongKey builds the normalized "artist - title" identity used by the
// metadata cache and the aggregator.
func SongKey(artist, title string) string {
	return strings.ToLower(strings.TrimSpace(artist)) + " - " + strings.ToLower(strings.TrimSpace(title))
}
