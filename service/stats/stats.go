package stats

import (
	"context"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/rewind-fm/rewind/models"
	"github.com/rewind-fm/rewind/service/duration"
	"github.com/rewind-fm/rewind/service/parser"
)

const (
	// SessionGap is the largest pause between two plays that still
	// counts as the same listening session.
	SessionGap = time.Hour

	// TopListSize caps the ranked song and artist lists.
	TopListSize = 10

	// DefaultChunkSize controls how many events are folded in between
	// cancellation checks.
	DefaultChunkSize = 1000

	minReleaseYear = 1950
)

// Aggregator folds play events and their metadata into a Statistics
// summary. It holds no per-run state; one instance serves all runs.
type Aggregator struct {
	estimator *duration.Estimator
	parser    *parser.Parser
	chunkSize int
	location  *time.Location
	now       func() time.Time
	logger    *log.Logger
	yearExprs []*regexp2.Regexp
}

func New(estimator *duration.Estimator, p *parser.Parser, location *time.Location) *Aggregator {
	if location == nil {
		location = time.UTC
	}
	return &Aggregator{
		estimator: estimator,
		parser:    p,
		chunkSize: DefaultChunkSize,
		location:  location,
		now:       time.Now,
		logger:    log.New(os.Stdout, "stats: ", log.LstdFlags|log.Lmsgprefix),
		yearExprs: []*regexp2.Regexp{
			// Annotated years first, bare four-digit runs as a last resort.
			regexp2.MustCompile(`\((?<year>19[5-9]\d|20[0-2]\d)\)`, regexp2.None),
			regexp2.MustCompile(`\[(?<year>19[5-9]\d|20[0-2]\d)\]`, regexp2.None),
			regexp2.MustCompile(`-\s*(?<year>19[5-9]\d|20[0-2]\d)\b`, regexp2.None),
			regexp2.MustCompile(`\b(?<year>19[5-9]\d|20[0-2]\d)\b`, regexp2.None),
		},
	}
}

// resolvedPlay is one event after metadata and fallbacks are applied.
type resolvedPlay struct {
	key         string
	title       string
	artist      string
	duration    int64
	thumbnail   string
	artistImage string
	year        int // 0 when unknown
	playedAt    time.Time
}

// accumulator carries the fold state of a single Aggregate run.
type accumulator struct {
	totalListens  int
	totalPlaytime int64
	firstPlay     time.Time
	lastPlay      time.Time

	songs     map[string]*models.SongAggregate
	songOrder []string

	artists     map[string]*models.ArtistAggregate
	artistOrder []string
	artistSongs map[string]map[string]bool

	daily     map[string]*models.DailyAggregate
	dayOrder  []string
	sessions  []*models.SessionRecord
	current   *models.SessionRecord
	lastStamp time.Time

	songYears map[string]*models.SongYearRef
}

// Aggregate computes the full listening summary for the given events.
// Events may arrive in any order; metadata is keyed by video id and may
// be missing for any event. The only error condition is cancellation.
func (a *Aggregator) Aggregate(ctx context.Context, events []models.PlayEvent, metadata map[string]*models.SongMetadata) (*models.Statistics, error) {
	generatedAt := a.now()
	if len(events) == 0 {
		return &models.Statistics{GeneratedAt: generatedAt}, nil
	}

	sorted := make([]models.PlayEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PlayedAt.Before(sorted[j].PlayedAt)
	})

	acc := &accumulator{
		songs:       make(map[string]*models.SongAggregate),
		artists:     make(map[string]*models.ArtistAggregate),
		artistSongs: make(map[string]map[string]bool),
		daily:       make(map[string]*models.DailyAggregate),
		songYears:   make(map[string]*models.SongYearRef),
	}

	for start := 0; start < len(sorted); start += a.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+a.chunkSize, len(sorted))
		for i := start; i < end; i++ {
			a.fold(acc, a.resolve(&sorted[i], metadata))
		}
	}
	acc.closeSession()

	return a.summarize(acc, generatedAt), nil
}

// resolve merges an event with its metadata, falling back to the
// estimator for duration and to title re-extraction for the artist.
func (a *Aggregator) resolve(event *models.PlayEvent, metadata map[string]*models.SongMetadata) resolvedPlay {
	play := resolvedPlay{
		title:    event.Title,
		artist:   event.Artist,
		playedAt: event.PlayedAt,
	}

	cleaner := a.parser.Cleaner()
	var meta *models.SongMetadata
	if event.VideoID != "" {
		meta = metadata[event.VideoID]
	}

	if meta != nil {
		if meta.Title != "" {
			play.title = meta.Title
		}
		if meta.Artist != "" && !isGeneric(cleaner, meta.Artist) {
			play.artist = meta.Artist
		}
		play.thumbnail = meta.ThumbnailURL
		play.artistImage = meta.ArtistImageURL
	}

	if isGeneric(cleaner, play.artist) {
		// The raw title still carries the takeout prefix and trailing
		// annotations; clean it before re-extraction.
		if derived, derivedTitle, _, ok := a.parser.ExtractArtistTitle(cleaner.CleanTitle(event.OriginalTitle)); ok {
			play.artist = derived
			play.title = derivedTitle
		}
	}
	if play.artist == "" {
		play.artist = parser.UnknownArtist
	}

	if meta != nil && meta.Duration > 0 {
		play.duration = meta.Duration
	} else {
		play.duration = a.estimator.Estimate(play.title, play.artist, nil).Seconds
	}

	play.year = a.releaseYear(meta, event.OriginalTitle)
	play.key = parser.SongKey(play.artist, play.title)
	return play
}

// releaseYear prefers the metadata release date and falls back to year
// markers embedded in the raw title. Implausible years are ignored.
func (a *Aggregator) releaseYear(meta *models.SongMetadata, rawTitle string) int {
	maxYear := a.now().Year() + 1

	if meta != nil && meta.ReleaseDate != nil {
		if y := meta.ReleaseDate.Year(); y >= minReleaseYear && y <= maxYear {
			return y
		}
	}

	for _, expr := range a.yearExprs {
		match, err := expr.FindStringMatch(rawTitle)
		if err != nil || match == nil {
			continue
		}
		year, err := strconv.Atoi(match.GroupByName("year").String())
		if err != nil {
			continue
		}
		if year >= minReleaseYear && year <= maxYear {
			return year
		}
	}
	return 0
}

func (a *Aggregator) fold(acc *accumulator, play resolvedPlay) {
	acc.totalListens++
	acc.totalPlaytime += play.duration
	if acc.firstPlay.IsZero() || play.playedAt.Before(acc.firstPlay) {
		acc.firstPlay = play.playedAt
	}
	if play.playedAt.After(acc.lastPlay) {
		acc.lastPlay = play.playedAt
	}

	song, ok := acc.songs[play.key]
	if !ok {
		song = &models.SongAggregate{
			Key:         play.key,
			Title:       play.title,
			Artist:      play.artist,
			FirstPlayed: play.playedAt,
		}
		acc.songs[play.key] = song
		acc.songOrder = append(acc.songOrder, play.key)
	}
	song.PlayCount++
	song.TotalDuration += play.duration
	song.LastPlayed = play.playedAt
	if song.ThumbnailURL == "" {
		song.ThumbnailURL = play.thumbnail
	}

	artistKey := strings.ToLower(play.artist)
	artist, ok := acc.artists[artistKey]
	if !ok {
		artist = &models.ArtistAggregate{
			Name:        play.artist,
			FirstPlayed: play.playedAt,
		}
		acc.artists[artistKey] = artist
		acc.artistOrder = append(acc.artistOrder, artistKey)
		acc.artistSongs[artistKey] = make(map[string]bool)
	}
	artist.PlayCount++
	artist.TotalDuration += play.duration
	artist.LastPlayed = play.playedAt
	if artist.ImageURL == "" {
		artist.ImageURL = play.artistImage
	}
	if !acc.artistSongs[artistKey][play.key] {
		acc.artistSongs[artistKey][play.key] = true
		artist.UniqueSongs++
	}

	date := play.playedAt.In(a.location).Format("2006-01-02")
	day, ok := acc.daily[date]
	if !ok {
		day = &models.DailyAggregate{Date: date}
		acc.daily[date] = day
		acc.dayOrder = append(acc.dayOrder, date)
	}
	day.PlayCount++
	day.TotalDuration += play.duration

	// Events arrive sorted, so session boundaries are a simple gap test.
	if acc.current != nil && play.playedAt.Sub(acc.lastStamp) > SessionGap {
		acc.closeSession()
	}
	if acc.current == nil {
		acc.current = &models.SessionRecord{Start: play.playedAt}
	}
	acc.current.End = play.playedAt
	acc.current.PlayCount++
	acc.current.TotalDuration += play.duration
	acc.lastStamp = play.playedAt

	if play.year > 0 {
		if _, ok := acc.songYears[play.key]; !ok {
			acc.songYears[play.key] = &models.SongYearRef{
				Key:    play.key,
				Title:  play.title,
				Artist: play.artist,
				Year:   play.year,
			}
		}
	}
}

func (acc *accumulator) closeSession() {
	if acc.current != nil {
		acc.sessions = append(acc.sessions, acc.current)
		acc.current = nil
	}
}

func (a *Aggregator) summarize(acc *accumulator, generatedAt time.Time) *models.Statistics {
	stats := &models.Statistics{
		TotalListens:  acc.totalListens,
		TotalSongs:    len(acc.songs),
		TotalArtists:  len(acc.artists),
		TotalPlaytime: acc.totalPlaytime,
		FirstPlay:     acc.firstPlay,
		LastPlay:      acc.lastPlay,
		GeneratedAt:   generatedAt,
	}

	stats.TopSongs = topSongs(acc)
	stats.TopArtists = a.topArtists(acc)
	stats.DailyBreakdown = dailyBreakdown(acc)
	stats.LongestDay = longestDay(stats.DailyBreakdown)
	stats.LongestSession = longestSession(acc.sessions)

	days := dayCount(acc.firstPlay, acc.lastPlay, a.location)
	stats.AveragePlaysPerDay = float64(acc.totalListens) / float64(days)
	stats.AveragePlaysPerMonth = stats.AveragePlaysPerDay * 30

	stats.NewArtistsThisMonth = a.newArtistsThisMonth(acc)
	stats.Era = a.eraStats(acc)

	a.logger.Printf("Aggregated %d listens into %d songs and %d artists",
		stats.TotalListens, stats.TotalSongs, stats.TotalArtists)
	return stats
}

// topSongs ranks by play count; insertion order breaks ties so the
// output is deterministic for identical input.
func topSongs(acc *accumulator) []*models.SongAggregate {
	ranked := make([]*models.SongAggregate, 0, len(acc.songOrder))
	for _, key := range acc.songOrder {
		ranked = append(ranked, acc.songs[key])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PlayCount > ranked[j].PlayCount
	})
	if len(ranked) > TopListSize {
		ranked = ranked[:TopListSize]
	}
	return ranked
}

// topArtists works like topSongs but leaves placeholder artists out of
// the ranking; they still count toward the totals.
func (a *Aggregator) topArtists(acc *accumulator) []*models.ArtistAggregate {
	cleaner := a.parser.Cleaner()
	ranked := make([]*models.ArtistAggregate, 0, len(acc.artistOrder))
	for _, key := range acc.artistOrder {
		artist := acc.artists[key]
		if isGeneric(cleaner, artist.Name) {
			continue
		}
		ranked = append(ranked, artist)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PlayCount > ranked[j].PlayCount
	})
	if len(ranked) > TopListSize {
		ranked = ranked[:TopListSize]
	}
	return ranked
}

func dailyBreakdown(acc *accumulator) []*models.DailyAggregate {
	dates := make([]string, len(acc.dayOrder))
	copy(dates, acc.dayOrder)
	sort.Strings(dates)

	breakdown := make([]*models.DailyAggregate, 0, len(dates))
	for _, date := range dates {
		breakdown = append(breakdown, acc.daily[date])
	}
	return breakdown
}

func longestDay(breakdown []*models.DailyAggregate) *models.DailyAggregate {
	var longest *models.DailyAggregate
	for _, day := range breakdown {
		if longest == nil || day.TotalDuration > longest.TotalDuration {
			longest = day
		}
	}
	return longest
}

func longestSession(sessions []*models.SessionRecord) *models.SessionRecord {
	var longest *models.SessionRecord
	for _, session := range sessions {
		if longest == nil || session.TotalDuration > longest.TotalDuration {
			longest = session
		}
	}
	return longest
}

func (a *Aggregator) newArtistsThisMonth(acc *accumulator) int {
	now := a.now().In(a.location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, a.location)

	cleaner := a.parser.Cleaner()
	count := 0
	for _, artist := range acc.artists {
		if isGeneric(cleaner, artist.Name) {
			continue
		}
		if !artist.FirstPlayed.Before(monthStart) {
			count++
		}
	}
	return count
}

// eraStats derives the "music era" block from per-song release years,
// weighted by how often each song was played.
func (a *Aggregator) eraStats(acc *accumulator) *models.EraStats {
	if len(acc.songYears) == 0 {
		return nil
	}

	var weightedSum, totalWeight float64
	decadeWeights := make(map[string]float64)
	var oldest, newest *models.SongYearRef

	for _, key := range acc.songOrder {
		ref, ok := acc.songYears[key]
		if !ok {
			continue
		}
		weight := float64(acc.songs[key].PlayCount)
		weightedSum += float64(ref.Year) * weight
		totalWeight += weight
		decadeWeights[decadeLabel(ref.Year)] += weight

		if oldest == nil || ref.Year < oldest.Year {
			oldest = ref
		}
		if newest == nil || ref.Year > newest.Year {
			newest = ref
		}
	}

	average := weightedSum / totalWeight
	percentages := make(map[string]float64, len(decadeWeights))
	for decade, weight := range decadeWeights {
		percentages[decade] = weight / totalWeight * 100
	}

	return &models.EraStats{
		ListeningAge:       float64(a.now().Year()) - average,
		AverageReleaseYear: average,
		Era:                eraLabel(average),
		DecadePercentages:  percentages,
		SongsWithYearCount: len(acc.songYears),
		OldestSong:         oldest,
		NewestSong:         newest,
	}
}

func decadeLabel(year int) string {
	return strconv.Itoa(year/10*10) + "s"
}

// eraLabel renders an average year as e.g. "mid 2010s": years 0-3 of
// the decade are early, 4-6 mid, 7-9 late.
func eraLabel(average float64) string {
	year := int(average)
	decade := year / 10 * 10

	qualifier := "late"
	switch offset := year - decade; {
	case offset <= 3:
		qualifier = "early"
	case offset <= 6:
		qualifier = "mid"
	}
	return qualifier + " " + decadeLabel(year)
}

// dayCount is the inclusive number of calendar days spanned, never
// less than one.
func dayCount(first, last time.Time, loc *time.Location) int {
	firstDay := first.In(loc)
	lastDay := last.In(loc)
	firstDate := time.Date(firstDay.Year(), firstDay.Month(), firstDay.Day(), 0, 0, 0, 0, loc)
	lastDate := time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(), 0, 0, 0, 0, loc)

	days := int(lastDate.Sub(firstDate).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

func isGeneric(cleaner *parser.Cleaner, artist string) bool {
	return artist == parser.UnknownArtist || cleaner.IsGenericArtist(artist)
}
