package models

import "time"

// SongAggregate accumulates plays for one normalized song key during a
// single aggregation pass.
type SongAggregate struct {
	Key           string    `json:"key"`
	Title         string    `json:"title"`
	Artist        string    `json:"artist"`
	PlayCount     int       `json:"playCount"`
	TotalDuration int64     `json:"totalDuration"`
	FirstPlayed   time.Time `json:"firstPlayed"`
	LastPlayed    time.Time `json:"lastPlayed"`
	ThumbnailURL  string    `json:"thumbnailUrl,omitempty"`
}

// ArtistAggregate accumulates plays for one artist (lowercase name key).
type ArtistAggregate struct {
	Name          string    `json:"name"`
	PlayCount     int       `json:"playCount"`
	TotalDuration int64     `json:"totalDuration"`
	UniqueSongs   int       `json:"uniqueSongs"`
	FirstPlayed   time.Time `json:"firstPlayed"`
	LastPlayed    time.Time `json:"lastPlayed"`
	ImageURL      string    `json:"imageUrl,omitempty"`
}

// DailyAggregate is one calendar day's worth of listening.
type DailyAggregate struct {
	Date          string `json:"date"` // YYYY-MM-DD in the reference timezone
	PlayCount     int    `json:"playCount"`
	TotalDuration int64  `json:"totalDuration"`
}

// SessionRecord describes one maximal run of plays with gaps <= 1 hour.
type SessionRecord struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	PlayCount     int       `json:"playCount"`
	TotalDuration int64     `json:"totalDuration"`
}

// SongYearRef ties a release year to the song it came from.
type SongYearRef struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Year   int    `json:"year"`
}

// EraStats is the "music era" block of the summary.
type EraStats struct {
	ListeningAge       float64            `json:"listeningAge"`
	AverageReleaseYear float64            `json:"averageReleaseYear"`
	Era                string             `json:"era"` // e.g. "mid 2010s"
	DecadePercentages  map[string]float64 `json:"decadePercentages"`
	SongsWithYearCount int                `json:"songsWithYearCount"`
	OldestSong         *SongYearRef       `json:"oldestSong,omitempty"`
	NewestSong         *SongYearRef       `json:"newestSong,omitempty"`
}

// Statistics is the immutable output of one aggregation run.
type Statistics struct {
	TotalListens         int                `json:"totalListens"`
	TotalSongs           int                `json:"totalSongs"`
	TotalArtists         int                `json:"totalArtists"`
	TotalPlaytime        int64              `json:"totalPlaytime"` // seconds
	FirstPlay            time.Time          `json:"firstPlay"`
	LastPlay             time.Time          `json:"lastPlay"`
	TopSongs             []*SongAggregate   `json:"topSongs"`
	TopArtists           []*ArtistAggregate `json:"topArtists"`
	DailyBreakdown       []*DailyAggregate  `json:"dailyBreakdown"`
	AveragePlaysPerDay   float64            `json:"averagePlaysPerDay"`
	AveragePlaysPerMonth float64            `json:"averagePlaysPerMonth"`
	LongestSession       *SessionRecord     `json:"longestSession,omitempty"`
	LongestDay           *DailyAggregate    `json:"longestDay,omitempty"`
	NewArtistsThisMonth  int                `json:"newArtistsThisMonth"`
	Era                  *EraStats          `json:"era,omitempty"`
	GeneratedAt          time.Time          `json:"generatedAt"`
}
