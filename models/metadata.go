package models

import "time"

// How a song's duration/metadata was obtained, from most to least
// authoritative.
const (
	EstimationExternalAPI   = "external-api"
	EstimationTitlePattern  = "title-pattern"
	EstimationGenreDefault  = "genre-default"
	EstimationGlobalAverage = "global-average"
)

// SongMetadata is the enriched view of one track, keyed by the
// normalized "artist - title" string and by the external video id.
// Owned durably by the metadata cache; never deleted by the pipeline.
type SongMetadata struct {
	Key              string     `json:"key"`
	VideoID          string     `json:"videoId"`
	Title            string     `json:"title"`
	Artist           string     `json:"artist"`
	Duration         int64      `json:"duration"` // seconds, > 0
	ThumbnailURL     string     `json:"thumbnailUrl,omitempty"`
	ArtistImageURL   string     `json:"artistImageUrl,omitempty"`
	ReleaseDate      *time.Time `json:"releaseDate,omitempty"`
	EstimationMethod string     `json:"estimationMethod"`
	Confidence       float64    `json:"confidence"`
}
