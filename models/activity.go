package models

import "time"

// Subtitle is one entry of the subtitles array in a takeout record.
// For music plays the first entry usually carries the channel/artist name.
type Subtitle struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// RawActivityRecord is a single record of an exported watch-history file.
// Untrusted input; every field may be missing or malformed.
type RawActivityRecord struct {
	Header    string     `json:"header"`
	Title     string     `json:"title"`
	TitleURL  string     `json:"titleUrl,omitempty"`
	Subtitles []Subtitle `json:"subtitles,omitempty"`
	Time      string     `json:"time"`
	Products  []string   `json:"products,omitempty"`
}

// PlayEvent is one normalized listen derived from a raw record.
// Immutable once created; lives for a single pipeline run.
type PlayEvent struct {
	Title           string    `json:"title"`
	Artist          string    `json:"artist"`
	OriginalTitle   string    `json:"originalTitle"`
	VideoID         string    `json:"videoId,omitempty"`
	PlayedAt        time.Time `json:"playedAt"`
	ParseConfidence float64   `json:"parseConfidence"`
}
