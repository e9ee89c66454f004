package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rewind-fm/rewind/models"
)

// DB is a wrapper around sql.DB
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err = db.Ping(); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Initialize sets up the database tables
func (db *DB) Initialize() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		email TEXT UNIQUE,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`)
	if err != nil {
		return err
	}

	// song_metadata is the durable metadata cache. Keyed by video id;
	// song_key carries the normalized "artist - title" identity.
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS song_metadata (
		video_id TEXT PRIMARY KEY,
		song_key TEXT NOT NULL,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		duration INTEGER NOT NULL,
		thumbnail_url TEXT,
		artist_image_url TEXT,
		release_date TIMESTAMP,
		estimation_method TEXT NOT NULL,
		confidence REAL NOT NULL,
		updated_at TIMESTAMP
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_song_metadata_key ON song_metadata(song_key)`)
	if err != nil {
		return err
	}

	// statistics holds one derived summary per user, replaced wholesale
	// on every pipeline run.
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS statistics (
		user_id INTEGER PRIMARY KEY,
		payload TEXT NOT NULL,
		generated_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		stage TEXT,
		progress INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`)
	if err != nil {
		return err
	}

	return nil
}

// CreateUser adds a new user to the database
func (db *DB) CreateUser(user *models.User) (int64, error) {
	now := time.Now()

	result, err := db.Exec(`
	INSERT INTO users (username, email, created_at, updated_at)
	VALUES (?, ?, ?, ?)`,
		user.Username, user.Email, now, now)

	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(userID int64) (*models.User, error) {
	user := &models.User{}

	err := db.QueryRow(`
	SELECT id, username, email, created_at, updated_at
	FROM users WHERE id = ?`, userID).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// metadataReadChunk keeps each IN clause well under SQLite's host
// parameter limit.
const metadataReadChunk = 500

// GetMetadataByVideoIDs performs a batched read of the metadata cache,
// chunking the id list into bounded IN clauses. Ids absent from the
// cache are simply missing from the returned map.
func (db *DB) GetMetadataByVideoIDs(videoIDs []string) (map[string]*models.SongMetadata, error) {
	result := make(map[string]*models.SongMetadata, len(videoIDs))

	for start := 0; start < len(videoIDs); start += metadataReadChunk {
		end := min(start+metadataReadChunk, len(videoIDs))
		if err := db.readMetadataChunk(videoIDs[start:end], result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (db *DB) readMetadataChunk(videoIDs []string, result map[string]*models.SongMetadata) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(videoIDs)), ",")
	args := make([]any, len(videoIDs))
	for i, id := range videoIDs {
		args[i] = id
	}

	rows, err := db.Query(fmt.Sprintf(`
	SELECT video_id, song_key, title, artist, duration, thumbnail_url, artist_image_url,
	       release_date, estimation_method, confidence
	FROM song_metadata
	WHERE video_id IN (%s)`, placeholders), args...)

	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		meta := &models.SongMetadata{}
		var thumbnail, artistImage sql.NullString
		var releaseDate sql.NullTime

		err := rows.Scan(
			&meta.VideoID,
			&meta.Key,
			&meta.Title,
			&meta.Artist,
			&meta.Duration,
			&thumbnail,
			&artistImage,
			&releaseDate,
			&meta.EstimationMethod,
			&meta.Confidence,
		)
		if err != nil {
			return err
		}

		meta.ThumbnailURL = thumbnail.String
		meta.ArtistImageURL = artistImage.String
		if releaseDate.Valid {
			t := releaseDate.Time
			meta.ReleaseDate = &t
		}

		result[meta.VideoID] = meta
	}

	return rows.Err()
}

// UpsertMetadata writes one metadata entry, replacing any prior row for
// the same video id. Idempotent; safe under at-least-once execution.
func (db *DB) UpsertMetadata(meta *models.SongMetadata) error {
	now := time.Now()

	var releaseDate any
	if meta.ReleaseDate != nil {
		releaseDate = *meta.ReleaseDate
	}

	_, err := db.Exec(`
	INSERT INTO song_metadata (video_id, song_key, title, artist, duration, thumbnail_url,
	                           artist_image_url, release_date, estimation_method, confidence, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(video_id) DO UPDATE SET
		song_key = excluded.song_key,
		title = excluded.title,
		artist = excluded.artist,
		duration = excluded.duration,
		thumbnail_url = excluded.thumbnail_url,
		artist_image_url = excluded.artist_image_url,
		release_date = excluded.release_date,
		estimation_method = excluded.estimation_method,
		confidence = excluded.confidence,
		updated_at = excluded.updated_at`,
		meta.VideoID, meta.Key, meta.Title, meta.Artist, meta.Duration,
		meta.ThumbnailURL, meta.ArtistImageURL, releaseDate,
		meta.EstimationMethod, meta.Confidence, now)

	return err
}

// SaveStatistics replaces the user's derived summary wholesale.
func (db *DB) SaveStatistics(userID int64, stats *models.Statistics) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode statistics: %w", err)
	}

	_, err = db.Exec(`
	INSERT INTO statistics (user_id, payload, generated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		payload = excluded.payload,
		generated_at = excluded.generated_at`,
		userID, string(payload), stats.GeneratedAt)

	return err
}

// GetStatistics retrieves the user's latest summary, or (nil, nil) if
// no pipeline has completed yet.
func (db *DB) GetStatistics(userID int64) (*models.Statistics, error) {
	var payload string

	err := db.QueryRow(`
	SELECT payload FROM statistics WHERE user_id = ?`, userID).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	stats := &models.Statistics{}
	if err := json.Unmarshal([]byte(payload), stats); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}

	return stats, nil
}

// DeleteStatistics invalidates the user's derived summary before a
// re-run so stale results cannot coexist with the new upload.
func (db *DB) DeleteStatistics(userID int64) error {
	_, err := db.Exec(`DELETE FROM statistics WHERE user_id = ?`, userID)
	return err
}
