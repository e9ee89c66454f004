package resolver

import (
	"context"
	"errors"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rewind-fm/rewind/models"
	"github.com/rewind-fm/rewind/service/parser"
	"github.com/rewind-fm/rewind/service/youtube"
)

// ExternalAPIConfidence is attached to metadata fetched from the
// provider, the most authoritative source.
const ExternalAPIConfidence = 0.95

// MetadataCache is the durable key-value collaborator. Reads are
// batched; upserts are idempotent by video id.
type MetadataCache interface {
	GetMetadataByVideoIDs(videoIDs []string) (map[string]*models.SongMetadata, error)
	UpsertMetadata(meta *models.SongMetadata) error
}

// Provider is the external metadata service, batched by id.
type Provider interface {
	ListVideos(ctx context.Context, videoIDs []string) ([]youtube.Video, error)
	ListChannelThumbnails(ctx context.Context, channelIDs []string) (map[string]string, error)
}

// Stats describes one resolution run. The identity
// Requested == Cached + Fetched + NotFound always holds.
type Stats struct {
	Requested int `json:"requested"`
	Cached    int `json:"cached"`
	Fetched   int `json:"fetched"`
	NotFound  int `json:"notFound"`
}

// Resolver enriches video ids with song metadata, consulting the
// cache before calling the provider.
type Resolver struct {
	cache      MetadataCache
	provider   Provider
	parser     *parser.Parser
	batchSize  int
	batchDelay time.Duration
	logger     *log.Logger
}

func New(cache MetadataCache, provider Provider, p *parser.Parser) *Resolver {
	return &Resolver{
		cache:      cache,
		provider:   provider,
		parser:     p,
		batchSize:  youtube.MaxBatchSize,
		batchDelay: 200 * time.Millisecond,
		logger:     log.New(os.Stdout, "resolver: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetBatching overrides the provider batch size and inter-batch
// delay. Sizes beyond the provider's per-request limit are ignored.
func (r *Resolver) SetBatching(size int, delay time.Duration) {
	if size > 0 && size <= youtube.MaxBatchSize {
		r.batchSize = size
	}
	if delay >= 0 {
		r.batchDelay = delay
	}
}

// Resolve looks up metadata for the given video ids. Ids that neither
// the cache nor the provider know are counted as NotFound and omitted
// from the result. Provider failures degrade the result instead of
// failing the run; only a cache read failure is a hard error.
func (r *Resolver) Resolve(ctx context.Context, videoIDs []string) (map[string]*models.SongMetadata, Stats, error) {
	ids := dedupe(videoIDs)
	stats := Stats{Requested: len(ids)}

	cached, err := r.cache.GetMetadataByVideoIDs(ids)
	if err != nil {
		return nil, stats, err
	}

	// Entries without a thumbnail predate image support and are
	// re-fetched alongside the outright misses.
	var toFetch []string
	for _, id := range ids {
		meta, ok := cached[id]
		if !ok || meta.ThumbnailURL == "" {
			toFetch = append(toFetch, id)
		}
	}

	fetched, videoChannels := r.fetchBatches(ctx, toFetch)
	r.attachChannelImages(ctx, fetched, videoChannels)

	for _, meta := range fetched {
		// A failed upsert only costs a future cache hit.
		if err := r.cache.UpsertMetadata(meta); err != nil {
			r.logger.Printf("Failed to cache metadata for %s: %v", meta.VideoID, err)
		}
	}

	result := make(map[string]*models.SongMetadata, len(ids))
	for _, id := range ids {
		if meta, ok := fetched[id]; ok {
			result[id] = meta
			stats.Fetched++
			continue
		}
		if meta, ok := cached[id]; ok {
			result[id] = meta
			stats.Cached++
			continue
		}
		stats.NotFound++
	}

	r.logger.Printf("Resolved %d ids: %d cached, %d fetched, %d not found",
		stats.Requested, stats.Cached, stats.Fetched, stats.NotFound)

	return result, stats, nil
}

// fetchBatches calls the provider in id batches, returning normalized
// metadata plus the video→channel mapping needed for the image pass.
// A failed batch is logged and skipped; quota exhaustion stops all
// further batches for this run.
func (r *Resolver) fetchBatches(ctx context.Context, videoIDs []string) (map[string]*models.SongMetadata, map[string]string) {
	fetched := make(map[string]*models.SongMetadata)
	videoChannels := make(map[string]string)

	for start := 0; start < len(videoIDs); start += r.batchSize {
		if start > 0 {
			select {
			case <-time.After(r.batchDelay):
			case <-ctx.Done():
				return fetched, videoChannels
			}
		}

		end := min(start+r.batchSize, len(videoIDs))
		videos, err := r.provider.ListVideos(ctx, videoIDs[start:end])
		if err != nil {
			if errors.Is(err, youtube.ErrQuotaExceeded) {
				r.logger.Printf("Provider quota exhausted, stopping after %d of %d ids", start, len(videoIDs))
				return fetched, videoChannels
			}
			r.logger.Printf("Batch %d-%d failed, skipping: %v", start, end, err)
			continue
		}

		for _, video := range videos {
			fetched[video.ID] = r.metadataFromVideo(&video)
			if video.Snippet.ChannelID != "" {
				videoChannels[video.ID] = video.Snippet.ChannelID
			}
		}
	}

	return fetched, videoChannels
}

// metadataFromVideo normalizes one provider item: parsed duration,
// cleaned (and if necessary re-derived) artist, best thumbnail.
func (r *Resolver) metadataFromVideo(video *youtube.Video) *models.SongMetadata {
	cleaner := r.parser.Cleaner()
	cleanedTitle := cleaner.CleanTitle(video.Snippet.Title)

	artist := cleaner.CleanArtist(video.Snippet.ChannelTitle)
	title := cleaner.CleanSongTitle(cleanedTitle)

	if cleaner.IsGenericArtist(artist) {
		// The channel is a publisher label; the video title is the
		// better artist source.
		if derivedArtist, derivedTitle, _, ok := r.parser.ExtractArtistTitle(cleanedTitle); ok {
			artist = derivedArtist
			title = derivedTitle
		} else {
			artist = parser.UnknownArtist
		}
	} else if derivedArtist, derivedTitle, _, ok := r.parser.ExtractArtistTitle(cleanedTitle); ok && strings.EqualFold(derivedArtist, artist) {
		// Titles on artist channels often repeat the artist; drop the
		// redundant prefix.
		title = derivedTitle
	}

	return &models.SongMetadata{
		Key:              parser.SongKey(artist, title),
		VideoID:          video.ID,
		Title:            title,
		Artist:           artist,
		Duration:         youtube.ParseDuration(video.ContentDetails.Duration),
		ThumbnailURL:     youtube.BestThumbnail(video.Snippet.Thumbnails),
		ReleaseDate:      youtube.ParsePublishedAt(video.Snippet.PublishedAt),
		EstimationMethod: models.EstimationExternalAPI,
		Confidence:       ExternalAPIConfidence,
	}
}

// attachChannelImages batch-fetches representative channel images for
// the freshly fetched items and fills in ArtistImageURL.
func (r *Resolver) attachChannelImages(ctx context.Context, fetched map[string]*models.SongMetadata, videoChannels map[string]string) {
	if len(fetched) == 0 || len(videoChannels) == 0 {
		return
	}

	var channelIDs []string
	seen := make(map[string]bool, len(videoChannels))
	for _, videoID := range sortedKeys(videoChannels) {
		channelID := videoChannels[videoID]
		if !seen[channelID] {
			seen[channelID] = true
			channelIDs = append(channelIDs, channelID)
		}
	}

	images := make(map[string]string, len(channelIDs))
	for start := 0; start < len(channelIDs); start += r.batchSize {
		if start > 0 {
			select {
			case <-time.After(r.batchDelay):
			case <-ctx.Done():
				return
			}
		}

		end := min(start+r.batchSize, len(channelIDs))
		batch, err := r.provider.ListChannelThumbnails(ctx, channelIDs[start:end])
		if err != nil {
			if errors.Is(err, youtube.ErrQuotaExceeded) {
				r.logger.Printf("Provider quota exhausted during channel lookup")
				break
			}
			r.logger.Printf("Channel batch %d-%d failed, skipping: %v", start, end, err)
			continue
		}
		for id, url := range batch {
			images[id] = url
		}
	}

	for videoID, meta := range fetched {
		if channelID := videoChannels[videoID]; channelID != "" {
			meta.ArtistImageURL = images[channelID]
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// sortedKeys gives map iteration a stable order so channel batches
// are deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
