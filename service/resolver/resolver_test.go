package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rewind-fm/rewind/models"
	"github.com/rewind-fm/rewind/service/parser"
	"github.com/rewind-fm/rewind/service/youtube"
)

type fakeCache struct {
	entries   map[string]*models.SongMetadata
	upserts   []*models.SongMetadata
	upsertErr error
	getErr    error
}

func (f *fakeCache) GetMetadataByVideoIDs(videoIDs []string) (map[string]*models.SongMetadata, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	result := make(map[string]*models.SongMetadata)
	for _, id := range videoIDs {
		if meta, ok := f.entries[id]; ok {
			result[id] = meta
		}
	}
	return result, nil
}

func (f *fakeCache) UpsertMetadata(meta *models.SongMetadata) error {
	f.upserts = append(f.upserts, meta)
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.entries == nil {
		f.entries = make(map[string]*models.SongMetadata)
	}
	f.entries[meta.VideoID] = meta
	return nil
}

type fakeProvider struct {
	videos        map[string]youtube.Video
	channelImages map[string]string
	videoCalls    int
	failCalls     map[int]error // 1-based call index -> error
}

func (f *fakeProvider) ListVideos(ctx context.Context, videoIDs []string) ([]youtube.Video, error) {
	f.videoCalls++
	if err, ok := f.failCalls[f.videoCalls]; ok {
		return nil, err
	}
	var items []youtube.Video
	for _, id := range videoIDs {
		if video, ok := f.videos[id]; ok {
			items = append(items, video)
		}
	}
	return items, nil
}

func (f *fakeProvider) ListChannelThumbnails(ctx context.Context, channelIDs []string) (map[string]string, error) {
	result := make(map[string]string)
	for _, id := range channelIDs {
		if url, ok := f.channelImages[id]; ok {
			result[id] = url
		}
	}
	return result, nil
}

func testVideo(id, title, channelID, channelTitle, durationToken string) youtube.Video {
	return youtube.Video{
		ID: id,
		Snippet: youtube.VideoSnippet{
			Title:        title,
			ChannelID:    channelID,
			ChannelTitle: channelTitle,
			PublishedAt:  "2015-06-01T00:00:00Z",
			Thumbnails: youtube.ThumbnailSet{
				High: &youtube.Thumbnail{URL: "https://img.example/" + id + ".jpg"},
			},
		},
		ContentDetails: youtube.ContentDetails{Duration: durationToken},
	}
}

func newTestResolver(cache *fakeCache, provider *fakeProvider) *Resolver {
	r := New(cache, provider, parser.New())
	r.batchDelay = 0
	return r
}

func cachedMeta(id string) *models.SongMetadata {
	return &models.SongMetadata{
		Key:              "artist - song",
		VideoID:          id,
		Title:            "Song",
		Artist:           "Artist",
		Duration:         180,
		ThumbnailURL:     "https://img.example/cached.jpg",
		EstimationMethod: models.EstimationExternalAPI,
		Confidence:       ExternalAPIConfidence,
	}
}

func TestResolveAllCached(t *testing.T) {
	cache := &fakeCache{entries: map[string]*models.SongMetadata{
		"id1": cachedMeta("id1"),
		"id2": cachedMeta("id2"),
	}}
	provider := &fakeProvider{}
	r := newTestResolver(cache, provider)

	result, stats, err := r.Resolve(context.Background(), []string{"id1", "id2"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := Stats{Requested: 2, Cached: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if len(result) != 2 {
		t.Errorf("result has %d entries, want 2", len(result))
	}
	if provider.videoCalls != 0 {
		t.Errorf("provider called %d times, want 0", provider.videoCalls)
	}
}

func TestResolveFetchesMisses(t *testing.T) {
	cache := &fakeCache{entries: map[string]*models.SongMetadata{
		"id1": cachedMeta("id1"),
	}}
	provider := &fakeProvider{
		videos: map[string]youtube.Video{
			"id2": testVideo("id2", "Real Artist - New Song", "ch1", "Real Artist - Topic", "PT3M20S"),
		},
		channelImages: map[string]string{"ch1": "https://img.example/ch1.jpg"},
	}
	r := newTestResolver(cache, provider)

	result, stats, err := r.Resolve(context.Background(), []string{"id1", "id2", "id3"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := Stats{Requested: 3, Cached: 1, Fetched: 1, NotFound: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	meta := result["id2"]
	if meta == nil {
		t.Fatal("id2 missing from result")
	}
	if meta.Artist != "Real Artist" {
		t.Errorf("Artist = %q, want %q", meta.Artist, "Real Artist")
	}
	if meta.Title != "New Song" {
		t.Errorf("Title = %q, want %q", meta.Title, "New Song")
	}
	if meta.Duration != 200 {
		t.Errorf("Duration = %d, want 200", meta.Duration)
	}
	if meta.ArtistImageURL != "https://img.example/ch1.jpg" {
		t.Errorf("ArtistImageURL = %q, want channel image", meta.ArtistImageURL)
	}
	if len(cache.upserts) != 1 {
		t.Errorf("cache received %d upserts, want 1", len(cache.upserts))
	}
	if _, ok := result["id3"]; ok {
		t.Error("id3 should be omitted from result")
	}
}

func TestResolveRefetchesMissingThumbnail(t *testing.T) {
	stale := cachedMeta("id1")
	stale.ThumbnailURL = ""
	cache := &fakeCache{entries: map[string]*models.SongMetadata{"id1": stale}}
	provider := &fakeProvider{
		videos: map[string]youtube.Video{
			"id1": testVideo("id1", "Artist - Song", "ch1", "Artist", "PT3M"),
		},
	}
	r := newTestResolver(cache, provider)

	result, stats, err := r.Resolve(context.Background(), []string{"id1"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := Stats{Requested: 1, Fetched: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if result["id1"].ThumbnailURL == "" {
		t.Error("thumbnail should be refreshed")
	}
}

func TestResolveGenericChannelRederivesArtist(t *testing.T) {
	cache := &fakeCache{}
	provider := &fakeProvider{
		videos: map[string]youtube.Video{
			"id1": testVideo("id1", "Cool Artist - Song Name", "ch1", "Release", "PT3M"),
		},
	}
	r := newTestResolver(cache, provider)

	result, _, err := r.Resolve(context.Background(), []string{"id1"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	meta := result["id1"]
	if meta.Artist != "Cool Artist" {
		t.Errorf("Artist = %q, want %q", meta.Artist, "Cool Artist")
	}
	if meta.Title != "Song Name" {
		t.Errorf("Title = %q, want %q", meta.Title, "Song Name")
	}
}

func TestResolveSkipsFailedBatch(t *testing.T) {
	cache := &fakeCache{}
	provider := &fakeProvider{
		videos:    map[string]youtube.Video{},
		failCalls: map[int]error{1: errors.New("boom")},
	}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("id%d", i)
		provider.videos[id] = testVideo(id, "Artist - Song", "ch1", "Artist", "PT3M")
	}
	r := newTestResolver(cache, provider)
	r.batchSize = 2

	ids := []string{"id0", "id1", "id2", "id3"}
	result, stats, err := r.Resolve(context.Background(), ids)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// First batch of two failed, second succeeded.
	want := Stats{Requested: 4, Fetched: 2, NotFound: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if len(result) != 2 {
		t.Errorf("result has %d entries, want 2", len(result))
	}
}

func TestResolveStopsOnQuotaExhaustion(t *testing.T) {
	cache := &fakeCache{}
	provider := &fakeProvider{
		videos:    map[string]youtube.Video{},
		failCalls: map[int]error{2: youtube.ErrQuotaExceeded},
	}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("id%d", i)
		provider.videos[id] = testVideo(id, "Artist - Song", "ch1", "Artist", "PT3M")
	}
	r := newTestResolver(cache, provider)
	r.batchSize = 2

	ids := []string{"id0", "id1", "id2", "id3", "id4", "id5"}
	_, stats, err := r.Resolve(context.Background(), ids)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Batch one succeeded, batch two hit the quota, batch three was
	// never attempted.
	want := Stats{Requested: 6, Fetched: 2, NotFound: 4}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if provider.videoCalls != 2 {
		t.Errorf("provider called %d times, want 2", provider.videoCalls)
	}
}

func TestResolveSwallowsUpsertFailure(t *testing.T) {
	cache := &fakeCache{upsertErr: errors.New("disk full")}
	provider := &fakeProvider{
		videos: map[string]youtube.Video{
			"id1": testVideo("id1", "Artist - Song", "ch1", "Artist", "PT3M"),
		},
	}
	r := newTestResolver(cache, provider)

	result, stats, err := r.Resolve(context.Background(), []string{"id1"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if stats.Fetched != 1 {
		t.Errorf("Fetched = %d, want 1", stats.Fetched)
	}
	if result["id1"] == nil {
		t.Error("fetched entry should be returned despite upsert failure")
	}
}

func TestResolveStatsIdentity(t *testing.T) {
	cache := &fakeCache{entries: map[string]*models.SongMetadata{
		"id1": cachedMeta("id1"),
	}}
	provider := &fakeProvider{
		videos: map[string]youtube.Video{
			"id2": testVideo("id2", "Artist - Song", "ch1", "Artist", "PT3M"),
		},
	}
	r := newTestResolver(cache, provider)

	// Duplicates collapse before counting.
	_, stats, err := r.Resolve(context.Background(), []string{"id1", "id1", "id2", "id3", ""})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if stats.Requested != stats.Cached+stats.Fetched+stats.NotFound {
		t.Errorf("identity violated: %+v", stats)
	}
	if stats.Requested != 3 {
		t.Errorf("Requested = %d, want 3", stats.Requested)
	}
}
