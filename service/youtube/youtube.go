package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"golang.org/x/time/rate"
)

const (
	videosEndpoint   = "https://www.googleapis.com/youtube/v3/videos"
	channelsEndpoint = "https://www.googleapis.com/youtube/v3/channels"

	// MaxBatchSize is the provider's per-call id limit.
	MaxBatchSize = 50

	// DefaultDuration is used when a duration token cannot be parsed.
	DefaultDuration = 210
)

// ErrQuotaExceeded signals that the API quota is exhausted and no
// further batches should be attempted this run.
var ErrQuotaExceeded = errors.New("youtube: api quota exceeded")

type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ThumbnailSet struct {
	Default *Thumbnail `json:"default,omitempty"`
	Medium  *Thumbnail `json:"medium,omitempty"`
	High    *Thumbnail `json:"high,omitempty"`
	MaxRes  *Thumbnail `json:"maxres,omitempty"`
}

type VideoSnippet struct {
	Title        string       `json:"title"`
	ChannelID    string       `json:"channelId"`
	ChannelTitle string       `json:"channelTitle"`
	PublishedAt  string       `json:"publishedAt"`
	Thumbnails   ThumbnailSet `json:"thumbnails"`
}

type ContentDetails struct {
	Duration string `json:"duration"` // ISO-8601 token, e.g. PT3M30S
}

type Video struct {
	ID             string         `json:"id"`
	Snippet        VideoSnippet   `json:"snippet"`
	ContentDetails ContentDetails `json:"contentDetails"`
}

type videoListResponse struct {
	Items []Video `json:"items"`
}

type channelSnippet struct {
	Title      string       `json:"title"`
	Thumbnails ThumbnailSet `json:"thumbnails"`
}

type channelItem struct {
	ID      string         `json:"id"`
	Snippet channelSnippet `json:"snippet"`
}

type channelListResponse struct {
	Items []channelItem `json:"items"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// Client talks to the YouTube Data API v3 with key auth and a shared
// rate limiter.
type Client struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// The API tolerates bursts but sustained calls should stay
		// well under quota; one call per 100ms is plenty for batches.
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// SetTimeout overrides the HTTP client timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// ListVideos fetches snippet and duration details for up to
// MaxBatchSize video ids in one call.
func (c *Client) ListVideos(ctx context.Context, videoIDs []string) ([]Video, error) {
	if len(videoIDs) == 0 {
		return nil, nil
	}
	if len(videoIDs) > MaxBatchSize {
		return nil, fmt.Errorf("youtube: batch of %d exceeds per-call limit of %d", len(videoIDs), MaxBatchSize)
	}

	params := url.Values{}
	params.Set("part", "snippet,contentDetails")
	params.Set("id", strings.Join(videoIDs, ","))
	params.Set("key", c.apiKey)

	var result videoListResponse
	if err := c.get(ctx, videosEndpoint, params, &result); err != nil {
		return nil, err
	}

	return result.Items, nil
}

// ListChannelThumbnails fetches representative images for up to
// MaxBatchSize channel ids, keyed by channel id.
func (c *Client) ListChannelThumbnails(ctx context.Context, channelIDs []string) (map[string]string, error) {
	if len(channelIDs) == 0 {
		return map[string]string{}, nil
	}
	if len(channelIDs) > MaxBatchSize {
		return nil, fmt.Errorf("youtube: batch of %d exceeds per-call limit of %d", len(channelIDs), MaxBatchSize)
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("id", strings.Join(channelIDs, ","))
	params.Set("key", c.apiKey)

	var result channelListResponse
	if err := c.get(ctx, channelsEndpoint, params, &result); err != nil {
		return nil, err
	}

	images := make(map[string]string, len(result.Items))
	for _, item := range result.Items {
		if thumb := BestThumbnail(item.Snippet.Thumbnails); thumb != "" {
			images[item.ID] = thumb
		}
	}

	return images, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("context error during request execution: %w", ctx.Err())
		}
		return fmt.Errorf("failed to execute request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if isQuotaExceeded(resp.StatusCode, body) {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("youtube api request to %s returned status %d", endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}

	return nil
}

func isQuotaExceeded(statusCode int, body []byte) bool {
	if statusCode != http.StatusForbidden && statusCode != http.StatusTooManyRequests {
		return false
	}
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return statusCode == http.StatusTooManyRequests
	}
	for _, e := range apiErr.Error.Errors {
		switch e.Reason {
		case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded":
			return true
		}
	}
	return statusCode == http.StatusTooManyRequests
}

// BestThumbnail picks the highest-resolution thumbnail available.
func BestThumbnail(set ThumbnailSet) string {
	for _, thumb := range []*Thumbnail{set.MaxRes, set.High, set.Medium, set.Default} {
		if thumb != nil && thumb.URL != "" {
			return thumb.URL
		}
	}
	return ""
}

var durationExpr = regexp2.MustCompile(`^PT(?:(?<hours>\d+)H)?(?:(?<minutes>\d+)M)?(?:(?<seconds>\d+)S)?$`, 0)

// ParseDuration converts an ISO-8601 duration token (PT#H#M#S) to
// seconds. Unparsable tokens fall back to DefaultDuration.
func ParseDuration(token string) int64 {
	match, err := durationExpr.FindStringMatch(strings.TrimSpace(token))
	if err != nil || match == nil {
		return DefaultDuration
	}

	hours := groupInt(match.GroupByName("hours").String())
	minutes := groupInt(match.GroupByName("minutes").String())
	seconds := groupInt(match.GroupByName("seconds").String())

	total := hours*3600 + minutes*60 + seconds
	if total == 0 {
		return DefaultDuration
	}
	return total
}

func groupInt(value string) int64 {
	if value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParsePublishedAt parses the provider's publish timestamp; a nil
// result means the value was absent or malformed.
func ParsePublishedAt(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}
