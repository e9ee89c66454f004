package youtube

import "testing"

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  int64
	}{
		{"minutes and seconds", "PT3M30S", 210},
		{"hours minutes seconds", "PT1H2M3S", 3723},
		{"seconds only", "PT45S", 45},
		{"minutes only", "PT4M", 240},
		{"hours only", "PT2H", 7200},
		{"empty token", "", DefaultDuration},
		{"garbage token", "3:30", DefaultDuration},
		{"zero duration", "PT0S", DefaultDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDuration(tt.token)
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %d, want %d", tt.token, got, tt.want)
			}
		})
	}
}

func TestBestThumbnail(t *testing.T) {
	full := ThumbnailSet{
		Default: &Thumbnail{URL: "default.jpg"},
		Medium:  &Thumbnail{URL: "medium.jpg"},
		High:    &Thumbnail{URL: "high.jpg"},
		MaxRes:  &Thumbnail{URL: "maxres.jpg"},
	}

	tests := []struct {
		name string
		set  ThumbnailSet
		want string
	}{
		{"prefers maxres", full, "maxres.jpg"},
		{"falls back to high", ThumbnailSet{High: &Thumbnail{URL: "high.jpg"}, Medium: &Thumbnail{URL: "medium.jpg"}}, "high.jpg"},
		{"falls back to medium", ThumbnailSet{Medium: &Thumbnail{URL: "medium.jpg"}, Default: &Thumbnail{URL: "default.jpg"}}, "medium.jpg"},
		{"falls back to default", ThumbnailSet{Default: &Thumbnail{URL: "default.jpg"}}, "default.jpg"},
		{"empty set", ThumbnailSet{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BestThumbnail(tt.set)
			if got != tt.want {
				t.Errorf("BestThumbnail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsQuotaExceeded(t *testing.T) {
	quotaBody := []byte(`{"error": {"code": 403, "message": "quota", "errors": [{"reason": "quotaExceeded"}]}}`)
	forbiddenBody := []byte(`{"error": {"code": 403, "message": "forbidden", "errors": [{"reason": "forbidden"}]}}`)

	tests := []struct {
		name       string
		statusCode int
		body       []byte
		want       bool
	}{
		{"quota exceeded reason", 403, quotaBody, true},
		{"plain forbidden", 403, forbiddenBody, false},
		{"too many requests", 429, []byte(`{}`), true},
		{"server error", 500, quotaBody, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isQuotaExceeded(tt.statusCode, tt.body)
			if got != tt.want {
				t.Errorf("isQuotaExceeded(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}
