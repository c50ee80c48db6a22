package domain

import "testing"

// TestDetectPlatform verifies URL pattern lookup for known services.
func TestDetectPlatform(t *testing.T) {
	cases := []struct {
		url  string
		want Platform
	}{
		{"https://www.youtube.com/watch?v=abc", PlatformYouTube},
		{"https://youtu.be/abc", PlatformYouTube},
		{"https://open.spotify.com/episode/xyz", PlatformSpotify},
		{"https://podcasts.apple.com/us/podcast/id123", PlatformApplePodcasts},
		{"https://www.xiaoyuzhoufm.com/episode/abc", PlatformXiaoyuzhou},
		{"https://www.bilibili.com/video/BV1", PlatformBilibili},
		{"https://example.com/feed", PlatformRSS},
		{"https://example.com/podcast.xml", PlatformRSS},
		{"https://example.com/some-page", PlatformGeneric},
	}

	for _, tc := range cases {
		if got := DetectPlatform(tc.url); got != tc.want {
			t.Fatalf("DetectPlatform(%q) = %s, want %s", tc.url, got, tc.want)
		}
	}
}
