package domain

import "strings"

// Platform identifies the hosting service of a submitted URL.
type Platform string

const (
	PlatformYouTube       Platform = "youtube"
	PlatformSpotify       Platform = "spotify"
	PlatformApplePodcasts Platform = "apple_podcasts"
	PlatformXiaoyuzhou    Platform = "xiaoyuzhou"
	PlatformBilibili      Platform = "bilibili"
	PlatformRSS           Platform = "rss"
	PlatformGeneric       Platform = "generic"
)

// platformPatterns maps URL substrings to platform tags. Order matters:
// the first match wins.
var platformPatterns = []struct {
	substr   string
	platform Platform
}{
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"open.spotify.com", PlatformSpotify},
	{"podcasts.apple.com", PlatformApplePodcasts},
	{"xiaoyuzhoufm.com", PlatformXiaoyuzhou},
	{"bilibili.com", PlatformBilibili},
	{"/feed", PlatformRSS},
	{"/rss", PlatformRSS},
	{".xml", PlatformRSS},
}

// DetectPlatform returns the platform tag for a URL, or generic when
// no known pattern matches.
func DetectPlatform(rawURL string) Platform {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	for _, p := range platformPatterns {
		if strings.Contains(lower, p.substr) {
			return p.platform
		}
	}
	return PlatformGeneric
}
