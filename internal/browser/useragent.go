package browser

import (
	"strings"

	"airdrop_manager/internal/randx"
)

var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

// pickUserAgent returns a random entry from custom when it has usable
// values, else from the built-in desktop Chrome list. Mobile agents are
// skipped because the viewport is a desktop one.
func pickUserAgent(s *randx.Sampler, custom []string) string {
	pool := make([]string, 0, len(custom))
	for _, ua := range custom {
		ua = strings.TrimSpace(ua)
		if ua != "" && !looksLikeMobileUA(ua) {
			pool = append(pool, ua)
		}
	}
	if len(pool) == 0 {
		pool = desktopUserAgents
	}
	ua, _ := randx.Pick(s, pool)
	return ua
}

func looksLikeMobileUA(ua string) bool {
	s := strings.ToLower(ua)
	return strings.Contains(s, "mobile") ||
		strings.Contains(s, "iphone") ||
		strings.Contains(s, "android") ||
		strings.Contains(s, "ipad")
}
