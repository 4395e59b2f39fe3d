package parser

import "strings"

// Client is the coarse platform of a request, for logs.
type Client struct {
	OS      string
	Browser string
}

type rule struct {
	needle string
	name   string
}

// Order matters: mobile platforms also mention desktop ones, and most
// browsers also claim to be Safari or Chrome.
var (
	osRules = []rule{
		{"iphone", "iOS"},
		{"ipad", "iOS"},
		{"android", "Android"},
		{"windows", "Windows"},
		{"mac os", "macOS"},
		{"linux", "Linux"},
	}
	browserRules = []rule{
		{"edg/", "Edge"},
		{"edge", "Edge"},
		{"firefox", "Firefox"},
		{"chrome", "Chrome"},
		{"safari", "Safari"},
		{"curl/", "curl"},
	}
)

// ParseUserAgent classifies a User-Agent header. Unrecognised parts are "Unknown".
func ParseUserAgent(ua string) Client {
	uaLower := strings.ToLower(ua)
	return Client{
		OS:      match(uaLower, osRules),
		Browser: match(uaLower, browserRules),
	}
}

func match(ua string, rules []rule) string {
	for _, r := range rules {
		if strings.Contains(ua, r.needle) {
			return r.name
		}
	}
	return "Unknown"
}
