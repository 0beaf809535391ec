package upstream

import "fmt"

// aliasBaseURLs maps the configured endpoint aliases onto the Antigravity
// base URLs they resolve to, distinguishing the sandbox/daily channel from
// production.
var aliasBaseURLs = map[string]string{
	"sandbox-daily":     "https://daily-sandbox-antigravity.googleapis.com",
	"non-sandbox-daily":  "https://daily-antigravity.googleapis.com",
	"production":        "https://antigravity.googleapis.com",
}

// ResolveBaseURL returns the base URL for a configured endpoint alias, or
// the alias itself if it is already a URL (so deployments can override via
// config without a code change).
func ResolveBaseURL(alias string) (string, error) {
	if u, ok := aliasBaseURLs[alias]; ok {
		return u, nil
	}
	if len(alias) > 8 && (alias[:8] == "https://" || alias[:7] == "http://") {
		return alias, nil
	}
	return "", fmt.Errorf("unknown upstream endpoint alias %q", alias)
}

func generateURL(baseURL string) string {
	return baseURL + "/v1internal:generateContent"
}

func streamGenerateURL(baseURL string) string {
	return baseURL + "/v1internal:streamGenerateContent?alt=sse"
}
