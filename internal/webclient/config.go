package webclient

import "time"

// DefaultUserAgent identifies the scanner on plain HTTP fetches.
const DefaultUserAgent = "SiteAuditorBot/1.0 (+https://example.com/bot)"

// Config controls the net/http backed client.
type Config struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// InsecureSkipVerify lets audits reach sites with broken certificates.
	// Certificate validity is reported separately by the security analyzer.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// MaxBodyBytes caps how much of a body is read; 0 means 10 MiB.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	MaxRedirects int   `mapstructure:"max_redirects"`
}

// DefaultConfig mirrors the pre-flight probe settings.
func DefaultConfig() Config {
	return Config{
		Timeout:            10 * time.Second,
		UserAgent:          DefaultUserAgent,
		InsecureSkipVerify: true,
		MaxBodyBytes:       10 << 20,
		MaxRedirects:       10,
	}
}
