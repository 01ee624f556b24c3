package analyzer

import "time"

// Config tunes the built-in analyzers. Zero values take defaults.
type Config struct {
	Links struct {
		MaxLinks      int           `mapstructure:"max_links"`
		Concurrency   int           `mapstructure:"concurrency"`
		RatePerSecond float64       `mapstructure:"rate_per_second"`
		ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	} `mapstructure:"links"`
	Security struct {
		DialTimeout   time.Duration `mapstructure:"dial_timeout"`
		ExposedPaths  []string      `mapstructure:"exposed_paths"`
		ExpiryWarning time.Duration `mapstructure:"expiry_warning"`
	} `mapstructure:"security"`
}

// DefaultConfig mirrors the constructor defaults.
func DefaultConfig() Config {
	var c Config
	c.Links.MaxLinks = 50
	c.Links.Concurrency = 8
	c.Links.RatePerSecond = 20
	c.Links.ProbeTimeout = 8 * time.Second
	c.Security.DialTimeout = 5 * time.Second
	c.Security.ExposedPaths = DefaultExposedPaths
	c.Security.ExpiryWarning = 30 * 24 * time.Hour
	return c
}

// Defaults registers one implementation for every known analyzer name.
// A nil resolver uses the system resolver.
func Defaults(cfg Config, resolver Resolver) *Registry {
	r, err := NewRegistry(
		NewSEO(),
		NewSecurity(SecurityOptions{
			DialTimeout:   cfg.Security.DialTimeout,
			Paths:         cfg.Security.ExposedPaths,
			ExpiryWarning: cfg.Security.ExpiryWarning,
		}),
		NewTech(),
		NewLinks(LinksOptions{
			MaxLinks:      cfg.Links.MaxLinks,
			Concurrency:   cfg.Links.Concurrency,
			RatePerSecond: cfg.Links.RatePerSecond,
			ProbeTimeout:  cfg.Links.ProbeTimeout,
		}),
		NewGDPR(),
		NewSMO(),
		NewGreen(),
		NewDNS(resolver),
	)
	if err != nil {
		// Only reachable if the list above names an analyzer twice.
		panic(err)
	}
	return r
}
