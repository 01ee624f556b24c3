// Package demosite serves a small versioned website whose pages can be
// switched to regressed versions at runtime. Point a monitor at it, bump the
// versions, and the next watchdog check reports the drop.
package demosite

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/siteaudit/internal/logging"
)

// Config for the demo site.
type Config struct {
	Addr           string `mapstructure:"addr"`
	InitialVersion int    `mapstructure:"initial_version"`
}

func DefaultConfig() Config {
	return Config{Addr: ":9999", InitialVersion: 1}
}

// Site implements http.Handler.
type Site struct {
	cfg    Config
	logger logging.Logger
	router chi.Router

	mu       sync.RWMutex
	pages    map[string]Page
	versions map[string]int
}

// PageState is the control API view of one page.
type PageState struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Current     int    `json:"current"`
	Available   []int  `json:"available"`
}

func New(cfg Config, logger logging.Logger) *Site {
	if cfg.InitialVersion < 1 {
		cfg.InitialVersion = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Site{
		cfg:      cfg,
		logger:   logger.With(logging.F("component", "demosite")),
		pages:    make(map[string]Page),
		versions: make(map[string]int),
	}
	for _, p := range Pages() {
		s.pages[p.Path] = p
		s.versions[p.Path] = cfg.InitialVersion
	}

	r := chi.NewRouter()
	for path := range s.pages {
		r.Get(path, s.handlePage(path))
	}
	r.Get("/static/*", s.handleStatic)
	r.Route("/demo", func(r chi.Router) {
		r.Get("/versions", s.handleVersions)
		r.Post("/version", s.handleSetVersion)
		r.Post("/bump", s.handleBump)
		r.Post("/reset", s.handleReset)
	})
	s.router = r
	return s
}

func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// HTTPServer returns a server for cfg.Addr.
func (s *Site) HTTPServer() *http.Server {
	return &http.Server{Addr: s.cfg.Addr, Handler: s}
}

// resolve returns the requested version or the closest older one.
func (p Page) resolve(v int) Version {
	for ; v >= 1; v-- {
		if pv, ok := p.Versions[v]; ok {
			return pv
		}
	}
	return p.Versions[1]
}

func (p Page) latest() int {
	n := 0
	for v := range p.Versions {
		n = max(n, v)
	}
	return n
}

func (s *Site) handlePage(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		page := s.pages[path]
		v := page.resolve(s.versions[path])
		s.mu.RUnlock()

		for k, val := range v.Headers {
			w.Header().Set(k, val)
		}
		for _, c := range v.Cookies {
			http.SetCookie(w, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/", HttpOnly: c.HttpOnly, Secure: c.Secure})
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(v.HTML))
	}
}

// 1x1 transparent GIF for every static asset.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func (s *Site) handleStatic(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/gif")
	_, _ = w.Write(pixel)
}

// States lists every page sorted by path.
func (s *Site) States() []PageState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PageState, 0, len(s.pages))
	for path, p := range s.pages {
		avail := make([]int, 0, len(p.Versions))
		for v := range p.Versions {
			avail = append(avail, v)
		}
		sort.Ints(avail)
		out = append(out, PageState{Path: path, Description: p.Description, Current: s.versions[path], Available: avail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Site) handleVersions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.States())
}

func (s *Site) handleSetVersion(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	v, err := strconv.Atoi(r.URL.Query().Get("v"))
	if err != nil || v < 1 {
		http.Error(w, "v must be a positive integer", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	p, ok := s.pages[path]
	if ok {
		if _, exists := p.Versions[v]; !exists {
			s.mu.Unlock()
			http.Error(w, "no such version", http.StatusBadRequest)
			return
		}
		s.versions[path] = v
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "no such page", http.StatusNotFound)
		return
	}
	s.logger.Info("version set", logging.F("path", path), logging.F("version", v))
	writeJSON(w, http.StatusOK, s.States())
}

// handleBump advances every page by one version, capped at its latest.
func (s *Site) handleBump(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	for path, p := range s.pages {
		s.versions[path] = min(s.versions[path]+1, p.latest())
	}
	s.mu.Unlock()
	s.logger.Info("versions bumped")
	writeJSON(w, http.StatusOK, s.States())
}

func (s *Site) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	for path := range s.pages {
		s.versions[path] = s.cfg.InitialVersion
	}
	s.mu.Unlock()
	s.logger.Info("versions reset")
	writeJSON(w, http.StatusOK, s.States())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
