package demosite_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raysh454/siteaudit/internal/analyzer"
	"github.com/raysh454/siteaudit/internal/demosite"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/testutil"
	"github.com/raysh454/siteaudit/internal/webclient"
)

func newSite(t *testing.T) (*demosite.Site, *httptest.Server) {
	t.Helper()
	site := demosite.New(demosite.DefaultConfig(), &testutil.DummyLogger{})
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)
	return site, srv
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func current(site *demosite.Site, path string) int {
	for _, s := range site.States() {
		if s.Path == path {
			return s.Current
		}
	}
	return -1
}

// ─── Control API ───────────────────────────────────────────────────────

func TestBumpCapsAtLatestAndResetRestores(t *testing.T) {
	t.Parallel()
	site, srv := newSite(t)

	for i := 0; i < 5; i++ {
		post(t, srv.URL+"/demo/bump")
	}
	if got := current(site, "/"); got != 3 {
		t.Errorf("home version = %d, want 3", got)
	}
	if got := current(site, "/privacy"); got != 1 {
		t.Errorf("privacy version = %d, want 1", got)
	}

	resp := post(t, srv.URL+"/demo/reset")
	var states []demosite.PageState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		t.Fatal(err)
	}
	for _, s := range states {
		if s.Current != 1 {
			t.Errorf("%s at version %d after reset", s.Path, s.Current)
		}
	}
}

func TestSetVersionValidation(t *testing.T) {
	t.Parallel()
	_, srv := newSite(t)

	cases := []struct {
		query string
		want  int
	}{
		{"?path=/&v=2", http.StatusOK},
		{"?path=/&v=zero", http.StatusBadRequest},
		{"?path=/&v=9", http.StatusBadRequest},
		{"?path=/nope&v=1", http.StatusNotFound},
	}
	for _, tc := range cases {
		if got := post(t, srv.URL+"/demo/version"+tc.query).StatusCode; got != tc.want {
			t.Errorf("%s: status %d, want %d", tc.query, got, tc.want)
		}
	}
}

// ─── Served pages ──────────────────────────────────────────────────────

func TestRegressedVersionDropsHeadersAndSetsTrackers(t *testing.T) {
	t.Parallel()
	_, srv := newSite(t)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.Header.Get("Content-Security-Policy") == "" {
		t.Error("v1 should send a CSP")
	}

	post(t, srv.URL+"/demo/version?path=/&v=3")
	resp, err = http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.Header.Get("Content-Security-Policy") != "" {
		t.Error("v3 should not send a CSP")
	}
	if len(resp.Cookies()) != 2 {
		t.Errorf("cookies = %d, want 2", len(resp.Cookies()))
	}
}

func TestRegressionLowersSEOScore(t *testing.T) {
	t.Parallel()
	_, srv := newSite(t)
	client, err := webclient.NewNetHTTPClient(webclient.DefaultConfig(), logging.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	score := func() int {
		t.Helper()
		res, err := analyzer.NewSEO().Analyze(context.Background(), analyzer.NewInput(srv.URL+"/", "en", client))
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		return *res.Score()
	}

	before := score()
	if before != 100 {
		t.Errorf("baseline SEO score = %d, want 100", before)
	}
	post(t, srv.URL+"/demo/bump")
	if after := score(); after >= before {
		t.Errorf("score after bump = %d, want below %d", after, before)
	}
}
