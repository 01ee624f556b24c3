package alert_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raysh454/siteaudit/internal/alert"
	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/testutil"
	"github.com/raysh454/siteaudit/internal/webclient"
)

func scoreAlert() interfaces.Alert {
	return interfaces.Alert{OwnerEmail: "owner@example.com", URL: "https://example.com", OldScore: 90, NewScore: 75, ScoreRegression: true}
}

func newClient(t *testing.T) *webclient.NetHTTPClient {
	t.Helper()
	c, err := webclient.NewNetHTTPClient(webclient.Config{Timeout: 2 * time.Second}, nil, nil)
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	return c
}

// ─── Subject / Kind ────────────────────────────────────────────────────

func TestSubject(t *testing.T) {
	t.Parallel()
	pct := 12.5
	visual := interfaces.Alert{URL: "https://example.com", DiffPercent: &pct, VisualRegression: true, ScoreRegression: true}

	if got := alert.Subject(scoreAlert()); got != "Alert: Score Drop on https://example.com" {
		t.Errorf("score subject = %q", got)
	}
	if got := alert.Subject(visual); got != "Alert: Visual Change (12.50%) on https://example.com" {
		t.Errorf("visual subject = %q", got)
	}
	if alert.KindOf(visual) != alert.KindBoth || alert.KindOf(scoreAlert()) != alert.KindScore {
		t.Error("unexpected kinds")
	}
}

// ─── Webhook ───────────────────────────────────────────────────────────

func TestWebhook_PostsPayload(t *testing.T) {
	t.Parallel()
	var got alert.WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := alert.NewWebhook(srv.URL, newClient(t))
	if err := wh.Notify(context.Background(), scoreAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Drop != 15 || got.To != "owner@example.com" || got.Kind != alert.KindScore {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := alert.NewWebhook(srv.URL, newClient(t), alert.WithBackoff(time.Millisecond))
	if err := wh.Notify(context.Background(), scoreAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestWebhook_GivesUp(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := alert.NewWebhook(srv.URL, newClient(t), alert.WithRetries(2), alert.WithBackoff(time.Millisecond))
	err := wh.Notify(context.Background(), scoreAlert())
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 1 try + 2 retries, got %d", calls.Load())
	}
}

// ─── Mail ──────────────────────────────────────────────────────────────

func TestMail_FormatsMessage(t *testing.T) {
	t.Parallel()
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	send := func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}
	m := alert.NewMail(alert.SMTPConfig{Host: "mail.example", From: "bot@example.com", ReportURL: "https://example.com/history"}, send)
	if err := m.Notify(context.Background(), scoreAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotAddr != "mail.example:587" || len(gotTo) != 1 || gotTo[0] != "owner@example.com" {
		t.Errorf("addr=%q to=%v", gotAddr, gotTo)
	}
	for _, want := range []string{"Subject: Alert: Score Drop on https://example.com", "Previous score: 90", "Current score: 75", "Report: https://example.com/history"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestMail_NoRecipient(t *testing.T) {
	t.Parallel()
	m := alert.NewMail(alert.SMTPConfig{Host: "mail.example"}, func(string, smtp.Auth, string, []string, []byte) error { return nil })
	a := scoreAlert()
	a.OwnerEmail = ""
	if err := m.Notify(context.Background(), a); err == nil {
		t.Fatal("expected error without recipient")
	}
}

// ─── Multi / Log ───────────────────────────────────────────────────────

func TestMulti_AttemptsAllAndJoinsErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	ok := &testutil.DummyAlerter{}
	bad := &testutil.DummyAlerter{Err: boom}
	logger := &testutil.DummyLogger{}

	err := alert.Multi{bad, alert.NewLog(logger), nil, ok}.Notify(context.Background(), scoreAlert())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined boom, got %v", err)
	}
	if len(ok.Sent()) != 1 || len(bad.Sent()) != 1 {
		t.Error("every channel should be attempted")
	}
	if len(logger.Warns) != 1 {
		t.Errorf("log channel should warn once, got %d", len(logger.Warns))
	}
}
