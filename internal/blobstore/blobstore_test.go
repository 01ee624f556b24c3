package blobstore_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/siteaudit/internal/blobstore"
)

func newTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.New(filepath.Join(t.TempDir(), "shots"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// ─── Keys ──────────────────────────────────────────────────────────────

func TestKeys_StablePerURL(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 4, 9, 5, 6, 0, time.UTC)
	url := "https://example.com"

	shot := blobstore.ScreenshotKey(url, at)
	diff := blobstore.DiffKey(url, at)
	hash := blobstore.SiteHash(url)

	if len(hash) != 32 {
		t.Fatalf("expected md5 hex, got %q", hash)
	}
	if shot != hash+"/20260304_090506.jpg" {
		t.Errorf("screenshot key = %q", shot)
	}
	if diff != hash+"/diff_20260304_090506.jpg" {
		t.Errorf("diff key = %q", diff)
	}
	if blobstore.SiteHash("https://other.example") == hash {
		t.Error("different URLs must not share a directory")
	}
}

// ─── Put / Get ─────────────────────────────────────────────────────────

func TestPutGet_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	key := blobstore.ScreenshotKey("https://example.com", time.Now())
	data := []byte{0xff, 0xd8, 0xff, 0x00}

	if err := s.Put(key, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Exists(key) {
		t.Fatal("expected blob to exist")
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %v, want %v", got, data)
	}
}

func TestPut_Overwrites(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Put("a/b.jpg", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("a/b.jpg", []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("a/b.jpg")
	if string(got) != "two" {
		t.Errorf("expected overwrite, got %q", got)
	}
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.Get("nope/missing.jpg")
	if !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Put("x/y.jpg", []byte("z")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("x/y.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("x/y.jpg"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if s.Exists("x/y.jpg") {
		t.Error("blob still exists")
	}
}

// ─── Path safety ───────────────────────────────────────────────────────

func TestKeys_RejectTraversal(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for _, key := range []string{"", "/etc/passwd", "../escape.jpg", "a/../../b", `a\b`} {
		if err := s.Put(key, []byte("x")); !errors.Is(err, blobstore.ErrInvalidKey) {
			t.Errorf("Put(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

// ─── AtomicWriteFile ───────────────────────────────────────────────────

func TestAtomicWriteFile_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "file.jpg")
	if err := blobstore.AtomicWriteFile(target, []byte("data"), 0o600); err != nil {
		t.Fatalf("AtomicWriteFile: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(target))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v", info.Mode().Perm())
	}
}
