package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func TestDigestIsStable(t *testing.T) {
	// SHA-256("test"), the canonical fingerprint recorded on chain.
	const want = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if got := Digest([]byte("test")); got != want {
		t.Fatalf("Digest(test)=%s, want %s", got, want)
	}
}

func TestBoltStoreContentAddressing(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	loc1, err := store.Put(ctx, []byte("test"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	loc2, err := store.Put(ctx, []byte("test"))
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	if loc1 != loc2 {
		t.Fatalf("same bytes must yield same locator: %s != %s", loc1, loc2)
	}

	digest, err := store.HashOf(ctx, loc1)
	if err != nil {
		t.Fatalf("HashOf: %v", err)
	}
	if digest != Digest([]byte("test")) {
		t.Fatalf("stored digest mismatch: %s", digest)
	}

	if _, err := store.HashOf(ctx, "Qmmissing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoteStorePutAndHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/blobs":
			w.Write([]byte(`{"locator":"Qmabc"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/blobs/Qmabc/hash":
			w.Write([]byte(`{"digest":"deadbeef"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := NewRemote(srv.URL, time.Second)
	ctx := context.Background()

	loc, err := store.Put(ctx, []byte("payload"))
	if err != nil || loc != "Qmabc" {
		t.Fatalf("Put: %s %v", loc, err)
	}
	digest, err := store.HashOf(ctx, "Qmabc")
	if err != nil || digest != "deadbeef" {
		t.Fatalf("HashOf: %s %v", digest, err)
	}
	if _, err := store.HashOf(ctx, "Qmnope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoteStoreTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	store := NewRemote(srv.URL, 20*time.Millisecond)
	if _, err := store.Put(context.Background(), []byte("x")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
