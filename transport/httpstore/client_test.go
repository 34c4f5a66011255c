package httpstore

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/snapshot"
)

// blobServer is a minimal in-test snapshot endpoint with ETag semantics.
type blobServer struct {
	mu   sync.Mutex
	blob []byte
	etag string
	rev  int

	lastIfMatch     string
	lastIfNoneMatch string
}

func (b *blobServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			if b.blob == nil {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			w.Header().Set("ETag", b.etag)
			w.Write(b.blob)

		case http.MethodPut:
			b.lastIfMatch = r.Header.Get("If-Match")
			b.lastIfNoneMatch = r.Header.Get("If-None-Match")

			if b.lastIfNoneMatch == "*" && b.blob != nil {
				http.Error(w, "exists", http.StatusPreconditionFailed)
				return
			}
			if b.lastIfMatch != "" && b.lastIfMatch != b.etag {
				http.Error(w, "stale", http.StatusPreconditionFailed)
				return
			}

			var reader io.Reader = r.Body
			if r.Header.Get("Content-Encoding") == "gzip" {
				gz, err := gzip.NewReader(r.Body)
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				defer gz.Close()
				reader = gz
			}
			data, err := io.ReadAll(reader)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b.blob = data
			b.rev++
			b.etag = `"` + string(rune('a'+b.rev)) + `"`
			w.Header().Set("ETag", b.etag)
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func testSnapshot(deviceID string) *snapshot.Snapshot {
	snap := snapshot.New(deviceID)
	snap.Collections["products"] = snapshot.Collection{
		{
			snapshot.FieldID:        "p1",
			snapshot.FieldUpdatedAt: "2026-01-02T10:00:00Z",
			snapshot.FieldCreatedBy: deviceID,
			"name":                  "Kopi",
			"price":                 15000.0,
		},
	}
	return snap
}

func TestClientRoundTrip(t *testing.T) {
	backend := &blobServer{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	defer client.Close()
	ctx := context.Background()

	// Empty store.
	_, _, err := client.Fetch(ctx)
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("expected not-found on empty store, got %v", err)
	}

	// Create-only write.
	rev, err := client.Write(ctx, testSnapshot("device-a"), "")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rev == "" {
		t.Fatal("expected a revision from the write")
	}
	if backend.lastIfNoneMatch != "*" {
		t.Fatalf("first publish must use If-None-Match: *, sent %q", backend.lastIfNoneMatch)
	}

	snap, gotRev, err := client.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotRev != rev {
		t.Fatalf("fetch revision %q != write revision %q", gotRev, rev)
	}
	if len(snap.Collections["products"]) != 1 {
		t.Fatalf("snapshot did not survive the round trip: %v", snap.Collections)
	}

	// Conditional update.
	if _, err := client.Write(ctx, snap, rev); err != nil {
		t.Fatalf("conditional Write: %v", err)
	}
	if backend.lastIfMatch != string(rev) {
		t.Fatalf("update must use If-Match, sent %q", backend.lastIfMatch)
	}
}

func TestClientRevisionMismatch(t *testing.T) {
	backend := &blobServer{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	if _, err := client.Write(ctx, testSnapshot("device-a"), ""); err != nil {
		t.Fatal(err)
	}

	_, err := client.Write(ctx, testSnapshot("device-b"), `"stale"`)
	if !errors.IsKind(err, errors.KindRevisionMismatch) {
		t.Fatalf("expected revision mismatch, got %v", err)
	}
	if errors.IsRetryable(err) {
		t.Fatal("a mismatch must re-pull, not blind-retry")
	}

	// Create-only against an existing document is also a mismatch.
	_, err = client.Write(ctx, testSnapshot("device-b"), "")
	if !errors.IsKind(err, errors.KindRevisionMismatch) {
		t.Fatalf("expected create-only rejection, got %v", err)
	}
}

func TestClientServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, _, err := client.Fetch(context.Background())
	if !errors.IsKind(err, errors.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.IsRetryable(err) {
		t.Fatal("5xx responses should be retryable")
	}
}

func TestClientClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, _, err := client.Fetch(context.Background())
	if errors.IsRetryable(err) {
		t.Fatal("4xx responses must not be retried")
	}
}

func TestClientGzipUpload(t *testing.T) {
	backend := &blobServer{}
	var sawGzip bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.Header.Get("Content-Encoding") == "gzip" {
			sawGzip = true
		}
		backend.handler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithLimits(Limits{
		MaxBodyBytes:         8 << 20,
		MaxDecompressedBytes: 64 << 20,
		EnableGzip:           true,
		GzipMinBytes:         1,
	}))

	if _, err := client.Write(context.Background(), testSnapshot("device-a"), ""); err != nil {
		t.Fatal(err)
	}
	if !sawGzip {
		t.Fatal("expected a gzip-encoded upload")
	}

	snap, _, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Collections["products"]) != 1 {
		t.Fatal("gzip round trip lost the payload")
	}
}

func TestClientSendsAPIKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithAPIKey("secret"))
	client.Fetch(context.Background())
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
}
