// Package server exposes the shared snapshot document over HTTP. It is the
// counterpart of the httpstore transport: one GET/PUT endpoint with ETag
// revisions and conditional writes, backed by a pluggable BlobStorage.
package server

import (
	"compress/gzip"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/logging"
	"github.com/arteapos/possync/server/storage"
	"github.com/arteapos/possync/snapshot"
)

// Config configures the server.
type Config struct {
	// APIKey, when set, requires a matching bearer token on every request.
	APIKey string

	// MaxBodyBytes bounds uploaded snapshots. Default 8MB.
	MaxBodyBytes int64

	Logger *logging.Logger
}

// Server serves the snapshot API.
type Server struct {
	store  storage.BlobStorage
	config Config
	log    *logging.Logger
	mux    *chi.Mux
}

// New builds a Server on top of store.
func New(store storage.BlobStorage, config Config) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 8 << 20
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}

	s := &Server{
		store:  store,
		config: config,
		log:    config.Logger.WithComponent("server"),
	}

	mux := chi.NewMux()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(s.requestLogger)
	mux.Use(decompressRequests)
	if config.APIKey != "" {
		mux.Use(s.requireAPIKey)
	}

	api := humachi.New(mux, huma.DefaultConfig("possync snapshot API", "1.0.0"))
	s.registerRoutes(api)
	s.mux = mux
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.mux }

// RegisterRoutes attaches the API operations to any huma.API. Exposed for
// tests and for embedding the endpoints into a larger service.
func (s *Server) RegisterRoutes(api huma.API) { s.registerRoutes(api) }

type getSnapshotOutput struct {
	ETag string `header:"ETag"`
	Body json.RawMessage
}

type putSnapshotInput struct {
	IfMatch     string `header:"If-Match"`
	IfNoneMatch string `header:"If-None-Match"`
	RawBody     []byte
}

type putSnapshotOutput struct {
	ETag string `header:"ETag"`
}

type healthOutput struct {
	Body struct {
		Status string    `json:"status"`
		Time   time.Time `json:"time"`
	}
}

func (s *Server) registerRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/v1/snapshot",
		Summary:     "Download the shared snapshot",
	}, s.getSnapshot)

	huma.Register(api, huma.Operation{
		OperationID:   "put-snapshot",
		Method:        http.MethodPut,
		Path:          "/api/v1/snapshot",
		Summary:       "Upload the shared snapshot conditionally",
		DefaultStatus: http.StatusNoContent,
	}, s.putSnapshot)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Liveness probe",
	}, s.health)
}

func (s *Server) getSnapshot(ctx context.Context, _ *struct{}) (*getSnapshotOutput, error) {
	blob, err := s.store.Load(ctx)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return nil, huma.Error404NotFound("no snapshot published yet")
		}
		s.log.LogError(ctx, err, "snapshot load failed")
		return nil, huma.Error500InternalServerError("storage failure")
	}
	return &getSnapshotOutput{
		ETag: blob.Revision,
		Body: json.RawMessage(blob.Data),
	}, nil
}

func (s *Server) putSnapshot(ctx context.Context, input *putSnapshotInput) (*putSnapshotOutput, error) {
	if int64(len(input.RawBody)) > s.config.MaxBodyBytes {
		return nil, huma.NewError(http.StatusRequestEntityTooLarge, "snapshot exceeds the size limit")
	}

	// Reject malformed documents before they poison every device's pull.
	snap, err := snapshot.Unmarshal(input.RawBody)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid snapshot document", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid snapshot document", err)
	}

	expected := input.IfMatch
	if expected == "" && input.IfNoneMatch != "*" {
		return nil, huma.NewError(http.StatusPreconditionRequired,
			"writes must carry If-Match or If-None-Match: *")
	}

	rev, err := s.store.Save(ctx, input.RawBody, expected)
	if err != nil {
		if errors.IsKind(err, errors.KindRevisionMismatch) {
			return nil, huma.Error412PreconditionFailed("the snapshot changed, pull and merge first")
		}
		s.log.LogError(ctx, err, "snapshot save failed")
		return nil, huma.Error500InternalServerError("storage failure")
	}

	s.log.Info("snapshot stored", "revision", rev, "bytes", len(input.RawBody))
	return &putSnapshotOutput{ETag: rev}, nil
}

func (s *Server) health(ctx context.Context, _ *struct{}) (*healthOutput, error) {
	out := &healthOutput{}
	out.Body.Status = "ok"
	out.Body.Time = time.Now().UTC()
	return out, nil
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.NewTransportError(errors.OpStore, "server", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decompressRequests transparently gunzips request bodies so clients can
// upload large snapshots compressed.
func decompressRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "malformed gzip body", http.StatusBadRequest)
				return
			}
			defer gz.Close()
			r.Body = gz
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}
		next.ServeHTTP(w, r)
	})
}
