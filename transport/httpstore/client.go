// Package httpstore implements the RemoteStore contract over HTTP against
// the possync snapshot server. The snapshot travels as a single JSON
// document; revisions map onto ETags and conditional writes onto If-Match
// and If-None-Match headers.
package httpstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/arteapos/possync"
	"github.com/arteapos/possync/errors"
	"github.com/arteapos/possync/snapshot"
)

const snapshotPath = "/api/v1/snapshot"

// Limits bounds payload sizes and compression behavior.
type Limits struct {
	MaxBodyBytes         int64 // maximum response body size
	MaxDecompressedBytes int64 // maximum decompressed response size
	EnableGzip           bool  // gzip request bodies
	GzipMinBytes         int   // minimum body size before gzip kicks in
}

// Client talks to a possync snapshot server.
type Client struct {
	baseURL string
	http    *http.Client
	limits  Limits
	authKey string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WithLimits sets size and compression limits.
func WithLimits(l Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.authKey = key
	}
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limits: Limits{
			MaxBodyBytes:         8 << 20,
			MaxDecompressedBytes: 64 << 20,
			EnableGzip:           true,
			GzipMinBytes:         1024,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads the current snapshot and its ETag revision.
func (c *Client) Fetch(ctx context.Context) (*snapshot.Snapshot, possync.Revision, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+snapshotPath, nil)
	if err != nil {
		return nil, "", errors.NewTransportError(errors.OpFetch, "httpstore", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", errors.NewTransportError(errors.OpFetch, "httpstore", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, "", errors.NewNotFound("httpstore")
	default:
		return nil, "", c.statusError(errors.OpFetch, resp)
	}

	rev := possync.Revision(resp.Header.Get("ETag"))
	if rev == "" {
		return nil, "", errors.Errorf(errors.OpFetch, "httpstore", errors.KindInternal,
			"server response carries no ETag")
	}

	body, err := c.readBody(resp)
	if err != nil {
		return nil, "", err
	}
	snap, err := snapshot.Unmarshal(body)
	if err != nil {
		return nil, "", err
	}
	return snap, rev, nil
}

// Write uploads snap conditionally. A non-empty expected revision becomes an
// If-Match header; an empty one becomes If-None-Match: * so the write only
// creates, never overwrites.
func (c *Client) Write(ctx context.Context, snap *snapshot.Snapshot, expected possync.Revision) (possync.Revision, error) {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return "", err
	}

	body, encoding, err := c.encodeBody(data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+snapshotPath, body)
	if err != nil {
		return "", errors.NewTransportError(errors.OpPush, "httpstore", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if expected != "" {
		req.Header.Set("If-Match", string(expected))
	} else {
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.NewTransportError(errors.OpPush, "httpstore", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.limits.MaxBodyBytes))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	case http.StatusPreconditionFailed:
		return "", errors.NewRevisionMismatch("httpstore", string(expected))
	default:
		return "", c.statusError(errors.OpPush, resp)
	}

	rev := possync.Revision(resp.Header.Get("ETag"))
	if rev == "" {
		return "", errors.Errorf(errors.OpPush, "httpstore", errors.KindInternal,
			"server accepted the write but returned no ETag")
	}
	return rev, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "possync-client")
	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}
}

func (c *Client) encodeBody(data []byte) (io.Reader, string, error) {
	if !c.limits.EnableGzip || len(data) < c.limits.GzipMinBytes {
		return bytes.NewReader(data), "", nil
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, "", errors.NewTransportError(errors.OpPush, "httpstore", err)
	}
	if err := gz.Close(); err != nil {
		return nil, "", errors.NewTransportError(errors.OpPush, "httpstore", err)
	}
	return &buf, "gzip", nil
}

// readBody reads the response body, transparently decompressing gzip and
// enforcing the configured size limits.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = io.LimitReader(resp.Body, c.limits.MaxBodyBytes+1)

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, errors.NewTransportError(errors.OpFetch, "httpstore", err)
		}
		defer gz.Close()
		reader = io.LimitReader(gz, c.limits.MaxDecompressedBytes+1)

		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, errors.NewTransportError(errors.OpFetch, "httpstore", err)
		}
		if int64(len(data)) > c.limits.MaxDecompressedBytes {
			return nil, errors.Errorf(errors.OpFetch, "httpstore", errors.KindValidation,
				"decompressed snapshot exceeds %d bytes", c.limits.MaxDecompressedBytes)
		}
		return data, nil
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.NewTransportError(errors.OpFetch, "httpstore", err)
	}
	if int64(len(data)) > c.limits.MaxBodyBytes {
		return nil, errors.Errorf(errors.OpFetch, "httpstore", errors.KindValidation,
			"snapshot response exceeds %d bytes", c.limits.MaxBodyBytes)
	}
	return data, nil
}

// statusError maps an unexpected HTTP status to a SyncError. Server-side
// errors and throttling are retryable; everything else is terminal.
func (c *Client) statusError(op errors.Operation, resp *http.Response) error {
	err := errors.Errorf(op, "httpstore", errors.KindTransport,
		"unexpected status %s", resp.Status)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return err
	}
	return err.WithRetryable(false)
}

var _ possync.RemoteStore = (*Client)(nil)
