package logging

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/arteapos/possync/errors"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "text"}, &buf)

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("info record emitted at warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn record missing")
	}
}

func TestLogErrorRendersSyncError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json"}, &buf)

	err := errors.E(errors.OpFetch, "transport/s3", errors.KindTransport,
		stderrors.New("dial tcp: timeout")).
		WithMetadata("bucket", "pos-backups")
	logger.LogError(context.Background(), err, "fetch failed")

	out := buf.String()
	for _, want := range []string{"TRANSPORT", "transport/s3", "dial tcp: timeout", "pos-backups", "retryable"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestLogErrorHandlesPlainError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "text"}, &buf)

	logger.LogError(context.Background(), stderrors.New("plain failure"), "oops")

	if !strings.Contains(buf.String(), "plain failure") {
		t.Error("plain error message missing from output")
	}
}

func TestLogOperationReturnsFnError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "text"}, &buf)

	sentinel := stderrors.New("merge exploded")
	err := logger.LogOperation(context.Background(), errors.OpMerge, func() error {
		return sentinel
	})
	if !stderrors.Is(err, sentinel) {
		t.Errorf("LogOperation swallowed the error: %v", err)
	}
	if !strings.Contains(buf.String(), "operation failed") {
		t.Error("failure record missing")
	}

	buf.Reset()
	if err := logger.LogOperation(context.Background(), errors.OpMerge, func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "operation completed") {
		t.Error("completion record missing")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "text"}, &buf)

	logger.WithComponent("merge").Info("hello")

	if !strings.Contains(buf.String(), "component=merge") {
		t.Errorf("component attribute missing: %s", buf.String())
	}
}
