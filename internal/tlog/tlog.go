package tlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

// New returns a logger that writes to the test's log.
func New(t testing.TB) *slog.Logger {
	return slog.New(&testHandler{T: t})
}

type testHandler struct {
	T     testing.TB
	attrs []slog.Attr
}

func (h *testHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *testHandler) Handle(_ context.Context, rec slog.Record) error {
	buf := &strings.Builder{}
	buf.WriteString(rec.Level.String())
	buf.WriteString(" - ")
	buf.WriteString(rec.Message)

	write := func(attr slog.Attr) bool {
		fmt.Fprintf(buf, " %s=%v", attr.Key, attr.Value)
		return true
	}
	for _, attr := range h.attrs {
		write(attr)
	}
	rec.Attrs(write)

	h.T.Helper()
	h.T.Log(buf.String())
	return nil
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &testHandler{
		T:     h.T,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *testHandler) WithGroup(string) slog.Handler {
	return h
}
