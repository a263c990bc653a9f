package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackProvider_PrimarySucceeds(t *testing.T) {
	primary := &scriptedProvider{name: "primary", content: "ok"}
	secondary := &scriptedProvider{name: "secondary", content: "never"}
	fp := NewFallbackProvider([]Provider{primary, secondary}, discardLogger())

	resp, err := fp.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected primary response, got %q", resp.Content)
	}
	if secondary.lastReq != nil {
		t.Fatal("secondary should not be called when primary succeeds")
	}
}

func TestFallbackProvider_FallsThrough(t *testing.T) {
	primary := &scriptedProvider{name: "primary", err: errors.New("down")}
	secondary := &scriptedProvider{name: "secondary", content: "recovered"}
	fp := NewFallbackProvider([]Provider{primary, secondary}, discardLogger())

	resp, err := fp.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("expected secondary response, got %q", resp.Content)
	}
}

func TestFallbackProvider_AllFail(t *testing.T) {
	last := errors.New("last failure")
	fp := NewFallbackProvider([]Provider{
		&scriptedProvider{name: "a", err: errors.New("first failure")},
		&scriptedProvider{name: "b", err: last},
	}, discardLogger())

	_, err := fp.SendMessage(context.Background(), &Request{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	if !errors.Is(err, last) {
		t.Fatalf("expected last error to be wrapped, got: %v", err)
	}
}

func TestFallbackProvider_Name(t *testing.T) {
	fp := NewFallbackProvider([]Provider{&scriptedProvider{name: "primary"}}, discardLogger())
	if fp.Name() != "primary+fallback" {
		t.Fatalf("unexpected name: %q", fp.Name())
	}
}
