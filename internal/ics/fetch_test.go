package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"icalsynchub/internal/source"
)

const sampleICS = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nEND:VCALENDAR\r\n"

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 0, 0)
	feed := f.Fetch(context.Background(), source.Descriptor{URL: srv.URL})
	if !feed.OK() {
		t.Fatalf("Fetch: %v", feed.Err)
	}
	if string(feed.Body) != sampleICS {
		t.Errorf("body = %q", feed.Body)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 2, 0)
	feed := f.Fetch(context.Background(), source.Descriptor{URL: srv.URL})
	if !feed.OK() {
		t.Fatalf("expected success on third attempt, got %v", feed.Err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 2, 0)
	feed := f.Fetch(context.Background(), source.Descriptor{URL: srv.URL})
	if feed.OK() {
		t.Fatal("expected failure")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3 (retries+1)", got)
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleICS))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	f := NewFetcher(time.Second, 0, 0)
	feeds := f.FetchAll(context.Background(), []source.Descriptor{
		{URL: bad.URL},
		{URL: good.URL},
	})
	if len(feeds) != 2 {
		t.Fatalf("got %d results, want 2", len(feeds))
	}
	if feeds[0].OK() {
		t.Error("bad source should have failed")
	}
	if !feeds[1].OK() {
		t.Errorf("good source should have succeeded: %v", feeds[1].Err)
	}
}

func TestFetchRespectsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(time.Second, 5, time.Hour)
	done := make(chan RawFeed, 1)
	go func() {
		done <- f.Fetch(ctx, source.Descriptor{URL: srv.URL})
	}()

	select {
	case feed := <-done:
		if feed.OK() {
			t.Error("expected failure under canceled context")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not return promptly after cancel")
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://example.com/secret/path.ics?token=abcd")
	if got != "https://example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Errorf("redactURL fallback = %q", got)
	}
}
