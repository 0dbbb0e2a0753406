package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nevindra/tideline"
)

const article = `<html><head><title>Rainy  Season in Tokyo</title></head><body>
<nav>Home | News</nav>
<article><h1>Rainy Season</h1>
<p>The rainy season in Tokyo usually begins in early June and lasts about six weeks. Humidity is high and showers are frequent.</p>
<p>Most years the season ends by late July, after which temperatures climb quickly across the Kanto region.</p>
</article></body></html>`

func TestFetcherHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Tideline") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(article))
	}))
	defer srv.Close()

	page, err := NewFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if page.Title != "Rainy Season in Tokyo" {
		t.Errorf("Title = %q", page.Title)
	}
	if !strings.Contains(page.Text, "early June") || strings.Contains(page.Text, "<p>") {
		t.Errorf("Text = %q", page.Text)
	}
	if page.URL != srv.URL {
		t.Errorf("URL = %q", page.URL)
	}
}

func TestFetcherPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("  <b>not html</b>\n"))
	}))
	defer srv.Close()

	page, err := NewFetcher().Fetch(context.Background(), srv.URL)
	if err != nil || page.Text != "<b>not html</b>" {
		t.Errorf("page = %+v, %v", page, err)
	}
}

func TestFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), srv.URL)
	var httpErr *tideline.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusNotFound {
		t.Errorf("err = %v, want ErrHTTP 404", err)
	}
	if _, err := NewFetcher().Fetch(context.Background(), "ftp://example.com/file"); err == nil {
		t.Error("non-http scheme should fail")
	}
}

func TestFetcherMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	page, _ := NewFetcher(WithMaxBytes(10)).Fetch(context.Background(), srv.URL)
	if len(page.Text) != 10 {
		t.Errorf("len = %d, want 10", len(page.Text))
	}
}

func TestToolExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("A", 10000)))
	}))
	defer srv.Close()

	tool := New(nil)
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	res, err := tool.Execute(context.Background(), "http_fetch", args)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(res.Content, "... (truncated)") || len(res.Content) > defaultMaxChars+32 {
		t.Errorf("content not truncated: %d", len(res.Content))
	}

	res, _ = tool.Execute(context.Background(), "http_fetch", json.RawMessage(`{"url":"::bad"}`))
	if res.Error == "" {
		t.Error("expected error for invalid URL")
	}
	res, _ = tool.Execute(context.Background(), "http_fetch", json.RawMessage(`not json`))
	if !strings.HasPrefix(res.Error, "invalid args") {
		t.Errorf("Error = %q", res.Error)
	}
}
