package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nevindra/tideline"
)

// braveServer serves the Brave API at /search and pages under /page/.
func braveServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		type item struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		}
		var items []item
		for _, name := range []string{"a", "b", "broken", "a"} {
			items = append(items, item{
				Title:       "Page <strong>" + name + "</strong>",
				URL:         srv.URL + "/page/" + name,
				Description: "snippet " + name,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"web": map[string]any{"results": items}})
	})
	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[strings.TrimPrefix(r.URL.Path, "/page/")]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(body))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	srv := braveServer(t, map[string]string{"a": "content of a", "b": "content of b"})
	engine := New("key", WithEndpoint(srv.URL+"/search"))

	var (
		mu       sync.Mutex
		progress []tideline.SearchProgress
	)
	docs, err := engine.NewSearch("tokyo weather").Run(context.Background(), 5, func(p tideline.SearchProgress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 deduplicated documents, got %d: %+v", len(docs), docs)
	}
	if docs[0].Title != "Page a" || docs[0].Text != "content of a" {
		t.Errorf("docs[0] = %+v", docs[0])
	}
	if docs[2].Text != "snippet broken" {
		t.Errorf("failed fetch should keep the snippet, got %q", docs[2].Text)
	}

	last := progress[len(progress)-1]
	if last.WebsitesFetched != 3 || last.Fraction < 0.999 {
		t.Errorf("last progress = %+v", last)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i].Fraction < progress[i-1].Fraction {
			t.Errorf("progress went backwards: %+v", progress)
		}
	}
}

func TestRunLimit(t *testing.T) {
	srv := braveServer(t, map[string]string{"a": "a", "b": "b"})
	docs, err := New("key", WithEndpoint(srv.URL+"/search")).NewSearch("q").Run(context.Background(), 1, nil)
	if err != nil || len(docs) != 1 {
		t.Errorf("docs = %+v, %v", docs, err)
	}
}

func TestRunAPIError(t *testing.T) {
	srv := braveServer(t, nil)
	_, err := New("wrong", WithEndpoint(srv.URL+"/search")).NewSearch("q").Run(context.Background(), 3, nil)
	var httpErr *tideline.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized {
		t.Errorf("err = %v, want ErrHTTP 401", err)
	}
}

func TestCancel(t *testing.T) {
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := New("key", WithEndpoint(srv.URL)).NewSearch("q")
	go func() {
		<-arrived
		s.Cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), 3, nil)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}
}

func TestCancelledContext(t *testing.T) {
	srv := braveServer(t, nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	cause := errors.New("user stopped")
	cancel(cause)
	_, err := New("key", WithEndpoint(srv.URL+"/search")).NewSearch("q").Run(ctx, 3, nil)
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want cause", err)
	}
}
