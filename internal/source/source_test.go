package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

func TestHTTPFetchBatchShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"id":"a","priority":"high"},{"id":"b"}]`, 2},
		{"envelope", `{"notifications":[{"id":"a"}]}`, 1},
		{"data envelope", `{"status":"success","data":[{"id":"a"},{"id":"b"},{"id":"c"}]}`, 3},
		{"empty", ``, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
					t.Errorf("Authorization = %q", got)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			h, err := NewHTTP(HTTPConfig{URL: srv.URL, Token: "s3cret"}, logx.Nop())
			if err != nil {
				t.Fatalf("NewHTTP: %v", err)
			}
			got, err := h.FetchBatch(context.Background())
			if err != nil {
				t.Fatalf("FetchBatch: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d items, want %d", len(got), tt.want)
			}
		})
	}
}

func TestHTTPFetchBatchErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			_, _ = w.Write([]byte(`{"notifications": [`))
			return
		}
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	h, _ := NewHTTP(HTTPConfig{URL: srv.URL + "/down"}, logx.Nop())
	if _, err := h.FetchBatch(context.Background()); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want status error", err)
	}
	h, _ = NewHTTP(HTTPConfig{URL: srv.URL + "/broken"}, logx.Nop())
	if _, err := h.FetchBatch(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := NewHTTP(HTTPConfig{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestMockBatchesOverlap(t *testing.T) {
	t.Parallel()
	m := NewMock(MockConfig{PerPoll: 2, Window: 4, Seed: 7}, clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	first, err := m.FetchBatch(ctx)
	if err != nil || len(first) == 0 {
		t.Fatalf("first batch = %d, %v", len(first), err)
	}
	second, _ := m.FetchBatch(ctx)
	if len(second) > 4 {
		t.Fatalf("batch exceeds window: %d", len(second))
	}
	seen := map[string]bool{}
	for _, r := range second {
		seen[r.ID] = true
	}
	overlap := 0
	for _, r := range first {
		if seen[r.ID] {
			overlap++
		}
	}
	if overlap == 0 {
		t.Fatal("consecutive batches should repeat recent events")
	}
	for _, r := range second {
		if r.ID == "" || r.Title == "" || r.Category == "" {
			t.Fatalf("incomplete event: %+v", r)
		}
		if _, err := r.Normalize(time.Now()); err != nil {
			t.Fatalf("generated event does not normalize: %v", err)
		}
	}
}
