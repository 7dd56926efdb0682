package contentstack

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/contentstack-mcp/mcpservice"
)

func testClient(t *testing.T, h http.HandlerFunc, mutate func(*Config)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := Config{
		APIKey:          "blt-key",
		DeliveryToken:   "cs-delivery",
		Environment:     "production",
		ManagementToken: "cs-mgmt",
		DeliveryURL:     srv.URL,
		ManagementURL:   srv.URL + "/",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := NewClient(cfg,
		WithHTTPClient(srv.Client()),
		WithRetry(3, time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return c, srv
}

func TestSearchEntriesRequest(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method %s", r.Method)
		}
		if r.URL.Path != "/v3/content_types/blog post/entries" {
			t.Errorf("path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("environment"); got != "production" {
			t.Errorf("environment %q", got)
		}
		var q map[string]any
		if err := json.Unmarshal([]byte(r.URL.Query().Get("query")), &q); err != nil || q["title"] != "Home" {
			t.Errorf("query %q (%v)", r.URL.Query().Get("query"), err)
		}
		if r.Header.Get("api_key") != "blt-key" || r.Header.Get("access_token") != "cs-delivery" {
			t.Errorf("auth headers %v", r.Header)
		}
		_, _ = io.WriteString(w, `{"entries":[{"uid":"e1","title":"Home"}]}`)
	}, nil)

	body, err := c.SearchEntries(t.Context(), "blog post", map[string]any{"title": "Home"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(string(body), `"uid":"e1"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestSearchEntriesOmitsEmptyQuery(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["query"]; ok {
			t.Error("empty query should not be sent")
		}
		_, _ = io.WriteString(w, `{"entries":[]}`)
	}, nil)
	if _, err := c.SearchEntries(t.Context(), "page", nil); err != nil {
		t.Fatalf("search: %v", err)
	}
}

func TestSearchEntriesRetries(t *testing.T) {
	t.Run("server errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				http.Error(w, `{"error_message":"busy"}`, http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, `{"entries":[]}`)
		}, nil)
		if _, err := c.SearchEntries(t.Context(), "page", nil); err != nil {
			t.Fatalf("search: %v", err)
		}
		if calls.Load() != 3 {
			t.Fatalf("expected 3 attempts, got %d", calls.Load())
		}
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, `{"error_message":"content type not found"}`, http.StatusNotFound)
		}, nil)
		_, err := c.SearchEntries(t.Context(), "missing", nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			t.Fatalf("expected 404 APIError, got %v", err)
		}
		if calls.Load() != 1 {
			t.Fatalf("expected a single attempt, got %d", calls.Load())
		}
	})
}

func TestCreateEntryRequest(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/content_types/page/entries" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("authorization") != "cs-mgmt" || r.Header.Get("api_key") != "blt-key" {
			t.Errorf("auth headers %v", r.Header)
		}
		var body struct {
			Entry map[string]any `json:"entry"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Entry["title"] != "New" {
			t.Errorf("body %+v (%v)", body, err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"notice":"Entry created successfully.","entry":{"uid":"e9"}}`)
	}, nil)

	body, err := c.CreateEntry(t.Context(), "page", map[string]any{"title": "New"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(string(body), `"uid":"e9"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestCreateEntryWithoutManagementToken(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, func(cfg *Config) { cfg.ManagementToken = "" })

	if _, err := c.CreateEntry(t.Context(), "page", map[string]any{}); !errors.Is(err, ErrManagementTokenMissing) {
		t.Fatalf("expected ErrManagementTokenMissing, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("no request should be issued")
	}
}

func TestTools(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/broken/"):
			http.Error(w, `{"error_code":118}`, http.StatusUnprocessableEntity)
		case r.Method == http.MethodGet:
			_, _ = io.WriteString(w, `{"entries":[{"uid":"e1"}]}`)
		default:
			_, _ = io.WriteString(w, `{"entry":{"uid":"e2"}}`)
		}
	}, nil)
	tools := mcpservice.NewToolsContainer(Tools(c)...)

	page, err := tools.ListTools(t.Context(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range page.Items {
		names[tool.Name] = true
	}
	if !names["searchEntries"] || !names["createEntry"] || len(names) != 2 {
		t.Fatalf("unexpected tools %v", names)
	}

	tests := []struct {
		name      string
		tool      string
		args      string
		wantError bool
		wantText  string
	}{
		{"search ok", "searchEntries", `{"contentType":"page"}`, false, `"uid": "e1"`},
		{"search upstream failure", "searchEntries", `{"contentType":"broken"}`, true, "Contentstack returned 422"},
		{"create ok", "createEntry", `{"contentType":"page","entry":{"title":"x"}}`, false, `"uid": "e2"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tools.Invoke(t.Context(), tt.tool, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("invoke: %v", err)
			}
			if res.IsError != tt.wantError {
				t.Fatalf("isError=%v, want %v: %+v", res.IsError, tt.wantError, res.Content)
			}
			if len(res.Content) != 1 || !strings.Contains(res.Content[0].Text, tt.wantText) {
				t.Fatalf("unexpected content %+v", res.Content)
			}
		})
	}

	t.Run("invalid arguments", func(t *testing.T) {
		for _, args := range []string{`{}`, `{"contentType":""}`, `{"contentType":"page"}`} {
			_, err := tools.Invoke(t.Context(), "createEntry", json.RawMessage(args))
			var argErr *mcpservice.ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("args %s: expected ArgumentError, got %v", args, err)
			}
		}
	})
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{APIKey: "k", DeliveryToken: "d", Environment: "e"}).Validate(); err != nil {
		t.Fatalf("complete config: %v", err)
	}
	err := (Config{APIKey: "k"}).Validate()
	if err == nil || !strings.Contains(err.Error(), "DELIVERY_TOKEN") || !strings.Contains(err.Error(), "ENVIRONMENT") {
		t.Fatalf("unexpected error %v", err)
	}
}
