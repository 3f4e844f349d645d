package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:gx="http://www.google.com/kml/ext/2.2">
<Document>
<Placemark><name>Eiffel Tower</name></Placemark>
</Document>
</kml>`

func geminiStub(t *testing.T, requestCount *int32, text string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requestCount, 1)
		if r.URL.Query().Get("key") == "" {
			t.Error("request missing api key")
		}
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
			},
			"error": map[string]any{"message": "backend unhappy"},
		})
	}))
}

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := New("test-key", WithAPIBase(base))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestGenerateKML(t *testing.T) {
	var requests int32
	server := geminiStub(t, &requests, "```xml\n"+sampleKML+"\n```", http.StatusOK)
	defer server.Close()

	c := newTestClient(t, server.URL)
	doc, err := c.GenerateKML(context.Background(), "Fly to Eiffel Tower")
	if err != nil {
		t.Fatalf("GenerateKML() error = %v", err)
	}
	if doc != sampleKML {
		t.Errorf("GenerateKML() = %q, want fences stripped sample", doc)
	}
}

func TestGenerateKMLCachesResults(t *testing.T) {
	var requests int32
	server := geminiStub(t, &requests, sampleKML, http.StatusOK)
	defer server.Close()

	c := newTestClient(t, server.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.GenerateKML(context.Background(), "Fly to Eiffel Tower"); err != nil {
			t.Fatalf("GenerateKML() #%d error = %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("made %d api requests, want 1 (cache)", got)
	}
}

func TestGenerateKMLEmptyPrompt(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	if _, err := c.GenerateKML(context.Background(), ""); err == nil {
		t.Fatal("GenerateKML(\"\") should fail")
	}
}

func TestGenerateKMLAPIError(t *testing.T) {
	var requests int32
	server := geminiStub(t, &requests, sampleKML, http.StatusTooManyRequests)
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.GenerateKML(context.Background(), "Fly to Tokyo")
	if err == nil || !strings.Contains(err.Error(), "backend unhappy") {
		t.Errorf("GenerateKML() error = %v, want api error message surfaced", err)
	}
}

func TestGenerateKMLRejectsInvalidMarkup(t *testing.T) {
	var requests int32
	server := geminiStub(t, &requests, "sorry, I can only answer questions about cooking", http.StatusOK)
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.GenerateKML(context.Background(), "Fly to Sydney"); err == nil {
		t.Fatal("GenerateKML() should reject non-kml output")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	saved := APIKeyEnv
	APIKeyEnv = ""
	defer func() { APIKeyEnv = saved }()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") without GOOGLE_API_KEY should fail")
	}
}
