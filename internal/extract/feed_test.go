package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Engineering Radio</title>
    <itunes:author>ER Team</itunes:author>
    <item>
      <title>Episode 42</title>
      <itunes:duration>30:00</itunes:duration>
      <enclosure url="%s/audio/ep42.mp3" type="audio/mpeg" length="11"/>
    </item>
  </channel>
</rss>`

// TestFeedExtractSuccess parses a feed and downloads the enclosure.
func TestFeedExtractSuccess(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, feedTemplate, server.URL)
	})
	mux.HandleFunc("/audio/ep42.mp3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio-bytes"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	extractor := NewFeedExtractor(server.Client(), t.TempDir(), 0, allowAll{})
	result, err := extractor.Extract(context.Background(), Request{
		SessionID: "sess-rss",
		URL:       server.URL + "/feed.xml",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if result.Title != "Episode 42" {
		t.Fatalf("title = %q", result.Title)
	}
	if result.Author != "ER Team" {
		t.Fatalf("author = %q", result.Author)
	}
	if result.Duration != 1800 {
		t.Fatalf("duration = %v, want 1800", result.Duration)
	}
	if result.AudioPath == "" || result.FileSize != int64(len("audio-bytes")) {
		t.Fatalf("unexpected result: %+v", result)
	}
}

// TestFeedExtractNoEnclosure fails on feeds without audio.
func TestFeedExtractNoEnclosure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Empty</title><item><title>No audio</title></item></channel></rss>`))
	}))
	defer server.Close()

	extractor := NewFeedExtractor(server.Client(), t.TempDir(), 0, allowAll{})
	_, err := extractor.Extract(context.Background(), Request{SessionID: "s", URL: server.URL})
	if err == nil || !strings.Contains(err.Error(), "no audio enclosures") {
		t.Fatalf("error = %v, want no-enclosure error", err)
	}
}

// TestFeedExtractSizeCeiling rejects oversized episodes.
func TestFeedExtractSizeCeiling(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, feedTemplate, server.URL)
	})
	mux.HandleFunc("/audio/ep42.mp3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("way too many audio bytes"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	extractor := NewFeedExtractor(server.Client(), t.TempDir(), 4, allowAll{})
	_, err := extractor.Extract(context.Background(), Request{SessionID: "s", URL: server.URL + "/feed.xml"})
	if err == nil || !strings.Contains(err.Error(), "size limit") {
		t.Fatalf("error = %v, want size limit error", err)
	}
}

// TestParseITunesDuration covers the accepted formats.
func TestParseITunesDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"90", 90},
		{"01:30", 90},
		{"1:00:00", 3600},
		{"", 0},
		{"bogus", 0},
	}
	for _, tc := range cases {
		if got := parseITunesDuration(tc.raw); got != tc.want {
			t.Fatalf("parseITunesDuration(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
