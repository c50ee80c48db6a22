package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
)

// FeedExtractor resolves podcast RSS/Atom feeds: metadata comes from
// the feed itself and the audio is the newest item's enclosure.
type FeedExtractor struct {
	parser   *gofeed.Parser
	client   *http.Client
	audioDir string
	maxBytes int64
	cancels  cancelCheck
}

// NewFeedExtractor builds the feed-backed extractor.
func NewFeedExtractor(client *http.Client, audioDir string, maxBytes int64, cancels cancelCheck) *FeedExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	parser := gofeed.NewParser()
	parser.Client = client
	return &FeedExtractor{
		parser:   parser,
		client:   client,
		audioDir: audioDir,
		maxBytes: maxBytes,
		cancels:  cancels,
	}
}

// Extract parses the feed, picks the newest audio enclosure, and
// downloads it to the audio directory.
func (e *FeedExtractor) Extract(ctx context.Context, req Request) (domain.ExtractionResult, error) {
	emit(req, 0, "Fetching podcast feed")
	if !e.cancels.IsWanted(req.SessionID) {
		return domain.ExtractionResult{}, jobs.ErrCancelled
	}

	feed, err := e.parser.ParseURLWithContext(req.URL, ctx)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("parse podcast feed: %w", err)
	}

	item, enclosure, err := newestAudioItem(feed)
	if err != nil {
		return domain.ExtractionResult{}, err
	}

	result := domain.ExtractionResult{
		AudioURL: enclosure.URL,
		Title:    item.Title,
		Author:   feedAuthor(feed, item),
	}
	if item.Image != nil {
		result.Thumbnail = item.Image.URL
	} else if feed.Image != nil {
		result.Thumbnail = feed.Image.URL
	}
	if item.ITunesExt != nil {
		result.Duration = parseITunesDuration(item.ITunesExt.Duration)
	}

	emit(req, 20, "Downloading episode audio")
	if !e.cancels.IsWanted(req.SessionID) {
		return domain.ExtractionResult{}, jobs.ErrCancelled
	}

	audioPath := filepath.Join(e.audioDir, req.SessionID+audioExt(enclosure.URL))
	size, err := e.download(ctx, enclosure.URL, audioPath)
	if err != nil {
		return domain.ExtractionResult{}, err
	}

	result.AudioPath = audioPath
	result.FileSize = size
	emit(req, 100, "Audio extraction complete")
	return result, nil
}

// download streams the enclosure to disk, enforcing the size ceiling.
func (e *FeedExtractor) download(ctx context.Context, url, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create audio directory: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build enclosure request: %w", err)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("download enclosure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download enclosure: unexpected status %d", resp.StatusCode)
	}
	if e.maxBytes > 0 && resp.ContentLength > e.maxBytes {
		return 0, fmt.Errorf("episode audio exceeds size limit: %d bytes", resp.ContentLength)
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create audio file: %w", err)
	}
	defer out.Close()

	reader := io.Reader(resp.Body)
	if e.maxBytes > 0 {
		// Guard against servers that omit Content-Length.
		reader = io.LimitReader(resp.Body, e.maxBytes+1)
	}

	written, err := io.Copy(out, reader)
	if err != nil {
		return 0, fmt.Errorf("write audio file: %w", err)
	}
	if e.maxBytes > 0 && written > e.maxBytes {
		_ = os.Remove(dest)
		return 0, fmt.Errorf("episode audio exceeds size limit: %d bytes", written)
	}
	return written, nil
}

// newestAudioItem returns the first feed item carrying an audio
// enclosure. Feeds list newest episodes first.
func newestAudioItem(feed *gofeed.Feed) (*gofeed.Item, *gofeed.Enclosure, error) {
	for _, item := range feed.Items {
		for _, enc := range item.Enclosures {
			if enc.URL == "" {
				continue
			}
			if strings.HasPrefix(enc.Type, "audio/") || enc.Type == "" {
				return item, enc, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("feed has no audio enclosures")
}

// feedAuthor prefers item-level author, then feed-level.
func feedAuthor(feed *gofeed.Feed, item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0].Name != "" {
		return item.Authors[0].Name
	}
	if item.ITunesExt != nil && item.ITunesExt.Author != "" {
		return item.ITunesExt.Author
	}
	if len(feed.Authors) > 0 && feed.Authors[0].Name != "" {
		return feed.Authors[0].Name
	}
	return feed.Title
}

// parseITunesDuration accepts seconds or HH:MM:SS / MM:SS formats.
func parseITunesDuration(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	parts := strings.Split(raw, ":")
	var total float64
	for _, part := range parts {
		var v float64
		if _, err := fmt.Sscanf(part, "%f", &v); err != nil {
			return 0
		}
		total = total*60 + v
	}
	return total
}

// audioExt derives a file extension from the enclosure URL.
func audioExt(url string) string {
	ext := strings.ToLower(filepath.Ext(strings.SplitN(url, "?", 2)[0]))
	switch ext {
	case ".mp3", ".m4a", ".wav", ".ogg", ".aac", ".flac":
		return ext
	default:
		return ".mp3"
	}
}
