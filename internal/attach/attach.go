// Package attach discovers, downloads and parses document attachments. All
// failures are contained at this package's boundary: a broken attachment
// degrades to absent fields, never to a failed document.
package attach

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	collyfetcher "github.com/procuredocs/regcrawler/internal/fetcher/colly"
)

// Fetcher is the slice of the resilient fetcher the pipeline needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (collyfetcher.Response, error)
}

// Config controls attachment storage.
type Config struct {
	// AttachmentDir is the root under which files are stored, partitioned by
	// download year.
	AttachmentDir string
}

// Result carries the optional attachment triple for one document.
type Result struct {
	URL  string
	Path string
	Text string
}

// Pipeline downloads the first eligible attachment of a detail page and
// extracts its text.
type Pipeline struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a Pipeline.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{fetcher: fetcher, cfg: cfg, logger: logger, now: time.Now}
}

// Process scans page for attachment links and handles the first candidate.
// Later candidates are discarded: one attachment per document is a deliberate
// scope limit. Every field of the result is optional; errors never propagate
// past this method.
func (p *Pipeline) Process(ctx context.Context, page *goquery.Document, baseURL, title string) Result {
	links := DiscoverLinks(page, baseURL)
	if len(links) == 0 {
		return Result{}
	}

	result := Result{URL: links[0]}
	storedPath, text, err := p.downloadAndParse(ctx, links[0], title)
	if err != nil {
		p.logger.Error("attachment processing failed",
			zap.String("url", links[0]),
			zap.Error(err),
		)
		return result
	}
	result.Path = storedPath
	result.Text = text
	return result
}

func (p *Pipeline) downloadAndParse(ctx context.Context, fileURL, title string) (string, string, error) {
	resp, err := p.fetcher.Get(ctx, fileURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("download attachment: %w", err)
	}

	storedPath, err := p.store(fileURL, title, resp.Body)
	if err != nil {
		return "", "", err
	}

	text, err := p.ExtractText(storedPath)
	if err != nil {
		// The file is stored even when parsing fails; the path stays useful
		// for the download endpoint.
		p.logger.Warn("attachment parse failed",
			zap.String("path", storedPath),
			zap.Error(err),
		)
		return storedPath, "", nil
	}
	return storedPath, text, nil
}

var illegalFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

func (p *Pipeline) store(fileURL, title string, body []byte) (string, error) {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("parse attachment url: %w", err)
	}
	filename := path.Base(parsed.Path)
	if filename == "" || filename == "." || filename == "/" {
		filename = syntheticFilename(title)
	}
	filename = illegalFilenameChars.ReplaceAllString(filename, "_")

	yearDir := filepath.Join(p.cfg.AttachmentDir, strconv.Itoa(p.now().Year()))
	if err := os.MkdirAll(yearDir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	storedPath := filepath.Join(yearDir, filename)
	if err := os.WriteFile(storedPath, body, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return storedPath, nil
}

// syntheticFilename derives a stand-in name from the document title when the
// URL path carries none.
func syntheticFilename(title string) string {
	runes := []rune(title)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes) + ".dat"
}
