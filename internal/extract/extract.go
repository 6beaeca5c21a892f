// Package extract pulls structured metadata and body content out of detail
// pages using ordered cascades of selector strategies.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	collyfetcher "github.com/procuredocs/regcrawler/internal/fetcher/colly"
	"github.com/procuredocs/regcrawler/internal/regulation"
)

// ErrNoTitle marks a page with no usable title under any strategy. Such a
// document is skipped, not ingested with a default.
var ErrNoTitle = errors.New("no usable title")

// Fetcher is the slice of the resilient fetcher the extractor needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (collyfetcher.Response, error)
}

// Detail is the outcome of extracting one detail page. Page is the parsed
// document, retained so the attachment pipeline can scan it without a
// second fetch.
type Detail struct {
	Doc  *regulation.Document
	Page *goquery.Document
}

// Extractor fetches detail pages and runs the extraction cascades.
type Extractor struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// New builds an Extractor.
func New(fetcher Fetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, logger: logger}
}

// Extract fetches detailURL and extracts title, publish date and body
// content. A missing date or body is not an error; a missing title is
// ErrNoTitle and means the document should be skipped.
func (e *Extractor) Extract(ctx context.Context, detailURL, category string) (*Detail, error) {
	resp, err := e.fetcher.Get(ctx, detailURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch detail page: %w", err)
	}
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	title, titleStrategy := runCascade(page, titleStrategies)
	if title == "" {
		e.logger.Warn("no title extracted", zap.String("url", detailURL))
		return nil, fmt.Errorf("%s: %w", detailURL, ErrNoTitle)
	}

	doc := &regulation.Document{
		Title:     title,
		Category:  category,
		SourceURL: detailURL,
	}

	if published, ok := extractPublishDate(page); ok {
		doc.PublishDate = &published
	}

	content, contentStrategy := runCascade(page, contentStrategies)
	doc.Content = content

	doc.Fingerprint = regulation.Fingerprint(doc.Title, doc.Content)

	e.logger.Debug("detail extracted",
		zap.String("url", detailURL),
		zap.String("title_strategy", titleStrategy),
		zap.String("content_strategy", contentStrategy),
		zap.Bool("has_date", doc.PublishDate != nil),
	)
	return &Detail{Doc: doc, Page: page}, nil
}
