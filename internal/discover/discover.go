// Package discover walks category listings and yields candidate document
// references, either through the portal's paginated JSON index or through a
// heuristic HTML link scan when a category has no index identifier.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	collyfetcher "github.com/procuredocs/regcrawler/internal/fetcher/colly"
	"github.com/procuredocs/regcrawler/internal/regulation"
)

// Fetcher is the slice of the resilient fetcher the discoverer needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (collyfetcher.Response, error)
}

// Config locates the portal's listing surfaces.
type Config struct {
	BaseURL  string
	IndexURL string
	PageSize int
}

// Discoverer yields list pages for a category.
type Discoverer struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Discoverer.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, cfg: cfg, logger: logger}
}

// indexEnvelope mirrors the portal's JSON index response.
type indexEnvelope struct {
	List *indexList `json:"list"`
}

type indexList struct {
	TotalNum    int         `json:"totalNum"`
	ContentList []indexItem `json:"contentList"`
}

type indexItem struct {
	DetailPath  string `json:"pcUrl"`
	Title       string `json:"BT"`
	PublishDate string `json:"FBSJ"`
}

// TotalPages fetches the first index page and derives the page count. A
// category reporting zero items yields zero pages; that is not an error.
func (d *Discoverer) TotalPages(ctx context.Context, cat regulation.Category) (int, error) {
	if cat.LMID == "" {
		// No index for this source; the HTML fallback is a single page.
		return 1, nil
	}
	list, err := d.fetchIndex(ctx, cat.LMID, 1)
	if err != nil {
		return 0, err
	}
	if list == nil || list.TotalNum == 0 {
		return 0, nil
	}
	return (list.TotalNum + d.cfg.PageSize - 1) / d.cfg.PageSize, nil
}

// Pages returns a lazy, restartable sequence of list pages. Each page is
// fetched only when the iterator reaches it; a page-level fetch error is
// yielded alongside an empty page so the caller can skip it and continue.
func (d *Discoverer) Pages(ctx context.Context, cat regulation.Category) iter.Seq2[regulation.ListPage, error] {
	return func(yield func(regulation.ListPage, error) bool) {
		total, err := d.TotalPages(ctx, cat)
		if err != nil {
			yield(regulation.ListPage{}, fmt.Errorf("page count for %s: %w", cat.Name, err))
			return
		}
		for n := 1; n <= total; n++ {
			page, err := d.page(ctx, cat, n, total)
			if !yield(page, err) {
				return
			}
		}
	}
}

func (d *Discoverer) page(ctx context.Context, cat regulation.Category, n, total int) (regulation.ListPage, error) {
	page := regulation.ListPage{Number: n, TotalPages: total}

	if cat.LMID == "" {
		items, err := d.scanCategoryHTML(ctx, cat)
		if err != nil {
			return page, err
		}
		page.Items = items
		return page, nil
	}

	list, err := d.fetchIndex(ctx, cat.LMID, n)
	if err != nil {
		return page, err
	}
	if list == nil {
		return page, nil
	}
	for _, item := range list.ContentList {
		if item.DetailPath == "" {
			continue
		}
		detailURL, err := resolveURL(d.cfg.BaseURL, item.DetailPath)
		if err != nil {
			d.logger.Warn("skipping unresolvable detail path",
				zap.String("category", cat.Name),
				zap.String("path", item.DetailPath),
			)
			continue
		}
		page.Items = append(page.Items, regulation.ListItem{
			DetailURL: detailURL,
			TitleHint: item.Title,
			DateHint:  item.PublishDate,
		})
	}
	return page, nil
}

func (d *Discoverer) fetchIndex(ctx context.Context, lmid string, page int) (*indexList, error) {
	params := url.Values{
		"lmid":        {lmid},
		"currentPage": {strconv.Itoa(page)},
	}
	resp, err := d.fetcher.Get(ctx, d.cfg.IndexURL, params)
	if err != nil {
		return nil, fmt.Errorf("fetch index page %d: %w", page, err)
	}
	var envelope indexEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decode index page %d: %w", page, err)
	}
	if envelope.List == nil {
		d.logger.Warn("index response missing list payload", zap.Int("page", page))
	}
	return envelope.List, nil
}

func (d *Discoverer) scanCategoryHTML(ctx context.Context, cat regulation.Category) ([]regulation.ListItem, error) {
	listingURL, err := resolveURL(d.cfg.BaseURL, cat.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve category path %q: %w", cat.Path, err)
	}
	resp, err := d.fetcher.Get(ctx, listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch category listing: %w", err)
	}
	return ScanListHTML(resp.Body, listingURL)
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse ref url: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}
