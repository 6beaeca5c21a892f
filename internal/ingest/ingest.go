// Package ingest orchestrates crawl runs: it walks category listings, extracts
// detail pages, resolves duplicates by content fingerprint and persists the
// results, appending one run log per category. At most one run is active at a
// time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/procuredocs/regcrawler/internal/attach"
	"github.com/procuredocs/regcrawler/internal/extract"
	"github.com/procuredocs/regcrawler/internal/metrics"
	"github.com/procuredocs/regcrawler/internal/regulation"
)

// ErrRunActive is returned when a crawl is requested while another run holds
// the gate. Callers get it immediately; they never queue.
var ErrRunActive = errors.New("crawl run already active")

// ErrUnknownCategory is returned when a crawl names a category the service is
// not configured with.
var ErrUnknownCategory = errors.New("unknown category")

// Discoverer yields list pages for a category.
type Discoverer interface {
	Pages(ctx context.Context, cat regulation.Category) iter.Seq2[regulation.ListPage, error]
}

// Extractor turns a detail URL into a document.
type Extractor interface {
	Extract(ctx context.Context, detailURL, category string) (*extract.Detail, error)
}

// Attachments handles the optional attachment of one detail page.
type Attachments interface {
	Process(ctx context.Context, page *goquery.Document, baseURL, title string) attach.Result
}

// Config carries the orchestrator's pacing knobs and category set.
type Config struct {
	Categories    []regulation.Category
	ItemDelay     time.Duration
	PageDelay     time.Duration
	CategoryDelay time.Duration
}

// Status reports whether a run is active and which one.
type Status struct {
	Running   bool      `json:"is_running"`
	Category  string    `json:"category,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Runner coordinates crawl runs over the configured categories.
type Runner struct {
	discoverer  Discoverer
	extractor   Extractor
	attachments Attachments
	store       regulation.Store
	cfg         Config
	logger      *zap.Logger

	sleep func(context.Context, time.Duration)
	now   func() time.Time

	// mu guards the run gate state below. The runner owns this state; nothing
	// else mutates it.
	mu        sync.Mutex
	running   bool
	category  string
	startedAt time.Time
}

// New builds a Runner.
func New(d Discoverer, e Extractor, a Attachments, store regulation.Store, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Runner{
		discoverer:  d,
		extractor:   e,
		attachments: a,
		store:       store,
		cfg:         cfg,
		logger:      logger,
		sleep:       sleepCtx,
		now:         time.Now,
	}
}

// Categories returns the configured category set.
func (r *Runner) Categories() []regulation.Category {
	return r.cfg.Categories
}

// Status returns the current run gate state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Running: r.running, Category: r.category, StartedAt: r.startedAt}
}

func (r *Runner) begin(category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRunActive
	}
	r.running = true
	r.category = category
	r.startedAt = r.now()
	return nil
}

func (r *Runner) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.category = ""
	r.startedAt = time.Time{}
}

// CrawlCategory runs one named category under the run gate and returns the
// number of documents processed.
func (r *Runner) CrawlCategory(ctx context.Context, name string) (int, error) {
	cat, ok := r.findCategory(name)
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownCategory)
	}
	if err := r.begin(cat.Name); err != nil {
		return 0, err
	}
	defer r.end()
	return r.runCategory(ctx, cat)
}

// CrawlAll runs every configured category in order under a single hold of the
// run gate. Each category gets its own run log; a failed category does not
// stop the ones after it. The aggregate run itself logs nothing here; the
// scheduler adds its own summary entry on top.
func (r *Runner) CrawlAll(ctx context.Context) (int, error) {
	if err := r.begin("all"); err != nil {
		return 0, err
	}
	defer r.end()

	var (
		total int
		errs  []error
	)
	for i, cat := range r.cfg.Categories {
		count, err := r.runCategory(ctx, cat)
		total += count
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cat.Name, err))
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if i < len(r.cfg.Categories)-1 {
			r.sleep(ctx, r.cfg.CategoryDelay)
		}
	}
	return total, errors.Join(errs...)
}

// CrawlScheduled runs CrawlAll and appends one aggregate run log on top of
// the per-category entries. Manual CrawlAll does not get this summary row.
func (r *Runner) CrawlScheduled(ctx context.Context) (int, error) {
	total, err := r.CrawlAll(ctx)
	if errors.Is(err, ErrRunActive) {
		return 0, err
	}

	log := regulation.RunLog{Category: "all", Status: regulation.RunStatusSuccess, Count: total}
	if err != nil {
		log.Status = regulation.RunStatusFailed
		log.ErrorMessage = err.Error()
	}
	if aerr := r.store.AppendRunLog(ctx, log); aerr != nil {
		r.logger.Error("aggregate run log append failed", zap.Error(aerr))
	}
	return total, err
}

func (r *Runner) findCategory(name string) (regulation.Category, bool) {
	for _, cat := range r.cfg.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return regulation.Category{}, false
}

// runCategory walks one category and appends its run log. A panic inside the
// walk is converted into a failed run log at this boundary; item failures are
// handled as ordinary errors well before that.
func (r *Runner) runCategory(ctx context.Context, cat regulation.Category) (count int, err error) {
	start := r.now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("category %s: panic: %v", cat.Name, rec)
			r.logger.Error("crawl run panicked", zap.String("category", cat.Name), zap.Any("panic", rec))
		}

		log := regulation.RunLog{Category: cat.Name, Status: regulation.RunStatusSuccess, Count: count}
		if err != nil {
			log.Status = regulation.RunStatusFailed
			log.ErrorMessage = err.Error()
		}
		metrics.ObserveRun(cat.Name, string(log.Status), r.now().Sub(start))
		if aerr := r.store.AppendRunLog(ctx, log); aerr != nil {
			r.logger.Error("run log append failed", zap.String("category", cat.Name), zap.Error(aerr))
		}
	}()

	r.logger.Info("crawl run started", zap.String("category", cat.Name))

	for page, perr := range r.discoverer.Pages(ctx, cat) {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		if perr != nil {
			if page.Number == 0 {
				// Discovery itself failed; there is nothing to walk.
				return count, perr
			}
			r.logger.Warn("list page skipped",
				zap.String("category", cat.Name),
				zap.Int("page", page.Number),
				zap.Error(perr),
			)
			continue
		}

		for _, item := range page.Items {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			if r.processItem(ctx, cat, item) {
				count++
			}
			r.sleep(ctx, r.cfg.ItemDelay)
		}

		if page.Number < page.TotalPages {
			r.sleep(ctx, r.cfg.PageDelay)
		}
	}

	r.logger.Info("crawl run finished", zap.String("category", cat.Name), zap.Int("count", count))
	return count, nil
}

// processItem ingests one list item. Every failure is contained here: a
// broken item is logged and skipped, and the walk moves on.
func (r *Runner) processItem(ctx context.Context, cat regulation.Category, item regulation.ListItem) bool {
	detail, err := r.extractor.Extract(ctx, item.DetailURL, cat.Name)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, extract.ErrNoTitle) {
			outcome = "skipped"
		}
		metrics.ObserveDocument(cat.Name, outcome)
		r.logger.Warn("item skipped",
			zap.String("category", cat.Name),
			zap.String("url", item.DetailURL),
			zap.Error(err),
		)
		return false
	}
	doc := detail.Doc

	// The list entry often carries a date the detail page lacks.
	if doc.PublishDate == nil && item.DateHint != "" {
		if hinted, ok := regulation.ParseDate(item.DateHint); ok {
			doc.PublishDate = &hinted
		}
	}

	existing, err := r.store.FindByFingerprint(ctx, doc.Fingerprint)
	if err != nil {
		metrics.ObserveDocument(cat.Name, "failed")
		r.logger.Error("fingerprint lookup failed",
			zap.String("url", item.DetailURL),
			zap.Error(err),
		)
		return false
	}

	if existing != nil {
		// Known content: refresh metadata, keep the stored attachment rather
		// than downloading it again.
		doc.AttachmentURL = existing.AttachmentURL
		doc.AttachmentPath = existing.AttachmentPath
		doc.AttachmentText = existing.AttachmentText
	} else {
		result := r.attachments.Process(ctx, detail.Page, doc.SourceURL, doc.Title)
		doc.AttachmentURL = result.URL
		doc.AttachmentPath = result.Path
		doc.AttachmentText = result.Text
		if result.URL != "" {
			outcome := "stored"
			if result.Path == "" {
				outcome = "failed"
			}
			metrics.ObserveAttachment(outcome)
		}
	}

	if _, err := r.store.Upsert(ctx, doc); err != nil {
		metrics.ObserveDocument(cat.Name, "failed")
		r.logger.Error("document upsert failed",
			zap.String("url", item.DetailURL),
			zap.String("title", doc.Title),
			zap.Error(err),
		)
		return false
	}

	outcome := "inserted"
	if existing != nil {
		outcome = "updated"
	}
	metrics.ObserveDocument(cat.Name, outcome)
	r.logger.Info("document ingested",
		zap.String("category", cat.Name),
		zap.String("title", doc.Title),
		zap.String("outcome", outcome),
	)
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
