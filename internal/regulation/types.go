// Package regulation defines core types shared across subsystems.
package regulation

import (
	"context"
	"time"
)

// RunStatus represents the outcome of a crawl run.
type RunStatus string

// Run status values persisted in the run log.
const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Category identifies one source listing the crawler walks.
type Category struct {
	Name string `json:"name" mapstructure:"name"`
	Path string `json:"path" mapstructure:"path"`
	// LMID is the column identifier the source's JSON index is keyed by.
	LMID string `json:"lmid" mapstructure:"lmid"`
}

// Document is the ingested unit persisted by the store.
type Document struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Category       string     `json:"category"`
	PublishDate    *time.Time `json:"publish_date,omitempty"`
	Content        string     `json:"content,omitempty"`
	SourceURL      string     `json:"source_url"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	AttachmentPath string     `json:"attachment_path,omitempty"`
	AttachmentText string     `json:"attachment_text,omitempty"`
	Fingerprint    string     `json:"fingerprint"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RunLog records the outcome of one orchestrated crawl run. Append-only.
type RunLog struct {
	ID           int64     `json:"id"`
	Category     string    `json:"category"`
	Status       RunStatus `json:"status"`
	Count        int       `json:"count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListItem is a candidate document reference yielded by the list discoverer.
type ListItem struct {
	DetailURL string
	TitleHint string
	// DateHint is the raw date text found near the link, if any. Parsed lazily
	// by the orchestrator only when the detail page yields no date.
	DateHint string
}

// ListPage is one page of discovered items.
type ListPage struct {
	Number     int
	TotalPages int
	Items      []ListItem
}

// Store is the persistence collaborator for ingested documents and run logs.
type Store interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*Document, error)
	// Upsert inserts doc if its fingerprint is new, otherwise updates the
	// existing record in place, preserving its creation timestamp.
	Upsert(ctx context.Context, doc *Document) (*Document, error)
	AppendRunLog(ctx context.Context, log RunLog) error
	LatestRunLog(ctx context.Context) (*RunLog, error)
}
