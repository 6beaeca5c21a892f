package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procuredocs/regcrawler/internal/ingest"
)

type fakeCrawler struct {
	count int
	err   error
	calls int
}

func (f *fakeCrawler) CrawlScheduled(context.Context) (int, error) {
	f.calls++
	return f.count, f.err
}

func TestStartRegistersIntervalTrigger(t *testing.T) {
	t.Parallel()

	s := New(&fakeCrawler{}, Config{IntervalHours: 48}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 1)
}

func TestRunOnceInvokesCrawl(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{count: 7}
	s := New(crawler, Config{}, nil)

	s.runOnce()
	assert.Equal(t, 1, crawler.calls)
}

func TestRunOnceToleratesActiveRun(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{err: ingest.ErrRunActive}
	s := New(crawler, Config{}, nil)

	assert.NotPanics(t, s.runOnce)
}

func TestRunOnceToleratesFailure(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{err: fmt.Errorf("category boom")}
	s := New(crawler, Config{}, nil)

	assert.NotPanics(t, s.runOnce)
	assert.Equal(t, 1, crawler.calls)
}
