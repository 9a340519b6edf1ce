// Purpose: Compose the standings engine from a data store, data sources and
// optional instrumentation.
// Exports: Engine, Options, PageCache, New.
// Role: The library entry point; snapshot builds, queries and validation
// hang off this type.
// Notes: The engine is a library. It spawns no goroutines and holds no
// background state; callers may invoke it concurrently.
package rewind

import (
	"context"
	"io"
	"log/slog"

	"github.com/contestops/rewind/internal/metrics"
)

// Default snapshot cadence, in seconds.
const (
	DefaultBaseInterval  int64 = 120
	DefaultDeltaInterval int64 = 10
)

// PageCache caches marshaled standings pages. Implementations must treat
// misses as (nil, false, nil); errors are logged and swallowed by the
// engine, never surfaced to queries.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Options configures an Engine. Zero values select the store-backed
// sources, the default cadence, a no-op logger and no cache.
type Options struct {
	BaseInterval  int64
	DeltaInterval int64

	// Source overrides; nil falls back to the data store itself.
	Submissions SubmissionSource
	Problems    ProblemSource
	Contests    ContestSource
	Hacks       HackSource

	Logger  *slog.Logger
	Metrics *metrics.Set
	Cache   PageCache
}

// Engine answers time-travel standings queries and builds the snapshots
// they run on.
type Engine struct {
	data *DataStore

	subs     SubmissionSource
	problems ProblemSource
	contests ContestSource
	hacks    HackSource

	baseInterval  int64
	deltaInterval int64

	log     *slog.Logger
	metrics *metrics.Set
	cache   PageCache
}

// New builds an Engine on top of a data store.
func New(data *DataStore, opts Options) *Engine {
	e := &Engine{
		data:          data,
		subs:          opts.Submissions,
		problems:      opts.Problems,
		contests:      opts.Contests,
		hacks:         opts.Hacks,
		baseInterval:  opts.BaseInterval,
		deltaInterval: opts.DeltaInterval,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		cache:         opts.Cache,
	}
	if e.subs == nil {
		e.subs = data
	}
	if e.problems == nil {
		e.problems = data
	}
	if e.contests == nil {
		e.contests = data
	}
	if e.hacks == nil {
		e.hacks = data
	}
	if e.baseInterval <= 0 {
		e.baseInterval = DefaultBaseInterval
	}
	if e.deltaInterval <= 0 {
		e.deltaInterval = DefaultDeltaInterval
	}
	if e.log == nil {
		e.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Data exposes the engine's data store for callers that manage records
// directly (import, snapshot listing, removal).
func (e *Engine) Data() *DataStore { return e.data }
