package forms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/internal/retry"
	"github.com/parleyhq/parley/pkg/logging"
)

// DefaultDirectoryTTL bounds how stale the cached matching surface can
// get after a form is published or retired.
const DefaultDirectoryTTL = 5 * time.Minute

const directoryKey = "form_directory"

// directorySource is what the cache refreshes from, normally the
// Postgres repository.
type directorySource interface {
	ListDirectoryEntries(ctx context.Context) ([]DirectoryEntry, error)
}

// Directory serves the form matching surface from Redis, refreshing
// from the repository when the cached copy expires. The last good
// snapshot is kept in memory so a repository outage degrades to stale
// data instead of an error.
type Directory struct {
	source directorySource
	redis  *redis.Client
	ttl    time.Duration
	policy retry.Policy
	logger *logging.Logger

	mu       sync.RWMutex
	lastGood []DirectoryEntry
}

func NewDirectory(source directorySource, rdb *redis.Client, ttl time.Duration, logger *logging.Logger) *Directory {
	if source == nil {
		panic("forms: directory source cannot be nil")
	}
	if rdb == nil {
		panic("forms: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultDirectoryTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Directory{
		source: source,
		redis:  rdb,
		ttl:    ttl,
		policy: retry.Policy{Attempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		logger: logger.Named("forms"),
	}
}

// WithRetryPolicy returns the directory using the given refresh policy.
func (d *Directory) WithRetryPolicy(p retry.Policy) *Directory {
	d.policy = p
	return d
}

// Entries returns the current matching surface, from cache when warm.
// A cold or corrupted cache falls through to the repository and the
// result is cached for the next caller. If the repository refresh
// fails, the last snapshot this process saw is returned instead.
func (d *Directory) Entries(ctx context.Context) ([]DirectoryEntry, error) {
	data, err := d.redis.Get(ctx, directoryKey).Bytes()
	if err == nil {
		var entries []DirectoryEntry
		if jerr := json.Unmarshal(data, &entries); jerr == nil {
			d.remember(entries)
			return entries, nil
		}
		d.logger.Warn("cached form directory corrupted, refreshing")
	} else if err != redis.Nil {
		d.logger.Warn("form directory cache read failed", "error", err)
	}

	var entries []DirectoryEntry
	refreshErr := d.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		entries, err = d.source.ListDirectoryEntries(ctx)
		return err
	})
	if refreshErr != nil {
		d.mu.RLock()
		stale := d.lastGood
		d.mu.RUnlock()
		if stale != nil {
			d.logger.Warn("form directory refresh failed, serving stale snapshot", "error", refreshErr)
			return stale, nil
		}
		return nil, fmt.Errorf("forms: refresh directory: %w", refreshErr)
	}

	d.remember(entries)
	if data, err := json.Marshal(entries); err == nil {
		if err := d.redis.Set(ctx, directoryKey, data, d.ttl).Err(); err != nil {
			d.logger.Warn("form directory cache write failed", "error", err)
		}
	}
	return entries, nil
}

func (d *Directory) remember(entries []DirectoryEntry) {
	d.mu.Lock()
	d.lastGood = entries
	d.mu.Unlock()
}

// Invalidate drops the cached surface, forcing the next Entries call
// to refresh.
func (d *Directory) Invalidate(ctx context.Context) error {
	if err := d.redis.Del(ctx, directoryKey).Err(); err != nil {
		return fmt.Errorf("forms: invalidate directory: %w", err)
	}
	return nil
}
