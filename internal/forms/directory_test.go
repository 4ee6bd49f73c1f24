package forms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/internal/retry"
)

func TestDirectoryCachesEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	source := &fakeSource{entries: []DirectoryEntry{
		{FormID: uuid.New(), FormName: "Intake"},
	}}
	dir := NewDirectory(source, rdb, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entries, err := dir.Entries(ctx)
		if err != nil {
			t.Fatalf("entries failed: %v", err)
		}
		if len(entries) != 1 || entries[0].FormName != "Intake" {
			t.Fatalf("unexpected entries: %+v", entries)
		}
	}
	if source.calls != 1 {
		t.Errorf("expected 1 source call, got %d", source.calls)
	}
}

func TestDirectoryRefreshesAfterTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	source := &fakeSource{entries: []DirectoryEntry{{FormID: uuid.New(), FormName: "Intake"}}}
	dir := NewDirectory(source, rdb, time.Minute, nil)
	ctx := context.Background()

	if _, err := dir.Entries(ctx); err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := dir.Entries(ctx); err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("expected refresh after ttl, got %d source calls", source.calls)
	}
}

func TestDirectoryCorruptedCacheFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mr.Set("form_directory", "{broken")
	source := &fakeSource{entries: []DirectoryEntry{{FormID: uuid.New(), FormName: "Intake"}}}
	dir := NewDirectory(source, rdb, time.Minute, nil)

	entries, err := dir.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected fallthrough to source, got %+v", entries)
	}
}

func TestDirectoryInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	source := &fakeSource{entries: []DirectoryEntry{{FormID: uuid.New(), FormName: "Intake"}}}
	dir := NewDirectory(source, rdb, time.Minute, nil)
	ctx := context.Background()

	if _, err := dir.Entries(ctx); err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if err := dir.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, err := dir.Entries(ctx); err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("expected source re-read after invalidate, got %d", source.calls)
	}
}

func TestDirectoryServesStaleSnapshotOnRefreshFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	source := &fakeSource{entries: []DirectoryEntry{{FormID: uuid.New(), FormName: "Intake"}}}
	dir := NewDirectory(source, rdb, time.Minute, nil).WithRetryPolicy(retry.Policy{Attempts: 1})
	ctx := context.Background()

	if _, err := dir.Entries(ctx); err != nil {
		t.Fatalf("entries failed: %v", err)
	}

	source.err = errors.New("postgres down")
	mr.FastForward(2 * time.Minute)

	entries, err := dir.Entries(ctx)
	if err != nil {
		t.Fatalf("expected stale snapshot, got error: %v", err)
	}
	if len(entries) != 1 || entries[0].FormName != "Intake" {
		t.Fatalf("unexpected stale entries: %+v", entries)
	}
}

func TestDirectoryErrorsWhenNoSnapshotAvailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	source := &fakeSource{err: errors.New("postgres down")}
	dir := NewDirectory(source, rdb, time.Minute, nil).WithRetryPolicy(retry.Policy{Attempts: 1})

	if _, err := dir.Entries(context.Background()); err == nil {
		t.Fatal("expected error when no snapshot exists")
	}
}
