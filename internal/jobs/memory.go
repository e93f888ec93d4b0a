package jobs

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/narrativescanner/scanner/internal/models"
)

// memoryEntry holds an immutable job snapshot. The LRU's expiry goroutine
// reads it without the store lock, so updates swap the pointer instead of
// writing through it.
type memoryEntry struct {
	job atomic.Pointer[models.IngestionJob]
	seq uint64
}

func newMemoryEntry(job models.IngestionJob, seq uint64) *memoryEntry {
	entry := &memoryEntry{seq: seq}
	snapshot := job.Clone()
	entry.job.Store(&snapshot)
	return entry
}

func (e *memoryEntry) snapshot() models.IngestionJob {
	return e.job.Load().Clone()
}

// MemoryStore keeps jobs in process, bounded both in count and in age. The
// oldest jobs are evicted first and handed to the eviction hook.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *memoryEntry]
	seq   uint64
}

// NewMemoryStore creates a registry holding at most size jobs for at most
// retention. onEvict may be nil. It runs either under the registry lock or on
// the expiry goroutine and must not call back into the registry.
func NewMemoryStore(size int, retention time.Duration, onEvict func(models.IngestionJob)) *MemoryStore {
	var callback expirable.EvictCallback[string, *memoryEntry]
	if onEvict != nil {
		callback = func(_ string, entry *memoryEntry) {
			onEvict(entry.snapshot())
		}
	}

	return &MemoryStore{
		cache: expirable.NewLRU[string, *memoryEntry](size, callback, retention),
	}
}

func (s *MemoryStore) Create(_ context.Context, job models.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.cache.Add(job.ID, newMemoryEntry(job, s.seq))
	return nil
}

// Update applies fn to a copy of the job and stores the result only when fn
// succeeds. The entry stays in place so recency order stays creation order.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(job *models.IngestionJob) error) (models.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Peek(id)
	if !ok {
		return models.IngestionJob{}, ErrJobNotFound
	}

	updated := entry.snapshot()
	if err := fn(&updated); err != nil {
		return models.IngestionJob{}, err
	}
	stored := updated.Clone()
	entry.job.Store(&stored)

	return updated, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Peek(id)
	if !ok {
		return models.IngestionJob{}, ErrJobNotFound
	}
	return entry.snapshot(), nil
}

func (s *MemoryStore) List(_ context.Context, source models.Source, limit int) ([]models.IngestionJob, error) {
	if limit <= 0 {
		return []models.IngestionJob{}, nil
	}

	s.mu.Lock()
	entries := make([]*memoryEntry, 0, s.cache.Len())
	for _, entry := range s.cache.Values() {
		if source == "" || entry.job.Load().Source == source {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	jobs := make([]models.IngestionJob, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, entry.snapshot())
	}
	s.mu.Unlock()

	return jobs, nil
}
