package recordstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumoqi/trainbase/internal/domain/training"
	apperrors "github.com/lumoqi/trainbase/pkg/errors"
)

type memoryRecord struct {
	training.Record
	availableAt time.Time
	seq         int64
}

// MemoryStore keeps records in memory. It backs tests and DSN-less dev runs
// with the same claim semantics as the Postgres store.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[uuid.UUID]*memoryRecord
	nextSeq     int64
	maxAttempts int
	backoffBase time.Duration
}

// NewMemoryStore constructs the store. maxAttempts bounds transient retries;
// backoffBase scales the retry delay (base * 2^attempts).
func NewMemoryStore(maxAttempts int, backoffBase time.Duration) *MemoryStore {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MemoryStore{
		records:     make(map[uuid.UUID]*memoryRecord),
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

func (s *MemoryStore) InsertBatch(_ context.Context, userID int64, modelID uuid.UUID, pairs []training.Pair) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ids := make([]uuid.UUID, 0, len(pairs))
	for _, pair := range pairs {
		id := uuid.New()
		s.nextSeq++
		s.records[id] = &memoryRecord{
			Record: training.Record{
				ID:        id,
				UserID:    userID,
				ModelID:   modelID,
				Question:  pair.Question,
				Answer:    pair.Answer,
				Status:    training.StatusWaiting,
				CreatedAt: now,
				UpdatedAt: now,
			},
			availableAt: now,
			seq:         s.nextSeq,
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) ClaimPending(_ context.Context, limit int) ([]training.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*memoryRecord, 0, limit)
	for _, rec := range s.records {
		if rec.Status == training.StatusWaiting && !rec.availableAt.After(now) {
			candidates = append(candidates, rec)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]training.Record, 0, len(candidates))
	for _, rec := range candidates {
		rec.Status = training.StatusProcessing
		rec.UpdatedAt = now
		claimed = append(claimed, rec.Record)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkDone(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return apperrors.Wrap(apperrors.CodeNotFound, "record not found", nil)
	}
	rec.Status = training.StatusDone
	rec.LastError = nil
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, reason string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return apperrors.Wrap(apperrors.CodeNotFound, "record not found", nil)
	}
	now := time.Now()
	delay := s.backoffBase << uint(rec.Attempts)
	rec.Attempts++
	rec.LastError = &reason
	rec.UpdatedAt = now
	if terminal || rec.Attempts >= s.maxAttempts {
		rec.Status = training.StatusFailed
		return nil
	}
	rec.Status = training.StatusWaiting
	rec.availableAt = now.Add(delay)
	return nil
}

func (s *MemoryStore) RequeueStale(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-olderThan)
	requeued := 0
	for _, rec := range s.records {
		if rec.Status == training.StatusProcessing && rec.UpdatedAt.Before(cutoff) {
			rec.Status = training.StatusWaiting
			rec.availableAt = now
			rec.UpdatedAt = now
			requeued++
		}
	}
	return requeued, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (training.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return training.Record{}, false, nil
	}
	return rec.Record, true, nil
}

func (s *MemoryStore) ListByModel(_ context.Context, userID int64, modelID uuid.UUID, filter training.RecordFilter) ([]training.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]*memoryRecord, 0)
	for _, rec := range s.records {
		if rec.UserID != userID || rec.ModelID != modelID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, rec.Status) {
			continue
		}
		matching = append(matching, rec)
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].seq < matching[j].seq })

	if filter.Offset > 0 {
		if filter.Offset >= len(matching) {
			return nil, nil
		}
		matching = matching[filter.Offset:]
	}
	if filter.Limit > 0 && len(matching) > filter.Limit {
		matching = matching[:filter.Limit]
	}

	out := make([]training.Record, 0, len(matching))
	for _, rec := range matching {
		out = append(out, rec.Record)
	}
	return out, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[training.RecordStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[training.RecordStatus]int64)
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID int64, id uuid.UUID) (training.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return training.Record{}, false, nil
	}
	delete(s.records, id)
	return rec.Record, true, nil
}

func containsStatus(statuses []training.RecordStatus, status training.RecordStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

var _ training.RecordStore = (*MemoryStore)(nil)
