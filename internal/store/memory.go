package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

// projectShard holds one project's artifacts. Its mutex serializes every
// write for that project and nothing else.
type projectShard struct {
	mu      sync.Mutex
	reports []*ReportArtifact
}

// MemoryStore keeps everything in process. It backs tests and the memory
// database driver.
type MemoryStore struct {
	mu        sync.RWMutex
	shards    map[string]*projectShard
	byID      map[uuid.UUID]string
	questions map[string]catalog.Question
	answers   map[string][]catalog.Answer
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shards:    make(map[string]*projectShard),
		byID:      make(map[uuid.UUID]string),
		questions: make(map[string]catalog.Question),
		answers:   make(map[string][]catalog.Answer),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) shard(projectID string) *projectShard {
	s.mu.RLock()
	sh, ok := s.shards[projectID]
	s.mu.RUnlock()
	if ok {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[projectID]; !ok {
		sh = &projectShard{}
		s.shards[projectID] = sh
	}
	return sh
}

// lookup locks the shard owning reportID and returns the artifact. The caller
// must unlock the shard.
func (s *MemoryStore) lookup(reportID uuid.UUID) (*projectShard, *ReportArtifact, error) {
	s.mu.RLock()
	projectID, ok := s.byID[reportID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	sh := s.shard(projectID)
	sh.mu.Lock()
	for _, a := range sh.reports {
		if a.ID == reportID {
			return sh, a, nil
		}
	}
	sh.mu.Unlock()
	return nil, nil, ErrNotFound
}

func (s *MemoryStore) CreateDraft(_ context.Context, projectID string, meta SnapshotMeta) (*ReportArtifact, error) {
	sh := s.shard(projectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	version := 1
	for _, a := range sh.reports {
		if a.Version >= version {
			version = a.Version + 1
		}
	}
	now := s.now()
	a := &ReportArtifact{
		ID:        uuid.New(),
		ProjectID: projectID,
		Version:   version,
		Status:    StatusGenerating,
		Snapshot:  meta,
		Files:     []FileRef{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.Snapshot.EvaluatorRoles = append([]string(nil), meta.EvaluatorRoles...)
	sh.reports = append(sh.reports, a)

	s.mu.Lock()
	s.byID[a.ID] = projectID
	s.mu.Unlock()
	return copyArtifact(a), nil
}

func (s *MemoryStore) SetFiles(_ context.Context, reportID uuid.UUID, files []FileRef) error {
	sh, a, err := s.lookup(reportID)
	if err != nil {
		return err
	}
	defer sh.mu.Unlock()
	if a.Status != StatusGenerating {
		return ErrInvalidTransition
	}
	a.Files = append([]FileRef{}, files...)
	a.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) CommitFinal(_ context.Context, projectID string, reportID uuid.UUID) (*ReportArtifact, error) {
	sh, a, err := s.lookup(reportID)
	if err != nil {
		return nil, err
	}
	defer sh.mu.Unlock()
	if err := checkCommit(a, projectID); err != nil {
		return nil, err
	}

	now := s.now()
	for _, other := range sh.reports {
		if other.Latest {
			other.Latest = false
			other.UpdatedAt = now
		}
	}
	a.Status = StatusFinal
	a.Latest = true
	a.UpdatedAt = now
	a.FinalizedAt = &now
	return copyArtifact(a), nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, reportID uuid.UUID, reason string) (*ReportArtifact, error) {
	sh, a, err := s.lookup(reportID)
	if err != nil {
		return nil, err
	}
	defer sh.mu.Unlock()
	if !CanTransition(a.Status, StatusFailed) {
		return nil, ErrInvalidTransition
	}
	a.Status = StatusFailed
	a.Error = reason
	a.UpdatedAt = s.now()
	return copyArtifact(a), nil
}

func (s *MemoryStore) Archive(_ context.Context, reportID uuid.UUID) (*ReportArtifact, error) {
	sh, a, err := s.lookup(reportID)
	if err != nil {
		return nil, err
	}
	defer sh.mu.Unlock()
	if err := checkArchive(a); err != nil {
		return nil, err
	}
	a.Status = StatusArchived
	a.UpdatedAt = s.now()
	return copyArtifact(a), nil
}

func (s *MemoryStore) GetReport(_ context.Context, reportID uuid.UUID) (*ReportArtifact, error) {
	sh, a, err := s.lookup(reportID)
	if err != nil {
		return nil, err
	}
	defer sh.mu.Unlock()
	return copyArtifact(a), nil
}

func (s *MemoryStore) GetLatest(_ context.Context, projectID string) (*ReportArtifact, error) {
	sh := s.shard(projectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for _, a := range sh.reports {
		if a.Latest {
			return copyArtifact(a), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListReports(_ context.Context, projectID string) ([]*ReportArtifact, error) {
	sh := s.shard(projectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]*ReportArtifact, 0, len(sh.reports))
	for _, a := range sh.reports {
		out = append(out, copyArtifact(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *MemoryStore) ListStaleDrafts(_ context.Context, before time.Time) ([]*ReportArtifact, error) {
	s.mu.RLock()
	shards := make([]*projectShard, 0, len(s.shards))
	for _, sh := range s.shards {
		shards = append(shards, sh)
	}
	s.mu.RUnlock()

	var out []*ReportArtifact
	for _, sh := range shards {
		sh.mu.Lock()
		for _, a := range sh.reports {
			if a.Status == StatusGenerating && a.CreatedAt.Before(before) {
				out = append(out, copyArtifact(a))
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListQuestions(_ context.Context) ([]catalog.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Question, 0, len(s.questions))
	for _, q := range s.questions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveQuestion(_ context.Context, q catalog.Question) error {
	if err := catalog.Validate(q); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = q
	return nil
}

func (s *MemoryStore) ListAnswers(_ context.Context, projectID string) ([]catalog.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.Answer{}, s.answers[projectID]...), nil
}

func (s *MemoryStore) AppendAnswer(_ context.Context, a *catalog.Answer) error {
	stampAnswer(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[a.ProjectID] = append(s.answers[a.ProjectID], *a)
	return nil
}

func copyArtifact(a *ReportArtifact) *ReportArtifact {
	c := *a
	c.Files = append([]FileRef{}, a.Files...)
	c.Snapshot.EvaluatorRoles = append([]string(nil), a.Snapshot.EvaluatorRoles...)
	if a.FinalizedAt != nil {
		t := *a.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}
