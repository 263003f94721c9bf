package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MemoryStore implements Store in process memory. It enforces the same
// natural keys and partial uniqueness as the SQL schema.
type MemoryStore struct {
	mu        sync.RWMutex
	queries   map[uuid.UUID]models.Query
	sessions  map[uuid.UUID]models.ClarificationSession
	questions map[uuid.UUID]models.ClarificationQuestion
	answers   map[answerKey]models.ClarificationAnswer
	events    []models.ClarificationEvent
	llmEvents []models.LLMEvent
	theses    map[uuid.UUID][]models.ThesisVersion
	now       func() time.Time
}

type answerKey struct {
	session  uuid.UUID
	question uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queries:   make(map[uuid.UUID]models.Query),
		sessions:  make(map[uuid.UUID]models.ClarificationSession),
		questions: make(map[uuid.UUID]models.ClarificationQuestion),
		answers:   make(map[answerKey]models.ClarificationAnswer),
		theses:    make(map[uuid.UUID][]models.ThesisVersion),
		now:       time.Now,
	}
}

func (m *MemoryStore) stamp(b *models.BaseModel) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now()
	}
}

func (m *MemoryStore) CreateQuery(ctx context.Context, q *models.Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&q.BaseModel)
	stored := *q
	stored.Facets = cloneMap(q.Facets)
	m.queries[q.ID] = stored
	return nil
}

func (m *MemoryStore) GetQuery(ctx context.Context, id uuid.UUID) (*models.Query, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queries[id]
	if !ok {
		return nil, ErrNotFound
	}
	q.Facets = cloneMap(q.Facets)
	return &q, nil
}

func (m *MemoryStore) ListRecentQueries(ctx context.Context, email string, limit int) ([]models.Query, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Query
	for _, q := range m.queries {
		if email != "" && (q.Email == nil || *q.Email != email) {
			continue
		}
		q.Facets = cloneMap(q.Facets)
		out = append(out, q)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *models.ClarificationSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.QueryID != nil && s.Status != models.StatusComplete {
		for _, existing := range m.sessions {
			if existing.QueryID != nil && *existing.QueryID == *s.QueryID && existing.Status != models.StatusComplete {
				return fmt.Errorf("%w: query %s already has open session %s", ErrConflict, *s.QueryID, existing.ID)
			}
		}
	}
	m.stamp(&s.BaseModel)
	s.UpdatedAt = s.CreatedAt
	m.sessions[s.ID] = copySession(*s)
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.ClarificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s = copySession(s)
	return &s, nil
}

func (m *MemoryStore) FindOpenSession(ctx context.Context, queryID uuid.UUID) (*models.ClarificationSession, error) {
	return m.latestSession(queryID, true)
}

func (m *MemoryStore) LatestSessionForQuery(ctx context.Context, queryID uuid.UUID) (*models.ClarificationSession, error) {
	return m.latestSession(queryID, false)
}

func (m *MemoryStore) latestSession(queryID uuid.UUID, openOnly bool) (*models.ClarificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.ClarificationSession
	for _, s := range m.sessions {
		if s.QueryID == nil || *s.QueryID != queryID {
			continue
		}
		if openOnly && s.Status == models.StatusComplete {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			c := copySession(s)
			found = &c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id uuid.UUID, u SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if u.empty() {
		return nil
	}
	if u.Status != nil {
		if *u.Status != models.StatusComplete && s.QueryID != nil && s.Status == models.StatusComplete {
			for _, other := range m.sessions {
				if other.ID != id && other.QueryID != nil && *other.QueryID == *s.QueryID && other.Status != models.StatusComplete {
					return fmt.Errorf("%w: query %s already has open session %s", ErrConflict, *s.QueryID, other.ID)
				}
			}
		}
		s.Status = *u.Status
	}
	if u.Completeness != nil {
		s.Completeness = *u.Completeness
	}
	if u.Metadata != nil {
		s.Metadata = cloneMap(u.Metadata)
	}
	if u.ApprovedFilters != nil {
		s.ApprovedFilters = cloneJSON(u.ApprovedFilters)
	}
	if u.CurrentThesisVersion != nil {
		v := *u.CurrentThesisVersion
		s.CurrentThesisVersion = &v
	}
	s.UpdatedAt = m.now()
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) CreateQuestions(ctx context.Context, qs []models.ClarificationQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, q := range m.questions {
		seen[q.SessionID.String()+"/"+q.Key] = true
	}
	for i := range qs {
		k := qs[i].SessionID.String() + "/" + qs[i].Key
		if seen[k] {
			return fmt.Errorf("%w: duplicate question key %q", ErrConflict, qs[i].Key)
		}
		seen[k] = true
	}
	for i := range qs {
		m.stamp(&qs[i].BaseModel)
		stored := qs[i]
		stored.Options = append(datatypes.JSONSlice[models.Option](nil), qs[i].Options...)
		m.questions[stored.ID] = stored
	}
	return nil
}

func (m *MemoryStore) ListQuestions(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ClarificationQuestion
	for _, q := range m.questions {
		if q.SessionID == sessionID {
			q.Options = append(datatypes.JSONSlice[models.Option](nil), q.Options...)
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *MemoryStore) GetQuestion(ctx context.Context, id uuid.UUID) (*models.ClarificationQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	q.Options = append(datatypes.JSONSlice[models.Option](nil), q.Options...)
	return &q, nil
}

func (m *MemoryStore) UpsertAnswer(ctx context.Context, a *models.ClarificationAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := answerKey{session: a.SessionID, question: a.QuestionID}
	now := m.now()
	if existing, ok := m.answers[key]; ok {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
	} else {
		m.stamp(&a.BaseModel)
	}
	a.UpdatedAt = now
	stored := *a
	stored.Value = cloneJSON(a.Value)
	m.answers[key] = stored
	return nil
}

func (m *MemoryStore) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationAnswer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ClarificationAnswer
	for k, a := range m.answers {
		if k.session == sessionID {
			a.Value = cloneJSON(a.Value)
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, e *models.ClarificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Type == models.EventClarifyingQuestion {
		for _, existing := range m.events {
			if existing.SessionID == e.SessionID && existing.Version == e.Version && existing.Type == e.Type {
				return fmt.Errorf("%w: questions already streamed for session %s v%d", ErrConflict, e.SessionID, e.Version)
			}
		}
	}
	m.stamp(&e.BaseModel)
	stored := *e
	stored.Payload = cloneJSON(e.Payload)
	m.events = append(m.events, stored)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ClarificationEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			e.Payload = cloneJSON(e.Payload)
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) LatestEvent(ctx context.Context, sessionID uuid.UUID) (*models.ClarificationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].SessionID == sessionID {
			e := m.events[i]
			e.Payload = cloneJSON(e.Payload)
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) MaxEventSeq(ctx context.Context, sessionID uuid.UUID, version int) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for _, e := range m.events {
		if e.SessionID == sessionID && e.Version == version && e.Seq > max {
			max = e.Seq
		}
	}
	return max, nil
}

func (m *MemoryStore) HasEvent(ctx context.Context, sessionID uuid.UUID, version int, eventType string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.SessionID == sessionID && e.Version == version && e.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) AppendLLMEvent(ctx context.Context, e *models.LLMEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&e.BaseModel)
	m.llmEvents = append(m.llmEvents, *e)
	return nil
}

func (m *MemoryStore) ListLLMEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.LLMEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LLMEvent
	for i := len(m.llmEvents) - 1; i >= 0; i-- {
		e := m.llmEvents[i]
		if e.SessionID == nil || *e.SessionID != sessionID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateThesisVersion(ctx context.Context, t *models.ThesisVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.theses[t.SessionID]
	t.Version = len(versions) + 1
	m.stamp(&t.BaseModel)
	stored := *t
	stored.Content = cloneJSON(t.Content)
	m.theses[t.SessionID] = append(versions, stored)
	return nil
}

func (m *MemoryStore) ListThesisVersions(ctx context.Context, sessionID uuid.UUID) ([]models.ThesisVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.theses[sessionID]
	out := make([]models.ThesisVersion, len(versions))
	for i, t := range versions {
		t.Content = cloneJSON(t.Content)
		out[i] = t
	}
	return out, nil
}

func (m *MemoryStore) GetThesisVersion(ctx context.Context, sessionID uuid.UUID, version int) (*models.ThesisVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.theses[sessionID]
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	t := versions[version-1]
	t.Content = cloneJSON(t.Content)
	return &t, nil
}

func (m *MemoryStore) UpdateThesisStatus(ctx context.Context, sessionID uuid.UUID, version int, status models.ThesisStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.theses[sessionID]
	if version < 1 || version > len(versions) {
		return ErrNotFound
	}
	versions[version-1].Status = status
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copySession(s models.ClarificationSession) models.ClarificationSession {
	s.Metadata = cloneMap(s.Metadata)
	s.ApprovedFilters = cloneJSON(s.ApprovedFilters)
	if s.QueryID != nil {
		id := *s.QueryID
		s.QueryID = &id
	}
	if s.CurrentThesisVersion != nil {
		v := *s.CurrentThesisVersion
		s.CurrentThesisVersion = &v
	}
	return s
}

func cloneMap(m datatypes.JSONMap) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneJSON(b datatypes.JSON) datatypes.JSON {
	if b == nil {
		return nil
	}
	return append(datatypes.JSON(nil), b...)
}
