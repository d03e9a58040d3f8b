package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It backs tests and local runs without MySQL,
// and honours the same version and uniqueness rules as GormStore.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

type memoryState struct {
	cases       map[string]*Case
	documents   map[string]*ComplianceDocument
	numbers     map[string]string
	versions    map[string][]*DocumentVersion
	tests       map[string]*AssessmentTest
	activities  []*Activity
	actionKeys  map[string]bool
	idempotency map[string]*IdempotencyKey
	nextID      int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			cases:       map[string]*Case{},
			documents:   map[string]*ComplianceDocument{},
			numbers:     map[string]string{},
			versions:    map[string][]*DocumentVersion{},
			tests:       map[string]*AssessmentTest{},
			actionKeys:  map[string]bool{},
			idempotency: map[string]*IdempotencyKey{},
		},
		now: time.Now,
	}
}

// SetClock overrides the clock used for created/updated stamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) tx() *memoryTx {
	return &memoryTx{state: m.state, now: m.now}
}

func (m *MemoryStore) CreateCase(ctx context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateCase(ctx, c)
}

func (m *MemoryStore) GetCase(ctx context.Context, id string) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetCase(ctx, id)
}

func (m *MemoryStore) ListCases(ctx context.Context, filter CaseFilter) ([]*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListCases(ctx, filter)
}

func (m *MemoryStore) UpdateCase(ctx context.Context, c *Case, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().UpdateCase(ctx, c, expectedVersion)
}

func (m *MemoryStore) CreateDocument(ctx context.Context, d *ComplianceDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateDocument(ctx, d)
}

func (m *MemoryStore) GetDocument(ctx context.Context, id string) (*ComplianceDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetDocument(ctx, id)
}

func (m *MemoryStore) ListDocuments(ctx context.Context, caseID string) ([]*ComplianceDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListDocuments(ctx, caseID)
}

func (m *MemoryStore) UpdateDocument(ctx context.Context, d *ComplianceDocument, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().UpdateDocument(ctx, d, expectedVersion)
}

func (m *MemoryStore) ListDocumentVersions(ctx context.Context, documentID string) ([]*DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListDocumentVersions(ctx, documentID)
}

func (m *MemoryStore) ListTests(ctx context.Context, caseID string) ([]*AssessmentTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListTests(ctx, caseID)
}

func (m *MemoryStore) SaveTest(ctx context.Context, t *AssessmentTest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().SaveTest(ctx, t)
}

func (m *MemoryStore) ListActivities(ctx context.Context, caseID string, limit int) ([]*Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListActivities(ctx, caseID, limit)
}

func (m *MemoryStore) AppendActivity(ctx context.Context, a *Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().AppendActivity(ctx, a)
}

func (m *MemoryStore) BeginIdempotency(ctx context.Context, caseID, handlerName, actionKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().BeginIdempotency(ctx, caseID, handlerName, actionKey)
}

func (m *MemoryStore) MarkIdempotencySucceeded(ctx context.Context, caseID, handlerName, actionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().MarkIdempotencySucceeded(ctx, caseID, handlerName, actionKey)
}

func (m *MemoryStore) MarkIdempotencyFailed(ctx context.Context, caseID, handlerName, actionKey string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().MarkIdempotencyFailed(ctx, caseID, handlerName, actionKey, cause)
}

// WithinTransaction holds the store lock for the whole callback and restores the previous
// state when fn returns an error.
func (m *MemoryStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(m.tx()); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// memoryTx runs Store operations against the state without locking; the caller holds MemoryStore.mu.
type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) CreateCase(ctx context.Context, c *Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := t.state.cases[c.ID]; ok {
		return NewPersistenceError("case "+c.ID+" already exists", nil)
	}
	now := t.now()
	if c.Version == 0 {
		c.Version = 1
	}
	c.CreatedAt, c.UpdatedAt = now, now
	t.state.cases[c.ID] = c.Clone()
	return nil
}

func (t *memoryTx) GetCase(ctx context.Context, id string) (*Case, error) {
	c, ok := t.state.cases[id]
	if !ok {
		return nil, NewNotFound("case %s", id)
	}
	return c.Clone(), nil
}

func (t *memoryTx) ListCases(ctx context.Context, filter CaseFilter) ([]*Case, error) {
	out := []*Case{}
	for _, c := range t.state.cases {
		if filter.OrganizationId != "" && c.OrganizationId != filter.OrganizationId {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, c.Status) {
			continue
		}
		if filter.StartedFrom != nil && c.StartDate.Before(*filter.StartedFrom) {
			continue
		}
		if filter.StartedTo != nil && c.StartDate.After(*filter.StartedTo) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memoryTx) UpdateCase(ctx context.Context, c *Case, expectedVersion int) error {
	stored, ok := t.state.cases[c.ID]
	if !ok {
		return NewNotFound("case %s", c.ID)
	}
	if stored.Version != expectedVersion {
		return NewConcurrentModification("case %s changed (version %d, expected %d)", c.ID, stored.Version, expectedVersion)
	}
	c.Version = expectedVersion + 1
	c.UpdatedAt = t.now()
	c.CreatedAt = stored.CreatedAt
	t.state.cases[c.ID] = c.Clone()
	return nil
}

func (t *memoryTx) CreateDocument(ctx context.Context, d *ComplianceDocument) error {
	if d.Kind.OncePerCase() {
		for _, existing := range t.state.documents {
			if existing.CaseId == d.CaseId && existing.Kind == d.Kind {
				return ErrDuplicateCaseDocument
			}
		}
	}
	if _, taken := t.state.numbers[d.DocumentNumber]; taken {
		return ErrDuplicateDocumentNumber
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Version == 0 {
		d.Version = 1
	}
	now := t.now()
	d.CreatedAt, d.UpdatedAt = now, now
	d.SingletonKey = d.CaseSingletonKey()
	stored, err := d.Clone()
	if err != nil {
		return NewPersistenceError("encode document", err)
	}
	if err := t.appendVersion(stored); err != nil {
		return err
	}
	t.state.documents[d.ID] = stored
	t.state.numbers[d.DocumentNumber] = d.ID
	return nil
}

func (t *memoryTx) GetDocument(ctx context.Context, id string) (*ComplianceDocument, error) {
	d, ok := t.state.documents[id]
	if !ok {
		return nil, NewNotFound("document %s", id)
	}
	out, err := d.Clone()
	if err != nil {
		return nil, NewPersistenceError("decode document", err)
	}
	return out, nil
}

func (t *memoryTx) ListDocuments(ctx context.Context, caseID string) ([]*ComplianceDocument, error) {
	out := []*ComplianceDocument{}
	for _, d := range t.state.documents {
		if d.CaseId != caseID {
			continue
		}
		c, err := d.Clone()
		if err != nil {
			return nil, NewPersistenceError("decode document", err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].DocumentNumber < out[j].DocumentNumber
	})
	return out, nil
}

func (t *memoryTx) UpdateDocument(ctx context.Context, d *ComplianceDocument, expectedVersion int) error {
	stored, ok := t.state.documents[d.ID]
	if !ok {
		return NewNotFound("document %s", d.ID)
	}
	if stored.Version != expectedVersion {
		return NewConcurrentModification("document %s changed (version %d, expected %d)", d.ID, stored.Version, expectedVersion)
	}
	d.Version = expectedVersion + 1
	d.UpdatedAt = t.now()
	d.CreatedAt = stored.CreatedAt
	next, err := d.Clone()
	if err != nil {
		return NewPersistenceError("encode document", err)
	}
	if err := t.appendVersion(next); err != nil {
		return err
	}
	t.state.documents[d.ID] = next
	return nil
}

func (t *memoryTx) appendVersion(d *ComplianceDocument) error {
	snap, err := d.Snapshot()
	if err != nil {
		return NewPersistenceError("snapshot document", err)
	}
	t.state.nextID++
	t.state.versions[d.ID] = append(t.state.versions[d.ID], &DocumentVersion{
		ID:         t.state.nextID,
		DocumentId: d.ID,
		Version:    d.Version,
		Status:     d.Status,
		Snapshot:   snap,
		CreatedAt:  t.now(),
	})
	return nil
}

func (t *memoryTx) ListDocumentVersions(ctx context.Context, documentID string) ([]*DocumentVersion, error) {
	if _, ok := t.state.documents[documentID]; !ok {
		return nil, NewNotFound("document %s", documentID)
	}
	out := make([]*DocumentVersion, 0, len(t.state.versions[documentID]))
	for _, v := range t.state.versions[documentID] {
		c := *v
		out = append(out, &c)
	}
	return out, nil
}

func (t *memoryTx) ListTests(ctx context.Context, caseID string) ([]*AssessmentTest, error) {
	out := []*AssessmentTest{}
	for _, tst := range t.state.tests {
		if tst.CaseId == caseID {
			c := *tst
			c.CompletedAt = cloneTime(tst.CompletedAt)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) SaveTest(ctx context.Context, tst *AssessmentTest) error {
	if tst.ID == "" {
		tst.ID = uuid.NewString()
	}
	if tst.CreatedAt.IsZero() {
		tst.CreatedAt = t.now()
	}
	c := *tst
	c.CompletedAt = cloneTime(tst.CompletedAt)
	t.state.tests[tst.ID] = &c
	return nil
}

func (t *memoryTx) ListActivities(ctx context.Context, caseID string, limit int) ([]*Activity, error) {
	out := []*Activity{}
	for _, a := range t.state.activities {
		if a.CaseId == caseID {
			c := *a
			c.ActionKey = cloneString(a.ActionKey)
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryTx) AppendActivity(ctx context.Context, a *Activity) error {
	if a.ActionKey != nil {
		if t.state.actionKeys[*a.ActionKey] {
			return NewPersistenceError("activity for action "+*a.ActionKey+" already recorded", nil)
		}
		t.state.actionKeys[*a.ActionKey] = true
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := t.now()
	if a.OccurredAt.IsZero() {
		a.OccurredAt = now
	}
	a.CreatedAt = now
	c := *a
	c.ActionKey = cloneString(a.ActionKey)
	t.state.activities = append(t.state.activities, &c)
	return nil
}

func idempotencyMapKey(caseID, handlerName, actionKey string) string {
	return caseID + "\x00" + handlerName + "\x00" + actionKey
}

func (t *memoryTx) BeginIdempotency(ctx context.Context, caseID, handlerName, actionKey string) (bool, error) {
	k := idempotencyMapKey(caseID, handlerName, actionKey)
	now := t.now()
	existing, ok := t.state.idempotency[k]
	if !ok {
		t.state.nextID++
		t.state.idempotency[k] = &IdempotencyKey{
			ID:          t.state.nextID,
			CaseId:      caseID,
			HandlerName: handlerName,
			ActionKey:   actionKey,
			Status:      IdempotencyStatusStarted,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return false, nil
	}
	switch existing.Status {
	case IdempotencyStatusSucceeded:
		return true, nil
	case IdempotencyStatusStarted:
		if now.Sub(existing.UpdatedAt) < IdempotencyStaleAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	existing.Status = IdempotencyStatusStarted
	existing.LastError = nil
	existing.UpdatedAt = now
	return false, nil
}

func (t *memoryTx) MarkIdempotencySucceeded(ctx context.Context, caseID, handlerName, actionKey string) error {
	existing, ok := t.state.idempotency[idempotencyMapKey(caseID, handlerName, actionKey)]
	if !ok {
		return NewNotFound("idempotency key %s", actionKey)
	}
	existing.Status = IdempotencyStatusSucceeded
	existing.LastError = nil
	existing.UpdatedAt = t.now()
	return nil
}

func (t *memoryTx) MarkIdempotencyFailed(ctx context.Context, caseID, handlerName, actionKey string, cause error) error {
	existing, ok := t.state.idempotency[idempotencyMapKey(caseID, handlerName, actionKey)]
	if !ok {
		return NewNotFound("idempotency key %s", actionKey)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	existing.Status = IdempotencyStatusFailed
	existing.LastError = &msg
	existing.UpdatedAt = t.now()
	return nil
}

// WithinTransaction on an open transaction joins it.
func (t *memoryTx) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		cases:       make(map[string]*Case, len(s.cases)),
		documents:   make(map[string]*ComplianceDocument, len(s.documents)),
		numbers:     make(map[string]string, len(s.numbers)),
		versions:    make(map[string][]*DocumentVersion, len(s.versions)),
		tests:       make(map[string]*AssessmentTest, len(s.tests)),
		activities:  append([]*Activity(nil), s.activities...),
		actionKeys:  make(map[string]bool, len(s.actionKeys)),
		idempotency: make(map[string]*IdempotencyKey, len(s.idempotency)),
		nextID:      s.nextID,
	}
	// Stored values are replaced, never mutated in place, except idempotency rows.
	for k, v := range s.cases {
		out.cases[k] = v
	}
	for k, v := range s.documents {
		out.documents[k] = v
	}
	for k, v := range s.numbers {
		out.numbers[k] = v
	}
	for k, v := range s.versions {
		out.versions[k] = append([]*DocumentVersion(nil), v...)
	}
	for k, v := range s.tests {
		out.tests[k] = v
	}
	for k, v := range s.actionKeys {
		out.actionKeys[k] = v
	}
	for k, v := range s.idempotency {
		c := *v
		out.idempotency[k] = &c
	}
	return out
}

func containsStatus(list []CaseStatus, s CaseStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
