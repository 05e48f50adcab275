package repository

import (
	"context"
	"sync"

	"github.com/ragctl/ragctl/apperrors"
	"github.com/ragctl/ragctl/domain"
)

// MemoryStore is an in-process fake of every repository interface, used by
// package tests that exercise service logic without a live Postgres. It is
// not meant to model SQL semantics exactly (e.g. no JSONB round-tripping),
// only the contracts callers depend on.
type MemoryStore struct {
	mu sync.Mutex

	users        map[string]*domain.User
	knowledges   map[string]*domain.Knowledge
	memberships  map[string]*domain.Membership // key: userID+"/"+kbID
	documents    map[string]*domain.Document
	chunks       map[string][]ChunkRecord // key: documentID
	sessions     map[string]*domain.ChatSession
	messages     map[string][]*domain.Message // key: sessionUUID
	testSets     map[string]*domain.TestSet
	experiments  map[string]*domain.Experiment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*domain.User),
		knowledges:  make(map[string]*domain.Knowledge),
		memberships: make(map[string]*domain.Membership),
		documents:   make(map[string]*domain.Document),
		chunks:      make(map[string][]ChunkRecord),
		sessions:    make(map[string]*domain.ChatSession),
		messages:    make(map[string][]*domain.Message),
		testSets:    make(map[string]*domain.TestSet),
		experiments: make(map[string]*domain.Experiment),
	}
}

func membershipKey(userID, kbID string) string { return userID + "/" + kbID }

// --- UserRepository ---

func (s *MemoryStore) Create(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("user", email)
}

func (s *MemoryStore) Update(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return apperrors.NotFound("user", u.ID)
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// --- KnowledgeRepository ---

func (s *MemoryStore) CreateKnowledge(ctx context.Context, k *domain.Knowledge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.knowledges[k.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Knowledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.knowledges[id]
	if !ok {
		return nil, apperrors.NotFound("knowledge", id)
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]*domain.Knowledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Knowledge
	for _, m := range s.memberships {
		if m.UserID != userID {
			continue
		}
		if k, ok := s.knowledges[m.KBID]; ok {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListKnowledgesByStatus(ctx context.Context, status domain.KBStatus) ([]*domain.Knowledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Knowledge
	for _, k := range s.knowledges {
		if k.Status == status {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateKnowledge(ctx context.Context, k *domain.Knowledge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.knowledges[k.ID]; !ok {
		return apperrors.NotFound("knowledge", k.ID)
	}
	cp := *k
	s.knowledges[k.ID] = &cp
	return nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id string, status domain.KBStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.knowledges[id]
	if !ok {
		return apperrors.NotFound("knowledge", id)
	}
	k.Status = status
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.knowledges, id)
	return nil
}

// --- MembershipRepository ---

func (s *MemoryStore) Upsert(ctx context.Context, m *domain.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.memberships[membershipKey(m.UserID, m.KBID)] = &cp
	return nil
}

func (s *MemoryStore) GetMembership(ctx context.Context, userID, kbID string) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey(userID, kbID)]
	if !ok {
		return nil, apperrors.NotFound("membership", membershipKey(userID, kbID))
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListByKB(ctx context.Context, kbID string) ([]*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Membership
	for _, m := range s.memberships {
		if m.KBID == kbID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteMembership(ctx context.Context, userID, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, membershipKey(userID, kbID))
	return nil
}

func (s *MemoryStore) DeleteByKB(ctx context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, m := range s.memberships {
		if m.KBID == kbID {
			delete(s.memberships, k)
		}
	}
	return nil
}

// --- DocumentRepository ---

func (s *MemoryStore) CreateDocument(ctx context.Context, d *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.documents[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, apperrors.NotFound("document", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDocumentsByKB(ctx context.Context, kbID string) ([]*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Document
	for _, d := range s.documents {
		if d.KBID == kbID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDocumentsByStatus(ctx context.Context, status domain.DocumentStatus) ([]*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Document
	for _, d := range s.documents {
		if d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return apperrors.NotFound("document", id)
	}
	if len(errMsg) > domain.MaxErrorMessageLen {
		errMsg = errMsg[:domain.MaxErrorMessageLen]
	}
	d.Status = status
	d.ErrorMessage = errMsg
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

func (s *MemoryStore) DeleteDocumentsByKB(ctx context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.documents {
		if d.KBID == kbID {
			delete(s.documents, id)
			delete(s.chunks, id)
		}
	}
	return nil
}

// --- ChunkIndexRepository ---

func (s *MemoryStore) BulkInsert(ctx context.Context, chunks []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.DocumentID] = append(s.chunks[c.DocumentID], c)
	}
	return nil
}

func (s *MemoryStore) CountByDocument(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[docID]), nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, docID)
	return nil
}

// --- SessionRepository ---

func (s *MemoryStore) CreateSession(ctx context.Context, cs *domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cs
	s.sessions[cs.UUID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, uuid string) (*domain.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[uuid]
	if !ok || cs.Deleted {
		return nil, apperrors.NotFound("chat session", uuid)
	}
	cp := *cs
	return &cp, nil
}

func (s *MemoryStore) ListSessionsByUser(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ChatSession
	for _, cs := range s.sessions {
		if cs.UserID == userID && !cs.Deleted {
			cp := *cs
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, cs *domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[cs.UUID]; !ok {
		return apperrors.NotFound("chat session", cs.UUID)
	}
	cp := *cs
	s.sessions[cs.UUID] = &cp
	return nil
}

func (s *MemoryStore) SoftDeleteSession(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[uuid]
	if !ok {
		return apperrors.NotFound("chat session", uuid)
	}
	cs.Deleted = true
	return nil
}

// --- MessageRepository ---

func (s *MemoryStore) Append(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.SessionUUID] = append(s.messages[m.SessionUUID], &cp)
	return nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, sessionUUID string, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[sessionUUID]
	if limit <= 0 || limit >= len(all) {
		out := make([]*domain.Message, len(all))
		copy(out, all)
		return out, nil
	}
	return append([]*domain.Message{}, all[len(all)-limit:]...), nil
}

// --- TestSetRepository ---

func (s *MemoryStore) CreateTestSet(ctx context.Context, t *domain.TestSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.testSets[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTestSet(ctx context.Context, id string) (*domain.TestSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.testSets[id]
	if !ok {
		return nil, apperrors.NotFound("test set", id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTestSets(ctx context.Context) ([]*domain.TestSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TestSet
	for _, t := range s.testSets {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListTestSetsByStatus(ctx context.Context, status domain.TestSetStatus) ([]*domain.TestSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TestSet
	for _, t := range s.testSets {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetTestSetStatus(ctx context.Context, id string, status domain.TestSetStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.testSets[id]
	if !ok {
		return apperrors.NotFound("test set", id)
	}
	t.Status = status
	t.ErrorMessage = errMsg
	return nil
}

func (s *MemoryStore) DeleteTestSet(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.testSets, id)
	return nil
}

// --- ExperimentRepository ---

func (s *MemoryStore) CreateExperiment(ctx context.Context, e *domain.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.experiments[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.experiments[id]
	if !ok {
		return nil, apperrors.NotFound("experiment", id)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListExperimentsByKB(ctx context.Context, kbID string) ([]*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Experiment
	for _, e := range s.experiments {
		if e.KBID == kbID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListExperimentsByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Experiment
	for _, e := range s.experiments {
		if e.Status == status {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateExperiment(ctx context.Context, e *domain.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[e.ID]; !ok {
		return apperrors.NotFound("experiment", e.ID)
	}
	cp := *e
	s.experiments[e.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteExperiment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.experiments, id)
	return nil
}

func (s *MemoryStore) DeleteExperimentsByKB(ctx context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.experiments {
		if e.KBID == kbID {
			delete(s.experiments, id)
		}
	}
	return nil
}

// Typed views onto MemoryStore, one per repository interface, so a single
// in-memory dataset can be shared across fakes in a test while each call
// site still depends on the narrow interface it needs.

type MemoryUserRepository struct{ *MemoryStore }
type MemoryKnowledgeRepository struct{ *MemoryStore }
type MemoryMembershipRepository struct{ *MemoryStore }
type MemoryDocumentRepository struct{ *MemoryStore }
type MemoryChunkIndexRepository struct{ *MemoryStore }
type MemorySessionRepository struct{ *MemoryStore }
type MemoryMessageRepository struct{ *MemoryStore }
type MemoryTestSetRepository struct{ *MemoryStore }
type MemoryExperimentRepository struct{ *MemoryStore }

func (r MemoryKnowledgeRepository) Create(ctx context.Context, k *domain.Knowledge) error {
	return r.CreateKnowledge(ctx, k)
}
func (r MemoryKnowledgeRepository) Update(ctx context.Context, k *domain.Knowledge) error {
	return r.UpdateKnowledge(ctx, k)
}
func (r MemoryKnowledgeRepository) ListByStatus(ctx context.Context, status domain.KBStatus) ([]*domain.Knowledge, error) {
	return r.ListKnowledgesByStatus(ctx, status)
}

func (r MemoryMembershipRepository) Get(ctx context.Context, userID, kbID string) (*domain.Membership, error) {
	return r.GetMembership(ctx, userID, kbID)
}
func (r MemoryMembershipRepository) Delete(ctx context.Context, userID, kbID string) error {
	return r.DeleteMembership(ctx, userID, kbID)
}

func (r MemoryDocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	return r.CreateDocument(ctx, d)
}
func (r MemoryDocumentRepository) Get(ctx context.Context, id string) (*domain.Document, error) {
	return r.GetDocument(ctx, id)
}
func (r MemoryDocumentRepository) ListByKB(ctx context.Context, kbID string) ([]*domain.Document, error) {
	return r.ListDocumentsByKB(ctx, kbID)
}
func (r MemoryDocumentRepository) ListByStatus(ctx context.Context, status domain.DocumentStatus) ([]*domain.Document, error) {
	return r.ListDocumentsByStatus(ctx, status)
}
func (r MemoryDocumentRepository) SetStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	return r.SetDocumentStatus(ctx, id, status, errMsg)
}
func (r MemoryDocumentRepository) Delete(ctx context.Context, id string) error {
	return r.DeleteDocument(ctx, id)
}
func (r MemoryDocumentRepository) DeleteByKB(ctx context.Context, kbID string) error {
	return r.DeleteDocumentsByKB(ctx, kbID)
}

func (r MemorySessionRepository) Create(ctx context.Context, cs *domain.ChatSession) error {
	return r.CreateSession(ctx, cs)
}
func (r MemorySessionRepository) Get(ctx context.Context, uuid string) (*domain.ChatSession, error) {
	return r.GetSession(ctx, uuid)
}
func (r MemorySessionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	return r.ListSessionsByUser(ctx, userID)
}
func (r MemorySessionRepository) Update(ctx context.Context, cs *domain.ChatSession) error {
	return r.UpdateSession(ctx, cs)
}
func (r MemorySessionRepository) SoftDelete(ctx context.Context, uuid string) error {
	return r.SoftDeleteSession(ctx, uuid)
}

func (r MemoryTestSetRepository) Create(ctx context.Context, t *domain.TestSet) error {
	return r.CreateTestSet(ctx, t)
}
func (r MemoryTestSetRepository) Get(ctx context.Context, id string) (*domain.TestSet, error) {
	return r.GetTestSet(ctx, id)
}
func (r MemoryTestSetRepository) List(ctx context.Context) ([]*domain.TestSet, error) {
	return r.ListTestSets(ctx)
}
func (r MemoryTestSetRepository) ListByStatus(ctx context.Context, status domain.TestSetStatus) ([]*domain.TestSet, error) {
	return r.ListTestSetsByStatus(ctx, status)
}
func (r MemoryTestSetRepository) SetStatus(ctx context.Context, id string, status domain.TestSetStatus, errMsg string) error {
	return r.SetTestSetStatus(ctx, id, status, errMsg)
}
func (r MemoryTestSetRepository) Delete(ctx context.Context, id string) error {
	return r.DeleteTestSet(ctx, id)
}

func (r MemoryExperimentRepository) Create(ctx context.Context, e *domain.Experiment) error {
	return r.CreateExperiment(ctx, e)
}
func (r MemoryExperimentRepository) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	return r.GetExperiment(ctx, id)
}
func (r MemoryExperimentRepository) ListByKB(ctx context.Context, kbID string) ([]*domain.Experiment, error) {
	return r.ListExperimentsByKB(ctx, kbID)
}
func (r MemoryExperimentRepository) ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]*domain.Experiment, error) {
	return r.ListExperimentsByStatus(ctx, status)
}
func (r MemoryExperimentRepository) Update(ctx context.Context, e *domain.Experiment) error {
	return r.UpdateExperiment(ctx, e)
}
func (r MemoryExperimentRepository) Delete(ctx context.Context, id string) error {
	return r.DeleteExperiment(ctx, id)
}
func (r MemoryExperimentRepository) DeleteByKB(ctx context.Context, kbID string) error {
	return r.DeleteExperimentsByKB(ctx, kbID)
}

var (
	_ UserRepository       = MemoryUserRepository{}
	_ KnowledgeRepository  = MemoryKnowledgeRepository{}
	_ MembershipRepository = MemoryMembershipRepository{}
	_ DocumentRepository   = MemoryDocumentRepository{}
	_ ChunkIndexRepository = MemoryChunkIndexRepository{}
	_ SessionRepository    = MemorySessionRepository{}
	_ MessageRepository    = MemoryMessageRepository{}
	_ TestSetRepository    = MemoryTestSetRepository{}
	_ ExperimentRepository = MemoryExperimentRepository{}
)
