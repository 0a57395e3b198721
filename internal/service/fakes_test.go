package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/deck-builder/internal/ai"
	"github.com/iliyamo/deck-builder/internal/model"
	"github.com/iliyamo/deck-builder/internal/queue"
	"github.com/iliyamo/deck-builder/internal/repository"
)

// memDecks is an in-memory DeckStore with the same guard semantics as the
// MySQL repository.
type memDecks struct {
	mu      sync.Mutex
	nextID  uint64
	decks   map[uint64]model.Deck
	modules map[uint64][]model.Module
	updates int
}

func newMemDecks() *memDecks {
	return &memDecks{decks: map[uint64]model.Deck{}, modules: map[uint64][]model.Module{}}
}

func (m *memDecks) Insert(ctx context.Context, ownerID uint64, data model.CreationData, status model.DeckStatus) (model.Deck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d := model.Deck{ID: m.nextID, UserID: ownerID, CreationData: data, Status: status, Title: data.Title, CreatedAt: time.Now()}
	m.decks[d.ID] = d
	return d, nil
}

func (m *memDecks) Update(ctx context.Context, deckID, ownerID uint64, p repository.DeckPatch) (model.Deck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[deckID]
	if !ok || d.UserID != ownerID {
		return model.Deck{}, repository.ErrNotFound
	}
	if p.FromStatus != nil && d.Status != *p.FromStatus {
		return model.Deck{}, repository.ErrStatusConflict
	}
	if p.RequireResumable && !d.Resumable {
		return model.Deck{}, repository.ErrStatusConflict
	}
	m.updates++
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.PreviewContent != nil {
		d.PreviewContent = p.PreviewContent
	}
	if p.ConversationRef != nil {
		d.ConversationRef = *p.ConversationRef
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.CompletedModules != nil {
		d.CompletedModules = *p.CompletedModules
	}
	if p.TotalModules != nil {
		d.TotalModules = *p.TotalModules
	}
	if p.DeckContent != nil {
		d.DeckContent = p.DeckContent
	}
	if p.LastError != nil {
		d.LastError = *p.LastError
	}
	if p.Resumable != nil {
		d.Resumable = *p.Resumable
	}
	m.decks[deckID] = d
	return d, nil
}

func (m *memDecks) Get(ctx context.Context, deckID, ownerID uint64) (model.Deck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[deckID]
	if !ok || d.UserID != ownerID {
		return model.Deck{}, repository.ErrNotFound
	}
	return d, nil
}

func (m *memDecks) List(ctx context.Context, ownerID uint64) ([]model.Deck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Deck{}
	for _, d := range m.decks {
		if d.UserID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memDecks) AppendModule(ctx context.Context, deckID, ownerID uint64, position int, title, description string, content model.ModuleContent) (model.Module, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[deckID]
	if !ok || d.UserID != ownerID || d.Status != model.DeckGenerating ||
		d.CompletedModules != position || d.CompletedModules >= d.TotalModules {
		return model.Module{}, 0, repository.ErrStatusConflict
	}
	d.CompletedModules++
	m.decks[deckID] = d
	mod := model.Module{ID: uint64(len(m.modules[deckID]) + 1), DeckID: deckID, Position: position, Title: title, Description: description, Content: content}
	m.modules[deckID] = append(m.modules[deckID], mod)
	return mod, d.CompletedModules, nil
}

func (m *memDecks) ListModules(ctx context.Context, deckID uint64) ([]model.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.Module(nil), m.modules[deckID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memDecks) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.decks {
		if d.Status != model.DeckGenerating {
			continue
		}
		d.Status, d.Resumable, d.LastError = model.DeckFailed, true, reason
		m.decks[id] = d
		n++
	}
	return n, nil
}

func (m *memDecks) deck(id uint64) model.Deck {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decks[id]
}

// fakeGenerator returns a fixed syllabus and one question set per module.
// failAt lists module titles that fail; empty lists titles that come back
// without questions.
type fakeGenerator struct {
	mu          sync.Mutex
	modules     []string
	syllabusErr error
	noContent   bool
	failAt      map[string]error
	empty       map[string]bool
	calls       []string
	convs       []ai.Conversation

	// blockAt holds the named module until the run context is done;
	// blocked is signalled once it is reached.
	blockAt string
	blocked chan struct{}
}

func (g *fakeGenerator) GenerateSyllabus(ctx context.Context, req ai.SyllabusRequest) (model.Syllabus, ai.Conversation, error) {
	if g.syllabusErr != nil {
		return model.Syllabus{}, "", fmt.Errorf("%w: %w", ai.ErrGeneration, g.syllabusErr)
	}
	if g.noContent {
		return model.Syllabus{Title: "T"}, "thread_x", nil
	}
	content := &model.SyllabusContent{Overview: "overview"}
	for _, t := range g.modules {
		content.Breakdown = append(content.Breakdown, model.SyllabusModule{Title: t, Description: t + " desc"})
	}
	return model.Syllabus{Title: "Deck " + req.Difficulty, Explanation: "about " + req.Description, Content: content}, "thread_x", nil
}

func (g *fakeGenerator) GenerateModuleContent(ctx context.Context, deck ai.DeckContext, module model.SyllabusModule, conv ai.Conversation) (model.ModuleContent, error) {
	g.mu.Lock()
	g.calls = append(g.calls, module.Title)
	g.convs = append(g.convs, conv)
	err := g.failAt[module.Title]
	empty := g.empty[module.Title]
	block := g.blockAt != "" && g.blockAt == module.Title
	g.mu.Unlock()
	if block {
		close(g.blocked)
		<-ctx.Done()
		return model.ModuleContent{}, fmt.Errorf("%w: %w", ai.ErrGeneration, ctx.Err())
	}
	if err != nil {
		return model.ModuleContent{}, fmt.Errorf("%w: %w", ai.ErrGeneration, err)
	}
	if empty {
		return model.ModuleContent{Module: module.Title}, nil
	}
	return model.ModuleContent{
		Module: module.Title,
		Subtopics: []model.Subtopic{{
			Title: module.Title + " basics",
			QuestionSets: []model.QuestionSet{{
				Type:      model.QuestionFlashcard,
				Questions: []model.Question{{Question: "q", Answer: "a"}},
			}},
		}},
	}, nil
}

func (g *fakeGenerator) called() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.DeckEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev queue.DeckEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// memUsers is an in-memory UserStore.
type memUsers struct {
	mu     sync.Mutex
	nextID uint64
	users  map[uint64]model.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[uint64]model.User{}} }

func (m *memUsers) Create(ctx context.Context, email, password string, cost int) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return model.User{}, repository.ErrEmailExists
		}
	}
	hash, err := hashForTest(password)
	if err != nil {
		return model.User{}, err
	}
	m.nextID++
	u := model.User{ID: m.nextID, Email: email, PasswordHash: hash}
	m.users[u.ID] = u
	return u, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(ctx context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) SetRefreshHash(ctx context.Context, id uint64, hash *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.RefreshTokenHash = hash
	m.users[id] = u
	return nil
}

func (m *memUsers) SwapRefreshHash(ctx context.Context, id uint64, old, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.RefreshTokenHash == nil || *u.RefreshTokenHash != old {
		return repository.ErrStatusConflict
	}
	u.RefreshTokenHash = &hash
	m.users[id] = u
	return nil
}

var errBoom = errors.New("boom")
