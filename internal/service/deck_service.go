package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/iliyamo/deck-builder/internal/ai"
	"github.com/iliyamo/deck-builder/internal/model"
	"github.com/iliyamo/deck-builder/internal/queue"
	"github.com/iliyamo/deck-builder/internal/repository"
)

const eventPublishTimeout = 5 * time.Second

// DeckStore is the persistence the pipeline needs.  *repository.DeckRepo
// implements it.
type DeckStore interface {
	Insert(ctx context.Context, ownerID uint64, data model.CreationData, status model.DeckStatus) (model.Deck, error)
	Update(ctx context.Context, deckID, ownerID uint64, patch repository.DeckPatch) (model.Deck, error)
	Get(ctx context.Context, deckID, ownerID uint64) (model.Deck, error)
	List(ctx context.Context, ownerID uint64) ([]model.Deck, error)
	AppendModule(ctx context.Context, deckID, ownerID uint64, position int, title, description string, content model.ModuleContent) (model.Module, int, error)
	ListModules(ctx context.Context, deckID uint64) ([]model.Module, error)
	FailInterrupted(ctx context.Context, reason string) (int64, error)
}

// EventPublisher receives deck lifecycle events.  Failures never affect the
// pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.DeckEvent) error
}

// DeckService drives deck creation: a synchronous syllabus phase followed by
// background generation of every module in syllabus order.
type DeckService struct {
	decks    DeckStore
	gen      ai.Generator
	runner   *Runner
	events   EventPublisher
	validate *validator.Validate
	log      *zap.Logger

	// failOnModuleError moves a deck to failed (resumable) when a module
	// cannot be generated; otherwise the deck stays generating with the
	// error recorded.
	failOnModuleError bool
}

// DeckOptions configures optional collaborators of DeckService.
type DeckOptions struct {
	Events            EventPublisher
	Logger            *zap.Logger
	FailOnModuleError bool
}

func NewDeckService(decks DeckStore, gen ai.Generator, runner *Runner, opts DeckOptions) *DeckService {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &DeckService{
		decks:             decks,
		gen:               gen,
		runner:            runner,
		events:            opts.Events,
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		log:               log,
		failOnModuleError: opts.FailOnModuleError,
	}
}

// SyllabusResult is returned by CreateSyllabus.
type SyllabusResult struct {
	Deck    model.Deck
	Preview model.Syllabus
}

// CreateSyllabus stores the request, asks the generator for a syllabus and
// moves the deck to preview.  When generation fails the deck is left in
// creating with last_error set.
func (s *DeckService) CreateSyllabus(ctx context.Context, ownerID uint64, data model.CreationData) (SyllabusResult, error) {
	data.Description = strings.TrimSpace(data.Description)
	if err := s.validate.Struct(data); err != nil {
		return SyllabusResult{}, fmt.Errorf("%w: %s", ErrValidation, validationMessage(err))
	}

	deck, err := s.decks.Insert(ctx, ownerID, data, model.DeckCreating)
	if err != nil {
		return SyllabusResult{}, storeError("insert deck", err)
	}
	log := s.log.With(zap.Uint64("deck_id", deck.ID), zap.Uint64("user_id", ownerID))

	syllabus, conv, err := s.gen.GenerateSyllabus(ctx, ai.SyllabusRequest{
		Description:   data.Description,
		Keywords:      data.Keywords,
		Difficulty:    data.Difficulty,
		QuestionCount: data.QuestionCount,
	})
	if err == nil {
		err = checkSyllabus(syllabus)
	}
	if err != nil {
		log.Warn("syllabus generation failed", zap.Error(err))
		s.recordError(ctx, deck.ID, ownerID, model.DeckCreating, err)
		if !errors.Is(err, ai.ErrGeneration) {
			err = fmt.Errorf("%w: %w", ai.ErrGeneration, err)
		}
		return SyllabusResult{}, err
	}

	title := strings.TrimSpace(syllabus.Title)
	if title == "" {
		title = data.Title
	}
	patch, err := transition(deck.Status, model.DeckPreview)
	if err != nil {
		return SyllabusResult{}, err
	}
	patch.Title = &title
	patch.Description = repository.Ptr(syllabus.Explanation)
	patch.PreviewContent = syllabus.Content
	patch.ConversationRef = repository.Ptr(string(conv))
	deck, err = s.decks.Update(ctx, deck.ID, ownerID, patch)
	if err != nil {
		return SyllabusResult{}, storeError("store preview", err)
	}
	log.Info("syllabus ready", zap.Int("modules", len(deck.Breakdown())))
	return SyllabusResult{Deck: deck, Preview: syllabus}, nil
}

func checkSyllabus(s model.Syllabus) error {
	if s.Content == nil {
		return fmt.Errorf("%w: syllabus has no content", ai.ErrGeneration)
	}
	if len(s.Content.Breakdown) == 0 {
		return fmt.Errorf("%w: syllabus has no modules", ai.ErrGeneration)
	}
	for i, m := range s.Content.Breakdown {
		if strings.TrimSpace(m.Title) == "" {
			return fmt.Errorf("%w: syllabus module %d has no title", ai.ErrGeneration, i)
		}
	}
	return nil
}

// StartGeneration moves a previewed deck to generating and schedules the
// background run.  It returns as soon as the run is queued.
func (s *DeckService) StartGeneration(ctx context.Context, deckID, ownerID uint64) (model.Deck, error) {
	deck, err := s.decks.Get(ctx, deckID, ownerID)
	if err != nil {
		return model.Deck{}, storeError("load deck", err)
	}
	if deck.Status != model.DeckPreview {
		return model.Deck{}, fmt.Errorf("deck is %s, expected %s: %w", deck.Status, model.DeckPreview, ErrInvalidState)
	}
	total := len(deck.Breakdown())
	if total == 0 {
		return model.Deck{}, fmt.Errorf("deck has no syllabus modules: %w", ErrInvalidState)
	}

	patch, err := transition(deck.Status, model.DeckGenerating)
	if err != nil {
		return model.Deck{}, err
	}
	patch.CompletedModules = repository.Ptr(0)
	patch.TotalModules = repository.Ptr(total)
	patch.LastError = repository.Ptr("")
	deck, err = s.decks.Update(ctx, deckID, ownerID, patch)
	if err != nil {
		return model.Deck{}, storeError("start generation", err)
	}
	return deck, s.schedule(ctx, deck)
}

// ResumeGeneration restarts a failed, resumable deck at its checkpoint.
func (s *DeckService) ResumeGeneration(ctx context.Context, deckID, ownerID uint64) (model.Deck, error) {
	deck, err := s.decks.Get(ctx, deckID, ownerID)
	if err != nil {
		return model.Deck{}, storeError("load deck", err)
	}
	if deck.Status != model.DeckFailed || !deck.Resumable || len(deck.Breakdown()) == 0 {
		return model.Deck{}, fmt.Errorf("deck is %s and cannot be resumed: %w", deck.Status, ErrInvalidState)
	}
	patch, err := transition(deck.Status, model.DeckGenerating)
	if err != nil {
		return model.Deck{}, err
	}
	patch.LastError = repository.Ptr("")
	patch.Resumable = repository.Ptr(false)
	patch.RequireResumable = true
	deck, err = s.decks.Update(ctx, deckID, ownerID, patch)
	if err != nil {
		return model.Deck{}, storeError("resume generation", err)
	}
	return deck, s.schedule(ctx, deck)
}

func (s *DeckService) schedule(ctx context.Context, deck model.Deck) error {
	deckID, ownerID := deck.ID, deck.UserID
	err := s.runner.Submit(deckID, "generate-modules", func(ctx context.Context) error {
		return s.runGeneration(ctx, deckID, ownerID)
	})
	if err == nil {
		return nil
	}
	// The deck is already generating; leave it resumable for a later attempt.
	s.log.Error("schedule generation", zap.Uint64("deck_id", deckID), zap.Error(err))
	patch, terr := transition(deck.Status, model.DeckFailed)
	if terr == nil {
		patch.LastError = repository.Ptr(err.Error())
		patch.Resumable = repository.Ptr(true)
		_, _ = s.decks.Update(context.WithoutCancel(ctx), deckID, ownerID, patch)
	}
	return fmt.Errorf("schedule generation: %w: %w", ErrUnavailable, err)
}

// runGeneration produces the remaining modules of a generating deck, one at
// a time starting at completed_modules.
func (s *DeckService) runGeneration(ctx context.Context, deckID, ownerID uint64) error {
	deck, err := s.decks.Get(ctx, deckID, ownerID)
	if err != nil {
		return storeError("load deck", err)
	}
	log := s.log.With(zap.Uint64("deck_id", deckID), zap.Uint64("user_id", ownerID))
	if deck.Status != model.DeckGenerating {
		log.Info("generation skipped", zap.String("status", string(deck.Status)))
		return nil
	}

	breakdown := deck.Breakdown()
	dc := ai.DeckContext{Title: deck.Title, Creation: deck.CreationData, Syllabus: deck.PreviewContent}
	conv := ai.Conversation(deck.ConversationRef)
	completed := deck.CompletedModules

	for i := completed; i < len(breakdown); i++ {
		mod := breakdown[i]
		content, err := s.gen.GenerateModuleContent(ctx, dc, mod, conv)
		if err == nil && content.Empty() {
			err = fmt.Errorf("%w: module %q came back empty", ai.ErrGeneration, mod.Title)
		}
		if err != nil {
			return s.failRun(ctx, deck, completed, mod.Title, err)
		}
		_, completed, err = s.decks.AppendModule(ctx, deckID, ownerID, i, mod.Title, mod.Description, content)
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				log.Warn("deck left generating, stopping run", zap.Int("position", i))
				return nil
			}
			return s.failRun(ctx, deck, i, mod.Title, storeError("append module", err))
		}
		log.Info("module generated", zap.String("module", mod.Title), zap.Int("completed", completed), zap.Int("total", len(breakdown)))
		s.publish(ctx, queue.DeckEvent{
			Type:             queue.EventModuleGenerated,
			DeckID:           deckID,
			UserID:           ownerID,
			Status:           string(model.DeckGenerating),
			CompletedModules: completed,
			TotalModules:     len(breakdown),
			ModuleTitle:      mod.Title,
		})
	}

	return s.complete(ctx, deck, log)
}

func (s *DeckService) complete(ctx context.Context, deck model.Deck, log *zap.Logger) error {
	modules, err := s.decks.ListModules(ctx, deck.ID)
	if err != nil {
		return s.failRun(ctx, deck, deck.TotalModules, "", storeError("list modules", err))
	}
	aggregate := model.DeckContent{
		Title:       deck.Title,
		Description: deck.Description,
		Modules:     make([]model.ModuleContent, 0, len(modules)),
	}
	for _, m := range modules {
		aggregate.Modules = append(aggregate.Modules, m.Content)
	}
	patch, err := transition(model.DeckGenerating, model.DeckComplete)
	if err != nil {
		return err
	}
	patch.DeckContent = &aggregate
	patch.LastError = repository.Ptr("")
	done, err := s.decks.Update(ctx, deck.ID, deck.UserID, patch)
	if err != nil {
		return s.failRun(ctx, deck, len(modules), "", storeError("complete deck", err))
	}
	log.Info("deck complete", zap.Int("modules", len(modules)))
	s.publish(ctx, queue.DeckEvent{
		Type:             queue.EventGenerationCompleted,
		DeckID:           done.ID,
		UserID:           done.UserID,
		Status:           string(done.Status),
		CompletedModules: done.CompletedModules,
		TotalModules:     done.TotalModules,
	})
	return nil
}

// failRun records cause on the deck and returns it.  completed is the
// checkpoint reached before the failure.  A run interrupted by runner
// shutdown always leaves the deck failed and resumable.
func (s *DeckService) failRun(ctx context.Context, deck model.Deck, completed int, moduleTitle string, cause error) error {
	interrupted := ctx.Err() != nil
	s.log.Error("deck generation failed",
		zap.Uint64("deck_id", deck.ID),
		zap.Uint64("user_id", deck.UserID),
		zap.String("module", moduleTitle),
		zap.Int("completed", completed),
		zap.Bool("interrupted", interrupted),
		zap.Error(cause))

	status := model.DeckGenerating
	patch := repository.DeckPatch{FromStatus: repository.Ptr(model.DeckGenerating)}
	if s.failOnModuleError || interrupted {
		var err error
		if patch, err = transition(model.DeckGenerating, model.DeckFailed); err != nil {
			return err
		}
		status = model.DeckFailed
		patch.Resumable = repository.Ptr(true)
	}
	patch.LastError = repository.Ptr(cause.Error())
	if _, err := s.decks.Update(context.WithoutCancel(ctx), deck.ID, deck.UserID, patch); err != nil {
		s.log.Error("record generation failure", zap.Uint64("deck_id", deck.ID), zap.Error(err))
	}
	s.publish(ctx, queue.DeckEvent{
		Type:             queue.EventGenerationFailed,
		DeckID:           deck.ID,
		UserID:           deck.UserID,
		Status:           string(status),
		CompletedModules: completed,
		TotalModules:     deck.TotalModules,
		ModuleTitle:      moduleTitle,
		Error:            cause.Error(),
	})
	return cause
}

// RecoverInterrupted fails every deck left generating by a previous process
// and marks it resumable.  It must run before the runner accepts work.
func (s *DeckService) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.decks.FailInterrupted(ctx, "generation interrupted by restart")
	if err != nil {
		return 0, storeError("recover interrupted decks", err)
	}
	if n > 0 {
		s.log.Warn("interrupted decks marked resumable", zap.Int64("decks", n))
	}
	return n, nil
}

// transition returns a patch moving a deck from one status to another,
// guarded on the current status.
func transition(from, to model.DeckStatus) (repository.DeckPatch, error) {
	if !from.CanTransition(to) {
		return repository.DeckPatch{}, fmt.Errorf("deck is %s and cannot move to %s: %w", from, to, ErrInvalidState)
	}
	return repository.DeckPatch{Status: repository.Ptr(to), FromStatus: repository.Ptr(from)}, nil
}

// recordError stores err as last_error while the deck is still in from.
func (s *DeckService) recordError(ctx context.Context, deckID, ownerID uint64, from model.DeckStatus, err error) {
	_, uerr := s.decks.Update(context.WithoutCancel(ctx), deckID, ownerID, repository.DeckPatch{
		LastError:  repository.Ptr(err.Error()),
		FromStatus: &from,
	})
	if uerr != nil {
		s.log.Error("record deck error", zap.Uint64("deck_id", deckID), zap.Error(uerr))
	}
}

func (s *DeckService) publish(ctx context.Context, ev queue.DeckEvent) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish deck event",
			zap.String("event", ev.Type),
			zap.Uint64("deck_id", ev.DeckID),
			zap.Error(err))
	}
}

// Progress is the polling view of a deck.
type Progress struct {
	Status           model.DeckStatus
	CompletedModules int
	TotalModules     int
	LastError        string
	Resumable        bool
}

// GetProgress reads the deck's progress from the store.
func (s *DeckService) GetProgress(ctx context.Context, deckID, ownerID uint64) (Progress, error) {
	deck, err := s.decks.Get(ctx, deckID, ownerID)
	if err != nil {
		return Progress{}, storeError("load deck", err)
	}
	return Progress{
		Status:           deck.Status,
		CompletedModules: deck.CompletedModules,
		TotalModules:     deck.TotalModules,
		LastError:        deck.LastError,
		Resumable:        deck.Resumable,
	}, nil
}

// ListDecks returns the caller's decks, newest first.
func (s *DeckService) ListDecks(ctx context.Context, ownerID uint64) ([]model.Deck, error) {
	decks, err := s.decks.List(ctx, ownerID)
	if err != nil {
		return nil, storeError("list decks", err)
	}
	return decks, nil
}

// GetDeckContent returns the deck and its persisted modules in syllabus
// order.  Ownership is checked before any module is read.
func (s *DeckService) GetDeckContent(ctx context.Context, deckID, ownerID uint64) (model.Deck, []model.Module, error) {
	deck, err := s.decks.Get(ctx, deckID, ownerID)
	if err != nil {
		return model.Deck{}, nil, storeError("load deck", err)
	}
	modules, err := s.decks.ListModules(ctx, deck.ID)
	if err != nil {
		return model.Deck{}, nil, storeError("list modules", err)
	}
	return deck, modules, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
