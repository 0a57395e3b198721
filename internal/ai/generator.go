// Package ai abstracts the conversational assistant that writes deck
// syllabi and module content.  The orchestrator depends only on Generator;
// AssistantsClient implements it over the OpenAI Assistants REST protocol
// (threads, messages, runs, polling).
package ai

import (
	"context"
	"errors"

	"github.com/iliyamo/deck-builder/internal/model"
)

var (
	// ErrGeneration wraps every failure of a generation call: transport
	// errors, runs that did not complete, empty or malformed replies.
	ErrGeneration = errors.New("generation failed")
	// ErrRunNotCompleted is the terminal non-success outcome of a run
	// (failed, cancelled, expired, incomplete, requires_action or timeout).
	ErrRunNotCompleted = errors.New("assistant run did not complete")
	// ErrEmptyReply is returned when a completed run produced no text.
	ErrEmptyReply = errors.New("assistant returned no content")
)

// Conversation is the opaque handle of the provider-side thread shared by
// every call made for one deck.  Calls on the same handle must be serialized.
type Conversation string

// SyllabusRequest carries the user's creation data into the syllabus prompt.
type SyllabusRequest struct {
	Description   string
	Keywords      []string
	Difficulty    string
	QuestionCount int
}

// DeckContext is the deck-wide context repeated in every module prompt.
type DeckContext struct {
	Title    string
	Creation model.CreationData
	Syllabus *model.SyllabusContent
}

// Generator produces deck content.  Both calls are long-running and honour
// ctx cancellation.
type Generator interface {
	GenerateSyllabus(ctx context.Context, req SyllabusRequest) (model.Syllabus, Conversation, error)
	GenerateModuleContent(ctx context.Context, deck DeckContext, module model.SyllabusModule, conv Conversation) (model.ModuleContent, error)
}
