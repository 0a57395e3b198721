package model

import "time"

// DeckStatus is the state of a deck in the generation pipeline.
type DeckStatus string

const (
	DeckCreating   DeckStatus = "creating"
	DeckPreview    DeckStatus = "preview"
	DeckGenerating DeckStatus = "generating"
	DeckComplete   DeckStatus = "complete"
	DeckFailed     DeckStatus = "failed"
)

// next lists the single forward successor of each non-terminal status.
var next = map[DeckStatus]DeckStatus{
	DeckCreating:   DeckPreview,
	DeckPreview:    DeckGenerating,
	DeckGenerating: DeckComplete,
}

// CanTransition reports whether a deck may move from s to to.  Transitions are
// strictly forward without skipping; failed is reachable from every
// non-terminal status.  A failed deck may re-enter generating only when it was
// marked resumable, which the caller checks.
func (s DeckStatus) CanTransition(to DeckStatus) bool {
	if to == DeckFailed {
		_, ok := next[s]
		return ok
	}
	if s == DeckFailed {
		return to == DeckGenerating
	}
	return next[s] == to
}

// Valid reports whether s is one of the known statuses.
func (s DeckStatus) Valid() bool {
	switch s {
	case DeckCreating, DeckPreview, DeckGenerating, DeckComplete, DeckFailed:
		return true
	}
	return false
}

// Difficulty levels accepted for a deck.
const (
	DifficultyEasy   = "Easy"
	DifficultyMedium = "Medium"
	DifficultyHard   = "Hard"
)

// CreationData is the user's request for a deck, stored verbatim in
// decks.creation_data before any generation happens.
type CreationData struct {
	Title         string   `json:"title,omitempty" validate:"omitempty,max=255"`
	Description   string   `json:"description" validate:"required,max=4000"`
	Keywords      []string `json:"keywords" validate:"required,min=1,max=20,dive,required,max=100"`
	Difficulty    string   `json:"difficulty" validate:"required,oneof=Easy Medium Hard"`
	QuestionCount int      `json:"questionCount" validate:"required,min=1,max=100"`
}

// Syllabus is the preview produced before content generation: a title, an
// explanation and the ordered module breakdown.
type Syllabus struct {
	Title       string           `json:"title"`
	Explanation string           `json:"explanation,omitempty"`
	Content     *SyllabusContent `json:"content"`
}

// SyllabusContent is what decks.preview_content stores.
type SyllabusContent struct {
	Overview  string           `json:"overview,omitempty"`
	Breakdown []SyllabusModule `json:"breakdown"`
}

// SyllabusModule describes one module of the breakdown.
type SyllabusModule struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Subtopics   []string `json:"subtopics,omitempty"`
}

// Deck mirrors the `decks` table.  JSON columns are decoded into their typed
// form by the repository; nil pointers stand for SQL NULL.
type Deck struct {
	ID               uint64
	UserID           uint64
	CreationData     CreationData
	Status           DeckStatus
	Title            string
	Description      string
	PreviewContent   *SyllabusContent
	ConversationRef  string
	CompletedModules int
	TotalModules     int
	DeckContent      *DeckContent
	LastError        string
	Resumable        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Breakdown returns the ordered syllabus modules, or nil without a preview.
func (d Deck) Breakdown() []SyllabusModule {
	if d.PreviewContent == nil {
		return nil
	}
	return d.PreviewContent.Breakdown
}

// DeckContent is the aggregate stored on a deck once every module exists.
type DeckContent struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Modules     []ModuleContent `json:"modules"`
}
