package model

import "time"

// Question set types produced by the deck assistant.
const (
	QuestionMultipleChoice = "multiple_choice"
	QuestionTrueFalse      = "true_false"
	QuestionShortAnswer    = "short_answer"
	QuestionFlashcard      = "flashcard"
)

// Module mirrors the `modules` table.  Rows are immutable once inserted and
// Position is the index of the module in the syllabus breakdown.
type Module struct {
	ID          uint64
	DeckID      uint64
	Position    int
	Title       string
	Description string
	Content     ModuleContent
	CreatedAt   time.Time
}

// ModuleContent is the generated body of one module.
type ModuleContent struct {
	Module    string     `json:"module"`
	Subtopics []Subtopic `json:"subtopics"`
}

// KnownQuestionType reports whether t is a question set type the deck
// assistant is asked to produce.
func KnownQuestionType(t string) bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionShortAnswer, QuestionFlashcard:
		return true
	}
	return false
}

// Empty reports whether the generator produced nothing usable.  Question sets
// of an unknown type do not count.
func (m ModuleContent) Empty() bool {
	for _, s := range m.Subtopics {
		for _, qs := range s.QuestionSets {
			if KnownQuestionType(qs.Type) {
				return false
			}
		}
	}
	return true
}

type Subtopic struct {
	Title        string        `json:"title"`
	QuestionSets []QuestionSet `json:"questionSets"`
}

type QuestionSet struct {
	Type      string     `json:"type"`
	Questions []Question `json:"questions"`
}

type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}
