package ai

import (
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/iliyamo/deck-builder/internal/model"
)

//go:embed prompts/syllabus_template.md
var syllabusTemplate string

//go:embed prompts/deck_template.md
var deckTemplate string

// SyllabusPrompt renders the syllabus request.
func SyllabusPrompt(req SyllabusRequest) string {
	return strings.NewReplacer(
		"{{description}}", req.Description,
		"{{keywords}}", strings.Join(req.Keywords, ", "),
		"{{difficulty}}", req.Difficulty,
		"{{question_count}}", strconv.Itoa(req.QuestionCount),
	).Replace(syllabusTemplate)
}

// ModulePrompt renders the content request for one module of the syllabus.
func ModulePrompt(deck DeckContext, module model.SyllabusModule) (string, error) {
	syllabus, err := json.Marshal(deck.Syllabus)
	if err != nil {
		return "", err
	}
	moduleJSON, err := json.Marshal(module)
	if err != nil {
		return "", err
	}
	return strings.NewReplacer(
		"{{description}}", deck.Creation.Description,
		"{{keywords}}", strings.Join(deck.Creation.Keywords, ", "),
		"{{difficulty}}", deck.Creation.Difficulty,
		"{{question_count}}", strconv.Itoa(deck.Creation.QuestionCount),
		"{{syllabus}}", string(syllabus),
		"{{specific_module_json}}", string(moduleJSON),
	).Replace(deckTemplate), nil
}
