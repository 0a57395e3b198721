package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/deck-builder/internal/model"
)

// DeckRepo persists decks and their modules.  Every deck query is scoped by
// (id, user_id); status transitions are additionally filtered by the
// expected prior status so two racing writers cannot both succeed.
type DeckRepo struct {
	db *sql.DB
}

// NewDeckRepo returns a new DeckRepo bound to the given database.
func NewDeckRepo(db *sql.DB) *DeckRepo { return &DeckRepo{db: db} }

const deckColumns = `id, user_id, creation_data, status, title, description, preview_content,
       conversation_ref, completed_modules, total_modules, deck_content, last_error,
       resumable, created_at, updated_at`

// DeckPatch lists the columns an Update may change.  Nil fields are left
// untouched.  FromStatus turns the update into a compare-and-swap on the
// current status; RequireResumable additionally demands resumable = 1.
type DeckPatch struct {
	Title            *string
	Description      *string
	PreviewContent   *model.SyllabusContent
	ConversationRef  *string
	Status           *model.DeckStatus
	CompletedModules *int
	TotalModules     *int
	DeckContent      *model.DeckContent
	LastError        *string // "" writes NULL
	Resumable        *bool

	FromStatus       *model.DeckStatus
	RequireResumable bool
}

func (p DeckPatch) assignments() ([]string, []interface{}, error) {
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.PreviewContent != nil {
		raw, err := json.Marshal(p.PreviewContent)
		if err != nil {
			return nil, nil, fmt.Errorf("encode preview: %w", err)
		}
		add("preview_content", string(raw))
	}
	if p.ConversationRef != nil {
		add("conversation_ref", nullString(p.ConversationRef))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.CompletedModules != nil {
		add("completed_modules", *p.CompletedModules)
	}
	if p.TotalModules != nil {
		add("total_modules", *p.TotalModules)
	}
	if p.DeckContent != nil {
		raw, err := json.Marshal(p.DeckContent)
		if err != nil {
			return nil, nil, fmt.Errorf("encode deck content: %w", err)
		}
		add("deck_content", string(raw))
	}
	if p.LastError != nil {
		add("last_error", nullString(p.LastError))
	}
	if p.Resumable != nil {
		add("resumable", *p.Resumable)
	}
	return sets, args, nil
}

// Insert creates a deck in the given status with the raw creation data and
// returns the stored row.
func (r *DeckRepo) Insert(ctx context.Context, ownerID uint64, data model.CreationData, status model.DeckStatus) (model.Deck, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return model.Deck{}, fmt.Errorf("encode creation data: %w", err)
	}
	var title sql.NullString
	if t := strings.TrimSpace(data.Title); t != "" {
		title = sql.NullString{String: t, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO decks (user_id, creation_data, status, title) VALUES (?, ?, ?, ?)`,
		ownerID, string(raw), string(status), title)
	if err != nil {
		return model.Deck{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Deck{}, err
	}
	return r.Get(ctx, uint64(id), ownerID)
}

// Update applies patch to the deck owned by ownerID and returns the row as
// stored afterwards.  When patch.FromStatus is set and the deck is in another
// status, ErrStatusConflict is returned; a missing or foreign deck yields
// ErrNotFound.
func (r *DeckRepo) Update(ctx context.Context, deckID, ownerID uint64, patch DeckPatch) (model.Deck, error) {
	sets, args, err := patch.assignments()
	if err != nil {
		return model.Deck{}, err
	}
	if len(sets) == 0 {
		return r.Get(ctx, deckID, ownerID)
	}
	q := "UPDATE decks SET " + strings.Join(sets, ", ") + " WHERE id = ? AND user_id = ?"
	args = append(args, deckID, ownerID)
	if patch.FromStatus != nil {
		q += " AND status = ?"
		args = append(args, string(*patch.FromStatus))
	}
	if patch.RequireResumable {
		q += " AND resumable = 1"
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return model.Deck{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Deck{}, err
	}
	if n == 0 {
		// Either the deck is gone/foreign or the guard did not match.
		if _, err := r.Get(ctx, deckID, ownerID); err != nil {
			return model.Deck{}, err
		}
		return model.Deck{}, ErrStatusConflict
	}
	return r.Get(ctx, deckID, ownerID)
}

// Get returns the deck with the given id owned by ownerID.
func (r *DeckRepo) Get(ctx context.Context, deckID, ownerID uint64) (model.Deck, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deckColumns+` FROM decks WHERE id = ? AND user_id = ?`, deckID, ownerID)
	d, err := scanDeck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Deck{}, ErrNotFound
	}
	return d, err
}

// List returns every deck of ownerID, newest first.
func (r *DeckRepo) List(ctx context.Context, ownerID uint64) ([]model.Deck, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deckColumns+` FROM decks WHERE user_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	decks := []model.Deck{}
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, err
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

// AppendModule records one generated module: inside a single transaction it
// advances completed_modules from position to position+1 and inserts the
// module row.  The counter update is guarded by status = 'generating' and the
// expected position, so a module is persisted iff the checkpoint advanced.
// It returns the stored module and the new completed count.
func (r *DeckRepo) AppendModule(ctx context.Context, deckID, ownerID uint64, position int, title, description string, content model.ModuleContent) (model.Module, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Module{}, 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE decks SET completed_modules = completed_modules + 1
		 WHERE id = ? AND user_id = ? AND status = ? AND completed_modules = ? AND completed_modules < total_modules`,
		deckID, ownerID, string(model.DeckGenerating), position)
	if err != nil {
		return model.Module{}, 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Module{}, 0, err
	}
	if n == 0 {
		return model.Module{}, 0, ErrStatusConflict
	}

	m, err := r.InsertModuleTx(ctx, tx, deckID, position, title, description, content)
	if err != nil {
		return model.Module{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return model.Module{}, 0, err
	}
	committed = true
	return m, position + 1, nil
}

// FailInterrupted moves every generating deck to failed and marks it
// resumable, recording reason as last_error.  It returns the number of decks
// changed.
func (r *DeckRepo) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE decks SET status = ?, resumable = 1, last_error = ? WHERE status = ?`,
		string(model.DeckFailed), reason, string(model.DeckGenerating))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertModuleTx inserts a module row within the caller's transaction.
func (r *DeckRepo) InsertModuleTx(ctx context.Context, tx *sql.Tx, deckID uint64, position int, title, description string, content model.ModuleContent) (model.Module, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return model.Module{}, fmt.Errorf("encode module content: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO modules (deck_id, position, title, description, content) VALUES (?, ?, ?, ?, ?)`,
		deckID, position, title, description, string(raw))
	if err != nil {
		return model.Module{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Module{}, err
	}
	return model.Module{
		ID:          uint64(id),
		DeckID:      deckID,
		Position:    position,
		Title:       title,
		Description: description,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// ListModules returns the modules of a deck in syllabus order.  Ownership is
// checked by the caller through Get.
func (r *DeckRepo) ListModules(ctx context.Context, deckID uint64) ([]model.Module, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, deck_id, position, title, description, content, created_at
		 FROM modules WHERE deck_id = ? ORDER BY position ASC, id ASC`, deckID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	modules := []model.Module{}
	for rows.Next() {
		var (
			m    model.Module
			desc sql.NullString
			raw  []byte
		)
		if err := rows.Scan(&m.ID, &m.DeckID, &m.Position, &m.Title, &desc, &raw, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Description = desc.String
		if err := json.Unmarshal(raw, &m.Content); err != nil {
			return nil, fmt.Errorf("decode module %d content: %w", m.ID, err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeck(s scanner) (model.Deck, error) {
	var (
		d            model.Deck
		status       string
		creationRaw  []byte
		title        sql.NullString
		description  sql.NullString
		previewRaw   []byte
		conversation sql.NullString
		contentRaw   []byte
		lastError    sql.NullString
	)
	err := s.Scan(&d.ID, &d.UserID, &creationRaw, &status, &title, &description, &previewRaw,
		&conversation, &d.CompletedModules, &d.TotalModules, &contentRaw, &lastError,
		&d.Resumable, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return model.Deck{}, err
	}
	d.Status = model.DeckStatus(status)
	if !d.Status.Valid() {
		return model.Deck{}, fmt.Errorf("deck %d has unknown status %q", d.ID, status)
	}
	d.Title = title.String
	d.Description = description.String
	d.ConversationRef = conversation.String
	d.LastError = lastError.String
	if len(creationRaw) > 0 {
		if err := json.Unmarshal(creationRaw, &d.CreationData); err != nil {
			return model.Deck{}, fmt.Errorf("decode creation data: %w", err)
		}
	}
	if len(previewRaw) > 0 {
		var preview model.SyllabusContent
		if err := json.Unmarshal(previewRaw, &preview); err != nil {
			return model.Deck{}, fmt.Errorf("decode preview: %w", err)
		}
		d.PreviewContent = &preview
	}
	if len(contentRaw) > 0 {
		var content model.DeckContent
		if err := json.Unmarshal(contentRaw, &content); err != nil {
			return model.Deck{}, fmt.Errorf("decode deck content: %w", err)
		}
		d.DeckContent = &content
	}
	return d, nil
}
