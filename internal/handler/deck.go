package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/deck-builder/internal/middleware"
	"github.com/iliyamo/deck-builder/internal/model"
	"github.com/iliyamo/deck-builder/internal/service"
)

// syllabusTimeout bounds the synchronous syllabus call, which waits on the
// assistant run.
const syllabusTimeout = 4 * time.Minute

// Decks is the deck pipeline the handler drives.
type Decks interface {
	CreateSyllabus(ctx context.Context, ownerID uint64, data model.CreationData) (service.SyllabusResult, error)
	StartGeneration(ctx context.Context, deckID, ownerID uint64) (model.Deck, error)
	ResumeGeneration(ctx context.Context, deckID, ownerID uint64) (model.Deck, error)
	GetProgress(ctx context.Context, deckID, ownerID uint64) (service.Progress, error)
	ListDecks(ctx context.Context, ownerID uint64) ([]model.Deck, error)
	GetDeckContent(ctx context.Context, deckID, ownerID uint64) (model.Deck, []model.Module, error)
}

type DeckHandler struct {
	Decks Decks
	Log   *zap.Logger
}

func NewDeckHandler(decks Decks, log *zap.Logger) *DeckHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeckHandler{Decks: decks, Log: log}
}

type creationReq struct {
	CreationData *model.CreationData `json:"creationData"`
}

type deckSummary struct {
	ID               uint64           `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Status           model.DeckStatus `json:"status"`
	CompletedModules int              `json:"completedModules"`
	TotalModules     int              `json:"totalModules"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

type deckInfo struct {
	deckSummary
	CreationData   model.CreationData     `json:"creationData"`
	PreviewContent *model.SyllabusContent `json:"previewContent,omitempty"`
	DeckContent    *model.DeckContent     `json:"deckContent,omitempty"`
	LastError      string                 `json:"lastError,omitempty"`
	Resumable      bool                   `json:"resumable"`
}

type moduleResp struct {
	ID          uint64              `json:"id"`
	Position    int                 `json:"position"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Content     model.ModuleContent `json:"content"`
	CreatedAt   time.Time           `json:"createdAt"`
}

func summarize(d model.Deck) deckSummary {
	return deckSummary{
		ID:               d.ID,
		Title:            d.Title,
		Description:      d.Description,
		Status:           d.Status,
		CompletedModules: d.CompletedModules,
		TotalModules:     d.TotalModules,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// CreateSyllabus handles POST /decks/syllabus.  The body is either
// {"creationData": {...}} or the creation data itself.
func (h *DeckHandler) CreateSyllabus(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthenticated"})
	}
	var raw struct {
		creationReq
		model.CreationData
	}
	if err := c.Bind(&raw); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
	}
	data := raw.CreationData
	if raw.creationReq.CreationData != nil {
		data = *raw.creationReq.CreationData
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), syllabusTimeout)
	defer cancel()
	res, err := h.Decks.CreateSyllabus(ctx, uid, data)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"deckId":  res.Deck.ID,
		"status":  res.Deck.Status,
		"preview": res.Preview,
	})
}

// StartGeneration handles PUT /decks/:deckId/create.
func (h *DeckHandler) StartGeneration(c echo.Context) error {
	return h.transition(c, h.Decks.StartGeneration)
}

// ResumeGeneration handles PUT /decks/:deckId/resume.
func (h *DeckHandler) ResumeGeneration(c echo.Context) error {
	return h.transition(c, h.Decks.ResumeGeneration)
}

func (h *DeckHandler) transition(c echo.Context, fn func(context.Context, uint64, uint64) (model.Deck, error)) error {
	uid, deckID, ok, err := h.ids(c)
	if !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	deck, err := fn(ctx, deckID, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"deckId": deck.ID, "status": deck.Status})
}

// Progress handles GET /decks/:deckId/progress.
func (h *DeckHandler) Progress(c echo.Context) error {
	uid, deckID, ok, err := h.ids(c)
	if !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	p, err := h.Decks.GetProgress(ctx, deckID, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	resp := echo.Map{
		"status":           p.Status,
		"completedModules": p.CompletedModules,
		"totalModules":     p.TotalModules,
		"resumable":        p.Resumable,
	}
	if p.LastError != "" {
		resp["lastError"] = p.LastError
	}
	return c.JSON(http.StatusOK, resp)
}

// List handles GET /decks.
func (h *DeckHandler) List(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthenticated"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	decks, err := h.Decks.ListDecks(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := make([]deckSummary, 0, len(decks))
	for _, d := range decks {
		out = append(out, summarize(d))
	}
	return c.JSON(http.StatusOK, echo.Map{"decks": out})
}

// Get handles GET /decks/:deckId.  Complete decks are marked cacheable.
func (h *DeckHandler) Get(c echo.Context) error {
	uid, deckID, ok, err := h.ids(c)
	if !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	deck, modules, err := h.Decks.GetDeckContent(ctx, deckID, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	mods := make([]moduleResp, 0, len(modules))
	for _, m := range modules {
		mods = append(mods, moduleResp{
			ID: m.ID, Position: m.Position, Title: m.Title, Description: m.Description,
			Content: m.Content, CreatedAt: m.CreatedAt,
		})
	}
	if deck.Status == model.DeckComplete {
		c.Response().Header().Set(middleware.HeaderCacheable, "1")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"deckInfo": deckInfo{
			deckSummary:    summarize(deck),
			CreationData:   deck.CreationData,
			PreviewContent: deck.PreviewContent,
			DeckContent:    deck.DeckContent,
			LastError:      deck.LastError,
			Resumable:      deck.Resumable,
		},
		"modules": mods,
	})
}

// ids reads the caller and the :deckId path parameter, answering 401/400
// itself when either is missing.
func (h *DeckHandler) ids(c echo.Context) (uid, deckID uint64, ok bool, err error) {
	uid, ok = middleware.UserID(c)
	if !ok {
		return 0, 0, false, c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthenticated"})
	}
	deckID, perr := strconv.ParseUint(c.Param("deckId"), 10, 64)
	if perr != nil || deckID == 0 {
		return 0, 0, false, c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid deck id"})
	}
	return uid, deckID, true, nil
}
