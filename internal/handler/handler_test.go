package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/deck-builder/internal/ai"
	"github.com/iliyamo/deck-builder/internal/middleware"
	"github.com/iliyamo/deck-builder/internal/model"
	"github.com/iliyamo/deck-builder/internal/service"
	"github.com/iliyamo/deck-builder/internal/utils"
)

type stubAuth struct {
	err       error
	lastRaw   string
	loggedOut uint64
}

func (s *stubAuth) session() service.Session {
	return service.Session{
		User:    model.User{ID: 4, Email: "a@x.com"},
		Access:  utils.AccessToken{Token: "access-jwt", Exp: time.Now().Add(time.Hour)},
		Refresh: utils.RefreshToken{Raw: "refresh-jwt", Exp: time.Now().Add(24 * time.Hour)},
	}
}

func (s *stubAuth) Register(ctx context.Context, email, password string) (service.Session, error) {
	return s.session(), s.err
}

func (s *stubAuth) Login(ctx context.Context, email, password string) (service.Session, error) {
	return s.session(), s.err
}

func (s *stubAuth) Refresh(ctx context.Context, raw string) (service.Session, error) {
	s.lastRaw = raw
	return s.session(), s.err
}

func (s *stubAuth) Logout(ctx context.Context, userID uint64) error {
	s.loggedOut = userID
	return s.err
}

type stubDecks struct {
	err      error
	gotData  model.CreationData
	deck     model.Deck
	modules  []model.Module
	progress service.Progress
}

func (s *stubDecks) CreateSyllabus(ctx context.Context, ownerID uint64, data model.CreationData) (service.SyllabusResult, error) {
	s.gotData = data
	if s.err != nil {
		return service.SyllabusResult{}, s.err
	}
	return service.SyllabusResult{Deck: model.Deck{ID: 11, Status: model.DeckPreview}, Preview: model.Syllabus{Title: "T"}}, nil
}

func (s *stubDecks) StartGeneration(ctx context.Context, deckID, ownerID uint64) (model.Deck, error) {
	return model.Deck{ID: deckID, Status: model.DeckGenerating}, s.err
}

func (s *stubDecks) ResumeGeneration(ctx context.Context, deckID, ownerID uint64) (model.Deck, error) {
	return model.Deck{ID: deckID, Status: model.DeckGenerating}, s.err
}

func (s *stubDecks) GetProgress(ctx context.Context, deckID, ownerID uint64) (service.Progress, error) {
	return s.progress, s.err
}

func (s *stubDecks) ListDecks(ctx context.Context, ownerID uint64) ([]model.Deck, error) {
	return []model.Deck{s.deck}, s.err
}

func (s *stubDecks) GetDeckContent(ctx context.Context, deckID, ownerID uint64) (model.Deck, []model.Module, error) {
	return s.deck, s.modules, s.err
}

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewRequestValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRegisterSetsRefreshCookie(t *testing.T) {
	h := NewAuthHandler(&stubAuth{}, true, 7*24*time.Hour, nil)
	c, rec := newContext(http.MethodPost, "/auth/register", `{"email":"A@x.com","password":"secret1"}`)

	if err := h.Register(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["accessToken"] != "access-jwt" {
		t.Fatalf("unexpected body %v", body)
	}
	cookie := rec.Header().Get("Set-Cookie")
	for _, want := range []string{"refreshToken=refresh-jwt", "Path=/auth", "HttpOnly", "Secure", "SameSite=Strict", "Max-Age=604800"} {
		if !strings.Contains(cookie, want) {
			t.Fatalf("cookie %q missing %q", cookie, want)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	h := NewAuthHandler(&stubAuth{}, false, time.Hour, nil)
	for _, body := range []string{`{"email":"nope","password":"secret1"}`, `{"email":"a@x.com"}`, `not json`} {
		c, rec := newContext(http.MethodPost, "/auth/register", body)
		if err := h.Register(c); err != nil {
			t.Fatal(err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
		if decode(t, rec)["message"] == "" {
			t.Fatalf("body %s: missing message", body)
		}
	}
}

func TestAuthErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("dup: %w", service.ErrConflict), http.StatusConflict},
		{fmt.Errorf("bad: %w", service.ErrUnauthenticated), http.StatusUnauthorized},
		{fmt.Errorf("db: %w", service.ErrPersistence), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewAuthHandler(&stubAuth{err: tc.err}, false, time.Hour, nil)
		c, rec := newContext(http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"secret1"}`)
		if err := h.Login(c); err != nil {
			t.Fatal(err)
		}
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestRefreshTokenReadsCookie(t *testing.T) {
	auth := &stubAuth{}
	h := NewAuthHandler(auth, false, time.Hour, nil)

	c, rec := newContext(http.MethodPost, "/auth/refresh-token", "")
	if err := h.RefreshToken(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing cookie: expected 401, got %d", rec.Code)
	}

	c, rec = newContext(http.MethodPost, "/auth/refresh-token", "")
	c.Request().AddCookie(&http.Cookie{Name: RefreshCookie, Value: "old-refresh"})
	if err := h.RefreshToken(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || auth.lastRaw != "old-refresh" {
		t.Fatalf("expected 200 with cookie value, got %d raw=%q", rec.Code, auth.lastRaw)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "refreshToken=refresh-jwt") {
		t.Fatal("refresh cookie not rotated")
	}

	auth.err = fmt.Errorf("stale: %w", service.ErrForbidden)
	c, rec = newContext(http.MethodPost, "/auth/refresh-token", "")
	c.Request().AddCookie(&http.Cookie{Name: RefreshCookie, Value: "old-refresh"})
	_ = h.RefreshToken(c)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stale token: expected 403, got %d", rec.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	auth := &stubAuth{}
	h := NewAuthHandler(auth, false, time.Hour, nil)
	c, rec := newContext(http.MethodPost, "/auth/logout", "")
	c.Set(middleware.UserIDKey, uint64(4))

	if err := h.Logout(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || auth.loggedOut != 4 {
		t.Fatalf("unexpected logout: %d user=%d", rec.Code, auth.loggedOut)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("cookie not cleared: %q", rec.Header().Get("Set-Cookie"))
	}
}

func TestCreateSyllabusAcceptsWrappedBody(t *testing.T) {
	decks := &stubDecks{}
	h := NewDeckHandler(decks, nil)
	c, rec := newContext(http.MethodPost, "/decks/syllabus",
		`{"creationData":{"description":"d","keywords":["k"],"difficulty":"Easy","questionCount":2}}`)
	c.Set(middleware.UserIDKey, uint64(4))

	if err := h.CreateSyllabus(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if decks.gotData.Description != "d" || decks.gotData.QuestionCount != 2 {
		t.Fatalf("creation data not passed: %+v", decks.gotData)
	}
	body := decode(t, rec)
	if body["deckId"] != float64(11) || body["status"] != "preview" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCreateSyllabusFlatBodyAndErrors(t *testing.T) {
	decks := &stubDecks{err: fmt.Errorf("%w: missing", service.ErrValidation)}
	h := NewDeckHandler(decks, nil)
	c, rec := newContext(http.MethodPost, "/decks/syllabus", `{"description":"flat","keywords":["k"]}`)
	c.Set(middleware.UserIDKey, uint64(4))
	_ = h.CreateSyllabus(c)
	if rec.Code != http.StatusBadRequest || decks.gotData.Description != "flat" {
		t.Fatalf("expected 400 for validation error, got %d data=%+v", rec.Code, decks.gotData)
	}

	decks.err = fmt.Errorf("%w: run failed", ai.ErrGeneration)
	c, rec = newContext(http.MethodPost, "/decks/syllabus", `{"description":"flat"}`)
	c.Set(middleware.UserIDKey, uint64(4))
	_ = h.CreateSyllabus(c)
	if rec.Code != http.StatusInternalServerError || decode(t, rec)["message"] != "content generation failed" {
		t.Fatalf("expected 500 generation error, got %d %s", rec.Code, rec.Body.String())
	}
}

func deckRequest(t *testing.T, h *DeckHandler, fn func(*DeckHandler, echo.Context) error, id string) *httptest.ResponseRecorder {
	t.Helper()
	c, rec := newContext(http.MethodGet, "/decks/"+id, "")
	c.SetParamNames("deckId")
	c.SetParamValues(id)
	c.Set(middleware.UserIDKey, uint64(4))
	if err := fn(h, c); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestStartGenerationStatuses(t *testing.T) {
	decks := &stubDecks{}
	h := NewDeckHandler(decks, nil)

	rec := deckRequest(t, h, (*DeckHandler).StartGeneration, "9")
	if rec.Code != http.StatusOK || decode(t, rec)["deckId"] != float64(9) {
		t.Fatalf("expected 200 with deckId, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := deckRequest(t, h, (*DeckHandler).StartGeneration, "abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}
	decks.err = fmt.Errorf("started: %w", service.ErrInvalidState)
	if rec := deckRequest(t, h, (*DeckHandler).StartGeneration, "9"); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid state: expected 400, got %d", rec.Code)
	}
	decks.err = fmt.Errorf("gone: %w", service.ErrNotFound)
	if rec := deckRequest(t, h, (*DeckHandler).ResumeGeneration, "9"); rec.Code != http.StatusNotFound {
		t.Fatalf("not found: expected 404, got %d", rec.Code)
	}
}

func TestProgressResponse(t *testing.T) {
	decks := &stubDecks{progress: service.Progress{Status: model.DeckGenerating, CompletedModules: 1, TotalModules: 3, LastError: "boom"}}
	h := NewDeckHandler(decks, nil)

	body := decode(t, deckRequest(t, h, (*DeckHandler).Progress, "9"))
	if body["status"] != "generating" || body["completedModules"] != float64(1) || body["totalModules"] != float64(3) || body["lastError"] != "boom" {
		t.Fatalf("unexpected progress %v", body)
	}
}

func TestGetMarksCompleteDeckCacheable(t *testing.T) {
	decks := &stubDecks{
		deck:    model.Deck{ID: 9, Status: model.DeckComplete, Title: "T"},
		modules: []model.Module{{ID: 1, Position: 0, Title: "M1"}},
	}
	h := NewDeckHandler(decks, nil)

	rec := deckRequest(t, h, (*DeckHandler).Get, "9")
	if rec.Code != http.StatusOK || rec.Header().Get(middleware.HeaderCacheable) == "" {
		t.Fatalf("complete deck should be cacheable, got %d %v", rec.Code, rec.Header())
	}
	body := decode(t, rec)
	info := body["deckInfo"].(map[string]any)
	if info["id"] != float64(9) || len(body["modules"].([]any)) != 1 {
		t.Fatalf("unexpected body %v", body)
	}

	decks.deck.Status = model.DeckGenerating
	if rec := deckRequest(t, h, (*DeckHandler).Get, "9"); rec.Header().Get(middleware.HeaderCacheable) != "" {
		t.Fatal("generating deck must not be cacheable")
	}
}

func TestListDecks(t *testing.T) {
	h := NewDeckHandler(&stubDecks{deck: model.Deck{ID: 3, Status: model.DeckPreview}}, nil)
	c, rec := newContext(http.MethodGet, "/decks", "")
	c.Set(middleware.UserIDKey, uint64(4))
	if err := h.List(c); err != nil {
		t.Fatal(err)
	}
	decks := decode(t, rec)["decks"].([]any)
	if len(decks) != 1 || decks[0].(map[string]any)["status"] != "preview" {
		t.Fatalf("unexpected list %v", decks)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		utils.ErrExpiredToken:  http.StatusForbidden,
		service.ErrUnavailable: http.StatusServiceUnavailable,
		fmt.Errorf("x"):        http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
