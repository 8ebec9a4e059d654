package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestIndex(t *testing.T) {
	p := NewPages(zerolog.Nop())

	w := httptest.NewRecorder()
	p.Index(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `action="/drawing-board"`) {
		t.Error("expected join form to submit to /drawing-board")
	}
	for _, name := range []string{`name="username"`, `name="roomId"`} {
		if !strings.Contains(body, name) {
			t.Errorf("expected form field %s", name)
		}
	}
}

func TestBoard(t *testing.T) {
	p := NewPages(zerolog.Nop())

	w := httptest.NewRecorder()
	p.Board(w, httptest.NewRequest(http.MethodGet, "/drawing-board?username=alice&roomId=room1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `data-username="alice"`) || !strings.Contains(body, `data-room-id="room1"`) {
		t.Errorf("expected username and room in page, got %s", body)
	}
	if !strings.Contains(body, "/static/board.js") {
		t.Error("expected board script")
	}
}

func TestBoardEscapesInput(t *testing.T) {
	p := NewPages(zerolog.Nop())

	w := httptest.NewRecorder()
	p.Board(w, httptest.NewRequest(http.MethodGet, `/drawing-board?username=%3Cscript%3E&roomId=r%221`, nil))

	body := w.Body.String()
	if strings.Contains(body, "<script>") {
		t.Error("expected username to be escaped")
	}
	if strings.Contains(body, `data-room-id="r"1"`) {
		t.Error("expected room id to be escaped")
	}
}

func TestBoardMissingParamsRedirects(t *testing.T) {
	p := NewPages(zerolog.Nop())

	for _, target := range []string{
		"/drawing-board",
		"/drawing-board?username=alice",
		"/drawing-board?roomId=room1",
	} {
		w := httptest.NewRecorder()
		p.Board(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusSeeOther {
			t.Errorf("%s: expected 303, got %d", target, w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "/" {
			t.Errorf("%s: expected redirect to /, got %q", target, loc)
		}
	}
}

func TestStatic(t *testing.T) {
	h := Static()

	for _, path := range []string{"/static/board.js", "/static/style.css"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/missing.js", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing asset, got %d", w.Code)
	}
}
