package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/beltoft/restock/internal/settings"
	"github.com/beltoft/restock/internal/store"
	"github.com/beltoft/restock/internal/token"
)

func activeSub(tok string) *store.Subscription {
	return &store.Subscription{
		ID:               1,
		ProductID:        42,
		Email:            "customer@example.com",
		Status:           store.StatusActive,
		UnsubscribeToken: tok,
	}
}

func getUnsubscribe(h *Handler, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/unsubscribe?token="+url.QueryEscape(tok), nil)
	rec := httptest.NewRecorder()
	h.UnsubscribeForm(rec, req)
	return rec
}

func postUnsubscribe(h *Handler, tok, action string) *httptest.ResponseRecorder {
	form := url.Values{"token": {tok}, "action": {action}}
	req := httptest.NewRequest(http.MethodPost, "/unsubscribe", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Unsubscribe(rec, req)
	return rec
}

func TestUnsubscribe_FullFlow(t *testing.T) {
	m := newMockStore()
	m.byToken["tok-1"] = activeSub("tok-1")
	h := newTestHandler(m, settings.Defaults())

	// GET renders the confirmation form without mutating anything.
	rec := getUnsubscribe(h, "tok-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET: expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<form method="POST"`) {
		t.Fatalf("GET must render the confirmation form:\n%s", body)
	}
	if !strings.Contains(body, "customer@example.com") {
		t.Error("form must show the subscriber email")
	}
	if len(m.unsubscribed) != 0 {
		t.Fatal("GET must not unsubscribe")
	}

	// POST with a valid action token performs the mutation.
	tokens := token.NewManager("test-secret", "https://shop.example.com")
	action := tokens.ActionToken("tok-1", time.Now())
	rec = postUnsubscribe(h, "tok-1", action)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "You have been unsubscribed") {
		t.Errorf("unexpected confirmation page:\n%s", rec.Body.String())
	}
	if len(m.unsubscribed) != 1 {
		t.Fatalf("expected 1 unsubscribe, got %d", len(m.unsubscribed))
	}

	// A repeated POST is idempotent and informational, not an error.
	rec = postUnsubscribe(h, "tok-1", action)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat POST: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already unsubscribed") {
		t.Errorf("repeat POST must read as already done:\n%s", rec.Body.String())
	}
}

func TestUnsubscribeForm_UnknownTokenIsInformational(t *testing.T) {
	m := newMockStore()
	h := newTestHandler(m, settings.Defaults())

	rec := getUnsubscribe(h, "nope")
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown token must not error, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<form") {
		t.Error("unknown token must not render the form")
	}
}

func TestUnsubscribeForm_NotifiedTokenIsInformational(t *testing.T) {
	m := newMockStore()
	sub := activeSub("tok-2")
	sub.Status = store.StatusNotified
	m.byToken["tok-2"] = sub
	h := newTestHandler(m, settings.Defaults())

	rec := getUnsubscribe(h, "tok-2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<form") {
		t.Error("inactive subscription must not render the form")
	}
}

func TestUnsubscribe_TamperedActionTokenRejected(t *testing.T) {
	m := newMockStore()
	m.byToken["tok-3"] = activeSub("tok-3")
	h := newTestHandler(m, settings.Defaults())

	rec := postUnsubscribe(h, "tok-3", "forged-action")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("forged action token must be 403, got %d", rec.Code)
	}
	if len(m.unsubscribed) != 0 {
		t.Error("forged action token must not unsubscribe")
	}
}
