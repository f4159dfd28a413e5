package api

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/metrics"
	"github.com/beltoft/restock/internal/store"
)

// The unsubscribe flow is deliberately two-step: email scanners prefetch GET
// links, so the GET only renders a confirmation form carrying a short-lived
// action token, and only the POST mutates. Used-up or unknown tokens get an
// informational page, never an error, so a twice-clicked link reads as done
// rather than broken.

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html>
<head><title>Stock alerts</title></head>
<body style="font-family: Arial, sans-serif; max-width: 480px; margin: 40px auto;">
  <h2>Stock alerts</h2>
{{- if .ShowForm}}
  <p>Stop receiving stock alerts for this product at <strong>{{.Email}}</strong>?</p>
  <form method="POST" action="/unsubscribe">
    <input type="hidden" name="token" value="{{.Token}}">
    <input type="hidden" name="action" value="{{.Action}}">
    <button type="submit">Unsubscribe</button>
  </form>
{{- else}}
  <p>{{.Message}}</p>
{{- end}}
</body>
</html>
`))

type unsubscribeView struct {
	ShowForm bool
	Email    string
	Token    string
	Action   string
	Message  string
}

func (h *Handler) renderUnsubscribe(w http.ResponseWriter, status int, view unsubscribeView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := unsubscribePage.Execute(w, view); err != nil {
		h.logger.Error("failed to render unsubscribe page", zap.Error(err))
	}
}

// UnsubscribeForm handles GET /unsubscribe?token=...: it renders the
// confirmation form for an active token, and an informational page otherwise.
func (h *Handler) UnsubscribeForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tok := r.URL.Query().Get("token")
	if tok == "" {
		h.renderUnsubscribe(w, http.StatusOK, unsubscribeView{
			Message: "This unsubscribe link is incomplete. Please use the link from your email.",
		})
		return
	}

	sub, err := h.subs.GetByToken(ctx, tok)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("failed to look up unsubscribe token", zap.Error(err))
		h.renderUnsubscribe(w, http.StatusInternalServerError, unsubscribeView{
			Message: "Something went wrong. Please try the link again in a moment.",
		})
		return
	}
	if sub == nil || sub.Status != store.StatusActive {
		// Unknown or already-processed token reads as done, not broken.
		h.renderUnsubscribe(w, http.StatusOK, unsubscribeView{
			Message: "This subscription is no longer active. You will not receive further alerts.",
		})
		return
	}

	h.renderUnsubscribe(w, http.StatusOK, unsubscribeView{
		ShowForm: true,
		Email:    sub.Email,
		Token:    tok,
		Action:   h.tokens.ActionToken(tok, time.Now()),
	})
}

// Unsubscribe handles POST /unsubscribe: the mutation step. It requires both
// the stored token and a matching action token from the form.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.renderUnsubscribe(w, http.StatusBadRequest, unsubscribeView{
			Message: "The request could not be read. Please use the link from your email.",
		})
		return
	}

	tok := r.PostFormValue("token")
	action := r.PostFormValue("action")

	if tok == "" || !h.tokens.VerifyAction(tok, action, time.Now()) {
		// Tampered or expired action token is the one case that is a real error.
		h.renderUnsubscribe(w, http.StatusForbidden, unsubscribeView{
			Message: "This confirmation has expired. Please reopen the link from your email.",
		})
		return
	}

	done, err := h.subs.UnsubscribeByToken(ctx, tok)
	if err != nil {
		h.logger.Error("failed to unsubscribe", zap.Error(err))
		h.renderUnsubscribe(w, http.StatusInternalServerError, unsubscribeView{
			Message: "Something went wrong. Please try again in a moment.",
		})
		return
	}

	if !done {
		h.renderUnsubscribe(w, http.StatusOK, unsubscribeView{
			Message: "You are already unsubscribed. You will not receive further alerts.",
		})
		return
	}

	metrics.RecordUnsubscribe()
	h.logger.Info("subscriber unsubscribed")
	h.renderUnsubscribe(w, http.StatusOK, unsubscribeView{
		Message: "You have been unsubscribed. You will not receive further alerts for this product.",
	})
}
