// Package token mints and verifies the unsubscribe tokens embedded in
// notification emails.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// actionWindow is the validity window of a one-time confirmation token.
// Verification also accepts the previous window so a form rendered just
// before a boundary still submits cleanly.
const actionWindow = 10 * time.Minute

// Manager derives unsubscribe and confirmation tokens from a server-side
// secret. Tokens are keyed one-way hashes: unguessable, and not reversible
// to the subscriber's email.
type Manager struct {
	secret  []byte
	baseURL string
}

// NewManager creates a token manager. baseURL is the public root used for
// unsubscribe links, without a trailing slash.
func NewManager(secret, baseURL string) *Manager {
	return &Manager{
		secret:  []byte(secret),
		baseURL: baseURL,
	}
}

func (m *Manager) sign(parts ...string) string {
	mac := hmac.New(sha256.New, m.secret)
	for _, p := range parts {
		mac.Write([]byte(p))
		mac.Write([]byte{0})
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Generate mints a fresh 64-character unsubscribe token bound to the email.
// The UUID salt makes every call unique.
func (m *Manager) Generate(email string) string {
	return m.sign("unsub", uuid.NewString(), email)
}

// URL builds the unsubscribe confirmation URL for a token.
func (m *Manager) URL(token string) string {
	return fmt.Sprintf("%s/unsubscribe?token=%s", m.baseURL, url.QueryEscape(token))
}

func (m *Manager) actionFor(token string, bucket int64) string {
	return m.sign("confirm", token, fmt.Sprintf("%d", bucket))
}

// ActionToken derives the one-time token embedded in the confirmation form.
// It is bound to the unsubscribe token and to a coarse time bucket, so a
// prefetched GET cannot be replayed indefinitely.
func (m *Manager) ActionToken(token string, now time.Time) string {
	return m.actionFor(token, now.Unix()/int64(actionWindow.Seconds()))
}

// VerifyAction checks a submitted action token against the current and the
// immediately preceding time bucket.
func (m *Manager) VerifyAction(token, action string, now time.Time) bool {
	bucket := now.Unix() / int64(actionWindow.Seconds())
	for _, b := range []int64{bucket, bucket - 1} {
		if hmac.Equal([]byte(action), []byte(m.actionFor(token, b))) {
			return true
		}
	}
	return false
}
