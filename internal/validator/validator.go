// Package validator gatekeeps incoming subscription requests.
package validator

import (
	"context"
	"net"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/settings"
)

// rateWindow is the trailing window for the per-IP ceiling.
const rateWindow = time.Hour

// Rejection codes.
const (
	CodeSpam            = "spam"
	CodeInvalidEmail    = "invalid_email"
	CodeInvalidProduct  = "invalid_product"
	CodeConsentRequired = "consent_required"
	CodeRateLimited     = "rate_limited"
)

// Rejection is a human-presentable validation failure. It deliberately has
// the same shape for every reason, including the honeypot, so bots get no
// signal about which check tripped.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	return r.Message
}

// Request is a subscription attempt after transport decoding.
type Request struct {
	Email       string
	ProductID   int64
	VariationID int64
	Quantity    int
	Consent     bool
	Honeypot    string
	IP          string
}

// RecentCounter counts subscription requests by IP within a trailing window.
// Satisfied by store.Repository.
type RecentCounter interface {
	CountRecentByIP(ctx context.Context, ip string, window time.Duration) (int, error)
}

// Check is an extension point: external validators may veto a request with
// their own Rejection.
type Check func(ctx context.Context, req Request) *Rejection

// Validator runs the intake checks in order, short-circuiting on the first
// failure.
type Validator struct {
	settings settings.Provider
	counter  RecentCounter
	checks   []Check
	logger   *zap.Logger
}

// New creates a validator.
func New(provider settings.Provider, counter RecentCounter, logger *zap.Logger) *Validator {
	return &Validator{
		settings: provider,
		counter:  counter,
		logger:   logger,
	}
}

// Register appends an external check, run after the built-in ones.
func (v *Validator) Register(check Check) {
	v.checks = append(v.checks, check)
}

// Validate returns nil when the request may proceed, or the first Rejection.
func (v *Validator) Validate(ctx context.Context, req Request) *Rejection {
	cfg := v.settings()

	if req.Honeypot != "" {
		v.logger.Debug("honeypot tripped", zap.String("ip", req.IP))
		return &Rejection{Code: CodeSpam, Message: "Unable to process this request."}
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !validEmail(email) {
		return &Rejection{Code: CodeInvalidEmail, Message: "Please enter a valid email address."}
	}

	if req.ProductID <= 0 {
		return &Rejection{Code: CodeInvalidProduct, Message: "Invalid product."}
	}

	if cfg.GDPRRequired && !req.Consent {
		return &Rejection{Code: CodeConsentRequired, Message: "Please accept the consent checkbox."}
	}

	if cfg.RateLimitPerIP > 0 && req.IP != "" {
		count, err := v.counter.CountRecentByIP(ctx, req.IP, rateWindow)
		if err != nil {
			// A broken counter should not lock subscribers out.
			v.logger.Warn("rate limit lookup failed, allowing request", zap.Error(err))
		} else if count >= cfg.RateLimitPerIP {
			v.logger.Info("subscription rate limited",
				zap.String("ip", req.IP),
				zap.Int("count", count),
				zap.Int("limit", cfg.RateLimitPerIP),
			)
			return &Rejection{Code: CodeRateLimited, Message: "Too many requests. Please try again later."}
		}
	}

	for _, check := range v.checks {
		if rej := check(ctx, req); rej != nil {
			return rej
		}
	}

	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Reject "Name <addr>" forms; the form field must be a bare address.
	return addr.Address == email && strings.Contains(email, ".")
}

// ClientIP derives the requester's address. The direct connection address is
// authoritative by default; X-Forwarded-For is consulted only when the
// deployment opted in, and then only its last hop, which is the address seen
// by the trusted proxy rather than an attacker-controlled prefix.
func ClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			return strings.TrimSpace(hops[len(hops)-1])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
