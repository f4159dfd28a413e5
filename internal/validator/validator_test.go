package validator

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/settings"
)

type fakeCounter struct {
	count int
	err   error
}

func (f *fakeCounter) CountRecentByIP(ctx context.Context, ip string, window time.Duration) (int, error) {
	return f.count, f.err
}

func newTestValidator(cfg settings.Settings, counter *fakeCounter) *Validator {
	return New(settings.Static(cfg), counter, zap.NewNop())
}

func validRequest() Request {
	return Request{
		Email:     "alice@example.com",
		ProductID: 42,
		Quantity:  1,
		IP:        "203.0.113.9",
	}
}

func TestValidate_AcceptsValidRequest(t *testing.T) {
	v := newTestValidator(settings.Defaults(), &fakeCounter{})

	if rej := v.Validate(context.Background(), validRequest()); rej != nil {
		t.Fatalf("expected no rejection, got %s: %s", rej.Code, rej.Message)
	}
}

func TestValidate_Honeypot(t *testing.T) {
	v := newTestValidator(settings.Defaults(), &fakeCounter{})

	req := validRequest()
	req.Honeypot = "http://spam.example"

	rej := v.Validate(context.Background(), req)
	if rej == nil || rej.Code != CodeSpam {
		t.Fatalf("expected spam rejection, got %+v", rej)
	}
}

func TestValidate_InvalidEmail(t *testing.T) {
	v := newTestValidator(settings.Defaults(), &fakeCounter{})

	for _, email := range []string{"", "not-an-email", "Alice <alice@example.com>", "a@b"} {
		req := validRequest()
		req.Email = email
		rej := v.Validate(context.Background(), req)
		if rej == nil || rej.Code != CodeInvalidEmail {
			t.Errorf("email %q: expected invalid_email, got %+v", email, rej)
		}
	}
}

func TestValidate_InvalidProduct(t *testing.T) {
	v := newTestValidator(settings.Defaults(), &fakeCounter{})

	req := validRequest()
	req.ProductID = 0

	rej := v.Validate(context.Background(), req)
	if rej == nil || rej.Code != CodeInvalidProduct {
		t.Fatalf("expected invalid_product, got %+v", rej)
	}
}

func TestValidate_ConsentRequired(t *testing.T) {
	cfg := settings.Defaults()
	cfg.GDPRRequired = true
	v := newTestValidator(cfg, &fakeCounter{})

	req := validRequest()
	rej := v.Validate(context.Background(), req)
	if rej == nil || rej.Code != CodeConsentRequired {
		t.Fatalf("expected consent_required, got %+v", rej)
	}

	req.Consent = true
	if rej := v.Validate(context.Background(), req); rej != nil {
		t.Fatalf("expected acceptance with consent, got %+v", rej)
	}
}

func TestValidate_RateLimited(t *testing.T) {
	cfg := settings.Defaults()
	cfg.RateLimitPerIP = 10
	v := newTestValidator(cfg, &fakeCounter{count: 10})

	rej := v.Validate(context.Background(), validRequest())
	if rej == nil || rej.Code != CodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", rej)
	}
}

func TestValidate_RateLimitDisabled(t *testing.T) {
	cfg := settings.Defaults()
	cfg.RateLimitPerIP = 0
	v := newTestValidator(cfg, &fakeCounter{count: 9999})

	if rej := v.Validate(context.Background(), validRequest()); rej != nil {
		t.Fatalf("expected acceptance with limit disabled, got %+v", rej)
	}
}

func TestValidate_CounterFailureAllows(t *testing.T) {
	v := newTestValidator(settings.Defaults(), &fakeCounter{err: errors.New("db down")})

	if rej := v.Validate(context.Background(), validRequest()); rej != nil {
		t.Fatalf("expected acceptance despite counter failure, got %+v", rej)
	}
}

func TestValidate_ExternalCheckVeto(t *testing.T) {
	v := newTestValidator(settings.Defaults(), &fakeCounter{})
	v.Register(func(ctx context.Context, req Request) *Rejection {
		return &Rejection{Code: "blocked_domain", Message: "This domain is blocked."}
	})

	rej := v.Validate(context.Background(), validRequest())
	if rej == nil || rej.Code != "blocked_domain" {
		t.Fatalf("expected external veto, got %+v", rej)
	}
}

func TestClientIP_RemoteAddrByDefault(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	if ip := ClientIP(r, false); ip != "203.0.113.9" {
		t.Errorf("expected direct address, got %q", ip)
	}
}

func TestClientIP_ForwardedForLastHop(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "10.0.0.2:80"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	if ip := ClientIP(r, true); ip != "10.0.0.1" {
		t.Errorf("expected last hop, got %q", ip)
	}
}
