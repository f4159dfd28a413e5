package store

import "time"

// Subscription statuses.
const (
	StatusActive       = "active"
	StatusNotified     = "notified"
	StatusUnsubscribed = "unsubscribed"
)

// Subscription is one subscriber's standing request to be emailed when a
// product (or a specific variation of it) comes back in stock.
//
// ProductID is always the parent product, even when the subscriber pinned a
// variation; VariationID 0 means "simple product or any variation".
type Subscription struct {
	ID                int64      `json:"id"`
	ProductID         int64      `json:"product_id"`
	VariationID       int64      `json:"variation_id"`
	Email             string     `json:"email"`
	QuantityRequested int        `json:"quantity_requested"`
	Status            string     `json:"status"`
	IPAddress         string     `json:"ip_address,omitempty"`
	GDPRConsent       bool       `json:"gdpr_consent"`
	UnsubscribeToken  string     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
}

// UpsertOutcome describes what Upsert did with the request.
type UpsertOutcome int

const (
	// OutcomeCreated means a new active row was inserted.
	OutcomeCreated UpsertOutcome = iota
	// OutcomeAlreadyActive means an active row already existed; nothing changed.
	OutcomeAlreadyActive
	// OutcomeReactivated means a notified/unsubscribed row was reset to active.
	OutcomeReactivated
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyActive:
		return "already_active"
	case OutcomeReactivated:
		return "reactivated"
	default:
		return "unknown"
	}
}

// UpsertParams carries a validated subscription request into the store.
// The unsubscribe token is minted by the store so it can retry on the
// (astronomically unlikely) unique collision.
type UpsertParams struct {
	ProductID   int64
	VariationID int64
	Email       string
	Quantity    int
	IPAddress   string
	GDPRConsent bool
}

// ListArgs filters and paginates the admin subscription listing.
type ListArgs struct {
	Status    string
	ProductID int64
	Search    string // substring match on email
	OrderBy   string // id, email, product_id, status, created_at
	Ascending bool
	Limit     int
	Offset    int
}

// ProductCount is one row of the top-products aggregate.
type ProductCount struct {
	ProductID   int64 `json:"product_id"`
	VariationID int64 `json:"variation_id"`
	Subscribers int64 `json:"subscribers"`
}
