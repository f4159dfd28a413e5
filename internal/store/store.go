package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/db"
)

const cleanupChunkSize = 1000

// ErrNotFound is returned when a lookup matches no subscription.
var ErrNotFound = errors.New("subscription not found")

// Tokener mints unsubscribe tokens. Satisfied by token.Manager.
type Tokener interface {
	Generate(email string) string
}

// Repository owns all SQL against the subscriptions table. Uniqueness of
// (product_id, variation_id, email) and of unsubscribe_token is enforced
// here by the schema, not by callers.
type Repository struct {
	db     *db.DB
	tokens Tokener
	logger *zap.Logger
}

// NewRepository creates a subscription repository.
func NewRepository(database *db.DB, tokens Tokener, logger *zap.Logger) *Repository {
	return &Repository{
		db:     database,
		tokens: tokens,
		logger: logger,
	}
}

const subscriptionColumns = `
	id, product_id, variation_id, email, quantity_requested,
	status, ip_address, gdpr_consent, unsubscribe_token,
	created_at, notified_at
`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID,
		&sub.ProductID,
		&sub.VariationID,
		&sub.Email,
		&sub.QuantityRequested,
		&sub.Status,
		&sub.IPAddress,
		&sub.GDPRConsent,
		&sub.UnsubscribeToken,
		&sub.CreatedAt,
		&sub.NotifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert inserts a new active subscription, or reactivates an existing
// non-active one for the same (product, variation, email) key. An existing
// active row is left untouched and reported as OutcomeAlreadyActive.
//
// Safe under concurrent callers for the same key: the insert relies on the
// unique index and falls through to the reactivation path when it loses the
// race.
func (r *Repository) Upsert(ctx context.Context, p UpsertParams) (int64, UpsertOutcome, error) {
	if p.Quantity < 1 {
		p.Quantity = 1
	}
	email := strings.ToLower(strings.TrimSpace(p.Email))

	for attempt := 0; attempt < 3; attempt++ {
		token := r.tokens.Generate(email)

		insert := `
			INSERT INTO subscriptions (
				product_id, variation_id, email, quantity_requested,
				status, ip_address, gdpr_consent, unsubscribe_token, created_at
			) VALUES ($1, $2, $3, $4, 'active', $5, $6, $7, NOW())
			ON CONFLICT (product_id, variation_id, email) DO NOTHING
			RETURNING id
		`

		var id int64
		err := r.db.Pool().QueryRow(ctx, insert,
			p.ProductID, p.VariationID, email, p.Quantity,
			p.IPAddress, p.GDPRConsent, token,
		).Scan(&id)

		if err == nil {
			r.logger.Info("subscription created",
				zap.Int64("subscription_id", id),
				zap.Int64("product_id", p.ProductID),
				zap.Int64("variation_id", p.VariationID),
			)
			return id, OutcomeCreated, nil
		}

		if isTokenCollision(err) {
			continue
		}

		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, fmt.Errorf("insert subscription: %w", err)
		}

		// A row for the key exists. Reactivate it only if it is not active;
		// the status guard keeps a concurrent reactivation idempotent.
		reactivate := `
			UPDATE subscriptions
			SET status = 'active', quantity_requested = $2, ip_address = $3,
			    gdpr_consent = $4, unsubscribe_token = $5,
			    created_at = NOW(), notified_at = NULL
			WHERE product_id = $1 AND variation_id = $6 AND email = $7
			  AND status <> 'active'
			RETURNING id
		`

		err = r.db.Pool().QueryRow(ctx, reactivate,
			p.ProductID, p.Quantity, p.IPAddress, p.GDPRConsent, token,
			p.VariationID, email,
		).Scan(&id)

		if errors.Is(err, pgx.ErrNoRows) {
			return 0, OutcomeAlreadyActive, nil
		}
		if isTokenCollision(err) {
			continue
		}
		if err != nil {
			return 0, 0, fmt.Errorf("reactivate subscription: %w", err)
		}

		r.logger.Info("subscription reactivated",
			zap.Int64("subscription_id", id),
			zap.Int64("product_id", p.ProductID),
		)
		return id, OutcomeReactivated, nil
	}

	return 0, 0, fmt.Errorf("upsert subscription: token collision retries exhausted")
}

func isTokenCollision(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == "23505" &&
		strings.Contains(pgErr.ConstraintName, "token")
}

// GetActiveForProduct returns up to limit active subscriptions for the key,
// oldest subscribers first so early birds are notified first.
func (r *Repository) GetActiveForProduct(ctx context.Context, productID, variationID int64, limit, offset int) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE product_id = $1 AND variation_id = $2 AND status = 'active'
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, productID, variationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return subs, nil
}

// HasActive reports whether a product has any active subscribers, across all
// of its variations.
func (r *Repository) HasActive(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE product_id = $1 AND status = 'active')`,
		productID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query active existence: %w", err)
	}
	return exists, nil
}

// MarkNotified flips an active subscription to notified and stamps
// notified_at. Returns ErrNotFound when the row is missing or no longer
// active, so an unsubscribe that landed between fetch and send wins.
func (r *Repository) MarkNotified(ctx context.Context, id int64) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE subscriptions SET status = 'notified', notified_at = NOW() WHERE id = $1 AND status = 'active'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnsubscribeByToken flips an active subscription to unsubscribed. Returns
// false when the token is unknown or the row is no longer active, which
// callers treat as "already processed".
func (r *Repository) UnsubscribeByToken(ctx context.Context, token string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE subscriptions SET status = 'unsubscribed' WHERE unsubscribe_token = $1 AND status = 'active'`,
		token,
	)
	if err != nil {
		return false, fmt.Errorf("unsubscribe by token: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetByToken looks up a subscription by its unsubscribe token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE unsubscribe_token = $1`

	sub, err := scanSubscription(r.db.Pool().QueryRow(ctx, query, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query by token: %w", err)
	}
	return sub, nil
}

// CountRecentByIP counts subscription requests recorded for an IP within the
// trailing window. Feeds the validator's rate limit.
func (r *Repository) CountRecentByIP(ctx context.Context, ip string, window time.Duration) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE ip_address = $1 AND created_at > NOW() - $2::interval`,
		ip, window,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent by ip: %w", err)
	}
	return count, nil
}

// CleanupOlderThan deletes notified rows whose notified_at is older than the
// given number of days, in bounded chunks to avoid long locks on large
// tables. days=0 disables cleanup.
func (r *Repository) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}

	query := `
		DELETE FROM subscriptions
		WHERE id IN (
			SELECT id FROM subscriptions
			WHERE status = 'notified'
			  AND notified_at < NOW() - make_interval(days => $1)
			LIMIT $2
		)
	`

	var total int64
	for {
		result, err := r.db.Pool().Exec(ctx, query, days, cleanupChunkSize)
		if err != nil {
			return total, fmt.Errorf("cleanup old subscriptions: %w", err)
		}
		deleted := result.RowsAffected()
		total += deleted
		if deleted < cleanupChunkSize {
			break
		}
	}

	if total > 0 {
		r.logger.Info("retention sweep finished",
			zap.Int64("deleted", total),
			zap.Int("older_than_days", days),
		)
	}
	return total, nil
}

// CountByStatus returns subscription counts grouped by status.
func (r *Repository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT status, COUNT(*) FROM subscriptions GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{
		StatusActive:       0,
		StatusNotified:     0,
		StatusUnsubscribed: 0,
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// TopProducts returns (product, variation) keys ranked by active subscriber
// count, with the total number of distinct keys for pagination.
func (r *Repository) TopProducts(ctx context.Context, limit, offset int) ([]*ProductCount, int64, error) {
	var total int64
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM subscriptions WHERE status = 'active'
			GROUP BY product_id, variation_id
		) t
	`).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count product keys: %w", err)
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT product_id, variation_id, COUNT(*) AS subscribers
		FROM subscriptions
		WHERE status = 'active'
		GROUP BY product_id, variation_id
		ORDER BY subscribers DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query top products: %w", err)
	}
	defer rows.Close()

	var items []*ProductCount
	for rows.Next() {
		var pc ProductCount
		if err := rows.Scan(&pc.ProductID, &pc.VariationID, &pc.Subscribers); err != nil {
			return nil, 0, fmt.Errorf("scan product count: %w", err)
		}
		items = append(items, &pc)
	}
	return items, total, rows.Err()
}

var listOrderColumns = map[string]string{
	"id":         "id",
	"email":      "email",
	"product_id": "product_id",
	"status":     "status",
	"created_at": "created_at",
}

// List returns a filtered, sorted, paginated slice of subscriptions together
// with the total number of matches.
func (r *Repository) List(ctx context.Context, args ListArgs) ([]*Subscription, int64, error) {
	where := []string{"1=1"}
	params := []any{}

	if args.Status != "" {
		params = append(params, args.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(params)))
	}
	if args.ProductID > 0 {
		params = append(params, args.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(params)))
	}
	if args.Search != "" {
		params = append(params, "%"+args.Search+"%")
		where = append(where, fmt.Sprintf("email ILIKE $%d", len(params)))
	}

	whereSQL := strings.Join(where, " AND ")

	var total int64
	countQuery := `SELECT COUNT(*) FROM subscriptions WHERE ` + whereSQL
	if err := r.db.Pool().QueryRow(ctx, countQuery, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count subscriptions: %w", err)
	}

	orderBy, ok := listOrderColumns[args.OrderBy]
	if !ok {
		orderBy = "created_at"
	}
	direction := "DESC"
	if args.Ascending {
		direction = "ASC"
	}

	limit := args.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	params = append(params, limit, args.Offset)

	query := fmt.Sprintf(
		`SELECT %s FROM subscriptions WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		subscriptionColumns, whereSQL, orderBy, direction, len(params)-1, len(params),
	)

	rows, err := r.db.Pool().Query(ctx, query, params...)
	if err != nil {
		return nil, 0, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, total, rows.Err()
}

// BulkDelete removes subscriptions by id.
func (r *Repository) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM subscriptions WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk delete: %w", err)
	}
	return result.RowsAffected(), nil
}

// BulkMarkNotified marks subscriptions as notified by id.
func (r *Repository) BulkMarkNotified(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE subscriptions SET status = 'notified', notified_at = NOW() WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk mark notified: %w", err)
	}
	return result.RowsAffected(), nil
}
