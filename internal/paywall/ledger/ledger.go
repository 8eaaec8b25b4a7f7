package ledger

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists entitlement records backed by SQLite. Every mutation is a
// single guarded statement, so concurrent writers for the same
// (user, property) pair serialize through the database rather than through
// in-process locks.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the entitlement database in dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	dbPath := filepath.Join(dir, "entitlements.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entitlement db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		user_id              TEXT NOT NULL,
		property_id          TEXT NOT NULL,
		status               TEXT NOT NULL,
		checkout_session_ref TEXT NOT NULL DEFAULT '',
		payment_ref          TEXT NOT NULL DEFAULT '',
		amount_cents         INTEGER NOT NULL DEFAULT 0,
		created_at           INTEGER NOT NULL,
		updated_at           INTEGER NOT NULL,
		PRIMARY KEY (user_id, property_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entitlements_property_status ON entitlements(property_id, status);
	CREATE TABLE IF NOT EXISTS properties (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL DEFAULT '',
		price_cents INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init entitlement schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get retrieves the entitlement for a (user, property) pair, or nil if none
// exists.
func (s *Store) Get(userID, propertyID string) (*Entitlement, error) {
	row := s.db.QueryRow(`SELECT
		user_id, property_id, status, checkout_session_ref, payment_ref,
		amount_cents, created_at, updated_at
		FROM entitlements WHERE user_id = ? AND property_id = ?`, userID, propertyID)
	return scanEntitlement(row)
}

// UpsertPending creates or re-arms the entitlement for a pair as a fresh
// pending checkout attempt, replacing any earlier session reference. A record
// already in the paid state is left untouched and the call reports no change.
func (s *Store) UpsertPending(e *Entitlement) (bool, error) {
	if e == nil {
		return false, fmt.Errorf("entitlement is nil")
	}
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO entitlements (
			user_id, property_id, status, checkout_session_ref, payment_ref,
			amount_cents, created_at, updated_at
		) VALUES (?, ?, ?, ?, '', ?, ?, ?)
		ON CONFLICT(user_id, property_id) DO UPDATE SET
			status = excluded.status,
			checkout_session_ref = excluded.checkout_session_ref,
			amount_cents = excluded.amount_cents,
			updated_at = excluded.updated_at
		WHERE entitlements.status != ?`,
		e.UserID, e.PropertyID, string(EntitlementPending), e.CheckoutSessionRef,
		e.AmountCents, now.Unix(), now.Unix(),
		string(EntitlementPaid),
	)
	if err != nil {
		return false, fmt.Errorf("upsert pending entitlement: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// MarkPaid transitions a pair to paid with the given payment reference. The
// statement is the compare-and-set guarding the whole subsystem: it only
// applies while the stored status is not already paid, and it inserts the
// record outright when the webhook outran the checkout write. Returns whether
// the transition actually happened, so callers can suppress duplicate side
// effects on replayed events.
func (s *Store) MarkPaid(userID, propertyID, sessionRef, paymentRef string, amountCents int64) (bool, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO entitlements (
			user_id, property_id, status, checkout_session_ref, payment_ref,
			amount_cents, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, property_id) DO UPDATE SET
			status = excluded.status,
			checkout_session_ref = excluded.checkout_session_ref,
			payment_ref = excluded.payment_ref,
			amount_cents = excluded.amount_cents,
			updated_at = excluded.updated_at
		WHERE entitlements.status != ?`,
		userID, propertyID, string(EntitlementPaid), sessionRef, paymentRef,
		amountCents, now.Unix(), now.Unix(),
		string(EntitlementPaid),
	)
	if err != nil {
		return false, fmt.Errorf("mark entitlement paid: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// MarkFailed transitions a pending attempt to failed. The session reference
// must match the stored one: failure events for superseded checkout attempts
// are ignored, and a paid record can never regress.
func (s *Store) MarkFailed(userID, propertyID, sessionRef string) (bool, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE entitlements SET status = ?, updated_at = ?
		WHERE user_id = ? AND property_id = ?
			AND status = ? AND checkout_session_ref = ?`,
		string(EntitlementFailed), now.Unix(),
		userID, propertyID,
		string(EntitlementPending), sessionRef,
	)
	if err != nil {
		return false, fmt.Errorf("mark entitlement failed: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// HasPaid reports whether the pair holds a confirmed entitlement. Pending
// attempts never grant access.
func (s *Store) HasPaid(userID, propertyID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM entitlements
		WHERE user_id = ? AND property_id = ? AND status = ?`,
		userID, propertyID, string(EntitlementPaid)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query paid entitlement: %w", err)
	}
	return true, nil
}

// ListPaidByProperty returns confirmed purchasers of a property,
// first-paid-first.
func (s *Store) ListPaidByProperty(propertyID string) ([]*PaidPurchaser, error) {
	rows, err := s.db.Query(`SELECT user_id, payment_ref, updated_at
		FROM entitlements WHERE property_id = ? AND status = ?
		ORDER BY updated_at ASC, user_id ASC`,
		propertyID, string(EntitlementPaid))
	if err != nil {
		return nil, fmt.Errorf("list paid purchasers: %w", err)
	}
	defer rows.Close()

	var purchasers []*PaidPurchaser
	for rows.Next() {
		var p PaidPurchaser
		var paidAt int64
		if err := rows.Scan(&p.UserID, &p.PaymentRef, &paidAt); err != nil {
			return nil, fmt.Errorf("scan paid purchaser: %w", err)
		}
		p.PaidAt = time.Unix(paidAt, 0).UTC()
		purchasers = append(purchasers, &p)
	}
	return purchasers, rows.Err()
}

// GetProperty retrieves a property by ID, or nil if none exists.
func (s *Store) GetProperty(id string) (*Property, error) {
	row := s.db.QueryRow(`SELECT id, title, price_cents, created_at, updated_at
		FROM properties WHERE id = ?`, id)

	var p Property
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.Title, &p.PriceCents, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan property: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

// UpsertProperty creates or updates a catalog entry.
func (s *Store) UpsertProperty(p *Property) error {
	if p == nil {
		return fmt.Errorf("property is nil")
	}
	now := time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO properties (id, title, price_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			price_cents = excluded.price_cents,
			updated_at = excluded.updated_at`,
		p.ID, p.Title, p.PriceCents, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert property: %w", err)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(sc scanner) (*Entitlement, error) {
	var e Entitlement
	var status string
	var createdAt, updatedAt int64

	err := sc.Scan(
		&e.UserID, &e.PropertyID, &status, &e.CheckoutSessionRef, &e.PaymentRef,
		&e.AmountCents, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan entitlement: %w", err)
	}

	e.Status = EntitlementStatus(status)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &e, nil
}
