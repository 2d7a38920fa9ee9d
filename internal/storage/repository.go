package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// recentPricesLimit caps how much history feeds the rule engine.
const recentPricesLimit = 500

const (
	insertQuoteSQL = `INSERT INTO quotes (
        origin,
        dest,
        dep,
        ret,
        carrier,
        stops,
        price_usd,
        cabin,
        found_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	recentPricesSQL = `SELECT price_usd
    FROM quotes
    WHERE origin = $1
      AND dest = $2
      AND substr(dep, 1, 7) = $3
    ORDER BY found_at DESC
    LIMIT $4;`

	listRecentQuotesSQL = `SELECT
        id, origin, dest, dep, ret, carrier, stops, price_usd, cabin, found_at
    FROM quotes
    ORDER BY found_at DESC
    LIMIT $1;`

	listRoutePricesSQL = `SELECT
        id, origin, dest, dep, ret, carrier, stops, price_usd, cabin, found_at
    FROM quotes
    WHERE origin = $1
      AND dest = $2
      AND found_at >= $3
      AND found_at < $4
    ORDER BY found_at;`

	countQuotesSQL = `SELECT COUNT(*) FROM quotes;`

	selectAlertSentAtSQL = `SELECT sent_at FROM alerts_sent WHERE key = $1;`

	markAlertedSQL = `INSERT INTO alerts_sent (key, sent_at)
    VALUES ($1, $2)
    ON CONFLICT (key) DO UPDATE
    SET sent_at = EXCLUDED.sent_at;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts_sent WHERE sent_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// QuoteStore defines operations for the append-only fare ledger.
type QuoteStore interface {
	InsertQuote(ctx context.Context, quote Quote) error
	RecentPrices(ctx context.Context, origin, dest, monthISO string) ([]decimal.Decimal, error)
	ListRecentQuotes(ctx context.Context, limit int) ([]Quote, error)
	ListRoutePrices(ctx context.Context, origin, dest string, from, to time.Time) ([]Quote, error)
	CountQuotes(ctx context.Context) (int64, error)
}

// AlertLedger defines the time-windowed alert suppression map.
type AlertLedger interface {
	WasAlertedRecently(ctx context.Context, key string, within time.Duration) (bool, error)
	MarkAlerted(ctx context.Context, key string, at time.Time) error
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the quote ledger and the alert map.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// DedupKey derives the stable fingerprint suppressing repeat alerts for
// materially-identical offers. The price is rounded to the nearest
// integer, half away from zero, so sub-dollar fluctuations collapse onto
// the same key.
func DedupKey(origin, dest, dep, ret, carrier string, priceUSD decimal.Decimal) string {
	return fmt.Sprintf("%s-%s-%s-%s-%s-%s", origin, dest, dep, ret, carrier, priceUSD.Round(0).StringFixed(0))
}

// InsertQuote appends a fare observation to the ledger.
func (s *Store) InsertQuote(ctx context.Context, quote Quote) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	foundAt := quote.FoundAt
	if foundAt.IsZero() {
		foundAt = time.Now().UTC()
	}

	_, execErr := pool.Exec(ctx, insertQuoteSQL,
		quote.Origin,
		quote.Destination,
		quote.DepartDate,
		quote.ReturnDate,
		quote.Carrier,
		quote.Stops,
		quote.PriceUSD.String(),
		quote.Cabin,
		foundAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert quote: %w", execErr)
	}
	return nil
}

// RecentPrices returns up to the 500 most recent prices for a route and
// departure month, newest first. monthISO is a YYYY-MM-01 marker; only
// its YYYY-MM prefix is matched against departure dates.
func (s *Store) RecentPrices(ctx context.Context, origin, dest, monthISO string) ([]decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	month := monthISO
	if len(month) > 7 {
		month = month[:7]
	}

	rows, queryErr := pool.Query(ctx, recentPricesSQL, origin, dest, month, recentPricesLimit)
	if queryErr != nil {
		return nil, fmt.Errorf("recent prices: %w", queryErr)
	}
	defer rows.Close()

	var prices []decimal.Decimal
	for rows.Next() {
		var priceStr string
		if err := rows.Scan(&priceStr); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		prices = append(prices, price)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prices, nil
}

// ListRecentQuotes lists the most recent quotes, newest first.
func (s *Store) ListRecentQuotes(ctx context.Context, limit int) ([]Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentQuotesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent quotes: %w", queryErr)
	}
	defer rows.Close()

	return collectQuotes(rows, limit)
}

// ListRoutePrices lists quotes for a route within a time window, oldest
// first, for history export.
func (s *Store) ListRoutePrices(ctx context.Context, origin, dest string, from, to time.Time) ([]Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRoutePricesSQL, origin, dest, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list route prices: %w", queryErr)
	}
	defer rows.Close()

	return collectQuotes(rows, 0)
}

// CountQuotes counts stored quotes.
func (s *Store) CountQuotes(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countQuotesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count quotes: %w", scanErr)
	}
	return count, nil
}

// WasAlertedRecently reports whether an alert for key was dispatched
// within the trailing window.
func (s *Store) WasAlertedRecently(ctx context.Context, key string, within time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var sentAt time.Time
	scanErr := pool.QueryRow(ctx, selectAlertSentAtSQL, key).Scan(&sentAt)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup alert: %w", scanErr)
	}

	return alertedWithin(sentAt, time.Now().UTC(), within), nil
}

// alertedWithin is the suppression predicate: true while now-sentAt is
// strictly inside the window.
func alertedWithin(sentAt, now time.Time, within time.Duration) bool {
	return now.Sub(sentAt) < within
}

// MarkAlerted upserts the dispatch timestamp for key. Every real send
// refreshes the suppression window.
func (s *Store) MarkAlerted(ctx context.Context, key string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markAlertedSQL, key, at.UTC()); execErr != nil {
		return fmt.Errorf("mark alerted: %w", execErr)
	}
	return nil
}

// DeleteAlertsBefore prunes dedup records older than the retention edge.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func collectQuotes(rows pgx.Rows, sizeHint int) ([]Quote, error) {
	quotes := make([]Quote, 0, sizeHint)
	for rows.Next() {
		var (
			quote    Quote
			priceStr string
		)
		if err := rows.Scan(
			&quote.ID,
			&quote.Origin,
			&quote.Destination,
			&quote.DepartDate,
			&quote.ReturnDate,
			&quote.Carrier,
			&quote.Stops,
			&priceStr,
			&quote.Cabin,
			&quote.FoundAt,
		); err != nil {
			return nil, err
		}

		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		quote.PriceUSD = price
		quotes = append(quotes, quote)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}
