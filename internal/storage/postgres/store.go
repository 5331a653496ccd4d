package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callSpread/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS callspread_events (
	seq           BIGINT PRIMARY KEY,
	name          TEXT NOT NULL,
	position_id   BIGINT NOT NULL,
	ts            BIGINT NOT NULL,
	seller        TEXT,
	strike_low    NUMERIC,
	strike_high   NUMERIC,
	expiry        BIGINT,
	buyer         TEXT,
	from_addr     TEXT,
	to_addr       TEXT,
	payoff_amount NUMERIC,
	price_used    NUMERIC,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS callspread_events_position_idx ON callspread_events (position_id);

CREATE TABLE IF NOT EXISTS callspread_positions (
	id           BIGINT PRIMARY KEY,
	strike_low   NUMERIC NOT NULL,
	strike_high  NUMERIC NOT NULL,
	expiry       BIGINT NOT NULL,
	collateral   NUMERIC NOT NULL,
	seller       TEXT NOT NULL,
	owner        TEXT NOT NULL,
	buyer        TEXT NOT NULL,
	exercised    BOOLEAN NOT NULL,
	metadata_uri TEXT NOT NULL,
	created_ts   BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS export_state (
	name          TEXT PRIMARY KEY,
	exported      BIGINT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store persists exported events, position snapshots and export progress.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pg pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PutEventBatch inserts events keyed by sequence number. Replayed events are ignored.
func (s *Store) PutEventBatch(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO callspread_events (
				seq, name, position_id, ts, seller, strike_low, strike_high, expiry,
				buyer, from_addr, to_addr, payoff_amount, price_used
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12::numeric, $13::numeric)
			ON CONFLICT (seq) DO NOTHING
		`,
			int64(ev.Seq),
			ev.Name,
			int64(ev.PositionID),
			int64(ev.Timestamp),
			nullable(ev.Seller),
			nullable(ev.StrikeLow),
			nullable(ev.StrikeHigh),
			int64(ev.Expiry),
			nullable(ev.Buyer),
			nullable(ev.From),
			nullable(ev.To),
			nullable(ev.PayoffAmount),
			nullable(ev.PriceUsed),
		)
	}
	return s.sendBatch(ctx, batch, len(events))
}

// UpsertPositions writes the current view of each position.
func (s *Store) UpsertPositions(ctx context.Context, positions []model.Position) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(`
			INSERT INTO callspread_positions (
				id, strike_low, strike_high, expiry, collateral, seller, owner, buyer,
				exercised, metadata_uri, created_ts, updated_at
			) VALUES ($1, $2::numeric, $3::numeric, $4, $5::numeric, $6, $7, $8, $9, $10, $11, now())
			ON CONFLICT (id)
			DO UPDATE SET
				owner = EXCLUDED.owner,
				buyer = EXCLUDED.buyer,
				exercised = callspread_positions.exercised OR EXCLUDED.exercised,
				updated_at = now()
		`,
			int64(p.ID),
			p.StrikeLow.String(),
			p.StrikeHigh.String(),
			int64(p.Expiry),
			p.Collateral.String(),
			p.Seller.Hex(),
			p.Owner.Hex(),
			p.Buyer.Hex(),
			p.Exercised,
			p.MetadataURI,
			int64(p.CreatedAt),
		)
	}
	return s.sendBatch(ctx, batch, len(positions))
}

// LoadState returns the exported event count for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var exported int64
	row := s.pool.QueryRow(ctx, `SELECT exported FROM export_state WHERE name=$1`, name)
	if err := row.Scan(&exported); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load export state %s: %w", name, err)
	}
	return uint64(exported), true, nil
}

// SaveState upserts the exported event count for a name.
func (s *Store) SaveState(ctx context.Context, name string, exported uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO export_state (name, exported, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET exported = EXCLUDED.exported, updated_at = now()
	`, name, int64(exported))
	if err != nil {
		return fmt.Errorf("save export state %s: %w", name, err)
	}
	return nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
