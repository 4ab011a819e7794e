package chainstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds the connection parameters for the persistent
// witness chain store backend.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// PostgresStore is the optional persistent Store backend, for
// deployments that want the chain to survive a single node's disk
// loss. Schema:
//
//	CREATE TABLE chain_checkpoints (
//	    peer_id     TEXT NOT NULL,
//	    sequence    INT NOT NULL,
//	    hash        TEXT NOT NULL,
//	    prev_hash   TEXT NOT NULL,
//	    recorded_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (peer_id, sequence)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool and verifies it's reachable.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Append(ctx context.Context, peerID, hash string) (Checkpoint, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var sequence int
	var prevHash string
	err = tx.QueryRow(ctx,
		`SELECT sequence, hash FROM chain_checkpoints WHERE peer_id = $1 ORDER BY sequence DESC LIMIT 1`,
		peerID,
	).Scan(&sequence, &prevHash)
	switch {
	case err == pgx.ErrNoRows:
		sequence, prevHash = -1, ""
	case err != nil:
		return Checkpoint{}, fmt.Errorf("read latest checkpoint: %w", err)
	}

	cp := Checkpoint{
		PeerID:     peerID,
		Sequence:   sequence + 1,
		Hash:       hash,
		PrevHash:   prevHash,
		RecordedAt: time.Now().UTC(),
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO chain_checkpoints (peer_id, sequence, hash, prev_hash, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		cp.PeerID, cp.Sequence, cp.Hash, cp.PrevHash, cp.RecordedAt,
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Checkpoint{}, fmt.Errorf("commit append: %w", err)
	}
	return cp, nil
}

func (s *PostgresStore) Latest(ctx context.Context, peerID string) (Checkpoint, bool, error) {
	var cp Checkpoint
	cp.PeerID = peerID
	err := s.pool.QueryRow(ctx,
		`SELECT sequence, hash, prev_hash, recorded_at FROM chain_checkpoints WHERE peer_id = $1 ORDER BY sequence DESC LIMIT 1`,
		peerID,
	).Scan(&cp.Sequence, &cp.Hash, &cp.PrevHash, &cp.RecordedAt)
	if err == pgx.ErrNoRows {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read latest checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *PostgresStore) Chain(ctx context.Context, peerID string) ([]Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sequence, hash, prev_hash, recorded_at FROM chain_checkpoints WHERE peer_id = $1 ORDER BY sequence ASC`,
		peerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	var chain []Checkpoint
	for rows.Next() {
		cp := Checkpoint{PeerID: peerID}
		if err := rows.Scan(&cp.Sequence, &cp.Hash, &cp.PrevHash, &cp.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		chain = append(chain, cp)
	}
	return chain, rows.Err()
}

func (s *PostgresStore) ContainsHash(ctx context.Context, peerID, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chain_checkpoints WHERE peer_id = $1 AND hash = $2)`,
		peerID, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check hash membership: %w", err)
	}
	return exists, nil
}
