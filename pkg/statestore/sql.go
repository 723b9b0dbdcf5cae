// Copyright 2025 Certen Protocol

package statestore

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/certen/verikv/pkg/txlog"
)

// SQLHolder is an optional third Holder backend, beyond the spec's
// required memory/file variants, for deployments that already run a
// shared Postgres instance and want state shared across client processes.
// Grounded on the teacher's pkg/database.Client connection-pool setup.
type SQLHolder struct {
	db *sql.DB
}

// SQLOption configures a SQLHolder's underlying *sql.DB pool.
type SQLOption func(*sql.DB)

// WithMaxOpenConns bounds concurrently open connections to the state
// store's Postgres instance.
func WithMaxOpenConns(n int) SQLOption {
	return func(db *sql.DB) { db.SetMaxOpenConns(n) }
}

// WithConnMaxLifetime bounds how long a pooled connection may be reused.
func WithConnMaxLifetime(d time.Duration) SQLOption {
	return func(db *sql.DB) { db.SetConnMaxLifetime(d) }
}

// NewSQLHolder opens a Postgres-backed Holder and ensures its schema
// exists.
func NewSQLHolder(dsn string, opts ...SQLOption) (*SQLHolder, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("statestore: opening postgres: %w", err)
	}
	for _, opt := range opts {
		opt(db)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("statestore: pinging postgres: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLHolder{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS verikv_trusted_state (
	deployment_key TEXT NOT NULL,
	db             TEXT NOT NULL,
	tx_id          BIGINT NOT NULL,
	tx_hash        TEXT NOT NULL,
	signature      TEXT NOT NULL,
	PRIMARY KEY (deployment_key, db)
);
CREATE TABLE IF NOT EXISTS verikv_deployment_uuid (
	deployment_key TEXT PRIMARY KEY,
	server_uuid    TEXT NOT NULL
);`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection pool.
func (h *SQLHolder) Close() error {
	return h.db.Close()
}

func (h *SQLHolder) Get(deploymentKey, db string) (*txlog.ImmuState, bool, error) {
	row := h.db.QueryRow(`SELECT tx_id, tx_hash, signature FROM verikv_trusted_state WHERE deployment_key = $1 AND db = $2`, deploymentKey, db)
	var txID int64
	var txHashHex, sigHex string
	if err := row.Scan(&txID, &txHashHex, &sigHex); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("statestore: querying state: %w", err)
	}
	txHashBytes, err := hex.DecodeString(txHashHex)
	if err != nil || len(txHashBytes) != 32 {
		return nil, false, fmt.Errorf("statestore: corrupted tx_hash column")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, false, fmt.Errorf("statestore: corrupted signature column")
	}
	var txHash [32]byte
	copy(txHash[:], txHashBytes)
	return &txlog.ImmuState{Db: db, TxID: uint64(txID), TxHash: txHash, Signature: sig}, true, nil
}

func (h *SQLHolder) Set(deploymentKey, db string, state *txlog.ImmuState) error {
	_, err := h.db.Exec(`
INSERT INTO verikv_trusted_state (deployment_key, db, tx_id, tx_hash, signature)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (deployment_key, db) DO UPDATE SET tx_id = EXCLUDED.tx_id, tx_hash = EXCLUDED.tx_hash, signature = EXCLUDED.signature`,
		deploymentKey, db, int64(state.TxID), hex.EncodeToString(state.TxHash[:]), hex.EncodeToString(state.Signature))
	if err != nil {
		return fmt.Errorf("statestore: writing state: %w", err)
	}
	return nil
}

func (h *SQLHolder) ServerUUID(deploymentKey string) (string, bool, error) {
	row := h.db.QueryRow(`SELECT server_uuid FROM verikv_deployment_uuid WHERE deployment_key = $1`, deploymentKey)
	var uuid string
	if err := row.Scan(&uuid); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("statestore: querying deployment info: %w", err)
	}
	return uuid, true, nil
}

func (h *SQLHolder) SetServerUUID(deploymentKey, serverUUID string) error {
	_, err := h.db.Exec(`
INSERT INTO verikv_deployment_uuid (deployment_key, server_uuid) VALUES ($1, $2)
ON CONFLICT (deployment_key) DO NOTHING`, deploymentKey, serverUUID)
	if err != nil {
		return fmt.Errorf("statestore: writing deployment info: %w", err)
	}
	return nil
}
