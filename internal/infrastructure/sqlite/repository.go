package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"txindex/internal/application"
	"txindex/internal/domain"
	"txindex/internal/infrastructure/sqlrecords"

	_ "modernc.org/sqlite"
)

// Repository is the embedded store used when no MySQL server is configured.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps writers from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS tx_records (
			chain_id INTEGER NOT NULL,
			block_number INTEGER NOT NULL,
			tx_index INTEGER NOT NULL,
			tx_id BLOB,
			kind TEXT NOT NULL,
			from_addr BLOB,
			to_addr BLOB,
			value TEXT NOT NULL,
			gas_limit INTEGER NOT NULL,
			gas_price TEXT NOT NULL,
			max_fee_per_gas TEXT NOT NULL,
			max_priority_fee_per_gas TEXT NOT NULL,
			access_list TEXT NOT NULL,
			data BLOB,
			tx_type INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (chain_id, block_number, tx_index)
		)`,
		`CREATE INDEX IF NOT EXISTS tx_records_id_idx ON tx_records (tx_id)`,
		`CREATE INDEX IF NOT EXISTS tx_records_from_idx ON tx_records (chain_id, from_addr)`,
		`CREATE INDEX IF NOT EXISTS tx_records_to_idx ON tx_records (chain_id, to_addr)`,
		`CREATE INDEX IF NOT EXISTS tx_records_kind_idx ON tx_records (chain_id, kind)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			chain_id INTEGER NOT NULL,
			block_number INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			parent_hash TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL DEFAULT 0,
			tx_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (chain_id, block_number)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) StoreRecords(ctx context.Context, records []domain.StoredRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tx_records (`+sqlrecords.InsertColumns+`)
		VALUES (`+sqlrecords.InsertPlaceholders+`)
		ON CONFLICT(chain_id, block_number, tx_index) DO UPDATE SET
			tx_id = excluded.tx_id,
			kind = excluded.kind,
			from_addr = excluded.from_addr,
			to_addr = excluded.to_addr,
			value = excluded.value,
			gas_limit = excluded.gas_limit,
			gas_price = excluded.gas_price,
			max_fee_per_gas = excluded.max_fee_per_gas,
			max_priority_fee_per_gas = excluded.max_priority_fee_per_gas,
			access_list = excluded.access_list,
			data = excluded.data,
			tx_type = excluded.tx_type`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, sqlrecords.RecordArgs(rec)...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) DeleteRecordsFrom(ctx context.Context, chainID uint64, fromBlock uint64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM tx_records WHERE chain_id = ? AND block_number >= ?`, chainID, fromBlock)
	return err
}

func (r *Repository) StoreBlocks(ctx context.Context, blocks []domain.BlockRecord) error {
	if len(blocks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO blocks (chain_id, block_number, block_hash, parent_hash, timestamp, tx_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, block_number) DO UPDATE SET
			block_hash = excluded.block_hash,
			parent_hash = excluded.parent_hash,
			timestamp = excluded.timestamp,
			tx_count = excluded.tx_count`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, block := range blocks {
		if _, err := stmt.ExecContext(ctx, block.ChainID, block.BlockNumber, block.BlockHash, block.ParentHash, block.Timestamp, block.TxCount); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetBlockHash(ctx context.Context, chainID uint64, blockNumber uint64) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var hash string
	if err := r.db.QueryRowContext(ctx, `SELECT block_hash FROM blocks WHERE chain_id = ? AND block_number = ?`, chainID, blockNumber).Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return hash, true, nil
}

func (r *Repository) DeleteBlocksFrom(ctx context.Context, chainID uint64, fromBlock uint64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE chain_id = ? AND block_number >= ?`, chainID, fromBlock)
	return err
}

func (r *Repository) QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.StoredRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query, args := sqlrecords.BuildRecordQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return sqlrecords.ScanRecords(rows)
}

func (r *Repository) QueryBlocks(ctx context.Context, filter application.BlockQueryFilter) ([]domain.BlockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query, args := sqlrecords.BuildBlockQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return sqlrecords.ScanBlocks(rows)
}

func (r *Repository) KindCounts(ctx context.Context, chainID *uint64) ([]application.KindCount, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query, args := sqlrecords.BuildKindCountQuery(chainID)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return sqlrecords.ScanKindCounts(rows)
}

func (r *Repository) BlockRange(ctx context.Context, chainID *uint64) (uint64, uint64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var min sql.NullInt64
	var max sql.NullInt64
	query := `SELECT MIN(block_number), MAX(block_number) FROM blocks`
	args := []any{}
	if chainID != nil {
		query += " WHERE chain_id = ?"
		args = append(args, *chainID)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&min, &max); err != nil {
		return 0, 0, false, err
	}
	if !min.Valid || !max.Valid {
		return 0, 0, false, nil
	}
	return uint64(min.Int64), uint64(max.Int64), true, nil
}

func (r *Repository) LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, stateKey(chainID)).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var block uint64
	if _, err := fmt.Sscanf(value, "%d", &block); err != nil {
		return 0, false, err
	}
	return block, true, nil
}

func (r *Repository) SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, stateKey(chainID), fmt.Sprintf("%d", block))
	return err
}

func (r *Repository) ClearLastProcessedBlock(ctx context.Context, chainID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, stateKey(chainID))
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func stateKey(chainID uint64) string {
	if chainID == 0 {
		return "last_block"
	}
	return fmt.Sprintf("last_block:%d", chainID)
}
