package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"txindex/internal/application"
	"txindex/internal/domain"
	"txindex/internal/infrastructure/sqlrecords"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Identifiers are kept as the mapper emitted them, which may be textual or
// longer than a canonical hash or address, so they are BLOBs with prefix keys.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tx_records (
		chain_id BIGINT UNSIGNED NOT NULL,
		block_number BIGINT UNSIGNED NOT NULL,
		tx_index INT UNSIGNED NOT NULL,
		tx_id BLOB NULL,
		kind VARCHAR(32) NOT NULL,
		from_addr BLOB NULL,
		to_addr BLOB NULL,
		value VARCHAR(80) NOT NULL,
		gas_limit BIGINT UNSIGNED NOT NULL,
		gas_price VARCHAR(80) NOT NULL,
		max_fee_per_gas VARCHAR(80) NOT NULL,
		max_priority_fee_per_gas VARCHAR(80) NOT NULL,
		access_list MEDIUMTEXT NOT NULL,
		data MEDIUMBLOB NULL,
		tx_type INT UNSIGNED NOT NULL DEFAULT 0,
		PRIMARY KEY (chain_id, block_number, tx_index),
		` + identifierKeys + `,
		KEY tx_records_kind_idx (chain_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		chain_id BIGINT UNSIGNED NOT NULL,
		block_number BIGINT UNSIGNED NOT NULL,
		block_hash VARCHAR(66) NOT NULL,
		parent_hash VARCHAR(66) NOT NULL DEFAULT '',
		timestamp BIGINT UNSIGNED NOT NULL DEFAULT 0,
		tx_count BIGINT UNSIGNED NOT NULL DEFAULT 0,
		PRIMARY KEY (chain_id, block_number)
	)`,
	`CREATE TABLE IF NOT EXISTS state (
		state_key VARCHAR(64) NOT NULL,
		state_value VARCHAR(64) NOT NULL,
		PRIMARY KEY (state_key)
	)`,
}

const identifierKeys = `KEY tx_records_id_idx (tx_id(66)),
		KEY tx_records_from_idx (chain_id, from_addr(66)),
		KEY tx_records_to_idx (chain_id, to_addr(66))`

// widenIdentifiers converts tables created with VARBINARY(32)/(20) id and
// address columns. The keys are rebuilt because BLOB keys need a prefix.
const widenIdentifiers = `ALTER TABLE tx_records
	DROP KEY tx_records_id_idx,
	DROP KEY tx_records_from_idx,
	DROP KEY tx_records_to_idx,
	MODIFY COLUMN tx_id BLOB NULL,
	MODIFY COLUMN from_addr BLOB NULL,
	MODIFY COLUMN to_addr BLOB NULL,
	ADD KEY tx_records_id_idx (tx_id(66)),
	ADD KEY tx_records_from_idx (chain_id, from_addr(66)),
	ADD KEY tx_records_to_idx (chain_id, to_addr(66))`

func createSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	// tables created before tx_type and tx_count were tracked
	if err := ensureColumn(db, "tx_records", "tx_type", "INT UNSIGNED NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(db, "blocks", "tx_count", "BIGINT UNSIGNED NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	dataType, err := columnType(db, "tx_records", "tx_id")
	if err != nil {
		return err
	}
	if dataType == "blob" {
		return nil
	}
	_, err = db.Exec(widenIdentifiers)
	return err
}

func columnType(db *sql.DB, table, column string) (string, error) {
	var dataType string
	row := db.QueryRow(
		`SELECT LOWER(DATA_TYPE) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table,
		column,
	)
	if err := row.Scan(&dataType); err != nil {
		return "", err
	}
	return dataType, nil
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	var count int
	row := db.QueryRow(
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table,
		column,
	)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

// StoreRecords upserts records by chain position so a replayed block
// overwrites what was stored for it.
func (r *Repository) StoreRecords(ctx context.Context, records []domain.StoredRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.StoreRecords", attribute.Int("record.count", len(records)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return failSpan(span, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tx_records (`+sqlrecords.InsertColumns+`)
		VALUES (`+sqlrecords.InsertPlaceholders+`)
		ON DUPLICATE KEY UPDATE
			tx_id = VALUES(tx_id),
			kind = VALUES(kind),
			from_addr = VALUES(from_addr),
			to_addr = VALUES(to_addr),
			value = VALUES(value),
			gas_limit = VALUES(gas_limit),
			gas_price = VALUES(gas_price),
			max_fee_per_gas = VALUES(max_fee_per_gas),
			max_priority_fee_per_gas = VALUES(max_priority_fee_per_gas),
			access_list = VALUES(access_list),
			data = VALUES(data),
			tx_type = VALUES(tx_type)`)
	if err != nil {
		_ = tx.Rollback()
		return failSpan(span, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, sqlrecords.RecordArgs(rec)...); err != nil {
			_ = tx.Rollback()
			return failSpan(span, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return failSpan(span, err)
	}
	return nil
}

func (r *Repository) DeleteRecordsFrom(ctx context.Context, chainID uint64, fromBlock uint64) error {
	return r.deleteFrom(ctx, "mysql.DeleteRecordsFrom", "tx_records", chainID, fromBlock)
}

func (r *Repository) StoreBlocks(ctx context.Context, blocks []domain.BlockRecord) error {
	if len(blocks) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.StoreBlocks", attribute.Int("block.count", len(blocks)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return failSpan(span, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO blocks (chain_id, block_number, block_hash, parent_hash, timestamp, tx_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			block_hash = VALUES(block_hash),
			parent_hash = VALUES(parent_hash),
			timestamp = VALUES(timestamp),
			tx_count = VALUES(tx_count)`)
	if err != nil {
		_ = tx.Rollback()
		return failSpan(span, err)
	}
	defer stmt.Close()

	for _, block := range blocks {
		if _, err := stmt.ExecContext(ctx, block.ChainID, block.BlockNumber, block.BlockHash, block.ParentHash, block.Timestamp, block.TxCount); err != nil {
			_ = tx.Rollback()
			return failSpan(span, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return failSpan(span, err)
	}
	return nil
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
	return r.deleteFrom(ctx, "mysql.DeleteBlocksFrom", "blocks", chainID, fromBlock)
}

func (r *Repository) deleteFrom(ctx context.Context, spanName, table string, chainID, fromBlock uint64) error {
	ctx, span := startDBSpan(ctx, spanName,
		attribute.Int64("chain.id", int64(chainID)),
		attribute.Int64("from.block", int64(fromBlock)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE chain_id = ? AND block_number >= ?", chainID, fromBlock); err != nil {
		return failSpan(span, err)
	}
	return nil
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
	ctx, span := startDBSpan(ctx, "mysql.KindCounts")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query, args := sqlrecords.BuildKindCountQuery(chainID)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failSpan(span, err)
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
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, stateKey(chainID)).Scan(&value); err != nil {
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
	ctx, span := startDBSpan(ctx, "mysql.SetLastProcessedBlock",
		attribute.Int64("chain.id", int64(chainID)),
		attribute.Int64("block.number", int64(block)),
	)
	defer span.End()
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state_value = VALUES(state_value)`, stateKey(chainID), fmt.Sprintf("%d", block))
	if err != nil {
		return failSpan(span, err)
	}
	return nil
}

func (r *Repository) ClearLastProcessedBlock(ctx context.Context, chainID uint64) error {
	ctx, span := startDBSpan(ctx, "mysql.ClearLastProcessedBlock",
		attribute.Int64("chain.id", int64(chainID)),
	)
	defer span.End()
	if _, err := r.db.ExecContext(ctx, `DELETE FROM state WHERE state_key = ?`, stateKey(chainID)); err != nil {
		return failSpan(span, err)
	}
	return nil
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

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("txindex/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
