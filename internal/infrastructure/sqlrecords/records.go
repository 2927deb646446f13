// Package sqlrecords holds the SQL shared by the record stores. Both MySQL and
// SQLite accept "?" placeholders and the statements here stay within the
// subset both dialects understand.
package sqlrecords

import (
	"database/sql"
	"strings"

	"txindex/internal/application"
	"txindex/internal/domain"
)

const recordColumns = `chain_id, block_number, tx_index, tx_id, kind, from_addr, to_addr, value, gas_limit,
	gas_price, max_fee_per_gas, max_priority_fee_per_gas, access_list, data, tx_type`

// InsertColumns is the column list matching RecordArgs.
const InsertColumns = recordColumns

const InsertPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func RecordArgs(rec domain.StoredRecord) []any {
	raw := rec.Record.Raw
	if raw == nil {
		raw = &domain.Raw{}
	}
	return []any{
		rec.ChainID,
		rec.BlockNumber,
		rec.TxIndex,
		nullableBytes(rec.Record.ID),
		rec.Record.Kind,
		nullableBytes(raw.From),
		nullableBytes(raw.To),
		raw.Value,
		raw.GasLimit,
		raw.GasPrice,
		raw.MaxFeePerGas,
		raw.MaxPriorityFeePerGas,
		raw.AccessList,
		nullableBytes(raw.Data),
		raw.TxType,
	}
}

// BuildRecordQuery renders a filtered, ordered and limited SELECT over tx_records.
func BuildRecordQuery(filter application.RecordQueryFilter) (string, []any) {
	clauses := make([]string, 0, 7)
	args := make([]any, 0, 10)

	if filter.ChainID != nil {
		clauses = append(clauses, "chain_id = ?")
		args = append(args, *filter.ChainID)
	}
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Decodable {
		kinds := application.DecodableKinds()
		clauses = append(clauses, "kind IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(kinds)), ", ")+")")
		for _, kind := range kinds {
			args = append(args, kind)
		}
	}
	if len(filter.Address) > 0 {
		clauses = append(clauses, "(from_addr = ? OR to_addr = ?)")
		args = append(args, filter.Address, filter.Address)
	}
	if len(filter.TxID) > 0 {
		clauses = append(clauses, "tx_id = ?")
		args = append(args, filter.TxID)
	}
	if filter.FromBlock != nil {
		clauses = append(clauses, "block_number >= ?")
		args = append(args, *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		clauses = append(clauses, "block_number <= ?")
		args = append(args, *filter.ToBlock)
	}

	query := "SELECT " + recordColumns + " FROM tx_records"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY chain_id ASC, block_number ASC, tx_index ASC LIMIT ?"
	args = append(args, application.ClampLimit(filter.Limit))
	return query, args
}

func ScanRecords(rows *sql.Rows) ([]domain.StoredRecord, error) {
	var out []domain.StoredRecord
	for rows.Next() {
		var rec domain.StoredRecord
		raw := &domain.Raw{}
		if err := rows.Scan(
			&rec.ChainID,
			&rec.BlockNumber,
			&rec.TxIndex,
			&rec.Record.ID,
			&rec.Record.Kind,
			&raw.From,
			&raw.To,
			&raw.Value,
			&raw.GasLimit,
			&raw.GasPrice,
			&raw.MaxFeePerGas,
			&raw.MaxPriorityFeePerGas,
			&raw.AccessList,
			&raw.Data,
			&raw.TxType,
		); err != nil {
			return nil, err
		}
		rec.Record.ID = emptyToNil(rec.Record.ID)
		raw.From = emptyToNil(raw.From)
		raw.To = emptyToNil(raw.To)
		raw.Data = emptyToNil(raw.Data)
		rec.Record.Raw = raw
		out = append(out, rec)
	}
	return out, rows.Err()
}

func BuildBlockQuery(filter application.BlockQueryFilter) (string, []any) {
	query := `SELECT chain_id, block_number, block_hash, parent_hash, timestamp, tx_count FROM blocks WHERE chain_id = ?`
	args := []any{filter.ChainID}
	if filter.FromBlock != nil {
		query += " AND block_number >= ?"
		args = append(args, *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		query += " AND block_number <= ?"
		args = append(args, *filter.ToBlock)
	}
	query += " ORDER BY block_number DESC LIMIT ?"
	args = append(args, application.ClampLimit(filter.Limit))
	return query, args
}

func ScanBlocks(rows *sql.Rows) ([]domain.BlockRecord, error) {
	var out []domain.BlockRecord
	for rows.Next() {
		var block domain.BlockRecord
		if err := rows.Scan(&block.ChainID, &block.BlockNumber, &block.BlockHash, &block.ParentHash, &block.Timestamp, &block.TxCount); err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

func BuildKindCountQuery(chainID *uint64) (string, []any) {
	query := "SELECT kind, COUNT(*) FROM tx_records"
	var args []any
	if chainID != nil {
		query += " WHERE chain_id = ?"
		args = append(args, *chainID)
	}
	return query + " GROUP BY kind ORDER BY kind", args
}

func ScanKindCounts(rows *sql.Rows) ([]application.KindCount, error) {
	var out []application.KindCount
	for rows.Next() {
		var kc application.KindCount
		if err := rows.Scan(&kc.Kind, &kc.Count); err != nil {
			return nil, err
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func emptyToNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
