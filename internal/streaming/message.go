package streaming

import (
	"encoding/json"
	"errors"
	"fmt"

	"txindex/internal/domain"
)

type MessageType string

const (
	MessageTypeRecords MessageType = "records"
	MessageTypeReorg   MessageType = "reorg"
)

var (
	ErrMissingType    = errors.New("message type is missing")
	ErrMissingChainID = errors.New("chain_id is missing")
)

// Message is the envelope published per mapped block or reorg. Records holds
// the protobuf encoding of domain.TxRecords.
type Message struct {
	Type        MessageType `json:"type"`
	ChainID     uint64      `json:"chain_id"`
	TraceID     string      `json:"trace_id,omitempty"`
	BlockNumber uint64      `json:"block_number,omitempty"`
	BlockHash   string      `json:"block_hash,omitempty"`
	ParentHash  string      `json:"parent_hash,omitempty"`
	Timestamp   uint64      `json:"timestamp,omitempty"`
	TxCount     uint64      `json:"tx_count,omitempty"`
	Records     []byte      `json:"records,omitempty"`
	FromBlock   uint64      `json:"from_block,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

func NewRecordsMessage(batch domain.RecordBatch) Message {
	return Message{
		Type:        MessageTypeRecords,
		ChainID:     batch.ChainID,
		BlockNumber: batch.BlockNumber,
		BlockHash:   batch.BlockHash,
		ParentHash:  batch.ParentHash,
		Timestamp:   batch.Timestamp,
		TxCount:     uint64(len(batch.Records.Records)),
		Records:     MarshalTxRecords(batch.Records),
	}
}

func NewReorgMessage(chainID, fromBlock uint64, reason string) Message {
	return Message{
		Type:      MessageTypeReorg,
		ChainID:   chainID,
		FromBlock: fromBlock,
		Reason:    reason,
	}
}

// RecordBatch decodes the records payload of a records message.
func (m Message) RecordBatch() (domain.RecordBatch, error) {
	if m.Type != MessageTypeRecords {
		return domain.RecordBatch{}, fmt.Errorf("message type %q carries no records", m.Type)
	}
	records, err := UnmarshalTxRecords(m.Records)
	if err != nil {
		return domain.RecordBatch{}, err
	}
	if uint64(len(records.Records)) != m.TxCount {
		return domain.RecordBatch{}, fmt.Errorf("record count mismatch: header %d, payload %d", m.TxCount, len(records.Records))
	}
	return domain.RecordBatch{
		ChainID:     m.ChainID,
		BlockNumber: m.BlockNumber,
		BlockHash:   m.BlockHash,
		ParentHash:  m.ParentHash,
		Timestamp:   m.Timestamp,
		Records:     records,
	}, nil
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	if msg.ChainID == 0 {
		return nil, ErrMissingChainID
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	if msg.ChainID == 0 {
		return Message{}, ErrMissingChainID
	}
	return msg, nil
}
