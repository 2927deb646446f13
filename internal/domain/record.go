package domain

// TxRecords is the mapped output of one block, in source order.
type TxRecords struct {
	Records []TxRecord
}

// TxRecord is one normalized transaction. Decoded is reserved for a later
// enrichment stage and is always nil when produced by the mapper.
type TxRecord struct {
	ID      []byte
	Kind    string
	Raw     *Raw
	Decoded *Decoded
}

type Raw struct {
	From                 []byte
	To                   []byte
	Value                string
	GasLimit             uint64
	GasPrice             string
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
	AccessList           string
	Data                 []byte
	TxType               uint32
}

type Decoded struct {
	Selector  string
	FnSig     string
	Args      []string
	AbiSource string
	ArgsJSON  string
}

// RecordBatch is a mapped block with its chain context.
type RecordBatch struct {
	ChainID     uint64
	BlockNumber uint64
	BlockHash   string
	ParentHash  string
	Timestamp   uint64
	Records     TxRecords
}

func (b RecordBatch) BlockRecord() BlockRecord {
	return BlockRecord{
		ChainID:     b.ChainID,
		BlockNumber: b.BlockNumber,
		BlockHash:   b.BlockHash,
		ParentHash:  b.ParentHash,
		Timestamp:   b.Timestamp,
		TxCount:     uint64(len(b.Records.Records)),
	}
}

// StoredRecord is a record as persisted, keyed by its position in the chain.
type StoredRecord struct {
	ChainID     uint64
	BlockNumber uint64
	TxIndex     uint32
	Record      TxRecord
}

// StoredRecords keys each record by its position in the block.
func (b RecordBatch) StoredRecords() []StoredRecord {
	out := make([]StoredRecord, 0, len(b.Records.Records))
	for i, rec := range b.Records.Records {
		out = append(out, StoredRecord{
			ChainID:     b.ChainID,
			BlockNumber: b.BlockNumber,
			TxIndex:     uint32(i),
			Record:      rec,
		})
	}
	return out
}
