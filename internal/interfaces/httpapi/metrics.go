package httpapi

import (
	"maps"
	"sync"
	"time"

	"txindex/internal/domain"
)

// ConsumerStage labels where a consumed message failed.
type ConsumerStage string

const (
	StageFetch  ConsumerStage = "fetch"
	StageDecode ConsumerStage = "decode"
	StageApply  ConsumerStage = "apply"
	StageCommit ConsumerStage = "commit"
)

type consumerStats struct {
	messages   uint64
	errors     map[string]uint64
	perTopic   map[string]uint64
	lastTopic  string
	lastOffset int64
	lastLag    time.Duration
	maxLag     time.Duration
}

// Metrics collects counters for /metrics. It doubles as the indexer observer.
type Metrics struct {
	mu            sync.RWMutex
	startTime     time.Time
	latestBlock   uint64
	lastProcessed uint64
	lastBlockSize int
	totalRecords  uint64
	kinds         map[string]uint64
	consumer      consumerStats
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
		kinds:     make(map[string]uint64),
		consumer: consumerStats{
			errors:   make(map[string]uint64),
			perTopic: make(map[string]uint64),
		},
	}
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestBlock = block
}

func (m *Metrics) OnBlockMapped(batch domain.RecordBatch) {
	m.ObserveBatch(batch)
}

// ObserveBatch counts the records of one block by kind.
func (m *Metrics) ObserveBatch(batch domain.RecordBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batch.BlockNumber > m.lastProcessed {
		m.lastProcessed = batch.BlockNumber
	}
	m.lastBlockSize = len(batch.Records.Records)
	m.totalRecords += uint64(len(batch.Records.Records))
	for _, rec := range batch.Records.Records {
		m.kinds[rec.Kind]++
	}
}

func (m *Metrics) SetLastProcessed(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastProcessed = block
}

func (m *Metrics) IncConsumerError(stage ConsumerStage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumer.errors[string(stage)]++
}

// ObserveConsumed records a fetched message. ts is the broker timestamp and
// may be zero when the broker did not set one.
func (m *Metrics) ObserveConsumed(topic string, offset int64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.consumer
	c.messages++
	c.lastTopic = topic
	c.lastOffset = offset
	if topic != "" {
		c.perTopic[topic]++
	}
	if ts.IsZero() {
		return
	}
	c.lastLag = time.Since(ts)
	c.maxLag = max(c.maxLag, c.lastLag)
}

type Snapshot struct {
	StartTime       time.Time
	LatestBlock     uint64
	LastProcessed   uint64
	LastBlockSize   int
	TotalRecords    uint64
	Kinds           map[string]uint64
	Consumed        uint64
	ConsumerErrors  map[string]uint64
	ConsumedByTopic map[string]uint64
	LastTopic       string
	LastOffset      int64
	LastLag         time.Duration
	MaxLag          time.Duration
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.consumer
	return Snapshot{
		StartTime:       m.startTime,
		LatestBlock:     m.latestBlock,
		LastProcessed:   m.lastProcessed,
		LastBlockSize:   m.lastBlockSize,
		TotalRecords:    m.totalRecords,
		Kinds:           maps.Clone(m.kinds),
		Consumed:        c.messages,
		ConsumerErrors:  maps.Clone(c.errors),
		ConsumedByTopic: maps.Clone(c.perTopic),
		LastTopic:       c.lastTopic,
		LastOffset:      c.lastOffset,
		LastLag:         c.lastLag,
		MaxLag:          c.maxLag,
	}
}
