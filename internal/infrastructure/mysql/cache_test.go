package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"txindex/internal/application"
	"txindex/internal/domain"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	Store
	records     []domain.StoredRecord
	counts      []application.KindCount
	queries     int
	countCalls  int
	stored      int
	deletedFrom uint64
}

func (f *fakeStore) QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.StoredRecord, error) {
	f.queries++
	return f.records, nil
}

func (f *fakeStore) KindCounts(ctx context.Context, chainID *uint64) ([]application.KindCount, error) {
	f.countCalls++
	return f.counts, nil
}

func (f *fakeStore) StoreRecords(ctx context.Context, records []domain.StoredRecord) error {
	f.stored += len(records)
	return nil
}

func (f *fakeStore) DeleteRecordsFrom(ctx context.Context, chainID uint64, fromBlock uint64) error {
	f.deletedFrom = fromBlock
	return nil
}

func sampleRecords() []domain.StoredRecord {
	return []domain.StoredRecord{{
		ChainID:     1,
		BlockNumber: 5,
		Record: domain.TxRecord{
			ID:   []byte{0x01},
			Kind: "ethTransfer",
			Raw:  &domain.Raw{From: []byte{0xaa}, To: []byte{0xbb}, Value: "0x1", GasLimit: 21000},
		},
	}}
}

func TestCachedRepository_QueryMissThenHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	base := &fakeStore{records: sampleRecords()}
	repo := newCachedRepository(base, client, time.Minute)
	ctx := context.Background()

	chain := uint64(1)
	filter := application.RecordQueryFilter{ChainID: &chain, Address: []byte{0xaa}}
	key := recordCacheKey("3", filter)
	payload, err := json.Marshal(base.records)
	require.NoError(t, err)

	mock.ExpectGet(recordCacheVersionKey).SetVal("3")
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, string(payload), time.Minute).SetVal("OK")
	mock.ExpectGet(recordCacheVersionKey).SetVal("3")
	mock.ExpectGet(key).SetVal(string(payload))

	first, err := repo.QueryRecords(ctx, filter)
	require.NoError(t, err)
	second, err := repo.QueryRecords(ctx, filter)
	require.NoError(t, err)

	assert.Equal(t, 1, base.queries)
	assert.Equal(t, first, second)
	assert.Equal(t, "ethTransfer", second[0].Record.Kind)
	assert.Equal(t, []byte{0xbb}, second[0].Record.Raw.To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepository_VersionUnavailableFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	base := &fakeStore{records: sampleRecords()}
	repo := newCachedRepository(base, client, 0)

	mock.ExpectGet(recordCacheVersionKey).SetErr(errors.New("connection refused"))
	records, err := repo.QueryRecords(context.Background(), application.RecordQueryFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, base.queries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepository_WritesBumpVersion(t *testing.T) {
	client, mock := redismock.NewClientMock()
	base := &fakeStore{}
	repo := newCachedRepository(base, client, time.Minute)
	ctx := context.Background()

	mock.ExpectIncr(recordCacheVersionKey).SetVal(1)
	require.NoError(t, repo.StoreRecords(ctx, sampleRecords()))
	// empty writes leave the version alone
	require.NoError(t, repo.StoreRecords(ctx, nil))

	mock.ExpectIncr(recordCacheVersionKey).SetVal(2)
	require.NoError(t, repo.DeleteRecordsFrom(ctx, 1, 9))

	assert.Equal(t, 1, base.stored)
	assert.Equal(t, uint64(9), base.deletedFrom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepository_KindCounts(t *testing.T) {
	client, mock := redismock.NewClientMock()
	base := &fakeStore{counts: []application.KindCount{{Kind: "ethTransfer", Count: 4}}}
	repo := newCachedRepository(base, client, time.Minute)

	key := statsCacheKeyPrefix + "0:chain=any"
	payload, err := json.Marshal(base.counts)
	require.NoError(t, err)
	mock.ExpectGet(recordCacheVersionKey).RedisNil()
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, string(payload), time.Minute).SetVal("OK")

	counts, err := repo.KindCounts(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, base.counts, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRepository_WithoutRedis(t *testing.T) {
	base := &fakeStore{records: sampleRecords()}
	repo, err := NewCachedRepository(base, CacheConfig{})
	require.NoError(t, err)

	_, err = repo.QueryRecords(context.Background(), application.RecordQueryFilter{})
	require.NoError(t, err)
	require.NoError(t, repo.StoreRecords(context.Background(), sampleRecords()))
	assert.Equal(t, 1, base.queries)

	_, err = NewCachedRepository(nil, CacheConfig{})
	assert.Error(t, err)
}

func TestRecordCacheKey(t *testing.T) {
	chain := uint64(1)
	from := uint64(10)
	key := recordCacheKey("7", application.RecordQueryFilter{
		ChainID:   &chain,
		Kind:      "contractCreation",
		Decodable: true,
		Address:   []byte{0xab},
		FromBlock: &from,
	})
	assert.Equal(t, "txindex:records:v7:chain=1:kind=contractCreation:decodable=true:addr=0xab:tx=any:from=10:to=any:limit=100", key)
}

func TestStateKey(t *testing.T) {
	assert.Equal(t, "last_block", stateKey(0))
	assert.Equal(t, "last_block:10", stateKey(10))
}
