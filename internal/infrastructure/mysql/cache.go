package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"txindex/internal/application"
	"txindex/internal/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"
)

const (
	recordCacheVersionKey = "txindex:records:version"
	recordCacheKeyPrefix  = "txindex:records:v"
	statsCacheKeyPrefix   = "txindex:stats:v"
	defaultCacheTTL       = time.Hour
)

// Store is the repository surface served through the cache.
type Store interface {
	application.ComputeRepository
	GetBlockHash(ctx context.Context, chainID uint64, blockNumber uint64) (string, bool, error)
	LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error)
	QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.StoredRecord, error)
	QueryBlocks(ctx context.Context, filter application.BlockQueryFilter) ([]domain.BlockRecord, error)
	KindCounts(ctx context.Context, chainID *uint64) ([]application.KindCount, error)
	BlockRange(ctx context.Context, chainID *uint64) (uint64, uint64, bool, error)
	Ping(ctx context.Context) error
}

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository reads records and kind counts through redis. Writes bump
// a version key so stale entries are never read again and expire by TTL.
type CachedRepository struct {
	Store
	cache redis.Cmdable
	ttl   time.Duration
}

func NewCachedRepository(base Store, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Store: base}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newCachedRepository(base, client, cfg.TTL), nil
}

func newCachedRepository(base Store, client redis.Cmdable, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedRepository{Store: base, cache: client, ttl: ttl}
}

func (r *CachedRepository) StoreRecords(ctx context.Context, records []domain.StoredRecord) error {
	if err := r.Store.StoreRecords(ctx, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRepository) DeleteRecordsFrom(ctx context.Context, chainID uint64, fromBlock uint64) error {
	if err := r.Store.DeleteRecordsFrom(ctx, chainID, fromBlock); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRepository) QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.StoredRecord, error) {
	if r.cache == nil {
		return r.Store.QueryRecords(ctx, filter)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Store.QueryRecords(ctx, filter)
	}
	key := recordCacheKey(version, filter)
	var records []domain.StoredRecord
	if r.lookup(ctx, key, &records) {
		return records, nil
	}

	records, err := r.Store.QueryRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	r.remember(ctx, key, records)
	return records, nil
}

func (r *CachedRepository) KindCounts(ctx context.Context, chainID *uint64) ([]application.KindCount, error) {
	if r.cache == nil {
		return r.Store.KindCounts(ctx, chainID)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Store.KindCounts(ctx, chainID)
	}
	key := statsCacheKeyPrefix + version + ":chain=" + optionalUint(chainID)
	var counts []application.KindCount
	if r.lookup(ctx, key, &counts) {
		return counts, nil
	}

	counts, err := r.Store.KindCounts(ctx, chainID)
	if err != nil {
		return nil, err
	}
	r.remember(ctx, key, counts)
	return counts, nil
}

func (r *CachedRepository) lookup(ctx context.Context, key string, out any) bool {
	cached, err := r.cache.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(cached), out) == nil
}

func (r *CachedRepository) remember(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, key, string(payload), r.ttl).Err()
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, recordCacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, recordCacheVersionKey).Err()
}

func recordCacheKey(version string, filter application.RecordQueryFilter) string {
	var b strings.Builder
	b.Grow(160)
	b.WriteString(recordCacheKeyPrefix)
	b.WriteString(version)
	b.WriteString(":chain=")
	b.WriteString(optionalUint(filter.ChainID))
	b.WriteString(":kind=")
	if filter.Kind != "" {
		b.WriteString(filter.Kind)
	} else {
		b.WriteString("any")
	}
	b.WriteString(":decodable=")
	b.WriteString(strconv.FormatBool(filter.Decodable))
	b.WriteString(":addr=")
	b.WriteString(optionalBytes(filter.Address))
	b.WriteString(":tx=")
	b.WriteString(optionalBytes(filter.TxID))
	b.WriteString(":from=")
	b.WriteString(optionalUint(filter.FromBlock))
	b.WriteString(":to=")
	b.WriteString(optionalUint(filter.ToBlock))
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(application.ClampLimit(filter.Limit)))
	return b.String()
}

func optionalUint(v *uint64) string {
	if v == nil {
		return "any"
	}
	return strconv.FormatUint(*v, 10)
}

func optionalBytes(v []byte) string {
	if len(v) == 0 {
		return "any"
	}
	return hexutil.Encode(v)
}

var _ Store = (*Repository)(nil)
