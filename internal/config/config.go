package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	PublisherKafka = "kafka"
	PublisherNATS  = "nats"
)

type Config struct {
	RPCURL            string
	TraceCalls        bool
	DBDriver          string
	DBDSN             string
	SQLitePath        string
	StateDBDSN        string
	HTTPAddr          string
	RedisAddr         string
	CacheTTL          time.Duration
	OtelEndpoint      string
	StartBlock        uint64
	Confirmations     uint64
	BatchSize         uint64
	PollInterval      time.Duration
	Publisher         string
	KafkaBrokers      []string
	KafkaTopicPrefix  string
	KafkaGroupID      string
	NATSURL           string
	NATSStream        string
	NATSSubjectPrefix string
	ChainIDs          []uint64
	Log               LogConfig
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var ErrRPCURLRequired = errors.New("RPC_URL is required")

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

type layered []EnvSource

// Layered returns a source that consults each source in order; the first one
// holding a key wins.
func Layered(sources ...EnvSource) EnvSource {
	out := make(layered, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (l layered) Lookup(key string) (string, bool) {
	for _, s := range l {
		if value, ok := s.Lookup(key); ok {
			return value, true
		}
	}
	return "", false
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, _ := source.Lookup("RPC_URL")
	rpcURL = strings.TrimSpace(rpcURL)

	traceCalls, err := parseBoolEnv(source, "TRACE_CALLS", true)
	if err != nil {
		return Config{}, err
	}

	startBlock, err := parseUintEnv(source, "START_BLOCK", 0)
	if err != nil {
		return Config{}, err
	}
	confirmations, err := parseUintEnv(source, "CONFIRMATIONS", 0)
	if err != nil {
		return Config{}, err
	}
	batchSize, err := parseUintEnv(source, "BATCH_SIZE", 100)
	if err != nil {
		return Config{}, err
	}

	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	dbDriver := strings.ToLower(lookupDefault(source, "DB_DRIVER", DriverMySQL))
	if dbDriver != DriverMySQL && dbDriver != DriverSQLite {
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q", dbDriver)
	}

	dbDSN := lookupDefault(source, "DB_DSN", "root:@tcp(127.0.0.1:3306)/txindex?parseTime=true&multiStatements=true")
	stateDBDSN := lookupDefault(source, "STATE_DB_DSN", dbDSN)
	sqlitePath := lookupDefault(source, "SQLITE_PATH", "txindex.db")
	httpAddr := lookupDefault(source, "HTTP_ADDR", ":8080")

	redisAddr := "127.0.0.1:6379"
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	publisher := strings.ToLower(lookupDefault(source, "PUBLISHER", PublisherKafka))
	if publisher != PublisherKafka && publisher != PublisherNATS {
		return Config{}, fmt.Errorf("invalid PUBLISHER %q", publisher)
	}

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "localhost:9092")
	if err != nil {
		return Config{}, err
	}
	kafkaTopicPrefix := lookupDefault(source, "KAFKA_TOPIC_PREFIX", "txindex-records")
	kafkaGroupID := lookupDefault(source, "KAFKA_GROUP_ID", "txindex-compute")

	natsURL := lookupDefault(source, "NATS_URL", "nats://127.0.0.1:4222")
	natsStream := lookupDefault(source, "NATS_STREAM", "TXRECORDS")
	natsSubjectPrefix := lookupDefault(source, "NATS_SUBJECT_PREFIX", "txindex.records")

	chainIDs, err := parseUintList(source, "CHAIN_IDS")
	if err != nil {
		return Config{}, err
	}

	logCfg, err := loadLogConfig(source)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:            rpcURL,
		TraceCalls:        traceCalls,
		DBDriver:          dbDriver,
		DBDSN:             dbDSN,
		SQLitePath:        sqlitePath,
		StateDBDSN:        stateDBDSN,
		HTTPAddr:          httpAddr,
		RedisAddr:         redisAddr,
		CacheTTL:          cacheTTL,
		OtelEndpoint:      otelEndpoint,
		StartBlock:        startBlock,
		Confirmations:     confirmations,
		BatchSize:         batchSize,
		PollInterval:      pollInterval,
		Publisher:         publisher,
		KafkaBrokers:      kafkaBrokers,
		KafkaTopicPrefix:  kafkaTopicPrefix,
		KafkaGroupID:      kafkaGroupID,
		NATSURL:           natsURL,
		NATSStream:        natsStream,
		NATSSubjectPrefix: natsSubjectPrefix,
		ChainIDs:          chainIDs,
		Log:               logCfg,
	}, nil
}

// RequireRPC fails when no RPC endpoint is configured. Only the commands that
// read from a node call it.
func (c Config) RequireRPC() error {
	if c.RPCURL == "" {
		return ErrRPCURLRequired
	}
	return nil
}

func loadLogConfig(source EnvSource) (LogConfig, error) {
	maxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return LogConfig{}, err
	}
	maxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 5)
	if err != nil {
		return LogConfig{}, err
	}
	maxAge, err := parseUintEnv(source, "LOG_MAX_AGE_DAYS", 7)
	if err != nil {
		return LogConfig{}, err
	}
	file, _ := source.Lookup("LOG_FILE")
	return LogConfig{
		Level:      strings.ToLower(lookupDefault(source, "LOG_LEVEL", "info")),
		File:       strings.TrimSpace(file),
		MaxSizeMB:  int(maxSize),
		MaxBackups: int(maxBackups),
		MaxAgeDays: int(maxAge),
	}, nil
}

func lookupDefault(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseBoolEnv(source EnvSource, key string, defaultValue bool) (bool, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}

func parseUintList(source EnvSource, key string) ([]uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	items := strings.Split(raw, ",")
	values := make([]uint64, 0, len(items))
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		values = append(values, parsed)
	}
	return values, nil
}
