package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"txindex/internal/application"
	"txindex/internal/config"
	"txindex/internal/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type RecordStore interface {
	QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.StoredRecord, error)
	QueryBlocks(ctx context.Context, filter application.BlockQueryFilter) ([]domain.BlockRecord, error)
	KindCounts(ctx context.Context, chainID *uint64) ([]application.KindCount, error)
	BlockRange(ctx context.Context, chainID *uint64) (uint64, uint64, bool, error)
	LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error
	ClearLastProcessedBlock(ctx context.Context, chainID uint64) error
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

type Server struct {
	cfg       config.Config
	store     RecordStore
	rpc       RPCStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

// NewServer builds the query API. rpc may be nil for processes that only
// consume from the broker; readiness then depends on the store alone.
func NewServer(cfg config.Config, store RecordStore, rpc RPCStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, store: store, rpc: rpc, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/records", s.handleRecords)
	mux.HandleFunc("/blocks", s.handleBlocks)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/reindex", s.handleReindex)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	if s.rpc != nil {
		if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "rpc not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// recordView is the JSON shape of a stored record. Quantities stay as the
// hex strings the mapper produced; gas_limit is rendered in decimal.
type recordView struct {
	ChainID              uint64 `json:"chain_id"`
	BlockNumber          uint64 `json:"block_number"`
	TxIndex              uint32 `json:"tx_index"`
	ID                   string `json:"id"`
	Kind                 string `json:"kind"`
	Decodable            bool   `json:"decodable"`
	From                 string `json:"from"`
	To                   string `json:"to,omitempty"`
	Value                string `json:"value"`
	GasLimit             string `json:"gas_limit"`
	GasPrice             string `json:"gas_price"`
	MaxFeePerGas         string `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas"`
	AccessList           string `json:"access_list"`
	Data                 string `json:"data"`
	TxType               uint32 `json:"tx_type"`
}

func newRecordView(rec domain.StoredRecord) recordView {
	view := recordView{
		ChainID:     rec.ChainID,
		BlockNumber: rec.BlockNumber,
		TxIndex:     rec.TxIndex,
		ID:          hexutil.Encode(rec.Record.ID),
		Kind:        rec.Record.Kind,
	}
	if kind, err := domain.ParseTransactionKind(rec.Record.Kind); err == nil {
		view.Decodable = kind.Decodable()
	}
	raw := rec.Record.Raw
	if raw == nil {
		raw = &domain.Raw{}
	}
	view.From = hexutil.Encode(raw.From)
	if len(raw.To) > 0 {
		view.To = hexutil.Encode(raw.To)
	}
	view.Value = raw.Value
	view.GasLimit = application.FormatGasLimit(raw.GasLimit)
	view.GasPrice = raw.GasPrice
	view.MaxFeePerGas = raw.MaxFeePerGas
	view.MaxPriorityFeePerGas = raw.MaxPriorityFeePerGas
	view.AccessList = raw.AccessList
	view.Data = hexutil.Encode(raw.Data)
	view.TxType = raw.TxType
	return view
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseRecordFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.store.QueryRecords(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, newRecordView(rec))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	chainID, err := s.parseChainID(r, true)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := parseBlockRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	minBlock, maxBlock, ok, err := s.store.BlockRange(r.Context(), chainID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "block range failed")
		return
	}
	last, _, err := s.store.LastProcessedBlock(r.Context(), *chainID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "state read failed")
		return
	}
	blocks, err := s.store.QueryBlocks(r.Context(), application.BlockQueryFilter{
		ChainID:   *chainID,
		FromBlock: from,
		ToBlock:   to,
		Limit:     limit,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if blocks == nil {
		blocks = []domain.BlockRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chain_id":             *chainID,
		"min_block":            minBlock,
		"max_block":            maxBlock,
		"has_blocks":           ok,
		"last_processed_block": last,
		"blocks":               blocks,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	chainID, err := s.parseChainID(r, true)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	last, ok, err := s.store.LastProcessedBlock(r.Context(), *chainID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "state read failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chain_id":             *chainID,
		"last_processed_block": last,
		"has_state":            ok,
		"config": map[string]any{
			"db_driver":     s.cfg.DBDriver,
			"http_addr":     s.cfg.HTTPAddr,
			"publisher":     s.cfg.Publisher,
			"trace_calls":   s.cfg.TraceCalls,
			"start_block":   s.cfg.StartBlock,
			"confirmations": s.cfg.Confirmations,
			"batch_size":    s.cfg.BatchSize,
			"poll_interval": s.cfg.PollInterval.String(),
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	chainID, err := s.parseChainID(r, false)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.store.KindCounts(r.Context(), chainID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	kinds := make(map[string]uint64, len(counts))
	var total uint64
	for _, kc := range counts {
		kinds[kc.Kind] = kc.Count
		total += kc.Count
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"kinds": kinds,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	uptime := time.Since(snap.StartTime).Seconds()
	lag := float64(0)
	if snap.LastProcessed > 0 && snap.LatestBlock >= snap.LastProcessed {
		lag = float64(snap.LatestBlock - snap.LastProcessed)
	}

	fmt.Fprintf(w, "txindex_uptime_seconds %.0f\n", uptime)
	fmt.Fprintf(w, "txindex_latest_block %d\n", snap.LatestBlock)
	fmt.Fprintf(w, "txindex_last_processed_block %d\n", snap.LastProcessed)
	fmt.Fprintf(w, "txindex_last_block_records %d\n", snap.LastBlockSize)
	fmt.Fprintf(w, "txindex_records_total %d\n", snap.TotalRecords)
	for _, kind := range sortedKeys(snap.Kinds) {
		fmt.Fprintf(w, "txindex_records_by_kind_total{kind=%q} %d\n", kind, snap.Kinds[kind])
	}
	fmt.Fprintf(w, "txindex_block_lag %.0f\n", lag)
	fmt.Fprintf(w, "txindex_consumed_messages_total %d\n", snap.Consumed)
	for _, stage := range []ConsumerStage{StageFetch, StageDecode, StageApply, StageCommit} {
		fmt.Fprintf(w, "txindex_consumer_errors_total{stage=%q} %d\n", stage, snap.ConsumerErrors[string(stage)])
	}
	fmt.Fprintf(w, "txindex_consumer_last_offset %d\n", snap.LastOffset)
	fmt.Fprintf(w, "txindex_consumer_last_lag_seconds %.3f\n", snap.LastLag.Seconds())
	fmt.Fprintf(w, "txindex_consumer_max_lag_seconds %.3f\n", snap.MaxLag.Seconds())
	for _, topic := range sortedKeys(snap.ConsumedByTopic) {
		fmt.Fprintf(w, "txindex_consumed_messages_by_topic_total{topic=%q} %d\n", topic, snap.ConsumedByTopic[topic])
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

// handleReindex rewinds the progress marker so the indexer maps from_block
// again on its next pass.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	chainID, err := s.parseChainID(r, true)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseUintParam(r, "from_block")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if from == 0 {
		if err := s.store.ClearLastProcessedBlock(r.Context(), *chainID); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to reset state")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	target := from - 1
	if err := s.store.SetLastProcessedBlock(r.Context(), *chainID, target); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update state")
		return
	}
	s.metrics.SetLastProcessed(target)
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"last_processed_block": target,
	})
}

func (s *Server) parseRecordFilter(r *http.Request) (application.RecordQueryFilter, error) {
	query := r.URL.Query()
	limit, err := parseLimit(r)
	if err != nil {
		return application.RecordQueryFilter{}, err
	}
	from, to, err := parseBlockRange(r)
	if err != nil {
		return application.RecordQueryFilter{}, err
	}
	chainID, err := s.parseChainID(r, false)
	if err != nil {
		return application.RecordQueryFilter{}, err
	}

	filter := application.RecordQueryFilter{
		ChainID:   chainID,
		FromBlock: from,
		ToBlock:   to,
		Limit:     limit,
	}
	if raw := query.Get("kind"); raw != "" {
		if _, err := domain.ParseTransactionKind(raw); err != nil {
			return application.RecordQueryFilter{}, err
		}
		filter.Kind = raw
	}
	if raw := query.Get("decodable"); raw != "" {
		decodable, err := strconv.ParseBool(raw)
		if err != nil {
			return application.RecordQueryFilter{}, errors.New("invalid decodable")
		}
		filter.Decodable = decodable
	}
	if filter.Address, err = parseHexParam(r, "address", 20); err != nil {
		return application.RecordQueryFilter{}, err
	}
	if filter.TxID, err = parseHexParam(r, "tx_id", 32); err != nil {
		return application.RecordQueryFilter{}, err
	}
	return filter, nil
}

// parseChainID reads chain_id, falling back to the only configured chain.
func (s *Server) parseChainID(r *http.Request, required bool) (*uint64, error) {
	if raw := r.URL.Query().Get("chain_id"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, errors.New("invalid chain_id")
		}
		return &value, nil
	}
	if len(s.cfg.ChainIDs) == 1 {
		value := s.cfg.ChainIDs[0]
		return &value, nil
	}
	if required {
		return nil, errors.New("chain_id is required")
	}
	return nil, nil
}

func parseHexParam(r *http.Request, key string, size int) ([]byte, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	value, err := hexutil.Decode(raw)
	if err != nil || len(value) != size {
		return nil, fmt.Errorf("invalid %s", key)
	}
	return value, nil
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return application.DefaultQueryLimit, nil
}

func parseBlockRange(r *http.Request) (*uint64, *uint64, error) {
	fromRaw := r.URL.Query().Get("from_block")
	toRaw := r.URL.Query().Get("to_block")

	var from *uint64
	var to *uint64

	if fromRaw != "" {
		value, err := strconv.ParseUint(fromRaw, 10, 64)
		if err != nil {
			return nil, nil, errors.New("invalid from_block")
		}
		from = &value
	}
	if toRaw != "" {
		value, err := strconv.ParseUint(toRaw, 10, 64)
		if err != nil {
			return nil, nil, errors.New("invalid to_block")
		}
		to = &value
	}
	if from != nil && to != nil && *from > *to {
		return nil, nil, errors.New("from_block is after to_block")
	}
	return from, to, nil
}

func parseUintParam(r *http.Request, key string) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return 0, fmt.Errorf("%s is required", key)
		}
		valueAny, ok := payload[key]
		if !ok {
			return 0, fmt.Errorf("%s is required", key)
		}
		switch v := valueAny.(type) {
		case float64:
			if v < 0 {
				return 0, fmt.Errorf("invalid %s", key)
			}
			return uint64(v), nil
		case string:
			return strconv.ParseUint(v, 10, 64)
		default:
			return 0, fmt.Errorf("invalid %s", key)
		}
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return value, nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
