// Package scanner is the Block Scanner: a chunked, multi-worker
// tail-follower that turns a block stream into relevant transfer events
// with exactly-once-per-chunk commit semantics (spec.md §4.3).
//
// Grounded on core/txpool/txpool.go's background-loop shape (a
// long-lived goroutine reading a monotonically-advancing cursor,
// package-level sentinel errors for the skip-vs-fail classification) and
// on the teacher's direct golang.org/x/sync and hashicorp/golang-lru
// dependencies for the worker pool and the per-block cache.
package scanner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/keeper"
	"github.com/shkeeper-io/tron-gateway/internal/metrics"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/taskqueue"
	"github.com/shkeeper-io/tron-gateway/internal/watchset"
)

// Config bundles the scanner's tunables, sourced from internal/config.
type Config struct {
	MaxChunkSize int
	Interval     time.Duration
	BlockHint    uint64
	AMLEnabled   bool
	AMLWait      time.Duration
	AMLMinCheck  map[string]string      // symbol -> minimum amount requiring a score check (spec §4.6)
	Tokens       map[string]TokenConfig // keyed by lowercase hex contract address
}

// Scanner is one process's Block Scanner instance.
type Scanner struct {
	cfg   Config
	conn  *connpool.Manager
	store *store.Store
	watch *watchset.Set
	kpr   *keeper.Client
	tasks *taskqueue.Queue
	reg   *metrics.Registry
	log   log.Logger

	treasury string

	blockCache *lru.Cache
	txInfoCache *lru.Cache
}

// New builds a Scanner. treasury is the fee_deposit address (M in
// spec §4.3.2).
func New(cfg Config, conn *connpool.Manager, st *store.Store, watch *watchset.Set, kpr *keeper.Client, tasks *taskqueue.Queue, reg *metrics.Registry, treasury string) (*Scanner, error) {
	size := cfg.MaxChunkSize
	if size < 1 {
		size = 1
	}
	blockCache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	txInfoCache, err := lru.New(size * 32)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		cfg:         cfg,
		conn:        conn,
		store:       st,
		watch:       watch,
		kpr:         kpr,
		tasks:       tasks,
		reg:         reg,
		log:         log.New("component", "scanner"),
		treasury:    treasury,
		blockCache:  blockCache,
		txInfoCache: txInfoCache,
	}, nil
}

// Run is the long-lived scanner loop described in spec §4.3 steps 1-5.
// It returns only on ctx cancellation or an unrecoverable error (a chain
// head regression, which spec §4.3 step 2 treats as fatal).
func (s *Scanner) Run(ctx context.Context) error {
	if err := s.seedCursorIfUnset(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.tick(ctx); err != nil {
			return err
		}
	}
}

func (s *Scanner) seedCursorIfUnset(ctx context.Context) error {
	_, ok, err := s.store.Settings.Get(ctx, store.SettingLastSeenBlockNum)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	hint := s.cfg.BlockHint
	if hint == 0 {
		client, err := s.conn.Client(ctx)
		if err != nil {
			return nil // try again next tick once a server is elected
		}
		info, err := client.NodeInfo(ctx)
		if err != nil {
			return nil
		}
		hint = info.HeadBlock
	}
	return s.store.Settings.Set(ctx, store.SettingLastSeenBlockNum, strconv.FormatUint(hint, 10))
}

func (s *Scanner) tick(ctx context.Context) error {
	client, err := s.conn.Client(ctx)
	if err != nil {
		s.log.Warn("no elected server yet, waiting", "err", err)
		return sleepOrDone(ctx, s.cfg.Interval)
	}

	lastStr, ok, err := s.store.Settings.Get(ctx, store.SettingLastSeenBlockNum)
	if err != nil {
		return err
	}
	var last uint64
	if ok {
		last, err = strconv.ParseUint(lastStr, 10, 64)
		if err != nil {
			return fmt.Errorf("scanner: corrupt %s setting: %w", store.SettingLastSeenBlockNum, err)
		}
	}

	info, err := client.NodeInfo(ctx)
	if err != nil {
		s.log.Warn("node info probe failed", "err", err)
		return sleepOrDone(ctx, s.cfg.Interval)
	}
	head := info.HeadBlock

	if head < last {
		return fmt.Errorf("scanner: chain head %d is behind last seen block %d, refusing to rewind", head, last)
	}
	if s.reg != nil {
		s.reg.ScannerChainHead.Set(float64(head))
		s.reg.ScannerLagBlocks.Set(float64(head - last))
	}
	if head == last {
		return sleepOrDone(ctx, s.cfg.Interval)
	}

	start := last + 1
	end := head
	if s.cfg.MaxChunkSize > 0 && end-start+1 > uint64(s.cfg.MaxChunkSize) {
		end = start + uint64(s.cfg.MaxChunkSize) - 1
	}

	ok2 := s.scanChunk(ctx, client, start, end)
	if !ok2 {
		if s.reg != nil {
			s.reg.ScannerChunkRetries.Inc()
		}
		return sleepOrDone(ctx, s.cfg.Interval)
	}

	if err := s.store.Settings.Set(ctx, store.SettingLastSeenBlockNum, strconv.FormatUint(end, 10)); err != nil {
		return err
	}
	if s.reg != nil {
		s.reg.ScannerLastSeenBlock.Set(float64(end))
		s.reg.ScannerChunkCommits.Inc()
	}
	return nil
}

// scanChunk runs scanBlock across a worker pool sized MaxChunkSize and
// reports whether every block in [start, end] succeeded.
func (s *Scanner) scanChunk(ctx context.Context, client chainclient.ChainClient, start, end uint64) bool {
	n := int(end-start) + 1
	results := make([]bool, n)

	sem := semaphore.NewWeighted(int64(maxInt(s.cfg.MaxChunkSize, 1)))
	g, gctx := errgroup.WithContext(ctx)

	for num := start; num <= end; num++ {
		num := num
		idx := int(num - start)
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			err := s.scanBlock(gctx, client, num)
			results[idx] = err == nil
			if err != nil {
				s.log.Warn("block scan failed, chunk will retry", "block", num, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// scanBlock downloads one block (cached) and routes every derived
// transfer. A per-tx skippable error is logged and ignored; anything
// else fails the whole block.
func (s *Scanner) scanBlock(ctx context.Context, client chainclient.ChainClient, num uint64) error {
	block, err := s.getBlock(ctx, client, num)
	if err != nil {
		return fmt.Errorf("scanner: fetch block %d: %w", num, err)
	}

	for _, tx := range block.Txs {
		var info *chainclient.TxInfo
		if tx.Type == "TriggerSmartContract" {
			info, err = s.getTxInfo(ctx, client, tx.TxID)
			if err != nil {
				return fmt.Errorf("scanner: fetch tx info %s: %w", tx.TxID, err)
			}
		}

		transfers, err := parseTx(tx, info, s.cfg.Tokens)
		if err != nil {
			if isSkippable(err) {
				s.log.Debug("skipping transaction", "txid", tx.TxID, "reason", err)
				continue
			}
			return err
		}

		for _, t := range transfers {
			if err := s.route(ctx, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) getBlock(ctx context.Context, client chainclient.ChainClient, num uint64) (*chainclient.Block, error) {
	if v, ok := s.blockCache.Get(num); ok {
		return v.(*chainclient.Block), nil
	}
	block, err := client.Block(ctx, num)
	if err != nil {
		return nil, err
	}
	s.blockCache.Add(num, block)
	return block, nil
}

func (s *Scanner) getTxInfo(ctx context.Context, client chainclient.ChainClient, txID string) (*chainclient.TxInfo, error) {
	if v, ok := s.txInfoCache.Get(txID); ok {
		return v.(*chainclient.TxInfo), nil
	}
	info, err := client.TxInfo(ctx, txID)
	if err != nil {
		return nil, err
	}
	s.txInfoCache.Add(txID, info)
	return info, nil
}

// StatsRunner is the scanner stats runner of spec §5 item 2: a single
// goroutine that periodically logs the cursor, chain head, and lag
// without touching scanner state directly, reading only Settings and a
// Client() probe.
type StatsRunner struct {
	store  *store.Store
	conn   *connpool.Manager
	reg    *metrics.Registry
	period time.Duration
	log    log.Logger
}

// NewStatsRunner builds a StatsRunner. period is BLOCK_SCANNER_STATS_LOG_PERIOD.
func NewStatsRunner(st *store.Store, conn *connpool.Manager, reg *metrics.Registry, period time.Duration) *StatsRunner {
	return &StatsRunner{store: st, conn: conn, reg: reg, period: period, log: log.New("component", "scanner-stats")}
}

// Run logs a stats line every period until ctx is cancelled.
func (r *StatsRunner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logOnce(ctx)
		}
	}
}

func (r *StatsRunner) logOnce(ctx context.Context) {
	raw, ok, err := r.store.Settings.Get(ctx, store.SettingLastSeenBlockNum)
	if err != nil || !ok {
		return
	}
	lastSeen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return
	}

	client, err := r.conn.Client(ctx)
	if err != nil {
		r.log.Warn("scanner stats: no client available", "err", err)
		return
	}
	info, err := client.NodeInfo(ctx)
	if err != nil {
		r.log.Warn("scanner stats: node info failed", "err", err)
		return
	}

	lag := int64(0)
	if info.HeadBlock > lastSeen {
		lag = int64(info.HeadBlock - lastSeen)
	}
	r.log.Info("scanner stats", "lastSeenBlock", lastSeen, "chainHead", info.HeadBlock, "lagBlocks", lag)
	if r.reg != nil {
		r.reg.ScannerLastSeenBlock.Set(float64(lastSeen))
		r.reg.ScannerChainHead.Set(float64(info.HeadBlock))
		r.reg.ScannerLagBlocks.Set(float64(lag))
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
