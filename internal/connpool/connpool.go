// Package connpool is the Connection Manager: a pool of Chain Clients
// bound to configured Tron full-node endpoints, with health probing,
// active-endpoint election, and automatic failover.
//
// Grounded on network/network.go's shape: a struct guarding mutable
// state behind a mutex, with a background loop doing periodic work
// (there, pruning pendingRequests on Shutdown; here, re-electing the
// best endpoint). Unlike that teacher type, election state is not kept
// purely in memory — per spec §4.1 the elected endpoint id is a
// persistent Setting, re-read on every Client() call, so every caller
// observes re-election within one RPC regardless of which goroutine
// triggered it.
package connpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/metrics"
	"github.com/shkeeper-io/tron-gateway/internal/store"
)

// ErrNoServerSet is returned by Client when no endpoint has ever been
// elected (e.g. the very first probe hasn't completed).
var ErrNoServerSet = errors.New("connpool: no server elected yet")

// ErrAllServersOffline is returned by RefreshBestServer when every
// configured endpoint failed its probe.
var ErrAllServersOffline = errors.New("connpool: all servers offline")

// ServerStatus is one endpoint's most recent probe result.
type ServerStatus struct {
	Name           string
	Reachable      bool
	HeadBlock      uint64
	BlockTimestamp int64
	LagSeconds     int64
	Err            string
}

// Manager elects and hands out a ChainClient from a fixed set of
// candidate endpoints.
type Manager struct {
	clients  []chainclient.ChainClient
	settings *store.SettingRepo
	metrics  *metrics.Registry
	log      log.Logger

	period time.Duration

	mu    sync.Mutex
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New builds a Manager over clients (one per configured endpoint,
// already constructed by the caller from MULTISERVER_CONFIG_JSON).
// period is MULTISERVER_REFRESH_BEST_SERVER_PERIOD.
func New(clients []chainclient.ChainClient, settings *store.SettingRepo, reg *metrics.Registry, period time.Duration) *Manager {
	return &Manager{
		clients:  clients,
		settings: settings,
		metrics:  reg,
		log:      log.New("component", "connpool"),
		period:   period,
		quit:     make(chan struct{}),
	}
}

// Client returns a ChainClient bound to the currently elected endpoint.
func (m *Manager) Client(ctx context.Context) (chainclient.ChainClient, error) {
	name, ok, err := m.settings.Get(ctx, store.SettingCurrentServerID)
	if err != nil {
		return nil, err
	}
	if !ok || name == "" {
		return nil, ErrNoServerSet
	}
	for _, c := range m.clients {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, ErrNoServerSet
}

// ServersStatus probes every configured endpoint and reports its status.
// Individual endpoint errors are swallowed into ServerStatus.Err; this
// never itself returns an error.
func (m *Manager) ServersStatus(ctx context.Context) []ServerStatus {
	out := make([]ServerStatus, len(m.clients))
	var wg sync.WaitGroup
	for i, c := range m.clients {
		wg.Add(1)
		go func(i int, c chainclient.ChainClient) {
			defer wg.Done()
			out[i] = probe(ctx, c)
		}(i, c)
	}
	wg.Wait()
	return out
}

func probe(ctx context.Context, c chainclient.ChainClient) ServerStatus {
	info, err := c.NodeInfo(ctx)
	if err != nil {
		return ServerStatus{Name: c.Name(), Reachable: false, Err: err.Error()}
	}
	ts, err := c.BlockTimestamp(ctx, info.HeadBlock)
	if err != nil {
		return ServerStatus{Name: c.Name(), Reachable: false, Err: err.Error()}
	}
	lag := time.Now().UnixMilli()/1000 - ts/1000
	return ServerStatus{
		Name:           c.Name(),
		Reachable:      true,
		HeadBlock:      info.HeadBlock,
		BlockTimestamp: ts,
		LagSeconds:     lag,
	}
}

// RefreshBestServer probes every endpoint and elects the reachable one
// with the highest head block, ties broken by input order. Returns
// whether the election changed the previously-elected server.
func (m *Manager) RefreshBestServer(ctx context.Context) (bool, error) {
	statuses := m.ServersStatus(ctx)

	best := -1
	for i, s := range statuses {
		if !s.Reachable {
			continue
		}
		if best == -1 || s.HeadBlock > statuses[best].HeadBlock {
			best = i
		}
	}
	if best == -1 {
		if m.metrics != nil {
			m.metrics.ConnManagerAllOffline.Inc()
		}
		return false, ErrAllServersOffline
	}

	prev, _, err := m.settings.Get(ctx, store.SettingCurrentServerID)
	if err != nil {
		return false, err
	}
	chosen := m.clients[best].Name()
	changed := prev != chosen
	if changed {
		if err := m.settings.Set(ctx, store.SettingCurrentServerID, chosen); err != nil {
			return false, err
		}
		if m.metrics != nil {
			m.metrics.ConnManagerElections.Inc()
			m.metrics.ConnManagerActiveServer.WithLabelValues(chosen).Set(1)
			if prev != "" {
				m.metrics.ConnManagerActiveServer.WithLabelValues(prev).Set(0)
			}
		}
		m.log.Info("elected new active server", "from", prev, "to", chosen, "headBlock", statuses[best].HeadBlock)
	}
	return changed, nil
}

// Run starts the background election loop. The initial election retries
// forever (with a short fixed backoff) until one endpoint responds,
// matching spec §4.1's "initial election retries forever"; afterward it
// re-elects every period. Run blocks until ctx is done or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	for {
		_, err := m.RefreshBestServer(ctx)
		if err == nil {
			break
		}
		m.log.Warn("initial election failed, retrying", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		case <-time.After(time.Second):
		}
	}

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		case <-ticker.C:
			if _, err := m.RefreshBestServer(ctx); err != nil {
				m.log.Warn("periodic election failed", "err", err)
			}
		}
	}
}

// Stop terminates the background loop started by Run.
func (m *Manager) Stop() {
	close(m.quit)
}
