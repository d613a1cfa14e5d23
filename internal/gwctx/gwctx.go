// Package gwctx holds the single application-level context struct that
// replaces the source's module-level singletons, per Design Notes §9:
// Connection Manager, Key Store, Watched-Set, and Wallet Encryption are
// all explicit fields constructed once in cmd/tron-gateway and threaded
// to every component that needs them, eliminating module-initialization
// ordering concerns.
package gwctx

import (
	"github.com/luxfi/log"

	"github.com/shkeeper-io/tron-gateway/internal/config"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/keeper"
	"github.com/shkeeper-io/tron-gateway/internal/metrics"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/taskqueue"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
	"github.com/shkeeper-io/tron-gateway/internal/watchset"
)

// Context is the one application-wide value every component is handed
// at construction time instead of reaching for a package-level global.
type Context struct {
	Config   *config.Config
	Store    *store.Store
	Conn     *connpool.Manager
	Keys     *walletstore.KeyStore
	Enc      *walletstore.Encryptor
	Watch    *watchset.Set
	Keeper   *keeper.Client
	Tasks    *taskqueue.Queue
	Metrics  *metrics.Registry
	Log      log.Logger
}

// New wires together a Context from its already-constructed parts. Each
// component is built by cmd/tron-gateway, in dependency order, then
// handed here; Context itself performs no I/O.
func New(
	cfg *config.Config,
	st *store.Store,
	conn *connpool.Manager,
	keys *walletstore.KeyStore,
	enc *walletstore.Encryptor,
	watch *watchset.Set,
	kc *keeper.Client,
	tasks *taskqueue.Queue,
	reg *metrics.Registry,
) *Context {
	return &Context{
		Config:  cfg,
		Store:   st,
		Conn:    conn,
		Keys:    keys,
		Enc:     enc,
		Watch:   watch,
		Keeper:  kc,
		Tasks:   tasks,
		Metrics: reg,
		Log:     log.New("component", "gwctx"),
	}
}
