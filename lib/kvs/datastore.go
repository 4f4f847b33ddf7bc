package kvs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/phughk/surrealdb/lib/db"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("kvs")

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config tunes a datastore. The zero value is a usable configuration: no
// idle reaping, no change feed.
type Config struct {
	// TxIdleTimeout force-cancels transactions that have been idle for
	// longer than this. Zero disables the reaper.
	TxIdleTimeout time.Duration

	// ChangeFeed enables change capture: every committed mutation of a
	// data row is published to the change feed atomically with its commit.
	ChangeFeed bool

	// ChangeRetention is how long change sets are kept before the
	// retention GC purges them and advances the horizon. Zero keeps the
	// feed forever.
	ChangeRetention time.Duration
}

// --------------------------------------------------------------------------
// Datastore
// --------------------------------------------------------------------------

// dsMetrics holds the datastore counters. GetOrCreateCounter makes them
// shared across datastore instances within one process.
type dsMetrics struct {
	begun      *metrics.Counter
	committed  *metrics.Counter
	conflicted *metrics.Counter
	cancelled  *metrics.Counter
	reaped     *metrics.Counter
}

func newDSMetrics() dsMetrics {
	return dsMetrics{
		begun:      metrics.GetOrCreateCounter("surrealdb_tx_begun_total"),
		committed:  metrics.GetOrCreateCounter("surrealdb_tx_committed_total"),
		conflicted: metrics.GetOrCreateCounter("surrealdb_tx_conflicted_total"),
		cancelled:  metrics.GetOrCreateCounter("surrealdb_tx_cancelled_total"),
		reaped:     metrics.GetOrCreateCounter("surrealdb_tx_reaped_total"),
	}
}

// Datastore is the facade over one storage backend: it begins transactions,
// serves the change feed and runs the background housekeeping (idle
// transaction reaper, change feed retention GC).
type Datastore struct {
	driver    Driver
	committer Committer
	cfg       Config

	txs      *xsync.MapOf[uint64, *Transaction]
	nextTxID atomic.Uint64

	metrics dsMetrics
	stop    chan struct{}
	closed  atomic.Bool
}

// Open creates a datastore over the given driver. The commit path is
// resolved once: drivers that validate batches natively commit directly,
// Applier-only drivers go through the latch-based committer.
func Open(drv Driver, cfg Config) (*Datastore, error) {
	committer, err := resolveCommitter(drv)
	if err != nil {
		return nil, err
	}

	ds := &Datastore{
		driver:    drv,
		committer: committer,
		cfg:       cfg,
		txs:       xsync.NewMapOf[uint64, *Transaction](),
		metrics:   newDSMetrics(),
		stop:      make(chan struct{}),
	}

	if cfg.TxIdleTimeout > 0 {
		go ds.reaper()
	}
	if cfg.ChangeFeed && cfg.ChangeRetention > 0 {
		go ds.changeFeedGC()
	}

	return ds, nil
}

// Begin starts a transaction reading at the backend's current version.
func (ds *Datastore) Begin(ctx context.Context, mode Mode) (*Transaction, error) {
	if ds.closed.Load() {
		return nil, NewError(RetCInternalError, "datastore is closed")
	}

	view, err := ds.driver.View(ctx)
	if err != nil {
		return nil, err
	}

	t := &Transaction{
		state:       txActive,
		mode:        mode,
		id:          ds.nextTxID.Add(1),
		ds:          ds,
		view:        view,
		readVersion: view.Version(),
		reads:       make(map[string]uint64),
		cache:       make(map[string]readResult),
		writes:      make(map[string]pendingWrite),
	}
	t.touch()

	ds.txs.Store(t.id, t)
	ds.metrics.begun.Inc()
	return t, nil
}

// unregister drops a resolved transaction from the registry.
func (ds *Datastore) unregister(t *Transaction) {
	ds.txs.Delete(t.id)
}

// Info returns metadata about the database underlying the datastore.
func (ds *Datastore) Info() (db.DatabaseInfo, error) {
	return ds.driver.Info()
}

// Close cancels every active transaction, stops the background loops and
// closes the driver.
func (ds *Datastore) Close() error {
	if !ds.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(ds.stop)

	ds.txs.Range(func(_ uint64, t *Transaction) bool {
		_ = t.Cancel() // already-resolved transactions are fine
		return true
	})

	return ds.driver.Close()
}

// --------------------------------------------------------------------------
// Background loops
// --------------------------------------------------------------------------

// reaper force-cancels transactions that have been idle longer than the
// configured timeout, so an abandoned transaction cannot pin backend
// resources or inflate the conflict window forever.
func (ds *Datastore) reaper() {
	interval := ds.cfg.TxIdleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ds.stop:
			return
		case <-ticker.C:
		}

		deadline := time.Now().Add(-ds.cfg.TxIdleTimeout).UnixNano()

		ds.txs.Range(func(id uint64, t *Transaction) bool {
			if t.lastUsed.Load() < deadline {
				if err := t.Cancel(); err == nil {
					log.Warningf("reaped idle transaction %d", id)
					ds.metrics.reaped.Inc()
				}
			}
			return true
		})
	}
}

// changeFeedGC periodically purges change sets past the retention duration.
func (ds *Datastore) changeFeedGC() {
	interval := ds.cfg.ChangeRetention / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ds.stop:
			return
		case <-ticker.C:
		}

		if err := ds.CollectChanges(context.Background()); err != nil {
			// a lost race with a concurrent commit resolves next cycle
			if !IsConflict(err) {
				log.Errorf("change feed retention gc: %v", err)
			}
		}
	}
}
