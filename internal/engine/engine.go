// Package engine wires the storage backend, journal, scheduler, ontology-
// driven triple mapper, planner, and change notifier into the single
// Connection type spec §6 exposes as the library surface. It owns the
// write batch lifecycle: every Update/UpdateBlank/Deserialise task the
// scheduler runs against this connection appends to the journal and
// commits the database in the same order, then fans out deduplicated
// notifications only once the commit has durably succeeded.
//
// Grounded on the teacher's core.Engine: one struct owning every
// subsystem, opened once per process, with Open doing schema/version
// bookkeeping up front and Close tearing subsystems down in reverse.
package engine

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quillgraph/quill/internal/config"
	"github.com/quillgraph/quill/internal/journal"
	"github.com/quillgraph/quill/internal/notify"
	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/plan"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/scheduler"
	"github.com/quillgraph/quill/internal/sparql"
	"github.com/quillgraph/quill/internal/storage"
	"github.com/quillgraph/quill/internal/triple"
)

// Flags are the per-open behaviours spec §6 names alongside the data/
// ontology directories.
type Flags struct {
	// ReadOnly rejects Update, UpdateBlank and Deserialise outright; Query
	// still runs normally against the shared storage backend.
	ReadOnly bool
}

// Connection is one opened engine instance: the unit spec §6 calls
// "Connection.open(path, ontology_path, flags, options)".
type Connection struct {
	flags Flags
	cfg   *config.Config
	log   zerolog.Logger

	ont      *ontology.Ontology
	be       *storage.Backend
	jr       *journal.Journal
	sched    *scheduler.Scheduler
	planner  *plan.Planner
	mapper   *triple.Mapper
	notifier *notify.Notifier
	ns       *sparql.Namespaces
	registry *prometheus.Registry

	bundleWatcher *fsnotify.Watcher

	batchMu sync.Mutex
	batch   *writeBatch
}

// Open loads the ontology at ontologyDir, opens (and if necessary replays)
// the storage backend and journal in dataDir, and starts the scheduler.
// It implements spec §4.3's startup contract: "on open, the engine checks
// the stored ontology version; a mismatch triggers a full replay of the
// journal against a freshly built schema before the connection is usable."
func Open(ctx context.Context, flags Flags, dataDir, ontologyDir string, opts ...config.Option) (*Connection, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "create data directory")
	}

	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "load configuration")
	}
	cfg = cfg.Apply(opts...)
	log := config.NewLogger(cfg, "engine")

	ont, err := ontology.Load(ontologyDir)
	if err != nil {
		return nil, err
	}
	mapper := triple.New(ont)

	be, err := storage.Open(ctx, dataDir, ont, cfg, log)
	if err != nil {
		if be == nil || !errors.Is(err, quillerr.StorageCorrupt) {
			return nil, err
		}
		log.Warn().Err(err).Msg("ontology version mismatch; replaying journal before continuing")
		if _, rerr := journal.Replay(ctx, dataDir, be, mapper); rerr != nil {
			be.Close()
			return nil, rerr
		}
		if serr := be.StampVersion(ctx, ont); serr != nil {
			be.Close()
			return nil, serr
		}
	}

	jr, err := journal.Open(dataDir, cfg.JournalChunkMiB, cfg.JournalRotateDestination, log)
	if err != nil {
		be.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	sched := scheduler.New(cfg, log, registry)

	c := &Connection{
		flags:    flags,
		cfg:      cfg,
		log:      log,
		ont:      ont,
		be:       be,
		jr:       jr,
		sched:    sched,
		planner:  plan.New(be),
		mapper:   mapper,
		notifier: notify.New(log),
		ns:       sparql.NewNamespaces(nil),
		registry: registry,
	}
	sched.SetFlusher(c.flushBatchIfOpen)

	if w, werr := fsnotify.NewWatcher(); werr == nil {
		c.bundleWatcher = w
		if addErr := w.Add(ontologyDir); addErr != nil {
			log.Debug().Err(addErr).Str("dir", ontologyDir).Msg("ontology bundle directory not watchable")
		}
		if cfg.JournalRotateDestination != "" {
			if addErr := w.Add(cfg.JournalRotateDestination); addErr != nil {
				log.Debug().Err(addErr).Str("dir", cfg.JournalRotateDestination).Msg("journal rotation directory not watchable")
			}
		}
		go c.watchBundle()
	} else {
		log.Debug().Err(werr).Msg("fsnotify unavailable; ontology bundle hot-reload disabled")
	}

	return c, nil
}

// watchBundle logs out-of-band edits to the ontology bundle directory and
// the journal rotation destination. Spec keeps ontology reloads an
// explicit Connection.reopen, not an automatic hot-swap (an in-flight
// Connection's *ontology.Ontology is immutable, spec §5 "the ontology is
// read-only after load"), so this only surfaces the edit for an operator
// to act on rather than applying it itself.
func (c *Connection) watchBundle() {
	for {
		select {
		case ev, ok := <-c.bundleWatcher.Events:
			if !ok {
				return
			}
			c.log.Info().Str("event", ev.String()).Str("path", ev.Name).Msg("watched directory changed; reopen the connection to pick up an ontology edit")
		case err, ok := <-c.bundleWatcher.Errors:
			if !ok {
				return
			}
			c.log.Debug().Err(err).Msg("ontology bundle watch error")
		}
	}
}

// Namespaces returns the prefix map this connection resolves prefixed
// names against in queries, updates, and RDF import/export.
func (c *Connection) Namespaces() *sparql.Namespaces { return c.ns }

// Ontology returns the loaded ontology this connection enforces.
func (c *Connection) Ontology() *ontology.Ontology { return c.ont }

// Registry exposes the connection's private Prometheus registry so a
// caller (cmd/quilld) can mount it behind /metrics.
func (c *Connection) Registry() *prometheus.Registry { return c.registry }

// Subscribe registers handler for notify-class events on classIRI (spec
// §4.8). The class must be marked `notify` in the ontology; other classes
// never produce events to deliver.
func (c *Connection) Subscribe(classIRI string, handler notify.Handler) int64 {
	return c.notifier.Subscribe(classIRI, handler)
}

// Unsubscribe cancels a prior Subscribe.
func (c *Connection) Unsubscribe(id int64) { c.notifier.Unsubscribe(id) }

// AttachBus wires an AMQP channel so commit notifications additionally
// fan out remotely, as established by Connection.open_bus.
func (c *Connection) AttachBus(bus notify.Bus) { c.notifier.AttachBus(bus) }

// Close stops the scheduler and closes the journal and storage backend,
// in the order that leaves the database consistent if interrupted midway.
func (c *Connection) Close() error {
	if c.bundleWatcher != nil {
		c.bundleWatcher.Close()
	}
	c.sched.Close()
	jerr := c.jr.Close()
	berr := c.be.Close()
	if jerr != nil {
		return jerr
	}
	return berr
}

func (c *Connection) requireWritable() error {
	if c.flags.ReadOnly {
		return quillerr.New(quillerr.KindConstraintViolated, nil, "connection opened read-only")
	}
	return nil
}
