// Package daemon implements the bundle daemon: the central event
// dispatcher that owns the pending-bundle store, enforces the bundle and
// link invariants, and orchestrates the per-component processors (main,
// input, output, storage, ACS) over the event bus.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/internal/metrics"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/bundlelist"
	"github.com/marmos91/dtnd/pkg/bundlestore"
	"github.com/marmos91/dtnd/pkg/custody"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/fragment"
	"github.com/marmos91/dtnd/pkg/link"
	"github.com/marmos91/dtnd/pkg/registration"
	"github.com/marmos91/dtnd/pkg/route"
	"github.com/marmos91/dtnd/pkg/router"
)

// dtnEpoch is the bundle-protocol time origin (2000-01-01T00:00:00Z);
// creation timestamps and lifetimes are seconds relative to it.
var dtnEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// DTNTime converts a wall-clock instant to seconds since the DTN epoch.
func DTNTime(t time.Time) uint64 {
	d := t.Sub(dtnEpoch)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

// Config parameterizes the daemon.
type Config struct {
	// LocalEID is this node's administrative endpoint id.
	LocalEID bpwire.EID
	// ProactiveFragmentation splits bundles wider than a link's MTU.
	ProactiveFragmentation bool
	// ReactiveFragmentation converts partial transmissions into tail
	// fragments.
	ReactiveFragmentation bool
	// IdleShutdown stops the daemon after this long without an event;
	// zero disables.
	IdleShutdown time.Duration
	// ShutdownGrace bounds how long shutdown waits for the storage queue
	// to settle.
	ShutdownGrace time.Duration
	// EventQueueLimit bounds each processor queue; zero = unbounded.
	EventQueueLimit int
	// MaxRouteToChain bounds recursive route-to-endpoint resolution.
	MaxRouteToChain int
	// Custody is handed to the custody engine.
	Custody custody.Config
}

// Daemon is the bundle daemon.
type Daemon struct {
	cfg Config

	bus         *eventbus.Bus
	store       *bundlestore.Store
	custody     *custody.Manager
	reassembler *fragment.Reassembler
	regs        *registration.Table
	routes      *route.Table
	rtr         router.Router
	metrics     metrics.DaemonMetrics

	linkMu sync.Mutex
	links  map[string]*link.Link
	cls    map[string]ConvergenceLayer

	// all indexes every live bundle by GBOF-id string for duplicate
	// detection; pending holds bundles awaiting a forwarding decision or
	// delivery, by local bundle-id.
	all     *bundlelist.StrMultiMap
	pending *bundlelist.IntMap

	linkTable *bundlestore.Table
	regTable  *bundlestore.Table

	expireMu     sync.Mutex
	expireTimers map[uint64]*time.Timer

	cancel       context.CancelFunc
	lastEvent    atomic.Int64
	shuttingDown atomic.Bool
	stats        struct {
		received    atomic.Uint64
		transmitted atomic.Uint64
		delivered   atomic.Uint64
		expired     atomic.Uint64
	}
}

// New constructs a daemon over an opened store. The router must be
// installed with SetRouter before Run; initialization order is
// store, event bus, daemon, router, convergence layers, registrations.
func New(cfg Config, store *bundlestore.Store) *Daemon {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	cfg.Custody.LocalEID = cfg.LocalEID

	d := &Daemon{
		cfg:          cfg,
		bus:          eventbus.New(cfg.EventQueueLimit),
		store:        store,
		regs:         registration.NewTable(10),
		routes:       route.NewTable(cfg.MaxRouteToChain),
		metrics:      metrics.NewDaemonMetrics(),
		links:        make(map[string]*link.Link),
		cls:          make(map[string]ConvergenceLayer),
		all:          bundlelist.NewStrMultiMap(bundle.ListID("all")),
		pending:      bundlelist.NewIntMap(bundle.ListID("pending")),
		expireTimers: make(map[uint64]*time.Timer),
	}

	d.reassembler = fragment.NewReassembler(store.NextID)
	d.custody = custody.NewManager(cfg.Custody, store.Table("acs:"))
	d.linkTable = store.Table("l:")
	d.regTable = store.Table("r:")

	d.custody.SetOnTimeout(func(b *bundle.Bundle, linkName string) {
		d.post(eventbus.NewCustodyTimeout(b, linkName))
	})
	d.custody.SetOnACSTimeout(func(custodian bpwire.EID, succeeded bool, reason bpwire.Reason) {
		d.post(eventbus.NewACSExpired(custodian, succeeded, reason))
	})
	d.custody.SetOnEmitSignal(d.emitCustodySignal)
	d.custody.SetOnEmitACS(d.emitACS)

	d.regs.SetOnExpired(func(regid uint64) {
		d.post(eventbus.NewRegistrationExpired(regid))
	})

	return d
}

// Bus exposes the event bus to convergence layers and the application
// surface.
func (d *Daemon) Bus() *eventbus.Bus { return d.bus }

// Store exposes the bundle store.
func (d *Daemon) Store() *bundlestore.Store { return d.store }

// Routes exposes the route table (reads from routers; mutation goes
// through route events).
func (d *Daemon) Routes() *route.Table { return d.routes }

// Registrations exposes the registration table.
func (d *Daemon) Registrations() *registration.Table { return d.regs }

// Custody exposes the custody engine (read-only consumers: metrics,
// status reporting).
func (d *Daemon) Custody() *custody.Manager { return d.custody }

// SetRouter installs the routing component. Must be called before Run.
func (d *Daemon) SetRouter(r router.Router) { d.rtr = r }

// RegisterCL registers a convergence-layer adapter by name.
func (d *Daemon) RegisterCL(cl ConvergenceLayer) {
	d.linkMu.Lock()
	d.cls[cl.Name()] = cl
	d.linkMu.Unlock()
}

func (d *Daemon) cl(name string) ConvergenceLayer {
	d.linkMu.Lock()
	defer d.linkMu.Unlock()
	return d.cls[name]
}

// AddLink creates a link from its declarative configuration and
// announces it. Called at startup for configured links and at runtime
// for admin-created ones.
func (d *Daemon) AddLink(cfg link.Config) (*link.Link, error) {
	l, err := link.New(cfg)
	if err != nil {
		return nil, err
	}

	d.linkMu.Lock()
	if _, exists := d.links[cfg.Name]; exists {
		d.linkMu.Unlock()
		return nil, fmt.Errorf("daemon: link %q already exists", cfg.Name)
	}
	d.links[cfg.Name] = l
	d.linkMu.Unlock()

	l.SetOnCheckDeferred(func(name string) {
		d.post(eventbus.NewLinkCheckDeferred(name))
	})
	l.SetOnIdleClose(func(name string) {
		d.post(eventbus.NewLinkStateChangeRequest(name, link.StateAvailable, "idle close"))
	})

	d.post(eventbus.NewLinkCreated(cfg.Name))
	d.post(eventbus.NewStoreLinkUpdate(cfg.Name))
	return l, nil
}

// Get returns the named link, or nil. Together with All this satisfies
// the router.Links view.
func (d *Daemon) Get(name string) *link.Link {
	d.linkMu.Lock()
	defer d.linkMu.Unlock()
	return d.links[name]
}

// All returns every known link.
func (d *Daemon) All() []*link.Link {
	d.linkMu.Lock()
	defer d.linkMu.Unlock()
	out := make([]*link.Link, 0, len(d.links))
	for _, l := range d.links {
		out = append(out, l)
	}
	return out
}

// ForEachPending satisfies the router.Pending view.
func (d *Daemon) ForEachPending(fn func(b *bundle.Bundle)) {
	for _, id := range d.pending.Keys() {
		if b := d.pending.Find(id); b != nil {
			fn(b)
		}
	}
}

// AddRegistration creates and persists a local registration.
func (d *Daemon) AddRegistration(pattern string, action registration.FailureAction, script string, expiration time.Duration) *registration.Registration {
	r := d.regs.Add(pattern, action, script, expiration, false)
	d.post(eventbus.NewRegistrationAdded(r.RegID, pattern))
	d.post(eventbus.NewStoreRegistrationUpdate(r.RegID))
	return r
}

// Restore reloads persisted state: bundles back into the pending lists,
// registrations into the table, pending ACS into the custody engine.
// Call once before Run.
func (d *Daemon) Restore() error {
	var maxCustodyID uint64
	err := d.store.ForEach(func(b *bundle.Bundle) error {
		d.adoptBundle(b)
		d.all.Insert(b.GBOFID.String(), b)
		d.pending.Insert(b.LocalID, b)
		d.scheduleExpiration(b)

		b.Lock()
		if b.Custody.LocalCustody {
			if b.Custody.LocalCustodyID > maxCustodyID {
				maxCustodyID = b.Custody.LocalCustodyID
			}
			id := b.Custody.LocalCustodyID
			b.Unlock()
			d.custody.Bundles.Insert(id, b)
		} else {
			b.Unlock()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("daemon: restore bundles: %w", err)
	}
	d.custody.SeedCustodyID(maxCustodyID)

	err = d.regTable.ForEach(func(_ string, val []byte) error {
		r, err := registration.Decode(val)
		if err != nil {
			return err
		}
		d.regs.Restore(r)
		return nil
	})
	if err != nil {
		return fmt.Errorf("daemon: restore registrations: %w", err)
	}

	if err := d.custody.Restore(); err != nil {
		return fmt.Errorf("daemon: restore pending acs: %w", err)
	}
	return nil
}

// adoptBundle wires the free callback so destruction is always driven
// through the main processor.
func (d *Daemon) adoptBundle(b *bundle.Bundle) {
	b.SetOnFree(func(freed *bundle.Bundle) {
		d.post(eventbus.NewBundleFree(freed))
	})
}

// post enqueues ev, tolerating a closed bus during shutdown.
func (d *Daemon) post(ev eventbus.Event) {
	if err := d.bus.Post(ev); err != nil {
		logger.Debug("event dropped, bus closed", "event", ev.Type())
	}
}

func (d *Daemon) postAtHead(ev eventbus.Event) {
	if err := d.bus.PostAtHead(ev); err != nil {
		logger.Debug("event dropped, bus closed", "event", ev.Type())
	}
}

// Run starts the five processors and blocks until shutdown completes.
func (d *Daemon) Run(ctx context.Context) error {
	if d.rtr == nil {
		return fmt.Errorf("daemon: no router installed")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.lastEvent.Store(time.Now().UnixNano())

	g, ctx := errgroup.WithContext(ctx)
	for _, proc := range eventbus.Processors() {
		g.Go(func() error {
			return d.processorLoop(ctx, proc)
		})
	}

	if d.cfg.IdleShutdown > 0 {
		g.Go(func() error {
			return d.idleWatch(ctx)
		})
	}

	go func() {
		<-ctx.Done()
		d.finishShutdown()
	}()

	err := g.Wait()
	d.custody.Shutdown()
	d.rtr.Shutdown()
	return err
}

// processorLoop is the single-threaded consumer of one processor queue:
// one event at a time, processed to completion, invariants inspected
// after each main-processor event. A panic inside a handler is the
// Fatal path: it dumps diagnostics and initiates shutdown.
func (d *Daemon) processorLoop(ctx context.Context, proc eventbus.Processor) error {
	q := d.bus.Queue(proc)
	for {
		ev := q.Pop(500 * time.Millisecond)
		if ev == nil {
			if q.Closed() {
				return nil
			}
			select {
			case <-ctx.Done():
				// keep draining until the queue closes
			default:
			}
			continue
		}

		d.lastEvent.Store(time.Now().UnixNano())
		start := time.Now()
		d.handleSafely(proc, ev)
		eventbus.Finish(ev)

		if d.metrics != nil {
			d.metrics.EventProcessed(proc.String(), ev.Type(), time.Since(start).Seconds())
			d.metrics.QueueDepth(proc.String(), q.Len())
		}

		if !ev.DaemonOnly() && !d.shuttingDown.Load() {
			d.rtr.HandleEvent(ev)
		}
		if proc == eventbus.ProcessorMain {
			d.checkInvariants()
		}
	}
}

func (d *Daemon) handleSafely(proc eventbus.Processor, ev eventbus.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.dumpDiagnostics(proc, ev, r)
			d.post(eventbus.NewShutdownRequest(fmt.Sprintf("panic in %s handler: %v", proc, r)))
		}
	}()

	switch proc {
	case eventbus.ProcessorMain:
		d.handleMain(ev)
	case eventbus.ProcessorInput:
		d.handleInput(ev)
	case eventbus.ProcessorOutput:
		d.handleOutput(ev)
	case eventbus.ProcessorStorage:
		d.handleStorage(ev)
	case eventbus.ProcessorACS:
		d.handleACS(ev)
	}
}

// dumpDiagnostics writes the crash snapshot an operator needs: the
// failing event, link states, and bundle counts.
func (d *Daemon) dumpDiagnostics(proc eventbus.Processor, ev eventbus.Event, cause any) {
	logger.Error("invariant violation or handler panic",
		"processor", proc.String(),
		"event", ev.Type(),
		"cause", fmt.Sprint(cause),
		"pending_bundles", d.pending.Len(),
		"custody_bundles", d.custody.Bundles.Len(),
	)
	for _, l := range d.All() {
		logger.Error("link state at failure",
			"link", l.Name(),
			"state", l.State().String(),
			"queued", l.Queue.BundlesQueued(),
			"inflight", l.Inflight.BundlesQueued(),
		)
	}
}

func (d *Daemon) idleWatch(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			last := time.Unix(0, d.lastEvent.Load())
			if time.Since(last) >= d.cfg.IdleShutdown {
				logger.Info("idle shutdown", "idle", time.Since(last).String())
				d.post(eventbus.NewShutdownRequest("idle"))
				return nil
			}
		}
	}
}

// initiateShutdown runs on the main processor when a ShutdownRequest
// arrives: flush in-flight work, give storage a grace period, then stop
// the processors by closing the bus. Every queue closes at once and each
// loop exits once its own queue is drained, so the processors stop
// concurrently, in no fixed order.
func (d *Daemon) initiateShutdown(reason string) {
	if !d.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	logger.Info("daemon shutting down", "reason", reason)

	for _, l := range d.All() {
		for _, b := range l.CancelAllBundles() {
			b.Lock()
			b.Forwarding.UpdateLatest(l.Name(), bundle.ForwardCancelled)
			b.Unlock()
		}
	}

	d.custody.FlushAll()
	d.cancelAllExpirations()

	if d.cancel != nil {
		d.cancel()
	}
}

// finishShutdown waits for the storage queue to settle within the grace
// period, then closes the bus so the processor loops drain and exit.
func (d *Daemon) finishShutdown() {
	deadline := time.Now().Add(d.cfg.ShutdownGrace)
	storageQ := d.bus.Queue(eventbus.ProcessorStorage)
	for storageQ.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	d.bus.Close()
}

func (d *Daemon) scheduleExpiration(b *bundle.Bundle) {
	b.Lock()
	id := b.LocalID
	expiry := dtnEpoch.Add(time.Duration(b.GBOFID.Creation.Seconds+b.ExpirationSeconds) * time.Second)
	b.Unlock()

	remaining := time.Until(expiry)
	if remaining <= 0 {
		d.postAtHead(eventbus.NewBundleExpired(b))
		return
	}

	d.expireMu.Lock()
	d.expireTimers[id] = time.AfterFunc(remaining, func() {
		d.postAtHead(eventbus.NewBundleExpired(b))
	})
	d.expireMu.Unlock()
}

func (d *Daemon) cancelExpiration(localID uint64) {
	d.expireMu.Lock()
	if t := d.expireTimers[localID]; t != nil {
		t.Stop()
		delete(d.expireTimers, localID)
	}
	d.expireMu.Unlock()
}

func (d *Daemon) cancelAllExpirations() {
	d.expireMu.Lock()
	for id, t := range d.expireTimers {
		t.Stop()
		delete(d.expireTimers, id)
	}
	d.expireMu.Unlock()
}

// checkInvariants inspects the cheap universally-quantified invariants
// after every main-processor event. A violation is the Fatal path.
func (d *Daemon) checkInvariants() {
	for _, l := range d.All() {
		open := l.State() == link.StateOpen
		hasContact := l.Contact() != nil
		if open != hasContact {
			d.dumpDiagnostics(eventbus.ProcessorMain, eventbus.NewDaemonStatusRequest(),
				fmt.Sprintf("link %s: open=%t contact=%t", l.Name(), open, hasContact))
			d.post(eventbus.NewShutdownRequest("link/contact invariant violated"))
			return
		}
	}
	if d.metrics != nil {
		d.metrics.BundlesPending(d.pending.Len())
		d.metrics.CustodyTimers(d.custody.LiveTimerCount())
		d.metrics.StoreTotalSize(d.store.TotalSize())
	}
}
