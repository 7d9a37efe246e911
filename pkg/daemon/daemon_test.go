package daemon

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/bundlestore"
	"github.com/marmos91/dtnd/pkg/custody"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/link"
	"github.com/marmos91/dtnd/pkg/registration"
	"github.com/marmos91/dtnd/pkg/route"
	"github.com/marmos91/dtnd/pkg/router"
)

// memoryCL is an in-process convergence layer that opens contacts
// instantly and hands transmitted frames to a peer node (when wired) or
// a capture buffer.
type memoryCL struct {
	d *Daemon

	mu     sync.Mutex
	peer   *node
	frames [][]byte
}

func (c *memoryCL) Name() string { return "mem" }

func (c *memoryCL) OpenContact(l *link.Link, contact *link.Contact) {
	c.d.post(eventbus.NewContactUp(l.Name(), contact.ID))
}

func (c *memoryCL) CloseContact(l *link.Link, contact *link.Contact) {}

func (c *memoryCL) Send(l *link.Link, b *bundle.Bundle, frame []byte) {
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	peer := c.peer
	c.mu.Unlock()

	b.Lock()
	total := b.Payload.Length
	b.Unlock()
	c.d.post(eventbus.NewBundleTransmitted(b, l.Name(), total, total, l.Reliable()))

	if peer != nil {
		received, err := peer.d.BundleFromWire(frame)
		if err == nil {
			peer.d.post(eventbus.NewBundleReceived(received, c.d.cfg.LocalEID, "downlink", uint64(len(frame)), false))
		}
	}
}

func (c *memoryCL) Cancel(l *link.Link, b *bundle.Bundle) {}

func (c *memoryCL) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// node bundles a daemon, its store, and its convergence layer for
// multi-hop scenarios.
type node struct {
	d      *Daemon
	cl     *memoryCL
	cancel context.CancelFunc
	done   chan error
}

func startNode(t *testing.T, eid string, custodyCfg custody.Config) *node {
	t.Helper()

	dir := t.TempDir()
	store, err := bundlestore.Open(bundlestore.Config{
		DBDir:       filepath.Join(dir, "db"),
		PayloadDir:  filepath.Join(dir, "payloads"),
		FDCacheSize: 16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := New(Config{
		LocalEID:               bpwire.EID(eid),
		ProactiveFragmentation: true,
		ReactiveFragmentation:  true,
		ShutdownGrace:          2 * time.Second,
		Custody:                custodyCfg,
	}, store)

	d.SetRouter(router.NewStatic(router.StaticConfig{AcceptCustody: true},
		d.Routes(), d, d, d.Actions()))

	cl := &memoryCL{d: d}
	d.RegisterCL(cl)

	ctx, cancel := context.WithCancel(context.Background())
	n := &node{d: d, cl: cl, cancel: cancel, done: make(chan error, 1)}
	go func() { n.done <- d.Run(ctx) }()

	t.Cleanup(func() {
		d.post(eventbus.NewShutdownRequest("test teardown"))
		select {
		case <-n.done:
		case <-time.After(5 * time.Second):
			cancel()
			<-n.done
		}
	})
	return n
}

// connect wires a link on from toward to, with a matching route.
func connect(t *testing.T, from, to *node, destPattern string, mtu uint64) {
	t.Helper()
	from.cl.mu.Lock()
	from.cl.peer = to
	from.cl.mu.Unlock()

	_, err := from.d.AddLink(link.Config{
		Name:             "uplink",
		Type:             link.TypeAlwaysOn,
		RemoteEID:        string(to.d.cfg.LocalEID) + "/*",
		NextHop:          "peer:0",
		ConvergenceLayer: "mem",
		Reliable:         true,
		MTU:              mtu,
	})
	require.NoError(t, err)
	require.NoError(t, from.d.Routes().Add(route.Entry{
		DestPattern: destPattern,
		LinkName:    "uplink",
		Action:      bundle.ActionForward,
	}))
}

// submit injects an application bundle at n.
func submit(t *testing.T, n *node, dest string, payload []byte, mutate func(*bundle.Bundle)) *bundle.Bundle {
	t.Helper()
	b := bundle.New(n.d.store.NextID(), bundle.GBOFID{
		Source:   n.d.cfg.LocalEID,
		Creation: bpwire.Timestamp{Seconds: DTNTime(time.Now()), Sequence: uint64(time.Now().UnixNano() % 1000)},
	})
	b.Dest = bpwire.EID(dest)
	b.SingletonDestination = true
	b.ExpirationSeconds = 3600
	b.Payload = bundle.NewMemoryPayload(payload)
	if mutate != nil {
		mutate(b)
	}
	n.d.post(eventbus.NewBundleReceived(b, "", "", 0, true))
	return b
}

func TestSingleHopDelivery(t *testing.T) {
	sender := startNode(t, "dtn://b", custody.Config{})
	receiver := startNode(t, "dtn://a", custody.Config{})
	connect(t, sender, receiver, "dtn://a/*", 0)

	reg := receiver.d.AddRegistration("dtn://a/app", registration.FailureDefer, "", 0)
	reg.SetActive(true)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	submit(t, sender, "dtn://a/app", payload, nil)

	require.Eventually(t, func() bool {
		return reg.Queue.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	delivered := reg.Queue.PopFront()
	require.NotNil(t, delivered)
	assert.True(t, bytes.Equal(payload, delivered.Payload.Bytes()))

	// exactly one transmission, no admin traffic back
	assert.Equal(t, 1, sender.cl.frameCount())
	assert.Equal(t, 0, receiver.cl.frameCount())
}

func TestCustodyHandoffAndRelease(t *testing.T) {
	fast := custody.Config{TimerBase: time.Hour, ACSTimeout: 100 * time.Millisecond, ACSBatchSize: 1000}
	upstream := startNode(t, "dtn://b", fast)
	downstream := startNode(t, "dtn://c", fast)
	connect(t, upstream, downstream, "dtn://c/*", 0)
	// admin traffic (custody signals) flows back over the reverse path
	connect(t, downstream, upstream, "dtn://b/*", 0)

	reg := downstream.d.AddRegistration("dtn://c/app", registration.FailureDefer, "", 0)
	reg.SetActive(true)

	submit(t, upstream, "dtn://c/app", make([]byte, 64), func(b *bundle.Bundle) {
		b.CustodyRequested = true
	})

	// upstream takes custody on submission, then releases it once the
	// downstream node delivers and custody-acknowledges
	require.Eventually(t, func() bool {
		return upstream.d.Custody().Bundles.Len() == 0 &&
			downstream.d.Custody().Bundles.Len() == 0 &&
			reg.Queue.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, upstream.d.Custody().LiveTimerCount())
}

func TestProactiveFragmentationAndReassembly(t *testing.T) {
	sender := startNode(t, "dtn://b", custody.Config{})
	receiver := startNode(t, "dtn://a", custody.Config{})
	connect(t, sender, receiver, "dtn://a/*", 3000)

	reg := receiver.d.AddRegistration("dtn://a/app", registration.FailureDefer, "", 0)
	reg.SetActive(true)

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i % 247)
	}
	submit(t, sender, "dtn://a/app", payload, nil)

	require.Eventually(t, func() bool {
		return reg.Queue.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// 10000 bytes over a 3000-byte MTU: four fragments on the wire
	assert.Equal(t, 4, sender.cl.frameCount())

	reassembled := reg.Queue.PopFront()
	require.NotNil(t, reassembled)
	assert.False(t, reassembled.GBOFID.IsFragment)
	assert.True(t, bytes.Equal(payload, reassembled.Payload.Bytes()))
}

func TestExpirationDeletesBundle(t *testing.T) {
	n := startNode(t, "dtn://a", custody.Config{})

	// no route anywhere: the bundle sits pending until its lifetime ends
	b := bundle.New(n.d.store.NextID(), bundle.GBOFID{
		Source:   "dtn://elsewhere",
		Creation: bpwire.Timestamp{Seconds: DTNTime(time.Now()) - 10},
	})
	b.Dest = "dtn://far/app"
	b.ExpirationSeconds = 11 // expires one second from now
	b.Payload = bundle.NewMemoryPayload(make([]byte, 32))
	n.d.post(eventbus.NewBundleReceived(b, "", "", 0, false))

	require.Eventually(t, func() bool {
		return n.d.pending.Len() == 0 && n.d.all.Len() == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestQuotaRejectionAtInput(t *testing.T) {
	dir := t.TempDir()
	store, err := bundlestore.Open(bundlestore.Config{
		DBDir:       filepath.Join(dir, "db"),
		PayloadDir:  filepath.Join(dir, "payloads"),
		Quota:       100,
		FDCacheSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := New(Config{LocalEID: "dtn://a", ShutdownGrace: time.Second}, store)
	d.SetRouter(router.NewStatic(router.StaticConfig{}, d.Routes(), d, d, d.Actions()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		d.post(eventbus.NewShutdownRequest("teardown"))
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			cancel()
		}
	})

	big := bundle.New(d.store.NextID(), bundle.GBOFID{
		Source:   "dtn://src",
		Creation: bpwire.Timestamp{Seconds: DTNTime(time.Now())},
	})
	big.Dest = "dtn://a/app"
	big.ExpirationSeconds = 3600
	big.Payload = bundle.NewMemoryPayload(make([]byte, 200))
	d.post(eventbus.NewBundleReceived(big, "", "", 0, false))

	// the oversized bundle never lands in the pending set
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, d.pending.Len())
	assert.Equal(t, uint64(0), d.store.TotalSize())
}

func TestDTNTime(t *testing.T) {
	assert.Equal(t, uint64(0), DTNTime(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, uint64(0), DTNTime(dtnEpoch))
	assert.Equal(t, uint64(86400), DTNTime(dtnEpoch.Add(24*time.Hour)))
}
