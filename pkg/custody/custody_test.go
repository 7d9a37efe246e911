package custody

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
)

const localEID = bpwire.EID("dtn://local")

type recorder struct {
	mu      sync.Mutex
	signals []bpwire.CustodySignal
	acs     []bpwire.AggregateCustodySignal
	dests   []bpwire.EID
}

func (r *recorder) signal(dest bpwire.EID, sig bpwire.CustodySignal) {
	r.mu.Lock()
	r.signals = append(r.signals, sig)
	r.dests = append(r.dests, dest)
	r.mu.Unlock()
}

func (r *recorder) aggregate(dest bpwire.EID, acs bpwire.AggregateCustodySignal) {
	r.mu.Lock()
	r.acs = append(r.acs, acs)
	r.dests = append(r.dests, dest)
	r.mu.Unlock()
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *recorder) {
	t.Helper()
	cfg.LocalEID = localEID
	m := NewManager(cfg, nil)
	rec := &recorder{}
	m.SetOnEmitSignal(rec.signal)
	m.SetOnEmitACS(rec.aggregate)
	return m, rec
}

func custodyBundle(id uint64, custodian bpwire.EID) *bundle.Bundle {
	b := bundle.New(id, bundle.GBOFID{
		Source:   "dtn://src",
		Creation: bpwire.Timestamp{Seconds: 800000000, Sequence: id},
	})
	b.Dest = "dtn://dst/app"
	b.Custodian = custodian
	b.CustodyRequested = true
	b.Payload = bundle.NewMemoryPayload(make([]byte, 64))
	return b
}

func TestAcceptRewritesCustodian(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	b := custodyBundle(1, "dtn://upstream")

	id := m.Accept(b)

	b.Lock()
	assert.True(t, b.Custody.LocalCustody)
	assert.Equal(t, id, b.Custody.LocalCustodyID)
	assert.Equal(t, localEID, b.Custodian)
	assert.Equal(t, bpwire.EID("dtn://upstream"), b.Custody.PrevCustodian)
	b.Unlock()

	assert.Same(t, b, m.Bundles.Find(id))

	// upstream lacks CTEB support: a standalone success signal goes out
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.signals, 1)
	assert.True(t, rec.signals[0].Succeeded)
	assert.Equal(t, bpwire.EID("dtn://upstream"), rec.dests[0])
}

func TestAcceptWithCTEBBatchesIntoACS(t *testing.T) {
	m, rec := newTestManager(t, Config{ACSBatchSize: 100, ACSTimeout: time.Hour})
	b := custodyBundle(1, "dtn://upstream")
	b.Custody.PrevHopCustodyID = 42
	b.Custody.PrevHopSupportsCTEB = true

	m.Accept(b)

	rec.mu.Lock()
	assert.Empty(t, rec.signals)
	assert.Empty(t, rec.acs)
	rec.mu.Unlock()
	assert.Equal(t, 1, m.PendingCount("dtn://upstream", true, bpwire.ReasonNoAdditionalInfo))
}

func TestACSFlushOnBatchSize(t *testing.T) {
	m, rec := newTestManager(t, Config{ACSBatchSize: 10, ACSTimeout: time.Hour})

	// ten custody acceptances from the same upstream, contiguous ids
	for i := uint64(0); i < 10; i++ {
		b := custodyBundle(i+1, "dtn://upstream")
		b.Custody.PrevHopCustodyID = 100 + i
		b.Custody.PrevHopSupportsCTEB = true
		m.Accept(b)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.acs, 1)
	require.Len(t, rec.acs[0].Fills, 1)
	assert.Equal(t, uint64(100), rec.acs[0].Fills[0].Start)
	assert.Equal(t, uint64(10), rec.acs[0].Fills[0].Length)
	assert.Equal(t, 0, m.PendingCount("dtn://upstream", true, bpwire.ReasonNoAdditionalInfo))
}

func TestACSFlushOnTimeout(t *testing.T) {
	m, rec := newTestManager(t, Config{ACSBatchSize: 100, ACSTimeout: 30 * time.Millisecond})
	m.SetOnACSTimeout(func(custodian bpwire.EID, succeeded bool, reason bpwire.Reason) {
		m.Flush(custodian, succeeded, reason)
	})

	b := custodyBundle(1, "dtn://upstream")
	b.Custody.PrevHopCustodyID = 7
	b.Custody.PrevHopSupportsCTEB = true
	m.Accept(b)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.acs) == 1
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, []bpwire.Fill{{Start: 7, Length: 1}}, rec.acs[0].Fills)
	rec.mu.Unlock()
}

func TestRefuseEmitsFailureWithoutMutatingCustody(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	b := custodyBundle(1, "dtn://upstream")

	m.Refuse(b, bpwire.ReasonDepletedStorage)

	b.Lock()
	assert.False(t, b.Custody.LocalCustody)
	b.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.signals, 1)
	assert.False(t, rec.signals[0].Succeeded)
	assert.Equal(t, bpwire.ReasonDepletedStorage, rec.signals[0].Reason)
}

func TestHandleSignalReleasesOnSuccess(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	b := custodyBundle(1, "dtn://upstream")
	id := m.Accept(b)

	matched, succeeded := m.HandleSignal(bpwire.CustodySignal{
		Succeeded:        true,
		Source:           b.GBOFID.Source,
		OriginalCreation: b.GBOFID.Creation,
	})
	require.Same(t, b, matched)
	assert.True(t, succeeded)

	b.Lock()
	assert.False(t, b.Custody.LocalCustody)
	b.Unlock()
	assert.Nil(t, m.Bundles.Find(id))
}

func TestHandleSignalFailureKeepsCustody(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	b := custodyBundle(1, "dtn://upstream")
	id := m.Accept(b)

	matched, succeeded := m.HandleSignal(bpwire.CustodySignal{
		Succeeded:        false,
		Reason:           bpwire.ReasonNoRoute,
		Source:           b.GBOFID.Source,
		OriginalCreation: b.GBOFID.Creation,
	})
	require.Same(t, b, matched)
	assert.False(t, succeeded)

	b.Lock()
	assert.True(t, b.Custody.LocalCustody)
	b.Unlock()
	assert.Same(t, b, m.Bundles.Find(id))
}

func TestHandleACSReleasesCoveredBundles(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	var bundles []*bundle.Bundle
	var ids []uint64
	for i := uint64(0); i < 3; i++ {
		b := custodyBundle(i+1, "dtn://upstream")
		ids = append(ids, m.Accept(b))
		bundles = append(bundles, b)
	}

	released := m.HandleACS(bpwire.AggregateCustodySignal{
		Succeeded: true,
		Fills:     bpwire.BuildFills(ids),
	})
	assert.Len(t, released, 3)
	for _, b := range bundles {
		b.Lock()
		assert.False(t, b.Custody.LocalCustody)
		b.Unlock()
	}
	assert.Equal(t, 0, m.Bundles.Len())
}

func TestTimerFiresOnceAndReportsRetries(t *testing.T) {
	m, _ := newTestManager(t, Config{TimerBase: 20 * time.Millisecond, TimerMultiplier: 1, TimerCap: time.Second})

	var mu sync.Mutex
	fired := 0
	m.SetOnTimeout(func(b *bundle.Bundle, linkName string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	b := custodyBundle(1, "dtn://upstream")
	m.Accept(b)
	m.StartTimer(b, "uplink")
	assert.Equal(t, 1, m.LiveTimerCount())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, 5*time.Millisecond)

	// firing is one-shot: re-arming is explicit
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, fired)
	mu.Unlock()
	assert.Equal(t, 0, m.LiveTimerCount())
	assert.Equal(t, 1, m.RetryCount(b, "uplink"))
}

func TestTimerCancelledWhenCustodyReleased(t *testing.T) {
	m, _ := newTestManager(t, Config{TimerBase: 20 * time.Millisecond})

	var mu sync.Mutex
	fired := 0
	m.SetOnTimeout(func(b *bundle.Bundle, linkName string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	b := custodyBundle(1, "dtn://upstream")
	m.Accept(b)
	m.StartTimer(b, "uplink")
	m.Release(b)

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, fired)
	mu.Unlock()
	assert.Equal(t, 0, m.LiveTimerCount())
}

func TestIntervalGrowsLinearlyAndCaps(t *testing.T) {
	m, _ := newTestManager(t, Config{TimerBase: 10 * time.Second, TimerMultiplier: 2, TimerCap: 35 * time.Second})

	assert.Equal(t, 10*time.Second, m.interval(0))
	assert.Equal(t, 30*time.Second, m.interval(1))
	assert.Equal(t, 35*time.Second, m.interval(2))
}

func TestValidCTEB(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	assert.True(t, m.ValidCTEB(bpwire.CTEB{Custodian: "dtn://up"}, "dtn://up"))
	assert.False(t, m.ValidCTEB(bpwire.CTEB{Custodian: "dtn://other"}, "dtn://up"))

	legacy, _ := newTestManager(t, Config{AcceptLegacyCTEB: true})
	assert.True(t, legacy.ValidCTEB(bpwire.CTEB{Custodian: "up.node"}, "dtn://up/node"))
}

func TestNullSourceCustodianSkipsSignal(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	b := custodyBundle(1, "dtn:none")

	m.Accept(b)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.signals)
	assert.Empty(t, rec.acs)
}
