package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/link"
	"github.com/marmos91/dtnd/pkg/route"
)

type fakeActions struct {
	mu     sync.Mutex
	sends  []string // link names
	opens  []string
	others int
}

func (a *fakeActions) SendBundle(b *bundle.Bundle, linkName string, action bundle.ForwardAction) {
	a.mu.Lock()
	a.sends = append(a.sends, linkName)
	a.mu.Unlock()
}
func (a *fakeActions) CancelBundle(b *bundle.Bundle, linkName string) { a.others++ }
func (a *fakeActions) OpenLink(linkName string) {
	a.mu.Lock()
	a.opens = append(a.opens, linkName)
	a.mu.Unlock()
}
func (a *fakeActions) CloseLink(linkName string)     { a.others++ }
func (a *fakeActions) AddRoute(e route.Entry)        { a.others++ }
func (a *fakeActions) DeleteRoute(destPattern string) { a.others++ }

type fakeLinks struct {
	links map[string]*link.Link
}

func (f *fakeLinks) Get(name string) *link.Link { return f.links[name] }
func (f *fakeLinks) All() []*link.Link {
	var out []*link.Link
	for _, l := range f.links {
		out = append(out, l)
	}
	return out
}

type fakePending struct {
	bundles []*bundle.Bundle
}

func (p *fakePending) ForEachPending(fn func(b *bundle.Bundle)) {
	for _, b := range p.bundles {
		fn(b)
	}
}

func newLink(t *testing.T, name string, typ link.Type) *link.Link {
	t.Helper()
	l, err := link.New(link.Config{Name: name, Type: typ, NextHop: "peer:4556", RemoteEID: "dtn://peer"})
	require.NoError(t, err)
	return l
}

func testBundle(dest string) *bundle.Bundle {
	b := bundle.New(1, bundle.GBOFID{Source: "dtn://src", Creation: bpwire.Timestamp{Seconds: 1}})
	b.Dest = bpwire.EID(dest)
	b.Payload = bundle.NewMemoryPayload(make([]byte, 16))
	return b
}

func newStatic(t *testing.T, links *fakeLinks, pending *fakePending) (*Static, *fakeActions, *route.Table) {
	t.Helper()
	actions := &fakeActions{}
	table := route.NewTable(0)
	r := NewStatic(StaticConfig{AcceptCustody: true}, table, links, pending, actions)
	return r, actions, table
}

func TestRouteBundleQueuesOnMatchingLink(t *testing.T) {
	l := newLink(t, "uplink", link.TypeAlwaysOn)
	r, actions, table := newStatic(t, &fakeLinks{links: map[string]*link.Link{"uplink": l}}, &fakePending{})
	require.NoError(t, table.Add(route.Entry{DestPattern: "dtn://dst/*", LinkName: "uplink"}))

	b := testBundle("dtn://dst/app")
	r.HandleEvent(eventbus.NewBundleReceived(b, "", "", 0, false))

	actions.mu.Lock()
	defer actions.mu.Unlock()
	assert.Equal(t, []string{"uplink"}, actions.sends)
	// alwayson link starts available: the router asks for it to open
	assert.Equal(t, []string{"uplink"}, actions.opens)
}

func TestRouteBundleNoRouteNoAction(t *testing.T) {
	r, actions, _ := newStatic(t, &fakeLinks{links: map[string]*link.Link{}}, &fakePending{})

	r.HandleEvent(eventbus.NewBundleReceived(testBundle("dtn://nowhere/app"), "", "", 0, false))

	actions.mu.Lock()
	defer actions.mu.Unlock()
	assert.Empty(t, actions.sends)
}

func TestRouteBundleSkipsAlreadyQueued(t *testing.T) {
	l := newLink(t, "uplink", link.TypeAlwaysOn)
	r, actions, table := newStatic(t, &fakeLinks{links: map[string]*link.Link{"uplink": l}}, &fakePending{})
	require.NoError(t, table.Add(route.Entry{DestPattern: "dtn://dst/*", LinkName: "uplink"}))

	b := testBundle("dtn://dst/app")
	b.Lock()
	b.Forwarding.Add("uplink", bundle.ActionForward, bundle.ForwardQueued)
	b.Unlock()

	r.HandleEvent(eventbus.NewBundleReceived(b, "", "", 0, false))

	actions.mu.Lock()
	defer actions.mu.Unlock()
	assert.Empty(t, actions.sends)
}

func TestCongestedLinkDefers(t *testing.T) {
	l, err := link.New(link.Config{
		Name: "uplink", Type: link.TypeAlwaysOn, NextHop: "peer:4556", RemoteEID: "dtn://peer",
		QlimitEnabled: true, QlimitBundlesHigh: 0, QlimitBytesHigh: 1,
	})
	require.NoError(t, err)
	// one queued bundle puts the link over its zero-bundle high watermark
	require.True(t, l.AddToQueue(testBundle("dtn://other/x")))

	r, actions, table := newStatic(t, &fakeLinks{links: map[string]*link.Link{"uplink": l}}, &fakePending{})
	require.NoError(t, table.Add(route.Entry{DestPattern: "dtn://dst/*", LinkName: "uplink"}))

	r.HandleEvent(eventbus.NewBundleReceived(testBundle("dtn://dst/app"), "", "", 0, false))

	actions.mu.Lock()
	assert.Empty(t, actions.sends)
	actions.mu.Unlock()
	assert.Equal(t, 1, l.DeferredCount())
}

func TestContactUpRecomputesPending(t *testing.T) {
	l := newLink(t, "uplink", link.TypeAlwaysOn)
	pending := &fakePending{bundles: []*bundle.Bundle{testBundle("dtn://dst/app")}}
	r, actions, table := newStatic(t, &fakeLinks{links: map[string]*link.Link{"uplink": l}}, pending)
	require.NoError(t, table.Add(route.Entry{DestPattern: "dtn://dst/*", LinkName: "uplink"}))

	r.HandleEvent(eventbus.NewContactUp("uplink", "c1"))

	actions.mu.Lock()
	defer actions.mu.Unlock()
	assert.Equal(t, []string{"uplink"}, actions.sends)
}

func TestCopyRoutesReplicate(t *testing.T) {
	la := newLink(t, "a", link.TypeAlwaysOn)
	lb := newLink(t, "b", link.TypeAlwaysOn)
	r, actions, table := newStatic(t, &fakeLinks{links: map[string]*link.Link{"a": la, "b": lb}}, &fakePending{})
	require.NoError(t, table.Add(route.Entry{DestPattern: "dtn://dst/*", LinkName: "a", Action: bundle.ActionCopy}))
	require.NoError(t, table.Add(route.Entry{DestPattern: "dtn://dst/*", LinkName: "b", Action: bundle.ActionCopy}))

	r.HandleEvent(eventbus.NewBundleReceived(testBundle("dtn://dst/app"), "", "", 0, false))

	actions.mu.Lock()
	defer actions.mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, actions.sends)
}

func TestAcceptCustodyPolicy(t *testing.T) {
	r, _, _ := newStatic(t, &fakeLinks{}, &fakePending{})

	b := testBundle("dtn://dst/app")
	assert.False(t, r.AcceptCustody(b))
	b.CustodyRequested = true
	assert.True(t, r.AcceptCustody(b))

	declined := NewStatic(StaticConfig{AcceptCustody: false}, route.NewTable(0), &fakeLinks{}, &fakePending{}, &fakeActions{})
	assert.False(t, declined.AcceptCustody(b))
}

func TestAcceptBundleRejectsNullSourceViolations(t *testing.T) {
	r, _, _ := newStatic(t, &fakeLinks{}, &fakePending{})

	b := bundle.New(1, bundle.GBOFID{Source: "dtn:none"})
	b.CustodyRequested = true
	reason, ok := r.AcceptBundle(b)
	assert.False(t, ok)
	assert.Equal(t, bpwire.ReasonBlockUnintelligible, reason)
}
