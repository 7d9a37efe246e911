package bundle

import (
	"testing"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBundle() *Bundle {
	return New(1, GBOFID{Source: "dtn://a", Creation: bpwire.Timestamp{Seconds: 1}})
}

func TestMappingInvariant(t *testing.T) {
	b := newTestBundle()
	b.Lock()
	ok := b.AddMapping("pending")
	b.Unlock()
	require.True(t, ok)
	assert.Equal(t, 1, b.MappingCount())

	b.Lock()
	dup := b.AddMapping("pending")
	b.Unlock()
	assert.False(t, dup, "double-add to the same list must be rejected")
	assert.Equal(t, 1, b.MappingCount())

	b.Lock()
	removed := b.RemoveMapping("pending")
	b.Unlock()
	assert.True(t, removed)
	assert.Equal(t, 0, b.MappingCount())
}

func TestRefcountFreeCallbackOnce(t *testing.T) {
	b := newTestBundle()
	calls := 0
	b.SetOnFree(func(*Bundle) { calls++ })

	b.Ref() // refcount 2
	b.Unref()
	assert.Equal(t, 0, calls, "must not free while refs remain")

	b.Unref() // refcount 0
	assert.Equal(t, 1, calls)

	b.Unref() // already freed; callback must not re-fire
	assert.Equal(t, 1, calls)
}

func TestValidateNullSourceRequiresDoNotFragmentAndNoReports(t *testing.T) {
	b := New(1, GBOFID{Source: "dtn:none"})
	b.DoNotFragment = true
	assert.NoError(t, b.Validate())

	b.CustodyRequested = true
	assert.Error(t, b.Validate())

	b.CustodyRequested = false
	b.DoNotFragment = false
	assert.Error(t, b.Validate())
}

func TestGBOFIDReassemblyKeyIgnoresFragmentFields(t *testing.T) {
	base := GBOFID{Source: "dtn://a", Creation: bpwire.Timestamp{Seconds: 5}}
	frag1 := base
	frag1.IsFragment = true
	frag1.FragmentOffset = 0
	frag1.OriginalLength = 10000

	frag2 := base
	frag2.IsFragment = true
	frag2.FragmentOffset = 3000
	frag2.OriginalLength = 10000

	assert.Equal(t, frag1.ReassemblyKey(), frag2.ReassemblyKey())
	assert.NotEqual(t, frag1.String(), frag2.String())
}
