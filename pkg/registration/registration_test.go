package registration

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAssignsSequentialRegIDs(t *testing.T) {
	tbl := NewTable(10)

	a := tbl.Add("dtn://node/app", FailureDefer, "", 0, false)
	b := tbl.Add("dtn://node/other", FailureDefer, "", 0, false)
	assert.Equal(t, uint64(10), a.RegID)
	assert.Equal(t, uint64(11), b.RegID)
	assert.Equal(t, 2, tbl.Len())
}

func TestMatchingByPattern(t *testing.T) {
	tbl := NewTable(10)
	app := tbl.Add("dtn://node/app", FailureDefer, "", 0, false)
	wild := tbl.Add("dtn://node/*", FailureDefer, "", 0, false)
	tbl.Add("dtn://other/app", FailureDefer, "", 0, false)

	got := tbl.Matching("dtn://node/app")
	require.Len(t, got, 2)
	assert.Equal(t, app.RegID, got[0].RegID)
	assert.Equal(t, wild.RegID, got[1].RegID)

	assert.Empty(t, tbl.Matching("dtn://elsewhere/app"))
}

func TestRemoveStopsMatching(t *testing.T) {
	tbl := NewTable(10)
	r := tbl.Add("dtn://node/app", FailureDefer, "", 0, false)

	removed := tbl.Remove(r.RegID)
	require.NotNil(t, removed)
	assert.Equal(t, r.RegID, removed.RegID)
	assert.Nil(t, tbl.Get(r.RegID))
	assert.Empty(t, tbl.Matching("dtn://node/app"))
	assert.Nil(t, tbl.Remove(r.RegID))
}

func TestExpirationFiresCallback(t *testing.T) {
	tbl := NewTable(10)

	var mu sync.Mutex
	var expired []uint64
	tbl.SetOnExpired(func(regid uint64) {
		mu.Lock()
		expired = append(expired, regid)
		mu.Unlock()
	})

	r := tbl.Add("dtn://node/app", FailureDefer, "", 20*time.Millisecond, false)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1 && expired[0] == r.RegID
	}, time.Second, 5*time.Millisecond)

	assert.True(t, r.Expired())
	assert.Empty(t, tbl.Matching("dtn://node/app"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tbl := NewTable(10)
	r := tbl.Add("dtn://node/app", FailureExec, "/usr/local/bin/consume", 0, true)

	data, err := r.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, r.RegID, decoded.RegID)
	assert.Equal(t, r.EndpointPattern, decoded.EndpointPattern)
	assert.Equal(t, r.Action, decoded.Action)
	assert.Equal(t, r.FailureScript, decoded.FailureScript)
	assert.Equal(t, r.BoundSession, decoded.BoundSession)
	assert.False(t, decoded.Active())
}

func TestRestoreAdvancesAllocator(t *testing.T) {
	tbl := NewTable(10)
	r := tbl.Add("dtn://node/app", FailureDefer, "", 0, false)
	data, err := r.Encode()
	require.NoError(t, err)

	fresh := NewTable(10)
	decoded, err := Decode(data)
	require.NoError(t, err)
	fresh.Restore(decoded)

	next := fresh.Add("dtn://node/other", FailureDefer, "", 0, false)
	assert.Greater(t, next.RegID, decoded.RegID)
}

func TestParseFailureAction(t *testing.T) {
	for s, want := range map[string]FailureAction{
		"": FailureDefer, "defer": FailureDefer, "drop": FailureDrop, "exec": FailureExec,
	} {
		got, ok := ParseFailureAction(s)
		require.True(t, ok, "input %q", s)
		assert.Equal(t, want, got)
	}
	_, ok := ParseFailureAction("bogus")
	assert.False(t, ok)
}
