package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dtnd/pkg/bundle"
)

func TestLongestMatchWins(t *testing.T) {
	tbl := NewTable(0)
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", LinkName: "wide"}))
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/app", LinkName: "narrow"}))

	e := tbl.Lookup("dtn://a/app")
	require.NotNil(t, e)
	assert.Equal(t, "narrow", e.LinkName)

	e = tbl.Lookup("dtn://a/other")
	require.NotNil(t, e)
	assert.Equal(t, "wide", e.LinkName)
}

func TestPriorityBreaksTies(t *testing.T) {
	tbl := NewTable(0)
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", LinkName: "low", Priority: 1}))
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", LinkName: "high", Priority: 5}))

	e := tbl.Lookup("dtn://a/app")
	require.NotNil(t, e)
	assert.Equal(t, "high", e.LinkName)
}

func TestInsertionOrderBreaksRemainingTies(t *testing.T) {
	tbl := NewTable(0)
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", LinkName: "first"}))
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", LinkName: "second"}))

	e := tbl.Lookup("dtn://a/app")
	require.NotNil(t, e)
	assert.Equal(t, "first", e.LinkName)
}

func TestRecursiveResolutionBounded(t *testing.T) {
	tbl := NewTable(3)
	// endpoint chain: a -> b -> link
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", NextHopEID: "dtn://b/x"}))
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://b/*", LinkName: "uplink"}))

	e := tbl.Lookup("dtn://a/app")
	require.NotNil(t, e)
	assert.Equal(t, "uplink", e.LinkName)

	// a self-referential chain terminates at the bound instead of
	// spinning
	loop := NewTable(3)
	require.NoError(t, loop.Add(Entry{DestPattern: "dtn://l/*", NextHopEID: "dtn://l/x"}))
	assert.Nil(t, loop.Lookup("dtn://l/app"))
}

func TestAddIPNRangeExpands(t *testing.T) {
	tbl := NewTable(0)
	require.NoError(t, tbl.AddIPNRange(10, 14, "uplink"))
	assert.Len(t, tbl.Entries(), 5)

	e := tbl.Lookup("ipn:12.7")
	require.NotNil(t, e)
	assert.Equal(t, "uplink", e.LinkName)
	assert.Nil(t, tbl.Lookup("ipn:15.7"))

	assert.Error(t, tbl.AddIPNRange(5, 4, "uplink"))
}

func TestDel(t *testing.T) {
	tbl := NewTable(0)
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", LinkName: "one"}))
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", LinkName: "two"}))
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://b/*", LinkName: "one"}))

	assert.Equal(t, 2, tbl.Del("dtn://a/*"))
	assert.Nil(t, tbl.Lookup("dtn://a/app"))
	assert.NotNil(t, tbl.Lookup("dtn://b/app"))

	assert.Equal(t, 1, tbl.DelLink("one"))
	assert.Nil(t, tbl.Lookup("dtn://b/app"))
}

func TestLookupAllDedupesLinks(t *testing.T) {
	tbl := NewTable(0)
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/*", LinkName: "x", Action: bundle.ActionCopy}))
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/app", LinkName: "x", Action: bundle.ActionForward}))
	require.NoError(t, tbl.Add(Entry{DestPattern: "dtn://a/app", LinkName: "y", Action: bundle.ActionCopy}))

	entries := tbl.LookupAll("dtn://a/app")
	require.Len(t, entries, 2)
	// best-first: the exact pattern on x outranks the copy route on y
	assert.Equal(t, "x", entries[0].LinkName)
	assert.Equal(t, "y", entries[1].LinkName)
}

func TestRejectsIncompleteEntries(t *testing.T) {
	tbl := NewTable(0)
	assert.Error(t, tbl.Add(Entry{DestPattern: "dtn://a/*"}))
	assert.Error(t, tbl.Add(Entry{LinkName: "x"}))
}
