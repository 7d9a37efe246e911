package bundlestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
)

func openTestStore(t *testing.T, quota uint64) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{
		DBDir:       filepath.Join(dir, "db"),
		PayloadDir:  filepath.Join(dir, "payload"),
		Quota:       quota,
		FDCacheSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestBundle(localID uint64, payloadLen uint64) *bundle.Bundle {
	b := bundle.New(localID, bundle.GBOFID{
		Source:   bpwire.EID("dtn://node-a/app"),
		Creation: bpwire.Timestamp{Seconds: 1000 + localID, Sequence: 0},
	})
	b.Dest = bpwire.EID("dtn://node-b/app")
	if payloadLen > 0 {
		b.Payload = bundle.NewDiskPayload(payloadFilename(localID), payloadLen)
	}
	return b
}

func TestStoreAddGetRoundTrip(t *testing.T) {
	s := openTestStore(t, 0)

	b := newTestBundle(1, 128)
	b.CustodyRequested = true
	require.NoError(t, s.Add(b))

	got, err := s.Get(1)
	require.NoError(t, err)
	require.Equal(t, b.GBOFID.Source, got.GBOFID.Source)
	require.Equal(t, b.Dest, got.Dest)
	require.True(t, got.CustodyRequested)
	require.Equal(t, uint64(128), got.Payload.Length)
	require.Equal(t, uint64(128), s.TotalSize())
}

func TestStoreGetNotFound(t *testing.T) {
	s := openTestStore(t, 0)
	_, err := s.Get(42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreQuotaEnforced(t *testing.T) {
	s := openTestStore(t, 100)

	require.NoError(t, s.Add(newTestBundle(1, 60)))
	err := s.Add(newTestBundle(2, 60))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, uint64(60), s.TotalSize())
}

func TestStoreDelReleasesQuota(t *testing.T) {
	s := openTestStore(t, 100)

	require.NoError(t, s.Add(newTestBundle(1, 60)))
	require.NoError(t, s.Del(1))
	require.Equal(t, uint64(0), s.TotalSize())

	_, err := s.Get(1)
	require.ErrorIs(t, err, ErrNotFound)

	// Quota freed, so a bundle of the same size can be added again.
	require.NoError(t, s.Add(newTestBundle(2, 60)))
}

func TestStoreDelUnknownIsNoop(t *testing.T) {
	s := openTestStore(t, 0)
	require.NoError(t, s.Del(999))
}

func TestStoreForEachAndNextID(t *testing.T) {
	s := openTestStore(t, 0)

	ids := []uint64{s.NextID(), s.NextID(), s.NextID()}
	for _, id := range ids {
		require.NoError(t, s.Add(newTestBundle(id, 0)))
	}

	seen := map[uint64]bool{}
	require.NoError(t, s.ForEach(func(b *bundle.Bundle) error {
		seen[b.LocalID] = true
		return nil
	}))
	for _, id := range ids {
		require.True(t, seen[id])
	}
}

func TestRecoverNextIDResumesAfterMax(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		DBDir:      filepath.Join(dir, "db"),
		PayloadDir: filepath.Join(dir, "payload"),
	}

	s1, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s1.Add(newTestBundle(5, 0)))
	require.NoError(t, s1.Add(newTestBundle(9, 0)))
	require.NoError(t, s1.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()
	require.Equal(t, uint64(10), s2.NextID())
}

func TestOpenPayloadFileIsCachedAndWritable(t *testing.T) {
	s := openTestStore(t, 0)

	f, name, err := s.OpenPayloadFile(7)
	require.NoError(t, err)
	_, err = f.WriteString("hello")
	require.NoError(t, err)

	f2, name2, err := s.OpenPayloadFile(7)
	require.NoError(t, err)
	require.Equal(t, name, name2)
	require.Same(t, f, f2)
}
