package custody

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dtnd/pkg/bundlestore"
)

func TestPendingACSSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	open := func() *bundlestore.Store {
		s, err := bundlestore.Open(bundlestore.Config{
			DBDir:       filepath.Join(dir, "db"),
			PayloadDir:  filepath.Join(dir, "payloads"),
			FDCacheSize: 4,
		})
		require.NoError(t, err)
		return s
	}

	store := open()
	m := NewManager(Config{LocalEID: localEID, ACSBatchSize: 100, ACSTimeout: time.Hour}, store.Table("acs:"))
	m.QueuePending("dtn://upstream", true, 0, 5)
	m.QueuePending("dtn://upstream", true, 0, 6)
	m.QueuePending("dtn://other", false, 4, 9)
	m.Shutdown()
	require.NoError(t, store.Close())

	store = open()
	defer store.Close()
	restored := NewManager(Config{LocalEID: localEID, ACSBatchSize: 100, ACSTimeout: time.Hour}, store.Table("acs:"))
	require.NoError(t, restored.Restore())

	assert.Equal(t, 2, restored.PendingCount("dtn://upstream", true, 0))
	assert.Equal(t, 1, restored.PendingCount("dtn://other", false, 4))

	rec := &recorder{}
	restored.SetOnEmitACS(rec.aggregate)
	restored.Flush("dtn://upstream", true, 0)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.acs, 1)
	assert.Equal(t, uint64(5), rec.acs[0].Fills[0].Start)
	assert.Equal(t, uint64(2), rec.acs[0].Fills[0].Length)
}
