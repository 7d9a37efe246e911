package custody

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
)

// acsKey identifies one pending ACS accumulation: everything batched
// under a key shares the upstream custodian and the signal outcome.
type acsKey struct {
	custodian bpwire.EID
	succeeded bool
	reason    bpwire.Reason
}

func (k acsKey) storageKey() string {
	return fmt.Sprintf("%s|%t|%d", k.custodian, k.succeeded, k.reason)
}

// pendingACS accumulates custody-ids awaiting serialization.
type pendingACS struct {
	ids   map[uint64]struct{}
	timer *time.Timer
}

// pendingRecord is the durable form of one pending ACS.
type pendingRecord struct {
	Custodian string   `json:"custodian"`
	Succeeded bool     `json:"succeeded"`
	Reason    uint8    `json:"reason"`
	IDs       []uint64 `json:"ids"`
}

// addPending accumulates custodyID under the (custodian, outcome) key,
// flushing immediately at the batch-size threshold and otherwise arming
// the per-key timeout.
func (m *Manager) addPending(custodian bpwire.EID, succeeded bool, reason bpwire.Reason, custodyID uint64) {
	key := acsKey{custodian: custodian, succeeded: succeeded, reason: reason}

	m.mu.Lock()
	p := m.pending[key]
	if p == nil {
		p = &pendingACS{ids: make(map[uint64]struct{})}
		m.pending[key] = p
		p.timer = time.AfterFunc(m.cfg.ACSTimeout, func() {
			m.mu.Lock()
			cb := m.onACSTimeout
			m.mu.Unlock()
			if cb != nil {
				cb(key.custodian, key.succeeded, key.reason)
			}
		})
	}
	p.ids[custodyID] = struct{}{}
	full := len(p.ids) >= m.cfg.ACSBatchSize
	m.mu.Unlock()

	m.persistPending(key)

	if full {
		m.Flush(custodian, succeeded, reason)
	}
}

// Flush serializes and emits the pending ACS under the given key, if
// any. The accumulated ids are sorted and run-length encoded by the
// codec layer.
func (m *Manager) Flush(custodian bpwire.EID, succeeded bool, reason bpwire.Reason) {
	key := acsKey{custodian: custodian, succeeded: succeeded, reason: reason}

	m.mu.Lock()
	p := m.pending[key]
	if p == nil || len(p.ids) == 0 {
		m.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(m.pending, key)
	ids := make([]uint64, 0, len(p.ids))
	for id := range p.ids {
		ids = append(ids, id)
	}
	emit := m.onEmitACS
	m.mu.Unlock()

	if m.table != nil {
		if err := m.table.Del(key.storageKey()); err != nil {
			logger.Warn("failed to clear persisted pending acs", "key", key.storageKey(), "error", err)
		}
	}

	if emit != nil {
		emit(custodian, bpwire.AggregateCustodySignal{
			Succeeded: succeeded,
			Reason:    reason,
			Fills:     bpwire.BuildFills(ids),
		})
	}
}

// FlushAll flushes every pending ACS immediately (shutdown path).
func (m *Manager) FlushAll() {
	m.mu.Lock()
	keys := make([]acsKey, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.Flush(key.custodian, key.succeeded, key.reason)
	}
}

// PendingCount returns the number of custody-ids accumulated under the
// given key.
func (m *Manager) PendingCount(custodian bpwire.EID, succeeded bool, reason bpwire.Reason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending[acsKey{custodian: custodian, succeeded: succeeded, reason: reason}]
	if p == nil {
		return 0
	}
	return len(p.ids)
}

func (m *Manager) persistPending(key acsKey) {
	if m.table == nil {
		return
	}

	m.mu.Lock()
	p := m.pending[key]
	var rec pendingRecord
	if p != nil {
		rec = pendingRecord{
			Custodian: string(key.custodian),
			Succeeded: key.succeeded,
			Reason:    uint8(key.reason),
			IDs:       make([]uint64, 0, len(p.ids)),
		}
		for id := range p.ids {
			rec.IDs = append(rec.IDs, id)
		}
	}
	m.mu.Unlock()

	if p == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Error("failed to encode pending acs", "error", err)
		return
	}
	if err := m.table.Put(key.storageKey(), data); err != nil {
		logger.Warn("failed to persist pending acs", "key", key.storageKey(), "error", err)
	}
}

// Restore reloads persisted pending ACS state after a restart, re-arming
// each key's timeout from now.
func (m *Manager) Restore() error {
	if m.table == nil {
		return nil
	}
	return m.table.ForEach(func(_ string, val []byte) error {
		var rec pendingRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("custody: decode pending acs: %w", err)
		}
		for _, id := range rec.IDs {
			m.addPending(bpwire.EID(rec.Custodian), rec.Succeeded, bpwire.Reason(rec.Reason), id)
		}
		return nil
	})
}
