package daemon

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/marmos91/dtnd/pkg/link"
)

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// linkRecord is the durable form of a link: its name, type, addressing,
// reliability, MTU, previous-hop setting and cost plus lifetime
// statistics, reloaded for operator inspection and stats continuity
// across restarts. encodeLinkRecord leaves the retry-interval, idle-close
// and potential-downtime fields unset, so they are not stored.
type linkRecord struct {
	Name              string        `json:"name"`
	Type              string        `json:"type"`
	RemoteEID         string        `json:"remote_eid"`
	NextHop           string        `json:"nexthop"`
	ConvergenceLayer  string        `json:"cl"`
	Reliable          bool          `json:"reliable,omitempty"`
	MTU               uint64        `json:"mtu,omitempty"`
	MinRetryInterval  time.Duration `json:"min_retry_interval,omitempty"`
	MaxRetryInterval  time.Duration `json:"max_retry_interval,omitempty"`
	IdleCloseTime     time.Duration `json:"idle_close_time,omitempty"`
	PotentialDowntime time.Duration `json:"potential_downtime,omitempty"`
	PrevHopHeader     bool          `json:"prevhop_hdr,omitempty"`
	Cost              int           `json:"cost,omitempty"`

	Stats link.Stats `json:"stats"`
}

func encodeLinkRecord(l *link.Link) ([]byte, error) {
	return json.Marshal(linkRecord{
		Name:             l.Name(),
		Type:             l.Type().String(),
		RemoteEID:        l.RemoteEID(),
		NextHop:          l.NextHop(),
		ConvergenceLayer: l.ConvergenceLayer(),
		Reliable:         l.Reliable(),
		MTU:              l.MTU(),
		PrevHopHeader:    l.PrevHopHeader(),
		Cost:             l.Cost(),
		Stats:            l.Stats(),
	})
}
