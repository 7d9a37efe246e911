// Package registration implements the local delivery endpoint table:
// applications register an endpoint pattern and receive matching bundles
// through a per-registration delivery queue.
package registration

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/bundlelist"
	"github.com/marmos91/dtnd/pkg/endpoint"
)

// FailureAction controls what happens to a bundle matching a
// registration whose application is not attached.
type FailureAction int

const (
	// FailureDefer queues the bundle for later delivery, up to its
	// expiration.
	FailureDefer FailureAction = iota
	// FailureDrop discards the bundle.
	FailureDrop
	// FailureExec runs the registration's failure script to consume the
	// bundle.
	FailureExec
)

func (a FailureAction) String() string {
	switch a {
	case FailureDefer:
		return "defer"
	case FailureDrop:
		return "drop"
	case FailureExec:
		return "exec"
	default:
		return "unknown"
	}
}

// ParseFailureAction parses the declarative failure-action strings.
func ParseFailureAction(s string) (FailureAction, bool) {
	switch s {
	case "", "defer":
		return FailureDefer, true
	case "drop":
		return FailureDrop, true
	case "exec":
		return FailureExec, true
	default:
		return 0, false
	}
}

// Registration is one local delivery endpoint subscription.
type Registration struct {
	RegID           uint64
	EndpointPattern string
	Action          FailureAction
	FailureScript   string
	Expiration      time.Duration
	BoundSession    bool

	mu      sync.Mutex
	active  bool
	expired bool
	timer   *time.Timer

	// Queue holds bundles awaiting pickup by the application.
	Queue *bundlelist.OrderedList
}

// Active reports whether an application is currently attached.
func (r *Registration) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetActive marks the registration attached or detached.
func (r *Registration) SetActive(active bool) {
	r.mu.Lock()
	r.active = active
	r.mu.Unlock()
}

// Expired reports whether the registration passed its expiration.
func (r *Registration) Expired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

func (r *Registration) markExpired() {
	r.mu.Lock()
	r.expired = true
	r.mu.Unlock()
}

func (r *Registration) stopTimer() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
}

// Matches reports whether dest falls under this registration's endpoint
// pattern.
func (r *Registration) Matches(dest bpwire.EID) bool {
	return endpoint.Match(r.EndpointPattern, dest)
}

// record is the durable form of a registration.
type record struct {
	RegID           uint64 `json:"regid"`
	EndpointPattern string `json:"endpoint_pattern"`
	Action          int    `json:"action"`
	FailureScript   string `json:"failure_script,omitempty"`
	ExpirationNanos int64  `json:"expiration,omitempty"`
	BoundSession    bool   `json:"bound_session,omitempty"`
}

// Encode serializes the registration's durable fields.
func (r *Registration) Encode() ([]byte, error) {
	return json.Marshal(record{
		RegID:           r.RegID,
		EndpointPattern: r.EndpointPattern,
		Action:          int(r.Action),
		FailureScript:   r.FailureScript,
		ExpirationNanos: int64(r.Expiration),
		BoundSession:    r.BoundSession,
	})
}

// Decode reconstructs a registration from its durable form. The result
// starts inactive with an empty delivery queue.
func Decode(data []byte) (*Registration, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return newRegistration(rec.RegID, rec.EndpointPattern, FailureAction(rec.Action), rec.FailureScript, time.Duration(rec.ExpirationNanos), rec.BoundSession), nil
}

func newRegistration(regid uint64, pattern string, action FailureAction, script string, expiration time.Duration, bound bool) *Registration {
	return &Registration{
		RegID:           regid,
		EndpointPattern: pattern,
		Action:          action,
		FailureScript:   script,
		Expiration:      expiration,
		BoundSession:    bound,
		Queue:           bundlelist.NewOrderedList(bundle.ListID("reg:" + formatRegID(regid))),
	}
}
