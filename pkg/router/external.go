package router

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/route"
)

// streamEvent is the wire form of one event forwarded to the external
// routing agent. Bundle and link references are flattened to ids; the
// agent holds its own model of the topology.
type streamEvent struct {
	Type     string `json:"type"`
	BundleID uint64 `json:"bundle_id,omitempty"`
	Dest     string `json:"dest,omitempty"`
	LinkName string `json:"link,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// decision is one instruction read back from the external agent.
type decision struct {
	Action      string `json:"action"` // send | cancel | open_link | close_link | add_route | del_route
	BundleID    uint64 `json:"bundle_id,omitempty"`
	LinkName    string `json:"link,omitempty"`
	FwdAction   string `json:"fwd_action,omitempty"` // forward | copy
	DestPattern string `json:"dest_pattern,omitempty"`
}

// BundleResolver maps the ids the external agent speaks back to live
// bundles.
type BundleResolver func(localID uint64) *bundle.Bundle

// External forwards the event stream to an out-of-process routing agent
// over a line-delimited JSON stream and applies the decisions it sends
// back through the Actions interface. Policy queries that must answer
// synchronously (accept/custody/delete) fall back to static defaults:
// the external protocol is event-driven, not request/response.
type External struct {
	actions Actions
	resolve BundleResolver

	mu  sync.Mutex
	enc *json.Encoder

	done chan struct{}
}

// NewExternal constructs an external router speaking over rw. The
// decision-reader goroutine runs until rw reaches EOF or Shutdown.
func NewExternal(rw io.ReadWriter, actions Actions, resolve BundleResolver) *External {
	r := &External{
		actions: actions,
		resolve: resolve,
		enc:     json.NewEncoder(rw),
		done:    make(chan struct{}),
	}
	go r.readDecisions(rw)
	return r
}

// HandleEvent flattens ev onto the stream. Daemon-only events never
// reach here; the daemon filters them before broadcast.
func (r *External) HandleEvent(ev eventbus.Event) {
	se := streamEvent{Type: ev.Type()}
	switch e := ev.(type) {
	case *eventbus.BundleReceivedEvent:
		e.Bundle.Lock()
		se.BundleID = e.Bundle.LocalID
		se.Dest = string(e.Bundle.Dest)
		e.Bundle.Unlock()
		se.LinkName = e.LinkName
	case *eventbus.BundleTransmittedEvent:
		e.Bundle.Lock()
		se.BundleID = e.Bundle.LocalID
		e.Bundle.Unlock()
		se.LinkName = e.LinkName
	case *eventbus.BundleDeliveredEvent:
		e.Bundle.Lock()
		se.BundleID = e.Bundle.LocalID
		e.Bundle.Unlock()
	case *eventbus.BundleExpiredEvent:
		e.Bundle.Lock()
		se.BundleID = e.Bundle.LocalID
		e.Bundle.Unlock()
	case *eventbus.BundleSendCancelledEvent:
		e.Bundle.Lock()
		se.BundleID = e.Bundle.LocalID
		e.Bundle.Unlock()
		se.LinkName = e.LinkName
	case *eventbus.ContactUpEvent:
		se.LinkName = e.LinkName
	case *eventbus.ContactDownEvent:
		se.LinkName = e.LinkName
	case *eventbus.LinkCreatedEvent:
		se.LinkName = e.LinkName
	case *eventbus.LinkDeletedEvent:
		se.LinkName = e.LinkName
	case *eventbus.LinkAvailableEvent:
		se.LinkName = e.LinkName
	case *eventbus.LinkUnavailableEvent:
		se.LinkName = e.LinkName
		se.Reason = e.Reason
	}

	r.mu.Lock()
	err := r.enc.Encode(se)
	r.mu.Unlock()
	if err != nil {
		logger.Warn("external router stream write failed", "error", err)
	}
}

func (r *External) readDecisions(rd io.Reader) {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		select {
		case <-r.done:
			return
		default:
		}

		var d decision
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			logger.Warn("external router sent malformed decision", "error", err)
			continue
		}
		r.apply(d)
	}
}

func (r *External) apply(d decision) {
	switch d.Action {
	case "send":
		b := r.resolve(d.BundleID)
		if b == nil {
			logger.Warn("external router named unknown bundle", "bundle_id", d.BundleID)
			return
		}
		action := bundle.ActionForward
		if d.FwdAction == "copy" {
			action = bundle.ActionCopy
		}
		r.actions.SendBundle(b, d.LinkName, action)
	case "cancel":
		b := r.resolve(d.BundleID)
		if b == nil {
			return
		}
		r.actions.CancelBundle(b, d.LinkName)
	case "open_link":
		r.actions.OpenLink(d.LinkName)
	case "close_link":
		r.actions.CloseLink(d.LinkName)
	case "add_route":
		r.actions.AddRoute(route.Entry{DestPattern: d.DestPattern, LinkName: d.LinkName, Action: bundle.ActionForward})
	case "del_route":
		r.actions.DeleteRoute(d.DestPattern)
	default:
		logger.Warn("external router sent unknown action", "action", d.Action)
	}
}

// AcceptBundle admits everything; the external agent cancels what it
// does not want after the fact.
func (r *External) AcceptBundle(b *bundle.Bundle) (bpwire.Reason, bool) {
	if err := b.Validate(); err != nil {
		return bpwire.ReasonBlockUnintelligible, false
	}
	return bpwire.ReasonNoAdditionalInfo, true
}

// AcceptCustody always declines; the decision stream has no instruction
// for taking custody.
func (r *External) AcceptCustody(*bundle.Bundle) bool { return false }

// CanDeleteBundle never vetoes.
func (r *External) CanDeleteBundle(*bundle.Bundle) bool { return true }

// DeleteBundle has no state to clean.
func (r *External) DeleteBundle(*bundle.Bundle) {}

// Shutdown stops the decision reader.
func (r *External) Shutdown() {
	close(r.done)
}
