package eventbus

import (
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/link"
	"github.com/marmos91/dtnd/pkg/route"
)

// Meta implements the Event interface for every concrete event type.
// Constructors fix the event name, target processor, and daemon-only
// flag; handlers never vary them per instance.
type Meta struct {
	Base
	name string
	proc Processor
	only bool
}

func meta(name string, proc Processor, daemonOnly bool) Meta {
	return Meta{name: name, proc: proc, only: daemonOnly}
}

func (m *Meta) Type() string         { return m.name }
func (m *Meta) Processor() Processor { return m.proc }
func (m *Meta) DaemonOnly() bool     { return m.only }

// ContactDownReason explains why a contact closed.
type ContactDownReason int

const (
	ContactDownNoInfo ContactDownReason = iota
	ContactDownUserRequest
	ContactDownBroken
	ContactDownShutdown
	ContactDownIdle
)

// --- bundle events ---

// BundleReceivedEvent announces a bundle arriving from a convergence
// layer, a local application, or an administrative source; handled by the
// input processor (validation, dedup, extension-block parsing, custody
// decision).
type BundleReceivedEvent struct {
	Meta
	Bundle        *bundle.Bundle
	PrevHop       bpwire.EID
	LinkName      string // empty for locally sourced bundles
	BytesReceived uint64
	FromAPI       bool
}

func NewBundleReceived(b *bundle.Bundle, prevHop bpwire.EID, linkName string, bytes uint64, fromAPI bool) *BundleReceivedEvent {
	return &BundleReceivedEvent{Meta: meta("bundle_received", ProcessorInput, false), Bundle: b, PrevHop: prevHop, LinkName: linkName, BytesReceived: bytes, FromAPI: fromAPI}
}

// BundleTransmittedEvent reports a convergence layer finishing (or
// partially finishing) a transmission on a link.
type BundleTransmittedEvent struct {
	Meta
	Bundle    *bundle.Bundle
	LinkName  string
	BytesSent uint64
	Reliably  bool
	// Total payload bytes in the transmitted representation; BytesSent <
	// Total signals a partial transmission eligible for reactive
	// fragmentation.
	Total uint64
}

func NewBundleTransmitted(b *bundle.Bundle, linkName string, sent, total uint64, reliably bool) *BundleTransmittedEvent {
	return &BundleTransmittedEvent{Meta: meta("bundle_transmitted", ProcessorMain, false), Bundle: b, LinkName: linkName, BytesSent: sent, Total: total, Reliably: reliably}
}

// BundleDeliveredEvent reports local delivery to a registration.
type BundleDeliveredEvent struct {
	Meta
	Bundle *bundle.Bundle
	RegID  uint64
}

func NewBundleDelivered(b *bundle.Bundle, regid uint64) *BundleDeliveredEvent {
	return &BundleDeliveredEvent{Meta: meta("bundle_delivered", ProcessorMain, false), Bundle: b, RegID: regid}
}

// BundleExpiredEvent reports a bundle passing its lifetime. Posted at
// the head of the main queue so expiration preempts queued forwarding
// work for the same bundle.
type BundleExpiredEvent struct {
	Meta
	Bundle *bundle.Bundle
}

func NewBundleExpired(b *bundle.Bundle) *BundleExpiredEvent {
	return &BundleExpiredEvent{Meta: meta("bundle_expired", ProcessorMain, false), Bundle: b}
}

// BundleFreeEvent is posted exactly once when a bundle's reference count
// reaches zero; the main processor performs final destruction.
type BundleFreeEvent struct {
	Meta
	Bundle *bundle.Bundle
}

func NewBundleFree(b *bundle.Bundle) *BundleFreeEvent {
	return &BundleFreeEvent{Meta: meta("bundle_free", ProcessorMain, true), Bundle: b}
}

// BundleSendRequest asks the daemon to queue a bundle on a link; posted
// by routers and by the application send path.
type BundleSendRequest struct {
	Meta
	Bundle   *bundle.Bundle
	LinkName string
	Action   bundle.ForwardAction
}

func NewBundleSendRequest(b *bundle.Bundle, linkName string, action bundle.ForwardAction) *BundleSendRequest {
	return &BundleSendRequest{Meta: meta("bundle_send", ProcessorMain, true), Bundle: b, LinkName: linkName, Action: action}
}

// BundleCancelRequest asks the daemon to cancel a pending transmission.
type BundleCancelRequest struct {
	Meta
	Bundle   *bundle.Bundle
	LinkName string
}

func NewBundleCancelRequest(b *bundle.Bundle, linkName string) *BundleCancelRequest {
	return &BundleCancelRequest{Meta: meta("bundle_cancel", ProcessorMain, true), Bundle: b, LinkName: linkName}
}

// BundleSendCancelledEvent reports that a queued or in-flight bundle
// will not be transmitted on the named link.
type BundleSendCancelledEvent struct {
	Meta
	Bundle   *bundle.Bundle
	LinkName string
}

func NewBundleSendCancelled(b *bundle.Bundle, linkName string) *BundleSendCancelledEvent {
	return &BundleSendCancelledEvent{Meta: meta("bundle_cancelled", ProcessorMain, false), Bundle: b, LinkName: linkName}
}

// BundleInjectRequest asks the daemon to create and route a bundle on
// behalf of an administrative producer (custody signals, status reports,
// external router injections).
type BundleInjectRequest struct {
	Meta
	Bundle   *bundle.Bundle
	LinkName string // preferred link, empty to route normally
}

func NewBundleInjectRequest(b *bundle.Bundle, linkName string) *BundleInjectRequest {
	return &BundleInjectRequest{Meta: meta("bundle_inject", ProcessorMain, true), Bundle: b, LinkName: linkName}
}

// BundleInjectedEvent reports a completed injection back to routers.
type BundleInjectedEvent struct {
	Meta
	Bundle *bundle.Bundle
}

func NewBundleInjected(b *bundle.Bundle) *BundleInjectedEvent {
	return &BundleInjectedEvent{Meta: meta("bundle_injected", ProcessorMain, false), Bundle: b}
}

// BundleAcceptRequest asks the active router whether to accept an
// arriving bundle; carries the reply inline for PostAndWait callers.
type BundleAcceptRequest struct {
	Meta
	Bundle *bundle.Bundle

	// Reply fields, written by the handler before Finish.
	Accepted bool
	Reason   bpwire.Reason
}

func NewBundleAcceptRequest(b *bundle.Bundle) *BundleAcceptRequest {
	return &BundleAcceptRequest{Meta: meta("bundle_accept_request", ProcessorInput, true), Bundle: b}
}

// BundleDeleteRequest asks the daemon to delete a bundle (admin request
// or router policy).
type BundleDeleteRequest struct {
	Meta
	Bundle *bundle.Bundle
	Reason bpwire.Reason
}

func NewBundleDeleteRequest(b *bundle.Bundle, reason bpwire.Reason) *BundleDeleteRequest {
	return &BundleDeleteRequest{Meta: meta("bundle_delete", ProcessorMain, true), Bundle: b, Reason: reason}
}

// BundleTakeCustodyRequest asks the daemon to attempt custody acceptance
// for a bundle it previously declined.
type BundleTakeCustodyRequest struct {
	Meta
	Bundle *bundle.Bundle
}

func NewBundleTakeCustodyRequest(b *bundle.Bundle) *BundleTakeCustodyRequest {
	return &BundleTakeCustodyRequest{Meta: meta("bundle_take_custody", ProcessorMain, true), Bundle: b}
}

// BundleCustodyAcceptedEvent reports that this node became the bundle's
// custodian.
type BundleCustodyAcceptedEvent struct {
	Meta
	Bundle    *bundle.Bundle
	CustodyID uint64
}

func NewBundleCustodyAccepted(b *bundle.Bundle, custodyID uint64) *BundleCustodyAcceptedEvent {
	return &BundleCustodyAcceptedEvent{Meta: meta("bundle_custody_accepted", ProcessorMain, false), Bundle: b, CustodyID: custodyID}
}

// BundleAckEvent reports an application-level acknowledgment for a
// delivered bundle.
type BundleAckEvent struct {
	Meta
	Bundle *bundle.Bundle
	RegID  uint64
}

func NewBundleAck(b *bundle.Bundle, regid uint64) *BundleAckEvent {
	return &BundleAckEvent{Meta: meta("bundle_ack", ProcessorMain, false), Bundle: b, RegID: regid}
}

// ReassemblyCompletedEvent reports that contiguous fragment coverage was
// achieved and the original bundle synthesized.
type ReassemblyCompletedEvent struct {
	Meta
	Original  *bundle.Bundle
	Fragments []*bundle.Bundle
}

func NewReassemblyCompleted(original *bundle.Bundle, fragments []*bundle.Bundle) *ReassemblyCompletedEvent {
	return &ReassemblyCompletedEvent{Meta: meta("reassembly_completed", ProcessorInput, true), Original: original, Fragments: fragments}
}

// --- link and contact events ---

// ContactUpEvent reports a convergence layer establishing a session.
type ContactUpEvent struct {
	Meta
	LinkName  string
	ContactID string
}

func NewContactUp(linkName, contactID string) *ContactUpEvent {
	return &ContactUpEvent{Meta: meta("contact_up", ProcessorMain, false), LinkName: linkName, ContactID: contactID}
}

// ContactDownEvent reports a session ending.
type ContactDownEvent struct {
	Meta
	LinkName string
	Reason   ContactDownReason
}

func NewContactDown(linkName string, reason ContactDownReason) *ContactDownEvent {
	return &ContactDownEvent{Meta: meta("contact_down", ProcessorMain, false), LinkName: linkName, Reason: reason}
}

// LinkCreatedEvent reports a new link entering the link table.
type LinkCreatedEvent struct {
	Meta
	LinkName string
}

func NewLinkCreated(linkName string) *LinkCreatedEvent {
	return &LinkCreatedEvent{Meta: meta("link_created", ProcessorMain, false), LinkName: linkName}
}

// LinkDeletedEvent reports a link leaving the link table.
type LinkDeletedEvent struct {
	Meta
	LinkName string
}

func NewLinkDeleted(linkName string) *LinkDeletedEvent {
	return &LinkDeletedEvent{Meta: meta("link_deleted", ProcessorMain, false), LinkName: linkName}
}

// LinkAvailableEvent reports a link becoming eligible to open.
type LinkAvailableEvent struct {
	Meta
	LinkName string
}

func NewLinkAvailable(linkName string) *LinkAvailableEvent {
	return &LinkAvailableEvent{Meta: meta("link_available", ProcessorMain, false), LinkName: linkName}
}

// LinkUnavailableEvent reports a link dropping out, with a reason from
// the convergence layer.
type LinkUnavailableEvent struct {
	Meta
	LinkName string
	Reason   string
}

func NewLinkUnavailable(linkName, reason string) *LinkUnavailableEvent {
	return &LinkUnavailableEvent{Meta: meta("link_unavailable", ProcessorMain, false), LinkName: linkName, Reason: reason}
}

// LinkStateChangeRequest is the single entry point for link state
// transitions; convergence layers and admin commands post these rather
// than mutating link state directly.
type LinkStateChangeRequest struct {
	Meta
	LinkName string
	Desired  link.State
	Reason   string
}

func NewLinkStateChangeRequest(linkName string, desired link.State, reason string) *LinkStateChangeRequest {
	return &LinkStateChangeRequest{Meta: meta("link_state_change_request", ProcessorMain, true), LinkName: linkName, Desired: desired, Reason: reason}
}

// LinkCheckDeferredEvent fires once per second per link while the link
// holds deferred bundles, giving the router a chance to re-evaluate.
type LinkCheckDeferredEvent struct {
	Meta
	LinkName string
}

func NewLinkCheckDeferred(linkName string) *LinkCheckDeferredEvent {
	return &LinkCheckDeferredEvent{Meta: meta("link_check_deferred", ProcessorMain, false), LinkName: linkName}
}

// LinkCancelAllBundlesRequest drains a link's queue and in-flight list.
type LinkCancelAllBundlesRequest struct {
	Meta
	LinkName string
}

func NewLinkCancelAllBundles(linkName string) *LinkCancelAllBundlesRequest {
	return &LinkCancelAllBundlesRequest{Meta: meta("link_cancel_all_bundles", ProcessorMain, true), LinkName: linkName}
}

// LinkTransmitReadyEvent nudges the output processor to drain a link's
// send queue: posted when a bundle is queued on an open link and when a
// contact comes up with work already waiting.
type LinkTransmitReadyEvent struct {
	Meta
	LinkName string
}

func NewLinkTransmitReady(linkName string) *LinkTransmitReadyEvent {
	return &LinkTransmitReadyEvent{Meta: meta("link_transmit_ready", ProcessorOutput, true), LinkName: linkName}
}

// --- registration events ---

// RegistrationAddedEvent reports a new local delivery endpoint.
type RegistrationAddedEvent struct {
	Meta
	RegID           uint64
	EndpointPattern string
}

func NewRegistrationAdded(regid uint64, pattern string) *RegistrationAddedEvent {
	return &RegistrationAddedEvent{Meta: meta("registration_added", ProcessorMain, false), RegID: regid, EndpointPattern: pattern}
}

// RegistrationRemovedEvent reports an application detaching.
type RegistrationRemovedEvent struct {
	Meta
	RegID uint64
}

func NewRegistrationRemoved(regid uint64) *RegistrationRemovedEvent {
	return &RegistrationRemovedEvent{Meta: meta("registration_removed", ProcessorMain, false), RegID: regid}
}

// RegistrationExpiredEvent reports a registration passing its
// expiration.
type RegistrationExpiredEvent struct {
	Meta
	RegID uint64
}

func NewRegistrationExpired(regid uint64) *RegistrationExpiredEvent {
	return &RegistrationExpiredEvent{Meta: meta("registration_expired", ProcessorMain, false), RegID: regid}
}

// RegistrationDeleteRequest asks the daemon to destroy a removed or
// expired registration once its delivery queue drains.
type RegistrationDeleteRequest struct {
	Meta
	RegID uint64
}

func NewRegistrationDeleteRequest(regid uint64) *RegistrationDeleteRequest {
	return &RegistrationDeleteRequest{Meta: meta("registration_delete", ProcessorMain, true), RegID: regid}
}

// DeliverBundleToRegRequest hands a specific bundle to a specific
// registration (deferred delivery, reg polling).
type DeliverBundleToRegRequest struct {
	Meta
	Bundle *bundle.Bundle
	RegID  uint64
}

func NewDeliverBundleToReg(b *bundle.Bundle, regid uint64) *DeliverBundleToRegRequest {
	return &DeliverBundleToRegRequest{Meta: meta("deliver_bundle_to_reg", ProcessorMain, true), Bundle: b, RegID: regid}
}

// --- storage events ---

// StoreBundleUpdateEvent asks the storage processor to persist a
// bundle's current state.
type StoreBundleUpdateEvent struct {
	Meta
	Bundle *bundle.Bundle
}

func NewStoreBundleUpdate(b *bundle.Bundle) *StoreBundleUpdateEvent {
	return &StoreBundleUpdateEvent{Meta: meta("store_bundle_update", ProcessorStorage, true), Bundle: b}
}

// StoreBundleDeleteEvent asks the storage processor to delete a
// bundle's durable record and payload file.
type StoreBundleDeleteEvent struct {
	Meta
	LocalID uint64
}

func NewStoreBundleDelete(localID uint64) *StoreBundleDeleteEvent {
	return &StoreBundleDeleteEvent{Meta: meta("store_bundle_delete", ProcessorStorage, true), LocalID: localID}
}

// StoreLinkUpdateEvent persists a link's durable parameters and stats.
type StoreLinkUpdateEvent struct {
	Meta
	LinkName string
}

func NewStoreLinkUpdate(linkName string) *StoreLinkUpdateEvent {
	return &StoreLinkUpdateEvent{Meta: meta("store_link_update", ProcessorStorage, true), LinkName: linkName}
}

// StoreLinkDeleteEvent removes a link's durable record.
type StoreLinkDeleteEvent struct {
	Meta
	LinkName string
}

func NewStoreLinkDelete(linkName string) *StoreLinkDeleteEvent {
	return &StoreLinkDeleteEvent{Meta: meta("store_link_delete", ProcessorStorage, true), LinkName: linkName}
}

// StoreRegistrationUpdateEvent persists a registration record.
type StoreRegistrationUpdateEvent struct {
	Meta
	RegID uint64
}

func NewStoreRegistrationUpdate(regid uint64) *StoreRegistrationUpdateEvent {
	return &StoreRegistrationUpdateEvent{Meta: meta("store_registration_update", ProcessorStorage, true), RegID: regid}
}

// StoreRegistrationDeleteEvent removes a registration record.
type StoreRegistrationDeleteEvent struct {
	Meta
	RegID uint64
}

func NewStoreRegistrationDelete(regid uint64) *StoreRegistrationDeleteEvent {
	return &StoreRegistrationDeleteEvent{Meta: meta("store_registration_delete", ProcessorStorage, true), RegID: regid}
}

// --- route events ---

// RouteAddEvent installs a route table entry.
type RouteAddEvent struct {
	Meta
	Entry route.Entry
}

func NewRouteAdd(e route.Entry) *RouteAddEvent {
	return &RouteAddEvent{Meta: meta("route_add", ProcessorMain, false), Entry: e}
}

// RouteDelEvent removes route table entries matching the pattern.
type RouteDelEvent struct {
	Meta
	DestPattern string
}

func NewRouteDel(destPattern string) *RouteDelEvent {
	return &RouteDelEvent{Meta: meta("route_del", ProcessorMain, false), DestPattern: destPattern}
}

// RouteRecomputeEvent asks the router to re-evaluate pending bundles
// after a topology change.
type RouteRecomputeEvent struct {
	Meta
}

func NewRouteRecompute() *RouteRecomputeEvent {
	return &RouteRecomputeEvent{Meta: meta("route_recompute", ProcessorMain, false)}
}

// --- custody events ---

// CustodySignalEvent reports a parsed custody signal arriving on the
// input path.
type CustodySignalEvent struct {
	Meta
	Signal bpwire.CustodySignal
}

func NewCustodySignalEvent(sig bpwire.CustodySignal) *CustodySignalEvent {
	return &CustodySignalEvent{Meta: meta("custody_signal", ProcessorMain, false), Signal: sig}
}

// CustodyTimeoutEvent fires when a custody retransmission timer expires
// without a downstream acknowledgment.
type CustodyTimeoutEvent struct {
	Meta
	Bundle   *bundle.Bundle
	LinkName string
}

func NewCustodyTimeout(b *bundle.Bundle, linkName string) *CustodyTimeoutEvent {
	return &CustodyTimeoutEvent{Meta: meta("custody_timeout", ProcessorMain, false), Bundle: b, LinkName: linkName}
}

// AggregateCustodySignalEvent reports a parsed ACS arriving on the input
// path; handled by the ACS processor.
type AggregateCustodySignalEvent struct {
	Meta
	Signal bpwire.AggregateCustodySignal
}

func NewAggregateCustodySignalEvent(sig bpwire.AggregateCustodySignal) *AggregateCustodySignalEvent {
	return &AggregateCustodySignalEvent{Meta: meta("aggregate_custody_signal", ProcessorACS, true), Signal: sig}
}

// IssueAggregateCustodySignalRequest asks the ACS processor to add a
// custody-id to (or flush) the pending ACS for a custodian.
type IssueAggregateCustodySignalRequest struct {
	Meta
	Custodian bpwire.EID
	Succeeded bool
	Reason    bpwire.Reason
	CustodyID uint64
}

func NewIssueAggregateCustodySignal(custodian bpwire.EID, succeeded bool, reason bpwire.Reason, custodyID uint64) *IssueAggregateCustodySignalRequest {
	return &IssueAggregateCustodySignalRequest{Meta: meta("issue_aggregate_custody_signal", ProcessorACS, true), Custodian: custodian, Succeeded: succeeded, Reason: reason, CustodyID: custodyID}
}

// ACSExpiredEvent fires when a pending ACS hits its per-key timeout and
// must be serialized and sent regardless of batch size.
type ACSExpiredEvent struct {
	Meta
	Custodian bpwire.EID
	Succeeded bool
	Reason    bpwire.Reason
}

func NewACSExpired(custodian bpwire.EID, succeeded bool, reason bpwire.Reason) *ACSExpiredEvent {
	return &ACSExpiredEvent{Meta: meta("acs_expired", ProcessorACS, true), Custodian: custodian, Succeeded: succeeded, Reason: reason}
}

// --- daemon events ---

// ShutdownRequest asks the daemon to stop; posted by signal handlers,
// the idle-shutdown timer, or a fatal-error escalation.
type ShutdownRequest struct {
	Meta
	Reason string
}

func NewShutdownRequest(reason string) *ShutdownRequest {
	return &ShutdownRequest{Meta: meta("daemon_shutdown", ProcessorMain, true), Reason: reason}
}

// DaemonStatusRequest asks for a liveness check; the handler fills the
// reply before Finish.
type DaemonStatusRequest struct {
	Meta

	// Reply fields.
	BundlesPending uint64
	EventsQueued   int
}

func NewDaemonStatusRequest() *DaemonStatusRequest {
	return &DaemonStatusRequest{Meta: meta("daemon_status", ProcessorMain, true)}
}
