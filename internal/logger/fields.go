package logger

import "log/slog"

// Standard field keys for structured logging across the bundle-processing
// core. Use these keys consistently across all log statements so log
// aggregation and querying stay uniform regardless of which processor or
// subsystem emitted the line.
const (
	// ========================================================================
	// Distributed tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Event bus
	// ========================================================================
	KeyProcessor = "processor"  // event-bus processor: main, input, output, storage, acs
	KeyEventType = "event_type" // event type name

	// ========================================================================
	// Bundle identity
	// ========================================================================
	KeyBundleID   = "bundle_id"   // local bundle-id
	KeyGBOFID     = "gbof_id"     // source+timestamp+fragment string identity
	KeySource     = "source"      // source endpoint id
	KeyDest       = "dest"        // destination endpoint id
	KeyCustodian  = "custodian"   // current custodian endpoint id
	KeyPrevHop    = "prev_hop"    // previous-hop endpoint id
	KeyPayloadLen = "payload_len" // payload length in bytes
	KeyPriority   = "priority"    // bulk/normal/expedited/reserved

	// ========================================================================
	// Link & contact
	// ========================================================================
	KeyLink       = "link"        // link name
	KeyLinkType   = "link_type"   // alwayson/ondemand/scheduled/opportunistic
	KeyLinkState  = "link_state"  // unavailable/available/opening/open
	KeyNextHop    = "next_hop"    // convergence-layer next-hop string
	KeyContactID  = "contact_id"  // contact correlation id

	// ========================================================================
	// Custody & ACS
	// ========================================================================
	KeyCustodyID = "custody_id" // node-local custody-id
	KeyReason    = "reason"     // status-report/custody-signal reason code
	KeyACSKey    = "acs_key"    // (custodian, success, reason) batching key

	// ========================================================================
	// Storage
	// ========================================================================
	KeyQuotaUsed  = "quota_used"
	KeyQuotaLimit = "quota_limit"

	// ========================================================================
	// Error classification
	// ========================================================================
	KeyErrorKind = "error_kind"
	KeyError     = "error"
)

func TraceID(id string) slog.Attr    { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr     { return slog.String(KeySpanID, id) }
func Processor(name string) slog.Attr { return slog.String(KeyProcessor, name) }
func EventType(name string) slog.Attr { return slog.String(KeyEventType, name) }
func BundleID(id uint64) slog.Attr   { return slog.Uint64(KeyBundleID, id) }
func GBOFID(id string) slog.Attr     { return slog.String(KeyGBOFID, id) }
func Source(eid string) slog.Attr    { return slog.String(KeySource, eid) }
func Dest(eid string) slog.Attr      { return slog.String(KeyDest, eid) }
func Custodian(eid string) slog.Attr { return slog.String(KeyCustodian, eid) }
func PrevHop(eid string) slog.Attr   { return slog.String(KeyPrevHop, eid) }
func PayloadLen(n uint64) slog.Attr  { return slog.Uint64(KeyPayloadLen, n) }
func Link(name string) slog.Attr     { return slog.String(KeyLink, name) }
func LinkType(t string) slog.Attr    { return slog.String(KeyLinkType, t) }
func LinkState(s string) slog.Attr   { return slog.String(KeyLinkState, s) }
func NextHop(s string) slog.Attr     { return slog.String(KeyNextHop, s) }
func ContactID(id string) slog.Attr  { return slog.String(KeyContactID, id) }
func CustodyID(id uint64) slog.Attr  { return slog.Uint64(KeyCustodyID, id) }
func Reason(r string) slog.Attr      { return slog.String(KeyReason, r) }
func ACSKey(key string) slog.Attr    { return slog.String(KeyACSKey, key) }
func QuotaUsed(n uint64) slog.Attr   { return slog.Uint64(KeyQuotaUsed, n) }
func QuotaLimit(n uint64) slog.Attr  { return slog.Uint64(KeyQuotaLimit, n) }
func ErrorKind(kind string) slog.Attr { return slog.String(KeyErrorKind, kind) }
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
