package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for bundle-processing spans. These follow
// OpenTelemetry semantic-convention style (dotted, lowercase) scoped under
// a "bundle." / "link." / "custody." prefix per subsystem.
const (
	// ========================================================================
	// Event bus attributes
	// ========================================================================
	AttrProcessor = "eventbus.processor" // main, input, output, storage, acs
	AttrEventType = "eventbus.event"     // event type name

	// ========================================================================
	// Bundle attributes
	// ========================================================================
	AttrBundleID   = "bundle.id"
	AttrGBOFID     = "bundle.gbof_id"
	AttrSource     = "bundle.source"
	AttrDest       = "bundle.dest"
	AttrPayloadLen = "bundle.payload_len"
	AttrPriority   = "bundle.priority"
	AttrIsAdmin    = "bundle.is_admin"
	AttrIsFragment = "bundle.is_fragment"

	// ========================================================================
	// Link & contact attributes
	// ========================================================================
	AttrLinkName  = "link.name"
	AttrLinkType  = "link.type"
	AttrLinkState = "link.state"
	AttrNextHop   = "link.next_hop"
	AttrContactID = "link.contact_id"

	// ========================================================================
	// Custody attributes
	// ========================================================================
	AttrCustodyID  = "custody.id"
	AttrCustodian  = "custody.custodian"
	AttrReason     = "custody.reason"
	AttrACSKey     = "custody.acs_key"
	AttrACSBatch   = "custody.acs_batch_size"

	// ========================================================================
	// Store attributes
	// ========================================================================
	AttrStoreQuotaUsed  = "store.quota_used"
	AttrStoreQuotaLimit = "store.quota_limit"
)

// Span names, one per event-processor entry point plus internal storage
// and custody operations. Format: <processor>.<event> for dispatch spans,
// <component>.<operation> for internal operations.
const (
	// Per-processor event dispatch
	SpanMainDispatch    = "main.dispatch"
	SpanInputProcess    = "input.process"
	SpanOutputTransmit  = "output.transmit"
	SpanStoragePersist  = "storage.persist"
	SpanACSBatch        = "acs.batch"

	// Codec operations
	SpanCodecEncode = "codec.encode"
	SpanCodecDecode = "codec.decode"

	// Bundle store operations
	SpanStoreAdd    = "bundlestore.add"
	SpanStoreGet    = "bundlestore.get"
	SpanStoreDelete = "bundlestore.delete"

	// Link operations
	SpanLinkOpen  = "link.open"
	SpanLinkClose = "link.close"
	SpanLinkQueue = "link.queue"

	// Custody operations
	SpanCustodyAccept    = "custody.accept"
	SpanCustodyRelease   = "custody.release"
	SpanCustodyTimeout   = "custody.timeout"

	// Fragmentation
	SpanFragmentSplit     = "fragment.split"
	SpanFragmentReassemble = "fragment.reassemble"

	// Routing
	SpanRouteSelect = "route.select"
)

func Processor(name string) attribute.KeyValue { return attribute.String(AttrProcessor, name) }
func EventType(name string) attribute.KeyValue { return attribute.String(AttrEventType, name) }

func BundleID(id uint64) attribute.KeyValue { return attribute.Int64(AttrBundleID, int64(id)) }
func GBOFID(id string) attribute.KeyValue   { return attribute.String(AttrGBOFID, id) }
func Source(eid string) attribute.KeyValue  { return attribute.String(AttrSource, eid) }
func Dest(eid string) attribute.KeyValue    { return attribute.String(AttrDest, eid) }
func PayloadLen(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrPayloadLen, int64(n))
}
func Priority(p string) attribute.KeyValue   { return attribute.String(AttrPriority, p) }
func IsAdmin(v bool) attribute.KeyValue      { return attribute.Bool(AttrIsAdmin, v) }
func IsFragment(v bool) attribute.KeyValue   { return attribute.Bool(AttrIsFragment, v) }

func LinkName(name string) attribute.KeyValue { return attribute.String(AttrLinkName, name) }
func LinkType(t string) attribute.KeyValue    { return attribute.String(AttrLinkType, t) }
func LinkState(s string) attribute.KeyValue   { return attribute.String(AttrLinkState, s) }
func NextHop(s string) attribute.KeyValue     { return attribute.String(AttrNextHop, s) }
func ContactID(id string) attribute.KeyValue  { return attribute.String(AttrContactID, id) }

func CustodyID(id uint64) attribute.KeyValue { return attribute.Int64(AttrCustodyID, int64(id)) }
func Custodian(eid string) attribute.KeyValue { return attribute.String(AttrCustodian, eid) }
func Reason(r string) attribute.KeyValue      { return attribute.String(AttrReason, r) }
func ACSKey(key string) attribute.KeyValue    { return attribute.String(AttrACSKey, key) }
func ACSBatchSize(n int) attribute.KeyValue   { return attribute.Int(AttrACSBatch, n) }

func StoreQuotaUsed(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrStoreQuotaUsed, int64(n))
}
func StoreQuotaLimit(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrStoreQuotaLimit, int64(n))
}

// StartEventSpan starts a span for a processor handling one event,
// tagging it with the processor name and event type.
func StartEventSpan(ctx context.Context, processor, eventType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Processor(processor),
		EventType(eventType),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, processor+"."+eventType, trace.WithAttributes(allAttrs...))
}

// StartBundleSpan starts a span scoped to one bundle-id, for the given
// component.operation name (e.g. "bundlestore.add", "fragment.split").
func StartBundleSpan(ctx context.Context, spanName string, bundleID uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		BundleID(bundleID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}

// StartLinkSpan starts a span scoped to one link, for the given
// component.operation name (e.g. "link.open", "link.queue").
func StartLinkSpan(ctx context.Context, spanName, link string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		LinkName(link),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}
