package keymesh

import (
	"time"

	"github.com/c360/keymesh/internal/runtime"
)

// SampleKind distinguishes value publications from key removals.
type SampleKind int

const (
	// SampleKindPut carries a payload for a key.
	SampleKindPut SampleKind = SampleKind(runtime.KindPut)
	// SampleKindDelete marks a key as removed.
	SampleKindDelete SampleKind = SampleKind(runtime.KindDelete)
)

// String returns the string representation of the sample kind.
func (k SampleKind) String() string {
	return runtime.SampleKind(k).String()
}

// Encoding identifies the payload format of a sample or reply. It is an
// opaque MIME-style string; the engine never interprets it.
type Encoding string

// Common encodings.
const (
	EncodingBytes     Encoding = "application/octet-stream"
	EncodingTextPlain Encoding = "text/plain"
	EncodingJSON      Encoding = "application/json"
	EncodingCBOR      Encoding = "application/cbor"
	EncodingInt       Encoding = "application/integer"
	EncodingFloat     Encoding = "application/float"
)

// CongestionControl selects how a publication behaves when a matching
// subscriber's delivery queue is full.
type CongestionControl int

const (
	// CongestionBlock applies backpressure to the publishing caller.
	CongestionBlock CongestionControl = CongestionControl(runtime.CongestionBlock)
	// CongestionDrop discards the sample for the congested subscriber.
	CongestionDrop CongestionControl = CongestionControl(runtime.CongestionDrop)
)

// String returns the string representation of the congestion control mode.
func (c CongestionControl) String() string {
	return runtime.CongestionControl(c).String()
}

// Priority orders publications; lower values are more urgent.
type Priority int

// Priority levels, from most to least urgent.
const (
	PriorityRealTime    Priority = Priority(runtime.PriorityRealTime)
	PriorityInteractive Priority = Priority(runtime.PriorityInteractive)
	PriorityData        Priority = Priority(runtime.PriorityData)
	PriorityBackground  Priority = Priority(runtime.PriorityBackground)
)

// QoS groups the quality-of-service settings attached to a publication.
type QoS struct {
	Priority          Priority
	CongestionControl CongestionControl
	Express           bool
}

// DefaultQoS returns the QoS applied when a publisher does not configure one.
func DefaultQoS() QoS {
	return QoS{
		Priority:          PriorityData,
		CongestionControl: CongestionBlock,
	}
}

func (q QoS) toRuntime() runtime.QoS {
	return runtime.QoS{
		Priority:          runtime.Priority(q.Priority),
		CongestionControl: runtime.CongestionControl(q.CongestionControl),
		Express:           q.Express,
	}
}

// ConsolidationMode selects how duplicate replies for one key are merged
// before delivery to the querier.
type ConsolidationMode int

const (
	// ConsolidationNone streams every reply as it arrives.
	ConsolidationNone ConsolidationMode = ConsolidationMode(runtime.ConsolidationNone)
	// ConsolidationLatest delivers only the newest reply per key.
	ConsolidationLatest ConsolidationMode = ConsolidationMode(runtime.ConsolidationLatest)
)

// QueryTarget selects which queryables a query is routed to.
type QueryTarget int

const (
	// TargetAll queries every queryable intersecting the selector.
	TargetAll QueryTarget = QueryTarget(runtime.TargetAll)
	// TargetAllComplete queries only queryables declared complete.
	TargetAllComplete QueryTarget = QueryTarget(runtime.TargetAllComplete)
)

// Sample is one event delivered to a subscriber. Samples are immutable
// values owned by the receiver: the payload is copied out of the engine
// before delivery and is never shared with other receivers' mutations.
type Sample struct {
	KeyExpr    string
	Payload    []byte
	Encoding   Encoding
	Kind       SampleKind
	Timestamp  time.Time
	QoS        QoS
	Attachment []byte
	Origin     string
}

// PayloadString returns the payload decoded as a UTF-8 string.
func (s Sample) PayloadString() string {
	return string(s.Payload)
}

// Reply is one queryable's answer to a Get.
type Reply struct {
	Sample Sample
	Origin string
}

func sampleFromRuntime(rs runtime.Sample) Sample {
	return Sample{
		KeyExpr:  rs.KeyExpr,
		Payload:  rs.Payload,
		Encoding: Encoding(rs.Encoding),
		Kind:     SampleKind(rs.Kind),

		Timestamp: rs.Timestamp,
		QoS: QoS{
			Priority:          Priority(rs.QoS.Priority),
			CongestionControl: CongestionControl(rs.QoS.CongestionControl),
			Express:           rs.QoS.Express,
		},
		Attachment: rs.Attachment,
		Origin:     rs.Origin,
	}
}

func replyFromRuntime(rr runtime.Reply) Reply {
	return Reply{
		Sample: sampleFromRuntime(rr.Sample),
		Origin: rr.Origin,
	}
}
