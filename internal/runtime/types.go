package runtime

import "time"

// Handle identifies an engine-owned resource. A handle is valid from the
// moment the allocating call returns until the first Free; it is never
// reused afterwards.
type Handle uint64

// SampleKind distinguishes value publications from key removals.
type SampleKind int

const (
	// KindPut carries a payload for a key.
	KindPut SampleKind = iota
	// KindDelete marks a key as removed.
	KindDelete
)

// String returns the string representation of the sample kind.
func (k SampleKind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// CongestionControl selects how a publication behaves when a matching
// subscriber's delivery queue is full.
type CongestionControl int

const (
	// CongestionBlock applies backpressure to the publishing caller.
	CongestionBlock CongestionControl = iota
	// CongestionDrop discards the sample for the congested subscriber.
	CongestionDrop
)

// String returns the string representation of the congestion control mode.
func (c CongestionControl) String() string {
	switch c {
	case CongestionBlock:
		return "block"
	case CongestionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Priority orders publications; lower values are more urgent. The engine
// records it on each sample but does not reorder deliveries: per-declaration
// FIFO always wins over priority.
type Priority int

const (
	PriorityRealTime    Priority = 1
	PriorityInteractive Priority = 3
	PriorityData        Priority = 5
	PriorityBackground  Priority = 7
)

// QoS groups the per-publication quality-of-service settings.
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

// Sample is an immutable event crossing the bridge. The engine copies the
// payload before routing so callers may reuse their buffers after Put
// returns, and receivers own what they are handed.
type Sample struct {
	KeyExpr    string
	Payload    []byte
	Encoding   string
	Kind       SampleKind
	Timestamp  time.Time
	Seq        uint64
	QoS        QoS
	Attachment []byte
	Origin     string
}

// Reply is one queryable's answer to a query.
type Reply struct {
	Sample Sample
	Origin string
}

// ConsolidationMode selects how duplicate replies for one key are merged
// before delivery to the querier.
type ConsolidationMode int

const (
	// ConsolidationNone streams every reply as it arrives.
	ConsolidationNone ConsolidationMode = iota
	// ConsolidationLatest delivers only the newest reply per key,
	// flushed when the query finishes.
	ConsolidationLatest
)

// String returns the string representation of the consolidation mode.
func (m ConsolidationMode) String() string {
	switch m {
	case ConsolidationNone:
		return "none"
	case ConsolidationLatest:
		return "latest"
	default:
		return "unknown"
	}
}

// QueryTarget selects which queryables a query is routed to.
type QueryTarget int

const (
	// TargetAll queries every queryable intersecting the selector.
	TargetAll QueryTarget = iota
	// TargetAllComplete queries only queryables declared complete.
	TargetAllComplete
)

// String returns the string representation of the query target.
func (t QueryTarget) String() string {
	switch t {
	case TargetAll:
		return "all"
	case TargetAllComplete:
		return "all_complete"
	default:
		return "unknown"
	}
}

// GetOptions configures a query issued through Engine.Get.
type GetOptions struct {
	Payload       []byte
	Encoding      string
	Attachment    []byte
	Timeout       time.Duration
	Consolidation ConsolidationMode
	Target        QueryTarget
	Origin        string
}

// DefaultQueryTimeout bounds queries whose caller did not set one.
const DefaultQueryTimeout = 10 * time.Second
