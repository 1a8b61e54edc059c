// Package runtime implements the in-process engine behind a keymesh session:
// handle ownership, key-expression routing, per-declaration dispatch, and the
// query/reply machinery. Public wrappers in the root package hold engine
// handles and forward calls here; every callback a wrapper registers is
// invoked on one of the engine's dispatch goroutines, never on the caller's.
package runtime

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/c360/keymesh/errors"
)

// Logger is the minimal logging surface the engine needs. The root package
// forwards whatever logger the session was configured with.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[keymesh] "+format, v...)
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	log.Printf("[keymesh error] "+format, v...)
}

func (l *defaultLogger) Debugf(_ string, _ ...any) {
	// Silent by default
}

// Metrics receives engine-level events. Implemented by the metric package;
// a no-op implementation is used when none is configured.
type Metrics interface {
	HandleOpened(kind string)
	HandleClosed(kind string)
	SampleRouted(kind string)
	SampleDelivered()
	SampleDropped(reason string)
	QueryStarted()
	QueryFinished(reason string)
	ReplyDelivered()
}

type nopMetrics struct{}

func (nopMetrics) HandleOpened(string)   {}
func (nopMetrics) HandleClosed(string)   {}
func (nopMetrics) SampleRouted(string)   {}
func (nopMetrics) SampleDelivered()      {}
func (nopMetrics) SampleDropped(string)  {}
func (nopMetrics) QueryStarted()         {}
func (nopMetrics) QueryFinished(string)  {}
func (nopMetrics) ReplyDelivered()       {}

// EgressFunc observes every locally published sample. Registered by mesh
// links to mirror traffic out of the process.
type EgressFunc func(Sample)

// QueryEgressFunc forwards a local query to remote queryables. The
// implementation must call done exactly once when its remote collection is
// finished (or failed); contribute may be called any number of times before
// that.
type QueryEgressFunc func(selector string, opts GetOptions, contribute func(Reply), done func())

// Engine is the process-side pub/sub and query core. One shared instance
// normally serves the whole process; isolated instances exist for tests.
type Engine struct {
	id     string
	logger Logger
	met    Metrics

	nextHandle atomic.Uint64
	seq        atomic.Uint64

	handles     *xsync.MapOf[Handle, *entity]
	subscribers *xsync.MapOf[Handle, *subscriber]
	queryables  *xsync.MapOf[Handle, *queryable]

	egressMu    sync.RWMutex
	egress      map[int]EgressFunc
	queryEgress map[int]QueryEgressFunc
	nextEgress  int
}

type entityKind int

const (
	kindSession entityKind = iota
	kindPublisher
	kindSubscriber
	kindQueryable
	kindKeyExpr
	kindQuery
)

func (k entityKind) String() string {
	switch k {
	case kindSession:
		return "session"
	case kindPublisher:
		return "publisher"
	case kindSubscriber:
		return "subscriber"
	case kindQueryable:
		return "queryable"
	case kindKeyExpr:
		return "keyexpr"
	case kindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// entity pairs a handle's kind with its state. Exactly one of the typed
// fields is set, matching kind.
type entity struct {
	kind entityKind
	ses  *sessionEntity
	pub  *publisherEntity
	sub  *subscriber
	qbl  *queryable
	ke   *keyExprEntity
	qry  *query
}

type sessionEntity struct {
	name string
}

type publisherEntity struct {
	key      string
	encoding string
	qos      QoS
}

type keyExprEntity struct {
	expr string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the engine metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.met = m
		}
	}
}

// NewEngine creates an isolated engine instance.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		id:          nuid.Next(),
		logger:      &defaultLogger{},
		met:         nopMetrics{},
		handles:     xsync.NewMapOf[Handle, *entity](),
		subscribers: xsync.NewMapOf[Handle, *subscriber](),
		queryables:  xsync.NewMapOf[Handle, *queryable](),
		egress:      make(map[int]EgressFunc),
		queryEgress: make(map[int]QueryEgressFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	sharedOnce   sync.Once
	sharedEngine *Engine
)

// Shared returns the process-wide engine, creating it on first use. All
// sessions opened without an isolated engine route through this instance,
// so publishers and subscribers in one process see each other without any
// network link. It is never torn down before process exit. Options take
// effect only on the call that creates the engine; later calls ignore them.
func Shared(opts ...Option) *Engine {
	sharedOnce.Do(func() {
		sharedEngine = NewEngine(opts...)
	})
	return sharedEngine
}

// ID returns the engine's mesh-unique identity, used as the origin tag on
// locally published samples.
func (e *Engine) ID() string {
	return e.id
}

// Logger returns the engine logger.
func (e *Engine) Logger() Logger {
	return e.logger
}

func (e *Engine) allocHandle(ent *entity) Handle {
	h := Handle(e.nextHandle.Add(1))
	e.handles.Store(h, ent)
	e.met.HandleOpened(ent.kind.String())
	return h
}

func (e *Engine) lookup(h Handle, kind entityKind) (*entity, error) {
	ent, ok := e.handles.Load(h)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrHandleClosed, "Engine", "lookup", "resolve handle")
	}
	if ent.kind != kind {
		return nil, errors.WrapInvalid(
			fmt.Errorf("handle is a %s, expected %s: %w", ent.kind, kind, errors.ErrUnknownHandle),
			"Engine", "lookup", "check handle kind")
	}
	return ent, nil
}

// stamp assigns the publication timestamp and engine-wide sequence number.
// The sequence breaks ties between samples carrying equal wall-clock times
// during consolidation.
func (e *Engine) stamp() (time.Time, uint64) {
	return time.Now(), e.seq.Add(1)
}

// OpenSession allocates a session handle. Sessions track nothing beyond
// their identity: declarations made through a session deliberately outlive
// it (see Free on kindSession).
func (e *Engine) OpenSession(name string) (Handle, error) {
	if name == "" {
		name = "session-" + nuid.Next()
	}
	h := e.allocHandle(&entity{kind: kindSession, ses: &sessionEntity{name: name}})
	e.logger.Debugf("opened session %q handle=%d", name, h)
	return h, nil
}

// DeclareKeyExpr interns a validated key expression and returns its handle.
func (e *Engine) DeclareKeyExpr(session Handle, expr string) (Handle, error) {
	if _, err := e.lookup(session, kindSession); err != nil {
		return 0, err
	}
	if err := ValidateKeyExpr(expr); err != nil {
		return 0, err
	}
	expr = CanonizeKeyExpr(expr)
	return e.allocHandle(&entity{kind: kindKeyExpr, ke: &keyExprEntity{expr: expr}}), nil
}

// KeyExprString returns the interned expression for a key-expression handle.
func (e *Engine) KeyExprString(h Handle) (string, error) {
	ent, err := e.lookup(h, kindKeyExpr)
	if err != nil {
		return "", err
	}
	return ent.ke.expr, nil
}

// DeclarePublisher registers a publisher for a wildcard-free key.
func (e *Engine) DeclarePublisher(session Handle, key, encoding string, qos QoS) (Handle, error) {
	if _, err := e.lookup(session, kindSession); err != nil {
		return 0, err
	}
	if err := ValidateKeyExpr(key); err != nil {
		return 0, err
	}
	if HasWildcards(key) {
		return 0, errors.WrapInvalid(
			fmt.Errorf("publisher key %q contains wildcards: %w", key, errors.ErrInvalidKeyExpr),
			"Engine", "DeclarePublisher", "check key")
	}
	ent := &entity{kind: kindPublisher, pub: &publisherEntity{
		key:      key,
		encoding: encoding,
		qos:      qos,
	}}
	return e.allocHandle(ent), nil
}

// AddEgress registers a sample egress hook and returns its removal func.
func (e *Engine) AddEgress(fn EgressFunc) func() {
	e.egressMu.Lock()
	id := e.nextEgress
	e.nextEgress++
	e.egress[id] = fn
	e.egressMu.Unlock()

	return func() {
		e.egressMu.Lock()
		delete(e.egress, id)
		e.egressMu.Unlock()
	}
}

// AddQueryEgress registers a query egress hook and returns its removal func.
func (e *Engine) AddQueryEgress(fn QueryEgressFunc) func() {
	e.egressMu.Lock()
	id := e.nextEgress
	e.nextEgress++
	e.queryEgress[id] = fn
	e.egressMu.Unlock()

	return func() {
		e.egressMu.Lock()
		delete(e.queryEgress, id)
		e.egressMu.Unlock()
	}
}

// Free releases any handle. Only the first Free for a handle performs the
// release; later calls report ErrHandleClosed. Freeing a session does NOT
// free declarations made through it: returned declaration objects stay
// valid until their own Free.
func (e *Engine) Free(h Handle) error {
	ent, ok := e.handles.LoadAndDelete(h)
	if !ok {
		return errors.WrapInvalid(errors.ErrHandleClosed, "Engine", "Free", "resolve handle")
	}
	e.met.HandleClosed(ent.kind.String())

	switch ent.kind {
	case kindSubscriber:
		e.subscribers.Delete(h)
		ent.sub.close()
	case kindQueryable:
		e.queryables.Delete(h)
		ent.qbl.close()
	case kindQuery:
		ent.qry.finish(finishCancelled)
	case kindSession:
		e.logger.Debugf("closed session %q handle=%d", ent.ses.name, h)
	case kindPublisher, kindKeyExpr:
		// Stateless beyond the handle table entry.
	}
	return nil
}

// safeInvoke runs a bridge-boundary callback, recovering panics so user
// code can never unwind into a dispatch goroutine.
func (e *Engine) safeInvoke(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("panic in %s callback: %v", what, r)
		}
	}()
	fn()
}
