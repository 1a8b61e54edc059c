package runtime

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/queue"
)

// queryable mirrors subscriber: one queue, one dispatch goroutine, FIFO
// delivery of incoming queries into the registered callback.
type queryable struct {
	expr     string
	complete bool
	q        *queue.Queue[*Query]
	cb       func(*Query)
	onClose  func()

	closed atomic.Bool
	done   chan struct{}
}

// Query is handed to queryable callbacks. By default the engine treats
// callback return as this queryable's end of contribution; a callback that
// hands the query off for asynchronous replying calls Detach, after which
// the holder must call Done (the query's timeout bounds a forgotten Done).
type Query struct {
	Selector   string
	Payload    []byte
	Encoding   string
	Attachment []byte

	eng      *Engine
	qry      *query
	detached atomic.Bool
	doneOnce sync.Once
}

// Detach transfers completion responsibility from the dispatcher to the
// query's holder.
func (q *Query) Detach() {
	q.detached.Store(true)
}

// Done marks this queryable's contribution finished. Safe to call more
// than once; only the first call counts.
func (q *Query) Done() {
	q.doneOnce.Do(q.qry.contributorDone)
}

// Reply sends a value reply for key. The key must be concrete and covered
// by the query's selector.
func (q *Query) Reply(key string, payload []byte, encoding string) error {
	return q.reply(key, KindPut, payload, encoding)
}

// ReplyDelete sends a deletion reply for key.
func (q *Query) ReplyDelete(key string) error {
	return q.reply(key, KindDelete, nil, "")
}

func (q *Query) reply(key string, kind SampleKind, payload []byte, encoding string) error {
	if err := ValidateKeyExpr(key); err != nil {
		return err
	}
	if HasWildcards(key) {
		return errors.WrapInvalid(errors.ErrInvalidKeyExpr, "Query", "Reply", "reject wildcard reply key")
	}
	if !KeyExprMatches(q.Selector, key) {
		return errors.WrapInvalid(
			fmt.Errorf("reply key %q not covered by selector %q: %w", key, q.Selector, errors.ErrReplyOutsideExpr),
			"Query", "Reply", "check reply key")
	}

	ts, seq := q.eng.stamp()
	return q.qry.contribute(Reply{
		Sample: Sample{
			KeyExpr:   key,
			Payload:   cloneBytes(payload),
			Encoding:  encoding,
			Kind:      kind,
			Timestamp: ts,
			Seq:       seq,
			Origin:    q.eng.id,
		},
		Origin: q.eng.id,
	})
}

// DeclareQueryable registers a query responder on expr. complete marks the
// responder as holding the complete data set for its expression; the flag
// travels with the declaration but the engine queries every intersecting
// responder regardless.
func (e *Engine) DeclareQueryable(
	session Handle,
	expr string,
	complete bool,
	capacity int,
	cb func(*Query),
	onClose func(),
) (Handle, error) {
	if _, err := e.lookup(session, kindSession); err != nil {
		return 0, err
	}
	if err := ValidateKeyExpr(expr); err != nil {
		return 0, err
	}
	if capacity <= 0 {
		capacity = DefaultSubscriberCapacity
	}

	qbl := &queryable{
		expr:     CanonizeKeyExpr(expr),
		complete: complete,
		q:        queue.New[*Query](capacity, queue.Block, nil),
		cb:       cb,
		onClose:  onClose,
		done:     make(chan struct{}),
	}

	h := e.allocHandle(&entity{kind: kindQueryable, qbl: qbl})
	e.queryables.Store(h, qbl)

	go e.dispatchQueries(qbl)

	return h, nil
}

// dispatchQueries drains the queryable's queue. A query reaching a closed
// queryable still gets its contributor-done signal so the querier is not
// left waiting for the timeout.
func (e *Engine) dispatchQueries(qbl *queryable) {
	defer close(qbl.done)

	for {
		q, ok := qbl.q.Pop()
		if !ok {
			break
		}
		if qbl.closed.Load() || qbl.cb == nil {
			q.Done()
			continue
		}
		e.safeInvoke("queryable", func() { qbl.cb(q) })
		if !q.detached.Load() {
			q.Done()
		}
	}

	if qbl.onClose != nil {
		e.safeInvoke("queryable close", qbl.onClose)
	}
}

func (q *queryable) close() {
	q.closed.Store(true)
	q.q.Close()
	<-q.done
}

type finishReason int

const (
	finishComplete finishReason = iota
	finishTimeout
	finishCancelled
)

func (r finishReason) String() string {
	switch r {
	case finishComplete:
		return "complete"
	case finishTimeout:
		return "timeout"
	case finishCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// query tracks one in-flight Get: its reply stream, the number of
// contributors still outstanding, and the deadline timer. Replies flow
// through a queue drained by a dedicated dispatch goroutine, giving the
// querier the same ordered, close-terminated stream a subscriber gets.
type query struct {
	selector string
	opts     GetOptions

	q       *queue.Queue[Reply]
	cb      func(Reply)
	onClose func()
	done    chan struct{}

	mu       sync.Mutex
	pending  int
	finished bool
	latest   map[string]Reply
	timer    *time.Timer

	eng    *Engine
	handle Handle
}

// Get issues a query for selector. cb receives replies on a dispatch
// goroutine; onClose fires exactly once when the query finishes, whether
// by completion, timeout, or cancellation via Free. Timeout expiry is a
// normal end of stream, not an error.
func (e *Engine) Get(
	session Handle,
	selector string,
	opts GetOptions,
	cb func(Reply),
	onClose func(),
) (Handle, error) {
	if _, err := e.lookup(session, kindSession); err != nil {
		return 0, err
	}
	if err := ValidateKeyExpr(selector); err != nil {
		return 0, err
	}
	selector = CanonizeKeyExpr(selector)

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultQueryTimeout
	}
	if opts.Origin == "" {
		opts.Origin = e.id
	}

	qry := &query{
		selector: selector,
		opts:     opts,
		q:        queue.New[Reply](DefaultSubscriberCapacity, queue.Block, nil),
		cb:       cb,
		onClose:  onClose,
		done:     make(chan struct{}),
		eng:      e,
	}
	if opts.Consolidation == ConsolidationLatest {
		qry.latest = make(map[string]Reply)
	}

	h := e.allocHandle(&entity{kind: kindQuery, qry: qry})
	qry.handle = h
	e.met.QueryStarted()

	go e.dispatchReplies(qry)

	// Snapshot local targets and egress hooks before fan-out so the
	// pending count is fixed up front.
	var targets []*queryable
	e.queryables.Range(func(_ Handle, qbl *queryable) bool {
		if qbl.closed.Load() || !KeyExprIntersects(qbl.expr, selector) {
			return true
		}
		if opts.Target == TargetAllComplete && !qbl.complete {
			return true
		}
		targets = append(targets, qbl)
		return true
	})

	var hooks []QueryEgressFunc
	if opts.Origin == e.id {
		e.egressMu.RLock()
		for _, fn := range e.queryEgress {
			hooks = append(hooks, fn)
		}
		e.egressMu.RUnlock()
	}

	qry.mu.Lock()
	qry.pending = len(targets) + len(hooks)
	qry.timer = time.AfterFunc(opts.Timeout, func() { qry.finish(finishTimeout) })
	qry.mu.Unlock()

	for _, qbl := range targets {
		ev := &Query{
			Selector:   selector,
			Payload:    cloneBytes(opts.Payload),
			Encoding:   opts.Encoding,
			Attachment: cloneBytes(opts.Attachment),
			eng:        e,
			qry:        qry,
		}
		if ok, dropped := qbl.q.TryPush(ev); !ok || dropped {
			// Queryable closed or congested between snapshot and fan-out.
			ev.Done()
		}
	}

	for _, fn := range hooks {
		fn(selector, opts, func(r Reply) { _ = qry.contribute(r) }, qry.contributorDone)
	}

	if len(targets)+len(hooks) == 0 {
		qry.finish(finishComplete)
	}

	return h, nil
}

// dispatchReplies drains the reply queue into the querier's callback.
func (e *Engine) dispatchReplies(qry *query) {
	defer close(qry.done)

	for {
		r, ok := qry.q.Pop()
		if !ok {
			break
		}
		if qry.cb != nil {
			e.safeInvoke("reply", func() { qry.cb(r) })
		}
		e.met.ReplyDelivered()
	}

	if qry.onClose != nil {
		e.safeInvoke("query close", qry.onClose)
	}
}

// contribute accepts one reply. Late replies arriving after the query
// finished are counted and discarded, never delivered.
func (qry *query) contribute(r Reply) error {
	qry.mu.Lock()
	if qry.finished {
		qry.mu.Unlock()
		qry.eng.met.SampleDropped("late_reply")
		return errors.WrapInvalid(errors.ErrQueryFinished, "query", "contribute", "accept reply")
	}

	if qry.latest != nil {
		cur, seen := qry.latest[r.Sample.KeyExpr]
		if !seen || newerThan(r.Sample, cur.Sample) {
			qry.latest[r.Sample.KeyExpr] = r
		}
		qry.mu.Unlock()
		return nil
	}
	qry.mu.Unlock()

	if ok, _ := qry.q.Push(r); !ok {
		qry.eng.met.SampleDropped("late_reply")
	}
	return nil
}

func (qry *query) contributorDone() {
	qry.mu.Lock()
	qry.pending--
	finished := qry.pending <= 0 && !qry.finished
	qry.mu.Unlock()

	if finished {
		qry.finish(finishComplete)
	}
}

// finish closes the reply stream exactly once. Consolidated replies are
// flushed in key order before the queue closes.
func (qry *query) finish(reason finishReason) {
	qry.mu.Lock()
	if qry.finished {
		qry.mu.Unlock()
		return
	}
	qry.finished = true
	if qry.timer != nil {
		qry.timer.Stop()
	}
	var flush []Reply
	if qry.latest != nil {
		keys := make([]string, 0, len(qry.latest))
		for k := range qry.latest {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flush = append(flush, qry.latest[k])
		}
		qry.latest = nil
	}
	qry.mu.Unlock()

	for _, r := range flush {
		qry.q.Push(r)
	}
	qry.q.Close()

	qry.eng.handles.Delete(qry.handle)
	qry.eng.met.QueryFinished(reason.String())
}

func newerThan(a, b Sample) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.Seq > b.Seq
	}
	return a.Timestamp.After(b.Timestamp)
}

// ServeQuery routes a query arriving from a mesh link to local queryables
// only, streaming replies through contribute and signalling done when all
// local responders have finished. Link-originated queries never re-enter
// the link's own egress hooks.
func (e *Engine) ServeQuery(selector string, opts GetOptions, contribute func(Reply), done func()) {
	if err := ValidateKeyExpr(selector); err != nil {
		done()
		return
	}
	selector = CanonizeKeyExpr(selector)

	qry := &query{
		selector: selector,
		opts:     opts,
		q:        queue.New[Reply](DefaultSubscriberCapacity, queue.Block, nil),
		cb:       contribute,
		onClose:  done,
		done:     make(chan struct{}),
		eng:      e,
	}
	e.met.QueryStarted()

	go e.dispatchReplies(qry)

	var targets []*queryable
	e.queryables.Range(func(_ Handle, qbl *queryable) bool {
		if qbl.closed.Load() || !KeyExprIntersects(qbl.expr, selector) {
			return true
		}
		if opts.Target == TargetAllComplete && !qbl.complete {
			return true
		}
		targets = append(targets, qbl)
		return true
	})

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	qry.mu.Lock()
	qry.pending = len(targets)
	qry.timer = time.AfterFunc(timeout, func() { qry.finish(finishTimeout) })
	qry.mu.Unlock()

	for _, qbl := range targets {
		ev := &Query{
			Selector:   selector,
			Payload:    cloneBytes(opts.Payload),
			Encoding:   opts.Encoding,
			Attachment: cloneBytes(opts.Attachment),
			eng:        e,
			qry:        qry,
		}
		if ok, dropped := qbl.q.TryPush(ev); !ok || dropped {
			ev.Done()
		}
	}

	if len(targets) == 0 {
		qry.finish(finishComplete)
	}
}
