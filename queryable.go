package keymesh

import (
	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/runtime"
)

// Query is an incoming query delivered to a queryable. Reply any number of
// times, then Finish. For callback receivers the bridge finishes the query
// automatically when the callback returns; a callback that replies
// asynchronously holds the query past return by having the builder use
// Channel or a Handler that calls Detach.
type Query struct {
	rq *runtime.Query
}

// Selector returns the query's key expression.
func (q *Query) Selector() string {
	return q.rq.Selector
}

// Payload returns the query body, if any.
func (q *Query) Payload() []byte {
	return q.rq.Payload
}

// Encoding returns the query body encoding.
func (q *Query) Encoding() Encoding {
	return Encoding(q.rq.Encoding)
}

// Attachment returns the query's out-of-band metadata.
func (q *Query) Attachment() []byte {
	return q.rq.Attachment
}

// Reply sends a value reply on key, which must be concrete and covered by
// the selector.
func (q *Query) Reply(key string, payload []byte, opts ...PutOption) error {
	var params putParams
	for _, opt := range opts {
		opt(&params)
	}
	return q.rq.Reply(key, payload, string(params.encoding))
}

// ReplyDelete sends a deletion reply on key.
func (q *Query) ReplyDelete(key string) error {
	return q.rq.ReplyDelete(key)
}

// Detach transfers completion responsibility to the holder, which must
// eventually call Finish. The query's timeout bounds a forgotten Finish.
func (q *Query) Detach() {
	q.rq.Detach()
}

// Finish marks this queryable's contribution complete. Safe to call more
// than once.
func (q *Query) Finish() {
	q.rq.Done()
}

// QueryableBuilder configures a queryable declaration. Exactly one receiver
// is used, the last of Callback, Handler, or Channel.
type QueryableBuilder struct {
	session  *Session
	expr     string
	capacity int
	complete bool

	handler Handler[*Query]
	channel *ChannelHandler[*Query]
}

// Capacity sets the query queue depth for this queryable.
func (b *QueryableBuilder) Capacity(n int) *QueryableBuilder {
	b.capacity = n
	return b
}

// Complete marks this queryable as holding the complete data set for its
// expression, making it eligible for TargetAllComplete queries.
func (b *QueryableBuilder) Complete(complete bool) *QueryableBuilder {
	b.complete = complete
	return b
}

// Callback delivers queries to fn on a dispatch goroutine. The query is
// finished when fn returns unless fn calls Detach.
func (b *QueryableBuilder) Callback(fn func(*Query), onClose func()) *QueryableBuilder {
	b.handler = CallbackHandler[*Query]{Fn: fn, OnClose: onClose}
	b.channel = nil
	return b
}

// Handler delivers queries to h. The query is finished when Handle returns
// unless it calls Detach.
func (b *QueryableBuilder) Handler(h Handler[*Query]) *QueryableBuilder {
	b.handler = h
	b.channel = nil
	return b
}

// Channel delivers queries into a buffered channel closed on undeclare.
// Channel-delivered queries are detached: the consumer replies and calls
// Finish on its own schedule, bounded by the query's timeout.
func (b *QueryableBuilder) Channel() *QueryableBuilder {
	b.channel = NewChannelHandler[*Query](b.capacity)
	b.handler = b.channel
	return b
}

// Done declares the queryable on the session's engine.
func (b *QueryableBuilder) Done() (*Queryable, error) {
	h, err := b.session.handle()
	if err != nil {
		return nil, err
	}
	if b.handler == nil {
		return nil, errors.WrapInvalid(errors.ErrNoReceiver, "Queryable", "Done", "check receiver")
	}

	handler := b.handler
	detach := b.channel != nil
	qh, err := b.session.eng.DeclareQueryable(
		h,
		b.expr,
		b.complete,
		b.capacity,
		func(rq *runtime.Query) {
			if detach {
				rq.Detach()
			}
			handler.Handle(&Query{rq: rq})
		},
		handler.Close,
	)
	if err != nil {
		return nil, err
	}

	qbl := &Queryable{
		expr:    b.expr,
		eng:     b.session.eng,
		channel: b.channel,
	}
	qbl.ref.set(qh)
	return qbl, nil
}

// Queryable is a declared query responder. It stays valid after its session
// closes; queries arrive until Undeclare.
type Queryable struct {
	expr    string
	eng     *runtime.Engine
	channel *ChannelHandler[*Query]
	ref     handleRef
}

// KeyExpr returns the queryable's expression.
func (q *Queryable) KeyExpr() string {
	return q.expr
}

// IsValid reports whether the queryable has not been undeclared.
func (q *Queryable) IsValid() bool {
	return q.ref.valid()
}

// Chan returns the query channel for queryables built with Channel, nil
// otherwise. The channel closes when the queryable is undeclared.
func (q *Queryable) Chan() <-chan *Query {
	if q.channel == nil {
		return nil
	}
	return q.channel.Chan()
}

// Undeclare stops query delivery, waiting for any in-flight callback.
// Only the first call releases.
func (q *Queryable) Undeclare() error {
	h, ok := q.ref.take()
	if !ok {
		return nil
	}
	if err := q.eng.Free(h); err != nil {
		return errors.Wrap(err, "Queryable", "Undeclare", "free handle")
	}
	return nil
}

// Close is an alias for Undeclare, satisfying io.Closer.
func (q *Queryable) Close() error {
	return q.Undeclare()
}
