package keymesh

import (
	"time"

	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/runtime"
)

// GetBuilder configures a query. Obtained from Session.Get; finished with
// Do or Wait. Replies stream to the configured receiver and the stream
// terminates on completion, timeout, or cancellation; timeout is a normal
// end of stream, not an error.
type GetBuilder struct {
	session    *Session
	selector   string
	payload    []byte
	encoding   Encoding
	attachment []byte
	timeout    time.Duration

	consolidation ConsolidationMode
	target        QueryTarget
	capacity      int

	handler Handler[Reply]
	channel *ChannelHandler[Reply]
}

// Payload sets the query body sent to queryables.
func (b *GetBuilder) Payload(payload []byte) *GetBuilder {
	b.payload = payload
	return b
}

// Encoding sets the query body encoding.
func (b *GetBuilder) Encoding(enc Encoding) *GetBuilder {
	b.encoding = enc
	return b
}

// Attachment attaches out-of-band metadata to the query.
func (b *GetBuilder) Attachment(att []byte) *GetBuilder {
	b.attachment = att
	return b
}

// Timeout bounds the query. Zero or below falls back to the session
// default.
func (b *GetBuilder) Timeout(d time.Duration) *GetBuilder {
	b.timeout = d
	return b
}

// Consolidation sets how duplicate replies per key are merged.
func (b *GetBuilder) Consolidation(mode ConsolidationMode) *GetBuilder {
	b.consolidation = mode
	return b
}

// Target selects which queryables the query is routed to.
func (b *GetBuilder) Target(t QueryTarget) *GetBuilder {
	b.target = t
	return b
}

// Capacity sets the channel receiver's buffer size.
func (b *GetBuilder) Capacity(n int) *GetBuilder {
	b.capacity = n
	return b
}

// Callback delivers replies to fn on a dispatch goroutine. onClose, when
// non-nil, fires exactly once when the stream ends.
func (b *GetBuilder) Callback(fn func(Reply), onClose func()) *GetBuilder {
	b.handler = CallbackHandler[Reply]{Fn: fn, OnClose: onClose}
	b.channel = nil
	return b
}

// Handler delivers replies to h.
func (b *GetBuilder) Handler(h Handler[Reply]) *GetBuilder {
	b.handler = h
	b.channel = nil
	return b
}

// Channel delivers replies into a buffered channel closed when the stream
// ends. The channel is retrieved from the returned Get's Chan.
func (b *GetBuilder) Channel() *GetBuilder {
	capacity := b.capacity
	if capacity <= 0 {
		capacity = b.session.cfg.channelCapacity()
	}
	b.channel = NewChannelHandler[Reply](capacity)
	b.handler = b.channel
	return b
}

// Do issues the query.
func (b *GetBuilder) Do() (*Get, error) {
	h, err := b.session.handle()
	if err != nil {
		return nil, err
	}
	if b.handler == nil {
		return nil, errors.WrapInvalid(errors.ErrNoReceiver, "Get", "Do", "check receiver")
	}

	opts := runtime.GetOptions{
		Payload:       b.payload,
		Encoding:      string(b.encoding),
		Attachment:    b.attachment,
		Timeout:       b.timeout,
		Consolidation: runtime.ConsolidationMode(b.consolidation),
		Target:        runtime.QueryTarget(b.target),
	}

	handler := b.handler
	qh, err := b.session.eng.Get(
		h,
		b.selector,
		opts,
		func(rr runtime.Reply) { handler.Handle(replyFromRuntime(rr)) },
		handler.Close,
	)
	if err != nil {
		return nil, err
	}

	g := &Get{
		selector: b.selector,
		eng:      b.session.eng,
		channel:  b.channel,
	}
	g.ref.set(qh)
	return g, nil
}

// Wait issues the query with an internal channel receiver and blocks until
// the reply stream ends, returning the collected replies.
func (b *GetBuilder) Wait() ([]Reply, error) {
	g, err := b.Channel().Do()
	if err != nil {
		return nil, err
	}
	var replies []Reply
	for r := range g.Chan() {
		replies = append(replies, r)
	}
	return replies, nil
}

// Get is an in-flight query. The engine releases its handle when the reply
// stream finishes on its own; Cancel releases it early.
type Get struct {
	selector string
	eng      *runtime.Engine
	channel  *ChannelHandler[Reply]
	ref      handleRef
}

// Selector returns the query's key expression.
func (g *Get) Selector() string {
	return g.selector
}

// Chan returns the reply channel for queries built with Channel, nil
// otherwise. The channel closes when the stream ends.
func (g *Get) Chan() <-chan Reply {
	if g.channel == nil {
		return nil
	}
	return g.channel.Chan()
}

// Cancel terminates the query early. Replies already queued are still
// delivered before the stream closes. Cancelling a finished query is a
// no-op.
func (g *Get) Cancel() error {
	h, ok := g.ref.take()
	if !ok {
		return nil
	}
	if err := g.eng.Free(h); err != nil {
		// The engine releases query handles itself at end of stream.
		if errors.IsClosed(err) {
			return nil
		}
		return errors.Wrap(err, "Get", "Cancel", "free handle")
	}
	return nil
}
