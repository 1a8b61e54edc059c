package keymesh

import (
	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/runtime"
)

// SubscriberBuilder configures a subscriber declaration. Exactly one
// receiver is used: the last of Callback, Handler, or Channel wins. With no
// receiver configured, Done fails with ErrNoReceiver.
type SubscriberBuilder struct {
	session  *Session
	expr     string
	capacity int

	handler Handler[Sample]
	channel *ChannelHandler[Sample]
}

// Capacity sets the delivery queue depth for this subscriber.
func (b *SubscriberBuilder) Capacity(n int) *SubscriberBuilder {
	b.capacity = n
	return b
}

// Callback delivers samples to fn on a dispatch goroutine. onClose, when
// non-nil, fires exactly once after the last sample.
func (b *SubscriberBuilder) Callback(fn func(Sample), onClose func()) *SubscriberBuilder {
	b.handler = CallbackHandler[Sample]{Fn: fn, OnClose: onClose}
	b.channel = nil
	return b
}

// Handler delivers samples to h.
func (b *SubscriberBuilder) Handler(h Handler[Sample]) *SubscriberBuilder {
	b.handler = h
	b.channel = nil
	return b
}

// Channel delivers samples into a buffered channel closed on undeclare.
// The channel is retrieved from the built Subscriber's Chan.
func (b *SubscriberBuilder) Channel() *SubscriberBuilder {
	b.channel = NewChannelHandler[Sample](b.capacity)
	b.handler = b.channel
	return b
}

// Done declares the subscriber on the session's engine.
func (b *SubscriberBuilder) Done() (*Subscriber, error) {
	h, err := b.session.handle()
	if err != nil {
		return nil, err
	}
	if b.handler == nil {
		return nil, errors.WrapInvalid(errors.ErrNoReceiver, "Subscriber", "Done", "check receiver")
	}

	handler := b.handler
	sh, err := b.session.eng.DeclareSubscriber(
		h,
		b.expr,
		b.capacity,
		func(rs runtime.Sample) { handler.Handle(sampleFromRuntime(rs)) },
		handler.Close,
	)
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		expr:    b.expr,
		eng:     b.session.eng,
		channel: b.channel,
	}
	sub.ref.set(sh)
	return sub, nil
}

// Subscriber is a declared subscription. It stays valid after its session
// closes; samples flow until Undeclare.
type Subscriber struct {
	expr    string
	eng     *runtime.Engine
	channel *ChannelHandler[Sample]
	ref     handleRef
}

// KeyExpr returns the subscription expression.
func (s *Subscriber) KeyExpr() string {
	return s.expr
}

// IsValid reports whether the subscriber has not been undeclared.
func (s *Subscriber) IsValid() bool {
	return s.ref.valid()
}

// Chan returns the sample channel for subscribers built with Channel, nil
// otherwise. The channel closes when the subscriber is undeclared.
func (s *Subscriber) Chan() <-chan Sample {
	if s.channel == nil {
		return nil
	}
	return s.channel.Chan()
}

// Undeclare stops delivery. The call waits for any in-flight callback to
// return; samples queued but not yet delivered are discarded. Only the
// first call releases. Undeclaring from inside the subscriber's own
// callback deadlocks.
func (s *Subscriber) Undeclare() error {
	h, ok := s.ref.take()
	if !ok {
		return nil
	}
	if err := s.eng.Free(h); err != nil {
		return errors.Wrap(err, "Subscriber", "Undeclare", "free handle")
	}
	return nil
}

// Close is an alias for Undeclare, satisfying io.Closer.
func (s *Subscriber) Close() error {
	return s.Undeclare()
}
