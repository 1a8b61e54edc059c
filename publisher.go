package keymesh

import (
	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/runtime"
)

// PublisherBuilder configures a publisher declaration. Obtained from
// Session.DeclarePublisher; finished with Done.
type PublisherBuilder struct {
	session  *Session
	key      string
	encoding Encoding
	qos      QoS
}

// Encoding sets the default encoding for payloads published without one.
func (b *PublisherBuilder) Encoding(enc Encoding) *PublisherBuilder {
	b.encoding = enc
	return b
}

// Priority sets the publisher's priority.
func (b *PublisherBuilder) Priority(p Priority) *PublisherBuilder {
	b.qos.Priority = p
	return b
}

// CongestionControl sets how publications behave against full subscriber
// queues.
func (b *PublisherBuilder) CongestionControl(cc CongestionControl) *PublisherBuilder {
	b.qos.CongestionControl = cc
	return b
}

// Express marks publications for minimal batching delay.
func (b *PublisherBuilder) Express(express bool) *PublisherBuilder {
	b.qos.Express = express
	return b
}

// Done declares the publisher on the session's engine.
func (b *PublisherBuilder) Done() (*Publisher, error) {
	h, err := b.session.handle()
	if err != nil {
		return nil, err
	}
	ph, err := b.session.eng.DeclarePublisher(h, b.key, string(b.encoding), b.qos.toRuntime())
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		key: b.key,
		eng: b.session.eng,
	}
	p.ref.set(ph)
	return p, nil
}

// Publisher repeatedly publishes on one concrete key. Publishers stay valid
// after their session closes and are released by Undeclare or Close.
type Publisher struct {
	key string
	eng *runtime.Engine
	ref handleRef
}

// KeyExpr returns the publisher's key.
func (p *Publisher) KeyExpr() string {
	return p.key
}

// IsValid reports whether the publisher has not been undeclared.
func (p *Publisher) IsValid() bool {
	return p.ref.valid()
}

// PutOption adjusts a single publication.
type PutOption func(*putParams)

type putParams struct {
	encoding   Encoding
	attachment []byte
}

// WithEncoding overrides the publisher's default encoding for this
// publication.
func WithEncoding(enc Encoding) PutOption {
	return func(p *putParams) {
		p.encoding = enc
	}
}

// WithAttachment attaches out-of-band metadata to this publication.
func WithAttachment(att []byte) PutOption {
	return func(p *putParams) {
		p.attachment = att
	}
}

// Put publishes payload on the publisher's key.
func (p *Publisher) Put(payload []byte, opts ...PutOption) error {
	h, ok := p.ref.get()
	if !ok {
		return errors.WrapInvalid(errors.ErrHandleClosed, "Publisher", "Put", "resolve handle")
	}
	var params putParams
	for _, opt := range opts {
		opt(&params)
	}
	return p.eng.PublisherPut(h, payload, string(params.encoding), params.attachment)
}

// Delete publishes a deletion on the publisher's key.
func (p *Publisher) Delete(opts ...PutOption) error {
	h, ok := p.ref.get()
	if !ok {
		return errors.WrapInvalid(errors.ErrHandleClosed, "Publisher", "Delete", "resolve handle")
	}
	var params putParams
	for _, opt := range opts {
		opt(&params)
	}
	return p.eng.PublisherDelete(h, params.attachment)
}

// Undeclare releases the publisher. Only the first call releases; later
// calls return nil and subsequent Put and Delete fail with ErrHandleClosed.
func (p *Publisher) Undeclare() error {
	h, ok := p.ref.take()
	if !ok {
		return nil
	}
	if err := p.eng.Free(h); err != nil {
		return errors.Wrap(err, "Publisher", "Undeclare", "free handle")
	}
	return nil
}

// Close is an alias for Undeclare, satisfying io.Closer.
func (p *Publisher) Close() error {
	return p.Undeclare()
}
