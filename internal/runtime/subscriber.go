package runtime

import (
	"sync/atomic"

	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/queue"
)

// DefaultSubscriberCapacity bounds a subscriber's delivery queue when the
// declarer does not choose one.
const DefaultSubscriberCapacity = 256

// subscriber owns one declaration's delivery path: a FIFO queue fed by the
// router and a single dispatch goroutine draining it into the registered
// callback. The single goroutine is what preserves per-declaration order.
type subscriber struct {
	expr string
	q    *queue.Queue[Sample]
	cb   func(Sample)

	// onClose fires exactly once, after the dispatcher exits.
	onClose func()

	closed atomic.Bool
	done   chan struct{}
}

// DeclareSubscriber registers a subscription on expr. cb is invoked on a
// dispatch goroutine for every matching sample, in arrival order; onClose
// is invoked exactly once after the last data callback. Both may be nil.
func (e *Engine) DeclareSubscriber(
	session Handle,
	expr string,
	capacity int,
	cb func(Sample),
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

	sub := &subscriber{
		expr:    CanonizeKeyExpr(expr),
		q:       queue.New[Sample](capacity, queue.Block, nil),
		cb:      cb,
		onClose: onClose,
		done:    make(chan struct{}),
	}

	h := e.allocHandle(&entity{kind: kindSubscriber, sub: sub})
	e.subscribers.Store(h, sub)

	go e.dispatch(sub)

	return h, nil
}

// dispatch drains the subscriber queue into the callback. Samples still
// queued when the subscriber closes are discarded and counted rather than
// delivered; the currently running callback always completes.
func (e *Engine) dispatch(sub *subscriber) {
	defer close(sub.done)

	for {
		sample, ok := sub.q.Pop()
		if !ok {
			break
		}
		if sub.closed.Load() {
			e.met.SampleDropped("closed")
			continue
		}
		if sub.cb != nil {
			e.safeInvoke("subscriber", func() { sub.cb(sample) })
		}
		e.met.SampleDelivered()
	}

	if sub.onClose != nil {
		e.safeInvoke("subscriber close", sub.onClose)
	}
}

// close tears the subscriber down and waits for the dispatcher to exit, so
// the caller observes no data callback after close returns. Undeclaring a
// subscriber from inside its own callback would deadlock here.
func (s *subscriber) close() {
	s.closed.Store(true)
	s.q.Close()
	<-s.done
}

// PublisherPut publishes a payload on the publisher's key.
func (e *Engine) PublisherPut(pub Handle, payload []byte, encoding string, attachment []byte) error {
	ent, err := e.lookup(pub, kindPublisher)
	if err != nil {
		return err
	}
	p := ent.pub
	if encoding == "" {
		encoding = p.encoding
	}
	return e.publish(p.key, KindPut, payload, encoding, attachment, p.qos)
}

// PublisherDelete publishes a deletion on the publisher's key.
func (e *Engine) PublisherDelete(pub Handle, attachment []byte) error {
	ent, err := e.lookup(pub, kindPublisher)
	if err != nil {
		return err
	}
	p := ent.pub
	return e.publish(p.key, KindDelete, nil, "", attachment, p.qos)
}

// Put performs a one-shot publication without a declared publisher.
func (e *Engine) Put(session Handle, key string, payload []byte, encoding string, attachment []byte, qos QoS) error {
	if _, err := e.lookup(session, kindSession); err != nil {
		return err
	}
	if err := ValidateKeyExpr(key); err != nil {
		return err
	}
	if HasWildcards(key) {
		return errors.WrapInvalid(errors.ErrInvalidKeyExpr, "Engine", "Put", "reject wildcard key")
	}
	return e.publish(key, KindPut, payload, encoding, attachment, qos)
}

// Delete performs a one-shot deletion without a declared publisher.
func (e *Engine) Delete(session Handle, key string, attachment []byte, qos QoS) error {
	if _, err := e.lookup(session, kindSession); err != nil {
		return err
	}
	if err := ValidateKeyExpr(key); err != nil {
		return err
	}
	if HasWildcards(key) {
		return errors.WrapInvalid(errors.ErrInvalidKeyExpr, "Engine", "Delete", "reject wildcard key")
	}
	return e.publish(key, KindDelete, nil, "", attachment, qos)
}

// publish stamps a locally originated sample and routes it.
func (e *Engine) publish(key string, kind SampleKind, payload []byte, encoding string, attachment []byte, qos QoS) error {
	ts, seq := e.stamp()
	sample := Sample{
		KeyExpr:    key,
		Payload:    cloneBytes(payload),
		Encoding:   encoding,
		Kind:       kind,
		Timestamp:  ts,
		Seq:        seq,
		QoS:        qos,
		Attachment: cloneBytes(attachment),
		Origin:     e.id,
	}
	e.route(sample, true)
	return nil
}

// InjectSample routes a sample received from a mesh link into local
// subscribers. Samples originated by this engine are ignored so a link
// echoing our own traffic cannot loop it back.
func (e *Engine) InjectSample(sample Sample) {
	if sample.Origin == e.id {
		return
	}
	if err := ValidateKeyExpr(sample.KeyExpr); err != nil || HasWildcards(sample.KeyExpr) {
		e.met.SampleDropped("invalid_key")
		e.logger.Debugf("dropping injected sample with bad key %q", sample.KeyExpr)
		return
	}
	e.route(sample, false)
}

// route fans a sample out to every matching subscriber. CongestionBlock
// publications apply backpressure when a subscriber queue is full;
// CongestionDrop publications discard for that subscriber and count it.
func (e *Engine) route(sample Sample, egress bool) {
	e.met.SampleRouted(sample.Kind.String())

	e.subscribers.Range(func(_ Handle, sub *subscriber) bool {
		if sub.closed.Load() || !KeyExprMatches(sub.expr, sample.KeyExpr) {
			return true
		}
		if sample.QoS.CongestionControl == CongestionDrop {
			if _, dropped := sub.q.TryPush(sample); dropped {
				e.met.SampleDropped("congestion")
			}
		} else {
			sub.q.Push(sample)
		}
		return true
	})

	if egress {
		e.egressMu.RLock()
		hooks := make([]EgressFunc, 0, len(e.egress))
		for _, fn := range e.egress {
			hooks = append(hooks, fn)
		}
		e.egressMu.RUnlock()

		for _, fn := range hooks {
			fn(sample)
		}
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
