package keymesh

import (
	"sync"

	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/natslink"
	"github.com/c360/keymesh/internal/runtime"
)

// Session is a handle on the engine through which publishers, subscribers,
// and queryables are declared and one-shot operations are issued. Sessions
// are safe for concurrent use.
//
// Closing a session invalidates the session itself but not the resources
// declared through it: a subscriber declared on a session keeps delivering
// after the session closes, until the subscriber's own Close.
type Session struct {
	cfg  *Config
	eng  *runtime.Engine
	link *natslink.Link

	ref     handleRef
	closeMu sync.Mutex
}

// Name returns the session's configured name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// IsOpen reports whether the session has not been closed.
func (s *Session) IsOpen() bool {
	return s.ref.valid()
}

// handle resolves the session's engine handle, failing when closed.
func (s *Session) handle() (runtime.Handle, error) {
	h, ok := s.ref.get()
	if !ok {
		return 0, errors.WrapInvalid(errors.ErrSessionClosed, "Session", "handle", "resolve session")
	}
	return h, nil
}

// Close closes the session. The first call disconnects the mesh link and
// releases the session handle; later calls are no-ops returning nil.
// Declarations made through the session stay open.
func (s *Session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	h, ok := s.ref.take()
	if !ok {
		return nil
	}

	if s.link != nil {
		if err := s.link.Close(); err != nil {
			s.eng.Logger().Errorf("closing mesh link: %v", err)
		}
		s.link = nil
	}

	if err := s.eng.Free(h); err != nil {
		return errors.Wrap(err, "Session", "Close", "free session handle")
	}
	return nil
}

// DeclareKeyExpr validates and interns a key expression on the session,
// returning a KeyExpr usable with the declaration builders.
func (s *Session) DeclareKeyExpr(expr string) (*KeyExpr, error) {
	h, err := s.handle()
	if err != nil {
		return nil, err
	}
	kh, err := s.eng.DeclareKeyExpr(h, expr)
	if err != nil {
		return nil, err
	}
	canon, err := s.eng.KeyExprString(kh)
	if err != nil {
		return nil, err
	}
	ke := &KeyExpr{expr: canon, eng: s.eng}
	ke.ref.set(kh)
	return ke, nil
}

// DeclarePublisher starts building a publisher on key. The key must be
// concrete (no wildcards).
func (s *Session) DeclarePublisher(key string) *PublisherBuilder {
	return &PublisherBuilder{
		session: s,
		key:     key,
		qos:     DefaultQoS(),
	}
}

// DeclareSubscriber starts building a subscriber on expr.
func (s *Session) DeclareSubscriber(expr string) *SubscriberBuilder {
	return &SubscriberBuilder{
		session:  s,
		expr:     expr,
		capacity: s.cfg.channelCapacity(),
	}
}

// DeclareQueryable starts building a queryable on expr.
func (s *Session) DeclareQueryable(expr string) *QueryableBuilder {
	return &QueryableBuilder{
		session:  s,
		expr:     expr,
		capacity: s.cfg.channelCapacity(),
	}
}

// Put starts building a one-shot publication on key.
func (s *Session) Put(key string, payload []byte) *PutBuilder {
	return &PutBuilder{
		session: s,
		key:     key,
		payload: payload,
		qos:     DefaultQoS(),
	}
}

// Delete starts building a one-shot deletion on key.
func (s *Session) Delete(key string) *DeleteBuilder {
	return &DeleteBuilder{
		session: s,
		key:     key,
		qos:     DefaultQoS(),
	}
}

// Get starts building a query on selector.
func (s *Session) Get(selector string) *GetBuilder {
	return &GetBuilder{
		session:  s,
		selector: selector,
		timeout:  s.cfg.queryTimeout(),
	}
}
