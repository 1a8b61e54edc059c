// Package keymesh is a session-oriented keyed pub/sub and query library.
//
// A Session is the entry point: it opens against an in-process engine that
// owns routing, delivery ordering, and handle lifetimes, and optionally
// joins a NATS-backed mesh connecting engines across processes. Through a
// session an application declares publishers, subscribers, and queryables
// on slash-separated key expressions ('*' matches one chunk, '**' matches
// any number, including zero), fires one-shot puts and deletes, and issues
// gets that collect replies from every matching queryable.
//
// All declarations are independent resources: closing the session does not
// close the publishers, subscribers, or queryables declared through it, and
// every resource's Close and Undeclare are safe to call more than once.
// Subscriber callbacks and channel receivers are fed by a dedicated
// dispatch goroutine per declaration, preserving per-declaration delivery
// order; closing a declaration waits for any in-flight callback to return
// and then fires the close notification exactly once.
package keymesh

import (
	"fmt"

	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/natslink"
	"github.com/c360/keymesh/internal/runtime"
)

// Version is the keymesh library version.
const Version = "0.3.0"

// Open creates a session. A nil cfg uses DefaultConfig. The session joins
// the process-shared engine unless WithStandaloneEngine is given, and dials
// the NATS mesh link when cfg.Link.Enabled is set; a link failure closes
// the session handle and fails the open.
func Open(cfg *Config, opts ...SessionOption) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	var engOpts []runtime.Option
	if o.logger != nil {
		engOpts = append(engOpts, runtime.WithLogger(o.logger))
	}
	if o.metrics != nil {
		engOpts = append(engOpts, runtime.WithMetrics(o.metrics))
	}

	var eng *runtime.Engine
	if o.standalone {
		eng = runtime.NewEngine(engOpts...)
	} else {
		eng = runtime.Shared(engOpts...)
	}

	h, err := eng.OpenSession(cfg.Name)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "Open", "open session")
	}

	s := &Session{
		cfg: cfg,
		eng: eng,
	}
	s.ref.set(h)

	if cfg.Link.Enabled {
		linkCfg := natslink.Config{
			URL:            cfg.Link.URL,
			Namespace:      cfg.Link.Namespace,
			AllowKeys:      cfg.Link.AllowKeys,
			ConnectTimeout: cfg.Link.connectTimeout(),
			QueryTimeout:   cfg.queryTimeout(),
		}
		var met natslink.Metrics
		if o.metrics != nil {
			met = o.metrics
		}
		link, err := natslink.Dial(eng, linkCfg, met)
		if err != nil {
			_ = eng.Free(h)
			s.ref.take()
			return nil, errors.WrapTransient(
				fmt.Errorf("dial mesh link: %w: %w", err, errors.ErrSessionOpening),
				"Session", "Open", "connect link")
		}
		s.link = link
	}

	eng.Logger().Debugf("session open name=%q link=%v", cfg.Name, cfg.Link.Enabled)
	return s, nil
}
