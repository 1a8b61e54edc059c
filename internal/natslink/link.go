// Package natslink federates in-process engines over NATS. The link mirrors
// locally published samples to the mesh, injects remote samples into the
// local engine, forwards local queries to remote responders, and serves
// remote queries from local queryables. Samples carry their originating
// engine's identity, and the engine ignores its own, so a link echoing
// traffic back never loops it.
package natslink

import (
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/runtime"
)

// Config configures a mesh link.
type Config struct {
	// URL is the NATS server to dial.
	URL string

	// Namespace prefixes every subject the link uses. Defaults to
	// "keymesh".
	Namespace string

	// AllowKeys restricts which local keys are mirrored out. Glob
	// patterns with '/' separators; empty mirrors everything.
	AllowKeys []string

	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration

	// QueryTimeout bounds remote reply collection for forwarded queries
	// whose own timeout is unset.
	QueryTimeout time.Duration
}

// Metrics receives link-level events. nil is valid and means no-op.
type Metrics interface {
	LinkUp(up bool)
	SampleOut()
	SampleIn()
	QueryOut()
	QueryServed()
}

type nopMetrics struct{}

func (nopMetrics) LinkUp(bool)  {}
func (nopMetrics) SampleOut()   {}
func (nopMetrics) SampleIn()    {}
func (nopMetrics) QueryOut()    {}
func (nopMetrics) QueryServed() {}

// Link is an active mesh connection bound to one engine.
type Link struct {
	eng *runtime.Engine
	nc  *nats.Conn
	met Metrics
	log runtime.Logger

	ns    string
	allow []glob.Glob

	sampleSub *nats.Subscription
	querySub  *nats.Subscription

	removeEgress      func()
	removeQueryEgress func()

	queryTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Dial connects the engine to the mesh. The returned link is active until
// Close; reconnects after transient NATS outages are automatic and
// unbounded.
func Dial(eng *runtime.Engine, cfg Config, met Metrics) (*Link, error) {
	if met == nil {
		met = nopMetrics{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "keymesh"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = runtime.DefaultQueryTimeout
	}

	allow, err := compileAllowKeys(cfg.AllowKeys)
	if err != nil {
		return nil, err
	}

	l := &Link{
		eng:          eng,
		met:          met,
		log:          eng.Logger(),
		ns:           cfg.Namespace,
		allow:        allow,
		queryTimeout: cfg.QueryTimeout,
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("keymesh-"+eng.ID()),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			met.LinkUp(false)
			l.log.Errorf("mesh link disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			met.LinkUp(true)
			l.log.Printf("mesh link reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			met.LinkUp(false)
			l.log.Debugf("mesh link connection closed")
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("connect to %s: %w: %w", cfg.URL, err, errors.ErrLinkDown),
			"Link", "Dial", "connect NATS")
	}
	l.nc = nc
	met.LinkUp(true)

	if err := l.subscribe(); err != nil {
		nc.Close()
		met.LinkUp(false)
		return nil, err
	}

	l.removeEgress = eng.AddEgress(l.mirrorSample)
	l.removeQueryEgress = eng.AddQueryEgress(l.forwardQuery)

	l.log.Printf("mesh link up url=%s namespace=%s", cfg.URL, cfg.Namespace)
	return l, nil
}

func compileAllowKeys(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("allow_keys pattern %q: %w: %w", p, err, errors.ErrInvalidConfig),
				"Link", "Dial", "compile allow pattern")
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func (l *Link) allowed(key string) bool {
	if len(l.allow) == 0 {
		return true
	}
	for _, g := range l.allow {
		if g.Match(key) {
			return true
		}
	}
	return false
}

func (l *Link) sampleSubject() string {
	return l.ns + ".samples"
}

func (l *Link) querySubject() string {
	return l.ns + ".queries"
}

func (l *Link) replySubject(id string) string {
	return l.ns + ".replies." + id
}

func (l *Link) subscribe() error {
	var err error
	l.sampleSub, err = l.nc.Subscribe(l.sampleSubject(), l.onSample)
	if err != nil {
		return errors.WrapTransient(err, "Link", "subscribe", "subscribe samples")
	}
	l.querySub, err = l.nc.Subscribe(l.querySubject(), l.onQuery)
	if err != nil {
		return errors.WrapTransient(err, "Link", "subscribe", "subscribe queries")
	}
	return nil
}

// mirrorSample is the engine's sample egress hook: every locally published
// sample passing the allowlist goes to the mesh.
func (l *Link) mirrorSample(s runtime.Sample) {
	if !l.allowed(s.KeyExpr) {
		return
	}
	data, err := encodeSample(s)
	if err != nil {
		l.log.Errorf("encoding sample for mesh: %v", err)
		return
	}
	if err := l.nc.Publish(l.sampleSubject(), data); err != nil {
		l.log.Errorf("publishing sample to mesh: %v", err)
		return
	}
	l.met.SampleOut()
}

// onSample injects a remote sample into the local engine. The engine drops
// samples carrying its own origin and samples with invalid keys.
func (l *Link) onSample(msg *nats.Msg) {
	sample, err := decodeSample(msg.Data)
	if err != nil {
		l.log.Errorf("decoding mesh sample: %v", err)
		return
	}
	if sample.Origin == l.eng.ID() {
		return
	}
	l.met.SampleIn()
	l.eng.InjectSample(sample)
}

// forwardQuery is the engine's query egress hook. It opens a per-query
// reply subject, broadcasts the query, and streams remote replies back via
// contribute. The responder count is unknown on an open mesh, so done fires
// when the collection window expires rather than on a remote completion
// count.
func (l *Link) forwardQuery(selector string, opts runtime.GetOptions, contribute func(runtime.Reply), done func()) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = l.queryTimeout
	}

	id := nuid.Next()
	var doneOnce sync.Once
	var sub *nats.Subscription

	finish := func() {
		doneOnce.Do(func() {
			if sub != nil {
				_ = sub.Unsubscribe()
			}
			done()
		})
	}

	sub, err := l.nc.Subscribe(l.replySubject(id), func(msg *nats.Msg) {
		var env replyEnvelope
		if err := decodeReply(msg.Data, &env); err != nil {
			l.log.Errorf("decoding mesh reply: %v", err)
			return
		}
		if env.Done || env.Sample == nil {
			return
		}
		contribute(runtime.Reply{
			Sample: envelopeToSample(env.Sample),
			Origin: env.Origin,
		})
	})
	if err != nil {
		l.log.Errorf("subscribing for mesh replies: %v", err)
		done()
		return
	}

	env := queryEnvelope{
		ID:         id,
		Selector:   selector,
		Payload:    opts.Payload,
		Encoding:   opts.Encoding,
		Attachment: opts.Attachment,
		TimeoutMS:  timeout.Milliseconds(),
		Target:     int(opts.Target),
		Origin:     l.eng.ID(),
		ReplyTo:    l.replySubject(id),
	}
	data, err := encodeQuery(&env)
	if err != nil {
		l.log.Errorf("encoding mesh query: %v", err)
		finish()
		return
	}
	if err := l.nc.Publish(l.querySubject(), data); err != nil {
		l.log.Errorf("publishing query to mesh: %v", err)
		finish()
		return
	}
	l.met.QueryOut()

	time.AfterFunc(timeout, finish)
}

// onQuery serves a remote query from local queryables, streaming replies to
// the querier's reply subject and closing with a done marker.
func (l *Link) onQuery(msg *nats.Msg) {
	var env queryEnvelope
	if err := decodeQuery(msg.Data, &env); err != nil {
		l.log.Errorf("decoding mesh query: %v", err)
		return
	}
	if env.Origin == l.eng.ID() || env.ReplyTo == "" {
		return
	}
	l.met.QueryServed()

	opts := runtime.GetOptions{
		Payload:    env.Payload,
		Encoding:   env.Encoding,
		Attachment: env.Attachment,
		Timeout:    time.Duration(env.TimeoutMS) * time.Millisecond,
		Target:     runtime.QueryTarget(env.Target),
		Origin:     env.Origin,
	}

	l.eng.ServeQuery(env.Selector, opts,
		func(r runtime.Reply) {
			sample := sampleToEnvelope(r.Sample)
			l.publishReply(&replyEnvelope{
				ID:     env.ID,
				Sample: &sample,
				Origin: r.Origin,
			}, env.ReplyTo)
		},
		func() {
			l.publishReply(&replyEnvelope{
				ID:     env.ID,
				Done:   true,
				Origin: l.eng.ID(),
			}, env.ReplyTo)
		},
	)
}

func (l *Link) publishReply(env *replyEnvelope, subject string) {
	data, err := encodeReply(env)
	if err != nil {
		l.log.Errorf("encoding mesh reply: %v", err)
		return
	}
	if err := l.nc.Publish(subject, data); err != nil {
		l.log.Errorf("publishing reply to mesh: %v", err)
	}
}

// Close detaches the link from the engine and drains the NATS connection.
// Safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		if l.removeEgress != nil {
			l.removeEgress()
		}
		if l.removeQueryEgress != nil {
			l.removeQueryEgress()
		}
		if l.sampleSub != nil {
			_ = l.sampleSub.Unsubscribe()
		}
		if l.querySub != nil {
			_ = l.querySub.Unsubscribe()
		}
		if err := l.nc.Drain(); err != nil {
			l.closeErr = errors.Wrap(err, "Link", "Close", "drain connection")
		}
		l.met.LinkUp(false)
	})
	return l.closeErr
}
