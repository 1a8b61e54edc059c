package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/keymesh/errors"
)

func openTestSession(t *testing.T, e *Engine) Handle {
	t.Helper()
	h, err := e.OpenSession("test")
	require.NoError(t, err)
	return h
}

func TestEngine_SessionLifecycle(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	require.NoError(t, e.Free(ses))

	// Double free reports a closed handle.
	err := e.Free(ses)
	assert.ErrorIs(t, err, errors.ErrHandleClosed)

	// Declarations through a freed session fail fast.
	_, err = e.DeclareSubscriber(ses, "test/a", 0, nil, nil)
	assert.ErrorIs(t, err, errors.ErrHandleClosed)
}

func TestEngine_PutRoutesToMatchingSubscriber(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	received := make(chan Sample, 8)
	sub, err := e.DeclareSubscriber(ses, "test/**", 0, func(s Sample) {
		received <- s
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(sub) }()

	require.NoError(t, e.Put(ses, "test/a", []byte("hello"), "text/plain", nil, DefaultQoS()))

	select {
	case s := <-received:
		assert.Equal(t, "test/a", s.KeyExpr)
		assert.Equal(t, []byte("hello"), s.Payload)
		assert.Equal(t, "text/plain", s.Encoding)
		assert.Equal(t, KindPut, s.Kind)
		assert.Equal(t, e.ID(), s.Origin)
		assert.False(t, s.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("sample not delivered")
	}

	// Non-matching key produces nothing.
	require.NoError(t, e.Put(ses, "other/a", []byte("x"), "", nil, DefaultQoS()))
	select {
	case s := <-received:
		t.Fatalf("unexpected sample: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_PutRejectsWildcardKey(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	err := e.Put(ses, "test/*", []byte("x"), "", nil, DefaultQoS())
	assert.ErrorIs(t, err, errors.ErrInvalidKeyExpr)

	_, err = e.DeclarePublisher(ses, "test/**", "", DefaultQoS())
	assert.ErrorIs(t, err, errors.ErrInvalidKeyExpr)
}

func TestEngine_DeliveryOrderPreserved(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	sub, err := e.DeclareSubscriber(ses, "ord/a", 0, func(s Sample) {
		mu.Lock()
		got = append(got, string(s.Payload))
		if len(got) == 100 {
			close(done)
		}
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(sub) }()

	pub, err := e.DeclarePublisher(ses, "ord/a", "", DefaultQoS())
	require.NoError(t, err)

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		payload := string(rune('A' + i%26))
		want = append(want, payload)
		require.NoError(t, e.PublisherPut(pub, []byte(payload), "", nil))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all samples delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestEngine_SubscriberCloseDeliversOnCloseOnce(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	var closeCount int
	var mu sync.Mutex
	sub, err := e.DeclareSubscriber(ses, "x/a", 0, nil, func() {
		mu.Lock()
		closeCount++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, e.Free(sub))
	err = e.Free(sub)
	assert.ErrorIs(t, err, errors.ErrHandleClosed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closeCount)
}

func TestEngine_CloseWaitsForInFlightCallback(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished bool
	var mu sync.Mutex

	sub, err := e.DeclareSubscriber(ses, "wait/a", 0, func(Sample) {
		close(entered)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	require.NoError(t, e.Put(ses, "wait/a", []byte("x"), "", nil, DefaultQoS()))
	<-entered

	freeDone := make(chan struct{})
	go func() {
		_ = e.Free(sub)
		close(freeDone)
	}()

	select {
	case <-freeDone:
		t.Fatal("Free returned while callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-freeDone:
	case <-time.After(time.Second):
		t.Fatal("Free did not return after callback completed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished, "in-flight callback must complete before Free returns")
}

func TestEngine_DeclarationOutlivesSession(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	received := make(chan Sample, 1)
	sub, err := e.DeclareSubscriber(ses, "live/a", 0, func(s Sample) { received <- s }, nil)
	require.NoError(t, err)

	pub, err := e.DeclarePublisher(ses, "live/a", "", DefaultQoS())
	require.NoError(t, err)

	require.NoError(t, e.Free(ses))

	// Both declarations still operate after the session handle is gone.
	require.NoError(t, e.PublisherPut(pub, []byte("still here"), "", nil))

	select {
	case s := <-received:
		assert.Equal(t, []byte("still here"), s.Payload)
	case <-time.After(time.Second):
		t.Fatal("sample not delivered after session close")
	}

	require.NoError(t, e.Free(pub))
	require.NoError(t, e.Free(sub))
}

func TestEngine_CallbackPanicIsContained(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	received := make(chan struct{}, 2)
	sub, err := e.DeclareSubscriber(ses, "boom/a", 0, func(s Sample) {
		received <- struct{}{}
		if string(s.Payload) == "panic" {
			panic("user callback exploded")
		}
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(sub) }()

	require.NoError(t, e.Put(ses, "boom/a", []byte("panic"), "", nil, DefaultQoS()))
	require.NoError(t, e.Put(ses, "boom/a", []byte("fine"), "", nil, DefaultQoS()))

	// Both callbacks fire; the panic in the first does not kill the dispatcher.
	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("dispatcher died after callback panic")
		}
	}
}

func TestEngine_CongestionDropDiscardsWhenFull(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	block := make(chan struct{})
	sub, err := e.DeclareSubscriber(ses, "full/a", 1, func(Sample) {
		<-block
	}, nil)
	require.NoError(t, err)

	qos := DefaultQoS()
	qos.CongestionControl = CongestionDrop

	// First fills the in-flight callback, second fills the queue, the rest drop.
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Put(ses, "full/a", []byte{byte(i)}, "", nil, qos))
	}

	close(block)
	_ = e.Free(sub)
}

func TestEngine_GetCollectsRepliesAndCloses(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	qbl, err := e.DeclareQueryable(ses, "store/**", true, 0, func(q *Query) {
		require.NoError(t, q.Reply("store/a", []byte("va"), ""))
		require.NoError(t, q.Reply("store/b", []byte("vb"), ""))
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(qbl) }()

	var mu sync.Mutex
	var replies []Reply
	closed := make(chan struct{})

	_, err = e.Get(ses, "store/**", GetOptions{Timeout: 2 * time.Second}, func(r Reply) {
		mu.Lock()
		replies = append(replies, r)
		mu.Unlock()
	}, func() { close(closed) })
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("query did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, replies, 2)
	assert.Equal(t, "store/a", replies[0].Sample.KeyExpr)
	assert.Equal(t, "store/b", replies[1].Sample.KeyExpr)
}

func TestEngine_GetWithNoQueryablesFinishesImmediately(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	closed := make(chan struct{})
	_, err := e.Get(ses, "nobody/home", GetOptions{Timeout: 5 * time.Second}, nil, func() { close(closed) })
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("empty query should finish without waiting for the timeout")
	}
}

func TestEngine_GetTimeoutClosesStream(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	// Queryable that never finishes its contribution within the timeout.
	qbl, err := e.DeclareQueryable(ses, "slow/**", false, 0, func(q *Query) {
		time.Sleep(300 * time.Millisecond)
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(qbl) }()

	closed := make(chan struct{})
	start := time.Now()
	_, err = e.Get(ses, "slow/a", GetOptions{Timeout: 50 * time.Millisecond}, nil, func() { close(closed) })
	require.NoError(t, err)

	select {
	case <-closed:
		assert.Less(t, time.Since(start), 250*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timeout did not close the query")
	}
}

func TestEngine_GetConsolidationLatest(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	qbl1, err := e.DeclareQueryable(ses, "dup/**", false, 0, func(q *Query) {
		require.NoError(t, q.Reply("dup/k", []byte("old"), ""))
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(qbl1) }()

	qbl2, err := e.DeclareQueryable(ses, "dup/**", false, 0, func(q *Query) {
		// Declared later; with equal wall-clock times the engine sequence
		// breaks the tie, so this reply must win.
		require.NoError(t, q.Reply("dup/k", []byte("new"), ""))
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(qbl2) }()

	var mu sync.Mutex
	var replies []Reply
	closed := make(chan struct{})

	_, err = e.Get(ses, "dup/**", GetOptions{
		Timeout:       2 * time.Second,
		Consolidation: ConsolidationLatest,
	}, func(r Reply) {
		mu.Lock()
		replies = append(replies, r)
		mu.Unlock()
	}, func() { close(closed) })
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("query did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, replies, 1, "latest consolidation must deduplicate by key")
	assert.Equal(t, "dup/k", replies[0].Sample.KeyExpr)
}

func TestEngine_ReplyOutsideSelectorRejected(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	replyErr := make(chan error, 1)
	qbl, err := e.DeclareQueryable(ses, "scope/**", false, 0, func(q *Query) {
		replyErr <- q.Reply("elsewhere/k", []byte("x"), "")
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(qbl) }()

	closed := make(chan struct{})
	_, err = e.Get(ses, "scope/**", GetOptions{Timeout: time.Second}, nil, func() { close(closed) })
	require.NoError(t, err)

	select {
	case err := <-replyErr:
		assert.ErrorIs(t, err, errors.ErrReplyOutsideExpr)
	case <-time.After(time.Second):
		t.Fatal("queryable was not invoked")
	}
	<-closed
}

func TestEngine_InjectSampleIgnoresOwnOrigin(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	received := make(chan Sample, 2)
	sub, err := e.DeclareSubscriber(ses, "inj/**", 0, func(s Sample) { received <- s }, nil)
	require.NoError(t, err)
	defer func() { _ = e.Free(sub) }()

	// Own origin: echo from a link, must be ignored.
	e.InjectSample(Sample{KeyExpr: "inj/a", Payload: []byte("echo"), Origin: e.ID()})

	// Foreign origin: delivered.
	e.InjectSample(Sample{KeyExpr: "inj/a", Payload: []byte("remote"), Origin: "peer-1"})

	select {
	case s := <-received:
		assert.Equal(t, []byte("remote"), s.Payload)
		assert.Equal(t, "peer-1", s.Origin)
	case <-time.After(time.Second):
		t.Fatal("remote sample not delivered")
	}

	select {
	case s := <-received:
		t.Fatalf("own echo must not be delivered: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_EgressObservesLocalPutsOnly(t *testing.T) {
	e := NewEngine()
	ses := openTestSession(t, e)

	var mu sync.Mutex
	var seen []string
	remove := e.AddEgress(func(s Sample) {
		mu.Lock()
		seen = append(seen, string(s.Payload))
		mu.Unlock()
	})
	defer remove()

	require.NoError(t, e.Put(ses, "eg/a", []byte("local"), "", nil, DefaultQoS()))
	e.InjectSample(Sample{KeyExpr: "eg/a", Payload: []byte("remote"), Origin: "peer-1"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"local"}, seen)
}

func TestShared_ReturnsSameEngine(t *testing.T) {
	assert.Same(t, Shared(), Shared())
}
