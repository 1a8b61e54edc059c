package keymesh

// Handler consumes events delivered by the bridge. Handle is invoked on an
// engine dispatch goroutine, in delivery order, possibly concurrently with
// the owning declaration's close; Close is invoked exactly once after the
// last Handle and signals end of stream.
type Handler[T any] interface {
	Handle(ev T)
	Close()
}

// CallbackHandler adapts plain functions to the Handler interface. OnClose
// may be nil.
type CallbackHandler[T any] struct {
	Fn      func(T)
	OnClose func()
}

// Handle invokes the wrapped function.
func (h CallbackHandler[T]) Handle(ev T) {
	if h.Fn != nil {
		h.Fn(ev)
	}
}

// Close invokes the optional close notification.
func (h CallbackHandler[T]) Close() {
	if h.OnClose != nil {
		h.OnClose()
	}
}

// ChannelHandler buffers events into a Go channel. The channel is closed
// when the owning declaration closes, so consumers ranging over it observe
// termination instead of blocking forever. A full channel applies
// backpressure to the dispatcher rather than dropping events.
type ChannelHandler[T any] struct {
	ch chan T
}

// NewChannelHandler creates a channel-backed handler with the given
// capacity. Capacity zero or below falls back to DefaultChannelCapacity.
func NewChannelHandler[T any](capacity int) *ChannelHandler[T] {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &ChannelHandler[T]{ch: make(chan T, capacity)}
}

// Handle enqueues the event, blocking while the channel is full.
func (h *ChannelHandler[T]) Handle(ev T) {
	h.ch <- ev
}

// Close closes the channel. Called exactly once by the bridge.
func (h *ChannelHandler[T]) Close() {
	close(h.ch)
}

// Chan returns the receive side of the channel.
func (h *ChannelHandler[T]) Chan() <-chan T {
	return h.ch
}

// DefaultChannelCapacity is the buffer size used by channel receivers when
// the declarer does not choose one.
const DefaultChannelCapacity = 256
