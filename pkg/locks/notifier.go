package locks

import (
	"sync"

	"k8s.io/klog/v2"
)

// Result is the single notification a LockRequest receives.
// Lock is non-nil only when Status is Granted.
type Result struct {
	Status Status
	Lock   *Handle
}

// Notifier delivers a request's resolution back to the requester. The
// manager calls Notify exactly once per request, never while holding its
// mutex. Implementations should hand the result off and return quickly.
type Notifier interface {
	Notify(Result)
}

// NotifierFunc adapts a function to the Notifier interface. The function runs
// on the goroutine that resolved the request.
type NotifierFunc func(Result)

// Notify calls f(res)
func (f NotifierFunc) Notify(res Result) { f(res) }

// ChanNotifier delivers the result on a buffered channel.
type ChanNotifier struct {
	ch chan Result
}

// NewChanNotifier creates a notifier whose channel can hold the one result a
// request produces, so Notify never blocks.
func NewChanNotifier() *ChanNotifier {
	return &ChanNotifier{ch: make(chan Result, 1)}
}

// Notify implements Notifier
func (c *ChanNotifier) Notify(res Result) {
	select {
	case c.ch <- res:
	default:
		klog.Warningf("Dropping duplicate lock notification (status=%s)", res.Status)
	}
}

// C returns the channel the result arrives on
func (c *ChanNotifier) C() <-chan Result {
	return c.ch
}

// dispatch is one queued callback invocation
type dispatch struct {
	fn  func(Result)
	res Result
}

// Dispatcher is the message queue of one requesting execution context.
// Notifiers created by it only enqueue; a single goroutine started by Start
// drains the queue and runs callbacks in the order results were posted.
type Dispatcher struct {
	mu       sync.Mutex
	queue    []dispatch
	stopping bool
	started  bool

	wake     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher. Call Start before results are expected.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Start launches the draining goroutine. Calling Start twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopping {
		return
	}
	d.started = true
	go d.run()
}

// Stop rejects further posts, runs everything already queued and waits for
// the draining goroutine to exit. Stop must not be called from a callback
// running on the dispatcher.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopping = true
		started := d.started
		d.mu.Unlock()

		if !started {
			close(d.stopped)
			return
		}
		d.signal()
		<-d.stopped
	})
}

// Notifier returns a Notifier that queues fn(result) on this dispatcher.
func (d *Dispatcher) Notifier(fn func(Result)) Notifier {
	return NotifierFunc(func(res Result) {
		d.post(dispatch{fn: fn, res: res})
	})
}

// Len returns the number of callbacks waiting to run
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) post(msg dispatch) {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		klog.Warningf("Dispatcher stopped, dropping lock notification (status=%s)", msg.res.Status)
		// nobody is left to release it
		if msg.res.Lock != nil {
			msg.res.Lock.Release()
		}
		return
	}
	d.queue = append(d.queue, msg)
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		stopping := d.stopping
		d.mu.Unlock()

		for _, msg := range batch {
			msg.fn(msg.res)
		}

		if len(batch) > 0 {
			continue
		}
		if stopping {
			return
		}
		<-d.wake
	}
}
