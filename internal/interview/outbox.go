package interview

import "sync"

// outbox delivers a session's messages in order through an unbuffered channel,
// queueing without bound so emitters never block on a slow reader.
type outbox struct {
	mu       sync.Mutex
	queue    []Message
	closed   bool
	attached bool

	out  chan Message
	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

func newOutbox(onDrained func()) *outbox {
	o := &outbox{
		out:  make(chan Message),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go o.run(onDrained)
	return o
}

// push queues m. Messages pushed after close are dropped.
func (o *outbox) push(m Message) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	o.signal()
}

// close lets queued messages drain, then closes the channel.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

// attach marks the stream as having a reader and returns it.
func (o *outbox) attach() <-chan Message {
	o.mu.Lock()
	o.attached = true
	o.mu.Unlock()
	return o.out
}

// abandonIfUnread abandons a closed stream that no reader ever attached to.
func (o *outbox) abandonIfUnread() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed || o.attached {
		return false
	}
	o.once.Do(func() { close(o.stop) })
	return true
}

// abandon closes the channel without waiting for a reader.
func (o *outbox) abandon() {
	o.once.Do(func() { close(o.stop) })
	o.close()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run(onDrained func()) {
	defer func() {
		close(o.out)
		if onDrained != nil {
			onDrained()
		}
	}()

	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-o.wake:
			case <-o.stop:
				return
			}
			continue
		}
		next := o.queue[0]
		o.queue[0] = Message{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		select {
		case o.out <- next:
		case <-o.stop:
			return
		}
	}
}
