package mqtt

// queuedMsg stores a serialized MQTT message for replay after reconnection.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO that stores messages while the broker
// is unreachable. Oldest messages are dropped on overflow.
// Not safe for concurrent use — caller must synchronize.
type outbox struct {
	buf      []queuedMsg
	capacity int
	head     int // next write position
	count    int
	dropped  int // messages dropped since last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		buf:      make([]queuedMsg, capacity),
		capacity: capacity,
	}
}

func (o *outbox) push(msg queuedMsg) {
	if o.count == o.capacity {
		// Overwrite oldest: head is already pointing at it
		o.dropped++
		o.buf[o.head] = msg
		o.head = (o.head + 1) % o.capacity
		// count stays at capacity
		return
	}
	o.buf[o.head] = msg
	o.head = (o.head + 1) % o.capacity
	o.count++
}

// drainAll returns the queued messages oldest-first and resets the
// outbox, including the dropped counter.
func (o *outbox) drainAll() []queuedMsg {
	if o.count == 0 {
		o.dropped = 0
		return nil
	}

	result := make([]queuedMsg, o.count)
	// Oldest item is at (head - count) mod capacity
	start := (o.head - o.count + o.capacity) % o.capacity
	for i := 0; i < o.count; i++ {
		result[i] = o.buf[(start+i)%o.capacity]
	}

	o.count = 0
	o.head = 0
	o.dropped = 0
	return result
}

func (o *outbox) len() int {
	return o.count
}

func (o *outbox) droppedCount() int {
	return o.dropped
}
