package wsmux

// QueuedMessage is an outbound payload waiting for a connection.
type QueuedMessage struct {
	Identity      string
	CorrelationID string
	Payload       []byte
	Attempts      int
}

// Queue buffers outbound payloads in FIFO order.
type Queue struct {
	items []QueuedMessage
}

func (q *Queue) Enqueue(m QueuedMessage) { q.items = append(q.items, m) }

// PushFront puts m back at the head.
func (q *Queue) PushFront(m QueuedMessage) {
	q.items = append([]QueuedMessage{m}, q.items...)
}

func (q *Queue) Len() int { return len(q.items) }

// Peek returns the head without removing it.
func (q *Queue) Peek() (QueuedMessage, bool) {
	if len(q.items) == 0 {
		return QueuedMessage{}, false
	}
	return q.items[0], true
}

// PopFront removes and returns the head.
func (q *Queue) PopFront() (QueuedMessage, bool) {
	if len(q.items) == 0 {
		return QueuedMessage{}, false
	}
	m := q.items[0]
	q.items[0] = QueuedMessage{}
	q.items = q.items[1:]
	return m, true
}

// Flush transmits items head to tail. When send fails the item goes back to
// the head with its attempt count bumped and Flush stops.
func (q *Queue) Flush(send func(QueuedMessage) error) (sent int, err error) {
	for {
		m, ok := q.PopFront()
		if !ok {
			return sent, nil
		}
		if err := send(m); err != nil {
			m.Attempts++
			q.PushFront(m)
			return sent, err
		}
		sent++
	}
}

// DropIdentity removes every item queued for identity and returns them.
func (q *Queue) DropIdentity(identity string) []QueuedMessage {
	var dropped []QueuedMessage
	kept := q.items[:0]
	for _, m := range q.items {
		if m.Identity == identity {
			dropped = append(dropped, m)
			continue
		}
		kept = append(kept, m)
	}
	q.items = kept
	return dropped
}

// Remove drops the item carrying correlationID.
func (q *Queue) Remove(correlationID string) bool {
	for i, m := range q.items {
		if m.CorrelationID == correlationID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Drain empties the queue and returns what it held.
func (q *Queue) Drain() []QueuedMessage {
	out := q.items
	q.items = nil
	return out
}
