// Package ledger implements the in-memory, append-only, cluster-scoped
// message bus every agent in a cluster publishes to and subscribes from.
//
// Grounded on the teacher's nostr.RelayPool/Publisher fan-out-with-
// partial-failure-tolerance shape, collapsed to synchronous in-process
// delivery: publish fans out to subscribers synchronously before
// returning, and a subscriber's error is recovered and forwarded to a
// diagnostic sink rather than aborting delivery to the rest.
package ledger

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one ledger entry. Immutable once appended.
type Message struct {
	ID           string
	ClusterID    string
	Topic        string
	Sender       string
	SenderModel  string
	Receiver     string // "broadcast" | "system" | agent id
	Timestamp    int64  // ms epoch, assigned on publish if zero
	Content      Content
	Metadata     map[string]interface{}
}

// Content is a Message's payload.
type Content struct {
	Text string
	Data map[string]interface{}
}

// Criteria selects messages for Query/FindLast/Count/Since. All non-zero
// fields are conjunctive.
type Criteria struct {
	ClusterID string
	Topic     string
	Sender    string
	Since     int64 // strictly greater than
	Limit     int   // 0 means unlimited; Limit takes the most recent N
}

// Subscription is returned by Subscribe; call Unsubscribe to stop
// receiving messages.
type Subscription struct {
	unsubscribe func()
}

// Unsubscribe removes the subscriber. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.unsubscribe != nil {
		s.unsubscribe()
	}
}

type subscriber struct {
	id       uint64
	callback func(Message)
}

// Ledger is one cluster's append-only message log with subscriber fan-out.
type Ledger struct {
	clusterID string
	errSink   func(error)

	mu         sync.RWMutex
	messages   []Message
	subs       []subscriber
	nextSubID  uint64
}

// New creates a ledger scoped to clusterID. errSink receives errors
// recovered from panicking subscribers; if nil, they are logged.
func New(clusterID string, errSink func(error)) *Ledger {
	if errSink == nil {
		errSink = func(err error) {
			log.Printf("[ledger] subscriber error: %v", err)
		}
	}
	return &Ledger{
		clusterID: clusterID,
		errSink:   errSink,
	}
}

// Publish stamps Timestamp if unset, appends the message, then
// synchronously notifies every subscriber in registration order before
// returning. Publish is atomic with respect to Query: a concurrent reader
// sees either the full message or not at all.
func (l *Ledger) Publish(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.ClusterID = l.clusterID
	if msg.Receiver == "" {
		msg.Receiver = "broadcast"
	}

	l.mu.Lock()
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}
	if n := len(l.messages); n > 0 && msg.Timestamp < l.messages[n-1].Timestamp {
		msg.Timestamp = l.messages[n-1].Timestamp
	}
	l.messages = append(l.messages, msg)
	subs := make([]subscriber, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, s := range subs {
		l.deliver(s, msg)
	}

	return msg
}

func (l *Ledger) deliver(s subscriber, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			l.errSink(panicToError(r))
		}
	}()
	s.callback(msg)
}

// Subscribe registers callback to be invoked synchronously, in
// registration order, for every message published after this call.
func (l *Ledger) Subscribe(callback func(Message)) *Subscription {
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	l.subs = append(l.subs, subscriber{id: id, callback: callback})
	l.mu.Unlock()

	return &Subscription{unsubscribe: func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				break
			}
		}
	}}
}

// Query returns messages matching criteria in append order. If
// criteria.Limit > 0, the most recent Limit matches are returned (still in
// append order).
func (l *Ledger) Query(criteria Criteria) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []Message
	for _, m := range l.messages {
		if matches(m, criteria) {
			matched = append(matched, m)
		}
	}
	if criteria.Limit > 0 && len(matched) > criteria.Limit {
		matched = matched[len(matched)-criteria.Limit:]
	}
	return matched
}

// FindLast returns the most recent message matching criteria, or false if
// none match.
func (l *Ledger) FindLast(criteria Criteria) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.messages) - 1; i >= 0; i-- {
		if matches(l.messages[i], criteria) {
			return l.messages[i], true
		}
	}
	return Message{}, false
}

// Count returns the number of messages matching criteria.
func (l *Ledger) Count(criteria Criteria) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, m := range l.messages {
		if matches(m, criteria) {
			n++
		}
	}
	return n
}

// Since returns every message with timestamp strictly greater than
// criteria.Since, in append order.
func (l *Ledger) Since(criteria Criteria) []Message {
	return l.Query(criteria)
}

// All returns every message currently on the ledger, in append order.
// Intended for diagnostics (e.g. the watch TUI's initial paint); Query
// should be preferred for filtered access.
func (l *Ledger) All() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func matches(m Message, c Criteria) bool {
	if c.ClusterID != "" && m.ClusterID != c.ClusterID {
		return false
	}
	if c.Topic != "" && m.Topic != c.Topic {
		return false
	}
	if c.Sender != "" && m.Sender != c.Sender {
		return false
	}
	if c.Since != 0 && m.Timestamp <= c.Since {
		return false
	}
	return true
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &stringError{msg: "ledger: subscriber panicked: " + toString(r)}
}

type stringError struct{ msg string }

func (e *stringError) Error() string { return e.msg }

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return "(non-string panic value)"
	}
}

// SortByTimestamp is a stable sort used by consumers that merge messages
// from multiple queries (e.g. the context builder's multi-source render).
func SortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
