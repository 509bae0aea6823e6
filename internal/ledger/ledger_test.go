package ledger

import (
	"sync"
	"testing"
)

func TestPublishNotifiesSubscribersInOrder(t *testing.T) {
	l := New("c1", nil)

	var mu sync.Mutex
	var seenA, seenB []string

	l.Subscribe(func(m Message) {
		mu.Lock()
		seenA = append(seenA, m.Topic)
		mu.Unlock()
	})
	l.Subscribe(func(m Message) {
		mu.Lock()
		seenB = append(seenB, m.Topic)
		mu.Unlock()
	})

	l.Publish(Message{Topic: "ISSUE_OPENED"})
	l.Publish(Message{Topic: "TASK_COMPLETED"})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"ISSUE_OPENED", "TASK_COMPLETED"}
	for i, w := range want {
		if seenA[i] != w || seenB[i] != w {
			t.Errorf("subscriber mismatch at %d: a=%v b=%v want=%v", i, seenA, seenB, want)
		}
	}
}

func TestSubscriberPanicDoesNotBlockOthers(t *testing.T) {
	var sinkErr error
	l := New("c1", func(err error) { sinkErr = err })

	delivered := false
	l.Subscribe(func(m Message) { panic("boom") })
	l.Subscribe(func(m Message) { delivered = true })

	l.Publish(Message{Topic: "X"})

	if !delivered {
		t.Fatal("second subscriber should still be delivered to")
	}
	if sinkErr == nil {
		t.Fatal("expected panic to be forwarded to the error sink")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	l := New("c1", nil)
	count := 0
	sub := l.Subscribe(func(m Message) { count++ })

	l.Publish(Message{Topic: "A"})
	sub.Unsubscribe()
	l.Publish(Message{Topic: "B"})

	if count != 1 {
		t.Errorf("expected 1 delivery before unsubscribe, got %d", count)
	}
}

func TestQuerySinceIsStrictlyGreaterThan(t *testing.T) {
	l := New("c1", nil)
	m1 := l.Publish(Message{Topic: "T", Timestamp: 100})
	l.Publish(Message{Topic: "T", Timestamp: 200})

	got := l.Query(Criteria{ClusterID: "c1", Topic: "T", Since: m1.Timestamp})
	if len(got) != 1 || got[0].Timestamp != 200 {
		t.Errorf("expected only the message after since=100, got %+v", got)
	}
}

func TestQueryLimitReturnsMostRecentN(t *testing.T) {
	l := New("c1", nil)
	for i := 0; i < 5; i++ {
		l.Publish(Message{Topic: "T", Timestamp: int64(i + 1)})
	}

	got := l.Query(Criteria{Topic: "T", Limit: 2})
	if len(got) != 2 || got[0].Timestamp != 4 || got[1].Timestamp != 5 {
		t.Errorf("expected the 2 most recent messages in order, got %+v", got)
	}
}

func TestFindLastAndCount(t *testing.T) {
	l := New("c1", nil)
	l.Publish(Message{Topic: "A", Sender: "w1"})
	l.Publish(Message{Topic: "B", Sender: "w1"})
	l.Publish(Message{Topic: "A", Sender: "w2"})

	last, ok := l.FindLast(Criteria{Topic: "A"})
	if !ok || last.Sender != "w2" {
		t.Errorf("expected last A sender w2, got %+v ok=%v", last, ok)
	}

	if n := l.Count(Criteria{Topic: "A"}); n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}
}

func TestPublishAssignsMonotoneTimestampWhenUnset(t *testing.T) {
	l := New("c1", nil)
	m1 := l.Publish(Message{Topic: "A"})
	m2 := l.Publish(Message{Topic: "B"})

	if m1.Timestamp == 0 || m2.Timestamp == 0 {
		t.Fatal("expected timestamps to be stamped")
	}
	if m2.Timestamp < m1.Timestamp {
		t.Errorf("expected monotone-nondecreasing timestamps, got %d then %d", m1.Timestamp, m2.Timestamp)
	}
}
