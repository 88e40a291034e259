package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

func testClient(eventID uuid.UUID, buffer int) *Client {
	return &Client{
		ID:      uuid.New().String(),
		EventID: eventID,
		UserID:  uuid.New(),
		send:    make(chan Message, buffer),
	}
}

// fakeRedis records publishes and subscriptions in place of a live connection.
type fakeRedis struct {
	mu         sync.Mutex
	published  [][]byte
	subscribed map[uuid.UUID]func(payload []byte)
	cancelled  int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{subscribed: make(map[uuid.UUID]func([]byte))}
}

func (f *fakeRedis) PublishEventMessage(_ uuid.UUID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeRedis) SubscribeEvent(eventID uuid.UUID, handler func(payload []byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[eventID] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled++
		delete(f.subscribed, eventID)
	}, nil
}

func TestHubFanOutPerRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	eventA, eventB := uuid.New(), uuid.New()

	a1 := testClient(eventA, 4)
	a2 := testClient(eventA, 4)
	b1 := testClient(eventB, 4)
	hub.Register(a1)
	hub.Register(a2)
	hub.Register(b1)

	pollID := uuid.New()
	hub.Publish(eventA, Message{Type: TypeBallotChanged, PollID: pollID, Sequence: 1})

	for _, c := range []*Client{a1, a2} {
		select {
		case msg := <-c.send:
			if msg.PollID != pollID {
				t.Errorf("client %s got poll %s, want %s", c.ID, msg.PollID, pollID)
			}
		default:
			t.Errorf("client %s in event room received nothing", c.ID)
		}
	}
	select {
	case <-b1.send:
		t.Error("client in another event room received the message")
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	eventID := uuid.New()

	slow := testClient(eventID, 1)
	hub.Register(slow)
	slow.send <- Message{Sequence: 1} // fill the buffer

	done := make(chan struct{})
	go func() {
		hub.Publish(eventID, Message{Sequence: 2})
		close(done)
	}()
	<-done

	if got := <-slow.send; got.Sequence != 1 {
		t.Fatalf("buffered message sequence = %d, want the original 1", got.Sequence)
	}
	select {
	case msg := <-slow.send:
		t.Fatalf("unexpected second message %v, overflow should be dropped", msg)
	default:
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	eventID := uuid.New()

	c1 := testClient(eventID, 1)
	c2 := testClient(eventID, 1)
	hub.Register(c1)
	hub.Register(c2)
	if n := hub.SubscriberCount(eventID); n != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", n)
	}

	hub.Unregister(c1)
	if n := hub.SubscriberCount(eventID); n != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", n)
	}
	hub.Unregister(c2)
	if n := hub.SubscriberCount(eventID); n != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", n)
	}
}

func TestHubRedisSubscriptionLifecycle(t *testing.T) {
	fake := newFakeRedis()
	hub := NewHub(nil, fake, fake)
	eventID := uuid.New()

	c1 := testClient(eventID, 4)
	c2 := testClient(eventID, 4)
	hub.Register(c1)
	hub.Register(c2)

	fake.mu.Lock()
	handler, subscribed := fake.subscribed[eventID]
	fake.mu.Unlock()
	if !subscribed {
		t.Fatal("first client join must subscribe the event channel")
	}

	// A payload arriving over the channel fans out locally.
	payload, _ := json.Marshal(Message{Type: TypePollEnded, PollID: uuid.New(), Sequence: 7})
	handler(payload)
	select {
	case msg := <-c1.send:
		if msg.Type != TypePollEnded || msg.Sequence != 7 {
			t.Fatalf("relayed message = %+v", msg)
		}
	default:
		t.Fatal("relayed redis message not delivered locally")
	}

	hub.Unregister(c1)
	fake.mu.Lock()
	cancelled := fake.cancelled
	fake.mu.Unlock()
	if cancelled != 0 {
		t.Fatal("subscription cancelled while a client remains")
	}

	hub.Unregister(c2)
	fake.mu.Lock()
	cancelled = fake.cancelled
	fake.mu.Unlock()
	if cancelled != 1 {
		t.Fatalf("cancelled = %d, want 1 after last client leaves", cancelled)
	}
}

func TestHubPublishesToRedis(t *testing.T) {
	fake := newFakeRedis()
	hub := NewHub(nil, fake, fake)
	eventID := uuid.New()

	hub.Publish(eventID, Message{Type: TypeBallotChanged, PollID: uuid.New(), Sequence: 3})

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.published) != 1 {
		t.Fatalf("published %d payloads, want 1", len(fake.published))
	}
	var msg Message
	if err := json.Unmarshal(fake.published[0], &msg); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if msg.Type != TypeBallotChanged || msg.Sequence != 3 {
		t.Fatalf("round-tripped message = %+v", msg)
	}
}

func TestMemSequencer(t *testing.T) {
	seq := NewMemSequencer()
	pollA, pollB := uuid.New(), uuid.New()

	for want := uint64(1); want <= 3; want++ {
		if got := seq.Next(pollA); got != want {
			t.Fatalf("Next(pollA) = %d, want %d", got, want)
		}
	}
	if got := seq.Next(pollB); got != 1 {
		t.Fatalf("Next(pollB) = %d, want independent counter starting at 1", got)
	}
}

func TestMemSequencerConcurrentUnique(t *testing.T) {
	seq := NewMemSequencer()
	pollID := uuid.New()

	const n = 64
	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- seq.Next(pollID)
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool, n)
	for v := range results {
		if seen[v] {
			t.Fatalf("sequence %d issued twice", v)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct sequences, want %d", len(seen), n)
	}
}

func TestNotifierSequencesMessages(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	notifier := NewNotifier(hub, NewMemSequencer())

	eventID := uuid.New()
	client := testClient(eventID, 8)
	hub.Register(client)

	poll := &models.Poll{ID: uuid.New(), EventID: eventID, Status: models.StatusActive}
	snap := models.ResultSnapshot{PollID: poll.ID, TotalBallots: 1}

	notifier.PollCreated(eventID, poll)
	notifier.BallotChanged(eventID, poll.ID, snap)
	notifier.PollEnded(eventID, poll.ID, snap)

	wantTypes := []MessageType{TypePollCreated, TypeBallotChanged, TypePollEnded}
	for i, wantType := range wantTypes {
		select {
		case msg := <-client.send:
			if msg.Type != wantType {
				t.Fatalf("message %d type = %q, want %q", i, msg.Type, wantType)
			}
			if msg.Sequence != uint64(i+1) {
				t.Fatalf("message %d sequence = %d, want %d", i, msg.Sequence, i+1)
			}
			if msg.PollID != poll.ID {
				t.Fatalf("message %d poll = %s, want %s", i, msg.PollID, poll.ID)
			}
		default:
			t.Fatalf("message %d not delivered", i)
		}
	}
}
