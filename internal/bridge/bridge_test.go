package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/events"
	"github.com/qorelogic/sentinel/internal/logging"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(m *nats.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestAttachRepublishesEveryTopic(t *testing.T) {
	bus := events.NewBus(events.Config{Logger: logging.NewTestLogger()})
	t.Cleanup(bus.Close)
	pub := &fakePublisher{}
	b := New(pub, "", logging.NewTestLogger())
	unsubscribe := b.Attach(bus)

	bus.Emit(events.TopicVerdictProduced, map[string]string{"id": "v1"})
	bus.Emit(events.TopicEscalationQueued, events.EscalationQueuedData{VerdictID: "v2", RequestID: "r1"})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "sentinel.verdict.produced", pub.msgs[0].Subject)
	assert.Equal(t, "sentinel.escalation.queued", pub.msgs[1].Subject)

	assert.Equal(t, bus.SessionID()+":1", pub.msgs[0].Header.Get(nats.MsgIdHdr))
	assert.Equal(t, bus.SessionID()+":2", pub.msgs[1].Header.Get(nats.MsgIdHdr))

	var env events.Envelope
	require.NoError(t, json.Unmarshal(pub.msgs[1].Data, &env))
	assert.Equal(t, events.TopicEscalationQueued, env.Topic)
	assert.Equal(t, uint64(2), env.Seq)

	unsubscribe()
	bus.Emit(events.TopicTrustUpdated, nil)
	assert.Len(t, pub.msgs, 2)

	published, failed := b.Stats()
	assert.Equal(t, int64(2), published)
	assert.Equal(t, int64(0), failed)
}

func TestPublishFailureIsCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	b := New(pub, "audit", logging.NewTestLogger())

	err := b.Publish(events.Envelope{Seq: 1, SessionID: "s", Topic: events.TopicStreamEvent})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.stream.event")

	_, failed := b.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	b := New(&fakePublisher{}, "", logging.NewTestLogger())
	err := b.Publish(events.Envelope{Topic: events.TopicStreamEvent, Payload: make(chan int)})
	assert.Error(t, err)
}
