package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garnizeh/expertfeed/internal/match"
	"github.com/garnizeh/expertfeed/pkg/models"
)

// TypeQuestionBroadcast publishes a question event on the realtime channel.
const TypeQuestionBroadcast = "question.broadcast"

// broadcastPriority runs broadcasts ahead of default-priority work.
const broadcastPriority = 10

type BroadcastPayload struct {
	Event    models.EventType `json:"event"`
	Question models.Question  `json:"question"`
	// PreviousTopics are the topics of the version an update replaced.
	PreviousTopics []string `json:"previous_topics,omitempty"`
}

// Publisher is satisfied by realtime.Publisher.
type Publisher interface {
	Publish(ctx context.Context, event models.EventType, q models.Question, extraTopics ...string) (int, error)
}

// Enqueuer is satisfied by WorkerPool.
type Enqueuer interface {
	Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error)
}

// BroadcastHandler returns the handler for TypeQuestionBroadcast jobs.
func BroadcastHandler(pub Publisher) Handler {
	return func(ctx context.Context, j *Job) error {
		var p BroadcastPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("decode broadcast payload: %w", err)
		}
		if _, err := pub.Publish(ctx, p.Event, p.Question, p.PreviousTopics...); err != nil {
			return err
		}
		return nil
	}
}

// Broadcaster records question events in the outbox.
type Broadcaster struct {
	enq         Enqueuer
	maxAttempts int
}

func NewBroadcaster(enq Enqueuer, maxAttempts int) *Broadcaster {
	return &Broadcaster{enq: enq, maxAttempts: maxAttempts}
}

// Broadcast enqueues event for q. For updates, prev is the replaced version;
// its topics are carried along so subscribers who matched it hear about the
// change.
func (b *Broadcaster) Broadcast(ctx context.Context, event models.EventType, q models.Question, prev *models.Question) error {
	p := BroadcastPayload{Event: event, Question: q}
	if prev != nil {
		p.PreviousTopics = match.QuestionTopics(*prev)
	}
	if _, err := b.enq.Enqueue(ctx, TypeQuestionBroadcast, p, broadcastPriority, b.maxAttempts); err != nil {
		return fmt.Errorf("enqueue broadcast: %w", err)
	}
	return nil
}
