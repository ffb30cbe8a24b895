package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/expertfeed/pkg/models"
)

// ErrMalformed is returned for payloads that fail envelope validation.
var ErrMalformed = errors.New("malformed event")

// envelopeSchema describes the wire format of a question event. A question
// must carry an id and at least one of category or tags.
const envelopeSchema = `{
  "type": "object",
  "required": ["event", "question"],
  "properties": {
    "event": {"type": "string", "enum": ["question.created", "question.updated"]},
    "question": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "title": {"type": "string"},
        "description": {"type": "string"},
        "category": {"type": "string"},
        "tags": {"type": "array", "items": {"type": "string"}},
        "status": {"type": "string", "enum": ["", "PENDING", "ANSWERED", "CLOSED"]},
        "created_at": {"type": "string"},
        "updated_at": {"type": "string"}
      },
      "anyOf": [
        {"required": ["category"]},
        {"required": ["tags"]}
      ]
    }
  }
}`

var schema = mustCompile(envelopeSchema)

func mustCompile(src string) *jsonschema.Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(src), rs); err != nil {
		panic(fmt.Sprintf("compile envelope schema: %v", err))
	}
	return rs
}

type envelope struct {
	Event    models.EventType `json:"event"`
	Question models.Question  `json:"question"`
}

// Encode renders an event in wire format. The asking seeker is never
// published to subscribers.
func Encode(event models.EventType, q models.Question) ([]byte, error) {
	q.SeekerID = 0
	if q.Tags == nil {
		q.Tags = []string{}
	}
	return json.Marshal(envelope{Event: event, Question: q})
}

// Decode validates payload and turns it into an event received on topic.
// Validation failures wrap ErrMalformed.
func Decode(ctx context.Context, topic string, payload []byte) (models.QuestionEvent, error) {
	keyErrs, err := schema.ValidateBytes(ctx, payload)
	if err != nil {
		return models.QuestionEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(keyErrs) > 0 {
		msgs := make([]string, 0, len(keyErrs))
		for _, ke := range keyErrs {
			msgs = append(msgs, ke.Error())
		}
		return models.QuestionEvent{}, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(msgs, "; "))
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return models.QuestionEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(env.Question.ID) == "" {
		return models.QuestionEvent{}, fmt.Errorf("%w: blank question id", ErrMalformed)
	}
	env.Question.SeekerID = 0
	return models.QuestionEvent{Type: env.Event, Topic: topic, Question: env.Question}, nil
}
