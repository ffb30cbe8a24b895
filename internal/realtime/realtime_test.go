package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/expertfeed/internal/feed"
	"github.com/garnizeh/expertfeed/internal/realtime"
	"github.com/garnizeh/expertfeed/pkg/models"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func waitSubscribers(t *testing.T, client *redis.Client, topic string, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), topic).Result()
		return err == nil && n[topic] == want
	}, 2*time.Second, 10*time.Millisecond, "topic %s never reached %d subscribers", topic, want)
}

func receive(t *testing.T, ch *realtime.RedisChannel) models.QuestionEvent {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return models.QuestionEvent{}
}

func TestEncodeDecode(t *testing.T) {
	q := models.Question{ID: "q1", Title: "t", Category: "Design", Status: models.QuestionPending}
	b, err := realtime.Encode(models.EventQuestionCreated, q)
	require.NoError(t, err)

	ev, err := realtime.Decode(context.Background(), "category:design", b)
	require.NoError(t, err)
	assert.Equal(t, models.EventQuestionCreated, ev.Type)
	assert.Equal(t, "category:design", ev.Topic)
	assert.Equal(t, "q1", ev.Question.ID)
	assert.Empty(t, ev.Question.Tags)
}

func TestEncode_OmitsSeeker(t *testing.T) {
	q := models.Question{ID: "q1", Category: "Design", SeekerID: 42}
	b, err := realtime.Encode(models.EventQuestionUpdated, q)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "seeker_id")
	assert.Equal(t, int64(42), q.SeekerID)

	ev, err := realtime.Decode(context.Background(), "tag:x",
		[]byte(`{"event":"question.created","question":{"id":"a","category":"x","seeker_id":9}}`))
	require.NoError(t, err)
	assert.Zero(t, ev.Question.SeekerID)
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":        `{{{`,
		"missing event":   `{"question":{"id":"a","category":"x"}}`,
		"unknown event":   `{"event":"question.deleted","question":{"id":"a","category":"x"}}`,
		"missing id":      `{"event":"question.created","question":{"category":"x"}}`,
		"empty id":        `{"event":"question.created","question":{"id":"","category":"x"}}`,
		"blank id":        `{"event":"question.created","question":{"id":"  ","category":"x"}}`,
		"no category/tag": `{"event":"question.created","question":{"id":"a","title":"x"}}`,
		"tags not array":  `{"event":"question.updated","question":{"id":"a","tags":"x"}}`,
		"bad status":      `{"event":"question.updated","question":{"id":"a","tags":[],"status":"OPEN"}}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := realtime.Decode(context.Background(), "tag:x", []byte(payload))
			assert.ErrorIs(t, err, realtime.ErrMalformed)
		})
	}
}

func TestRedisChannel_JoinReceiveLeave(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	ch, err := realtime.Open(ctx, client)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Join(ctx, "tag:python"))
	require.NoError(t, ch.Join(ctx, "tag:python"))
	waitSubscribers(t, client, "tag:python", 1)

	pub := realtime.NewPublisher(client, nil)
	q := models.Question{ID: "q1", Category: "Other", Tags: []string{"Python"}, Status: models.QuestionPending}
	n, err := pub.Publish(ctx, models.EventQuestionCreated, q)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "category and tag topic")

	ev := receive(t, ch)
	assert.Equal(t, "tag:python", ev.Topic)
	assert.Equal(t, "q1", ev.Question.ID)

	require.NoError(t, ch.Leave(ctx, "tag:python"))
	waitSubscribers(t, client, "tag:python", 0)
}

func TestRedisChannel_DropsMalformedPayloads(t *testing.T) {
	s, client := newRedis(t)
	ctx := context.Background()

	ch, err := realtime.Open(ctx, client)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Join(ctx, "tag:go"))
	waitSubscribers(t, client, "tag:go", 1)

	s.Publish("tag:go", `{"event":"question.created","question":{"category":"x"}}`)
	s.Publish("tag:go", `{"event":"question.created","question":{"id":"ok","tags":["go"]}}`)

	ev := receive(t, ch)
	assert.Equal(t, "ok", ev.Question.ID)
}

func TestRedisChannel_CloseIsIdempotent(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	t.Run("never joined", func(t *testing.T) {
		ch, err := realtime.Open(ctx, client)
		require.NoError(t, err)
		require.NoError(t, ch.Close())
		require.NoError(t, ch.Close())
		_, ok := <-ch.Events()
		assert.False(t, ok)
		assert.ErrorIs(t, ch.Join(ctx, "tag:x"), realtime.ErrChannelClosed)
	})

	t.Run("after join", func(t *testing.T) {
		ch, err := realtime.Open(ctx, client)
		require.NoError(t, err)
		require.NoError(t, ch.Join(ctx, "tag:y"))
		_ = ch.Close()
		_ = ch.Close()
		select {
		case _, ok := <-ch.Events():
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("events not closed")
		}
		assert.ErrorIs(t, ch.Leave(ctx, "tag:y"), realtime.ErrChannelClosed)
	})
}

func TestPublisher_UpdateReachesPreviousTopics(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	ch, err := realtime.Open(ctx, client)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Join(ctx, "tag:python"))
	waitSubscribers(t, client, "tag:python", 1)

	upd := models.Question{ID: "q1", Category: "Other", Tags: []string{"rust"}}
	n, err := realtime.NewPublisher(client, nil).Publish(ctx, models.EventQuestionUpdated, upd, "tag:python", "tag:rust")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ev := receive(t, ch)
	assert.Equal(t, models.EventQuestionUpdated, ev.Type)
	assert.Equal(t, []string{"rust"}, ev.Question.Tags)
}

type staticProfile struct{ p models.ProviderProfile }

func (s staticProfile) GetProviderProfile(ctx context.Context) (*models.ProviderProfile, error) {
	return &s.p, nil
}

type staticQuestions []models.Question

func (s staticQuestions) GetCandidateQuestions(ctx context.Context) ([]models.Question, error) {
	return s, nil
}

// A question broadcast on two topics the provider joined arrives twice and
// still appears once.
func TestFeedOverRedis(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := realtime.Open(ctx, client)
	require.NoError(t, err)
	defer ch.Close()

	profile := models.ProviderProfile{Categories: []models.Category{{Name: "Design"}}, Skills: []string{"figma"}}
	f := feed.New(staticProfile{profile}, staticQuestions{}, ch)
	require.NoError(t, f.Load(ctx))
	defer f.Close(context.Background())
	go f.Run(ctx, ch.Events())

	waitSubscribers(t, client, "category:design", 1)
	waitSubscribers(t, client, "tag:figma", 1)

	pub := realtime.NewPublisher(client, nil)
	q := models.Question{ID: "q1", Category: "design", Tags: []string{"Figma"}}
	_, err = pub.Publish(ctx, models.EventQuestionCreated, q)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := f.Snapshot()
		return len(snap) == 1 && snap[0].Score == 5
	}, 2*time.Second, 10*time.Millisecond)

	upd := q
	upd.Category = "Other"
	upd.Tags = []string{"sketch"}
	_, err = pub.Publish(ctx, models.EventQuestionUpdated, upd, "category:design", "tag:figma")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.Snapshot()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
