package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/garnizeh/expertfeed/api"
	"github.com/garnizeh/expertfeed/internal/match"
	"github.com/garnizeh/expertfeed/pkg/models"
	"github.com/garnizeh/expertfeed/pkg/repository/mock"
)

type fakeChannel struct {
	mu     sync.Mutex
	joined []string
	left   []string
	events chan models.QuestionEvent
	once   sync.Once
	closed chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan models.QuestionEvent, 16), closed: make(chan struct{})}
}

func (c *fakeChannel) Join(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, topic)
	return nil
}

func (c *fakeChannel) Leave(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, topic)
	return nil
}

func (c *fakeChannel) Events() <-chan models.QuestionEvent { return c.events }

func (c *fakeChannel) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		close(c.events)
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeChannel) topics() (joined, left []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.joined), slices.Clone(c.left)
}

func openerFor(ch *fakeChannel) api.ChannelOpener {
	return func(ctx context.Context) (api.StreamChannel, error) { return ch, nil }
}

type streamMsg struct {
	Type  string        `json:"type"`
	Items []match.Entry `json:"items"`
	Error string        `json:"error"`
}

func providerFixture(t *testing.T) *mock.Mocks {
	t.Helper()
	m := mock.NewMocks()
	if err := m.Profiles.UpsertProfile(context.Background(), &models.ProviderProfile{
		UserID:     7,
		Categories: []models.Category{{Name: "Design"}},
		Skills:     []string{"figma"},
	}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	now := time.Now().UTC()
	m.Questions.Put(models.Question{ID: "match", Title: "a", Category: "design", Tags: []string{}, Status: models.QuestionPending, CreatedAt: now, UpdatedAt: now})
	m.Questions.Put(models.Question{ID: "other", Title: "b", Category: "Finance", Tags: []string{"tax"}, Status: models.QuestionPending, CreatedAt: now, UpdatedAt: now})
	return m
}

func TestGetFeed(t *testing.T) {
	m := providerFixture(t)
	h := newRouter(m, nil, nil)

	w := doJSON(t, h, http.MethodGet, "/v1/feed", tokenFor(t, 7, models.RoleProvider), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	got := decodeBody[struct {
		Items []match.Entry `json:"items"`
	}](t, w)
	if len(got.Items) != 1 || got.Items[0].Question.ID != "match" || got.Items[0].Score != 3 {
		t.Fatalf("unexpected feed: %#v", got.Items)
	}

	// a provider without a stored profile matches nothing
	w = doJSON(t, h, http.MethodGet, "/v1/feed", tokenFor(t, 8, models.RoleProvider), nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Fatalf("expected empty items, got %d %s", w.Code, w.Body.String())
	}

	if w := doJSON(t, h, http.MethodGet, "/v1/feed", tokenFor(t, 1, models.RoleSeeker), nil); w.Code != http.StatusForbidden {
		t.Fatalf("seeker: expected 403, got %d", w.Code)
	}

	m.Questions.ListErr = errors.New("db gone")
	if w := doJSON(t, h, http.MethodGet, "/v1/feed", tokenFor(t, 7, models.RoleProvider), nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("source failure: expected 503, got %d", w.Code)
	}

	m.Questions.ListErr = nil
	m.Profiles.GetErr = errors.New("db gone")
	if w := doJSON(t, h, http.MethodGet, "/v1/feed", tokenFor(t, 7, models.RoleProvider), nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("profile failure: expected 503, got %d", w.Code)
	}
}

func dialStream(t *testing.T, h http.Handler, token string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/feed/stream?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) streamMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg streamMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitClosed(t *testing.T, ch *fakeChannel) {
	t.Helper()
	select {
	case <-ch.closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("realtime channel was not closed")
	}
}

func TestFeedStream_SnapshotsAndTeardown(t *testing.T) {
	m := providerFixture(t)
	ch := newFakeChannel()
	conn := dialStream(t, newRouter(m, nil, openerFor(ch)), tokenFor(t, 7, models.RoleProvider))

	first := readMsg(t, conn)
	if first.Type != "snapshot" || len(first.Items) != 1 || first.Items[0].Question.ID != "match" {
		t.Fatalf("unexpected initial snapshot: %#v", first)
	}

	joined, _ := ch.topics()
	if !slices.Equal(joined, []string{"category:design", "tag:figma"}) {
		t.Fatalf("unexpected joined topics: %v", joined)
	}

	later := time.Now().UTC().Add(time.Minute)
	ch.events <- models.QuestionEvent{
		Type:     models.EventQuestionCreated,
		Topic:    "tag:figma",
		Question: models.Question{ID: "fresh", Title: "c", Category: "Design", Tags: []string{"Figma"}, CreatedAt: later, UpdatedAt: later},
	}
	next := readMsg(t, conn)
	if next.Type != "snapshot" || len(next.Items) != 2 || next.Items[0].Question.ID != "fresh" || next.Items[0].Score != 5 {
		t.Fatalf("unexpected snapshot after create: %#v", next)
	}

	// demotion: the question no longer matches and leaves the feed
	ch.events <- models.QuestionEvent{
		Type:     models.EventQuestionUpdated,
		Topic:    "category:design",
		Question: models.Question{ID: "match", Title: "a", Category: "Finance", Tags: []string{"tax"}},
	}
	after := readMsg(t, conn)
	if len(after.Items) != 1 || after.Items[0].Question.ID != "fresh" {
		t.Fatalf("expected demoted question removed: %#v", after)
	}

	conn.Close()
	waitClosed(t, ch)
	_, left := ch.topics()
	slices.Sort(left)
	if !slices.Equal(left, []string{"category:design", "tag:figma"}) {
		t.Fatalf("expected every joined topic left once, got %v", left)
	}
}

func TestFeedStream_LoadFailure(t *testing.T) {
	m := providerFixture(t)
	m.Profiles.GetErr = errors.New("db gone")
	ch := newFakeChannel()
	conn := dialStream(t, newRouter(m, nil, openerFor(ch)), tokenFor(t, 7, models.RoleProvider))
	defer conn.Close()

	msg := readMsg(t, conn)
	if msg.Type != "error" || msg.Error != "feed unavailable" {
		t.Fatalf("unexpected message: %#v", msg)
	}
	waitClosed(t, ch)
	if joined, _ := ch.topics(); len(joined) != 0 {
		t.Fatalf("failed load must not join topics, got %v", joined)
	}
}

func TestFeedStream_ChannelUnavailable(t *testing.T) {
	m := providerFixture(t)
	open := func(ctx context.Context) (api.StreamChannel, error) { return nil, errors.New("redis down") }
	conn := dialStream(t, newRouter(m, nil, open), tokenFor(t, 7, models.RoleProvider))
	defer conn.Close()

	if msg := readMsg(t, conn); msg.Type != "error" {
		t.Fatalf("expected error message, got %#v", msg)
	}
}

func TestFeedStream_RequiresProvider(t *testing.T) {
	srv := httptest.NewServer(newRouter(providerFixture(t), nil, openerFor(newFakeChannel())))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/feed/stream?access_token=" + tokenFor(t, 1, models.RoleSeeker)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail for seekers")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %v", resp)
	}
	resp.Body.Close()
}
