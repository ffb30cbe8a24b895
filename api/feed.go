package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/garnizeh/expertfeed/internal/config"
	"github.com/garnizeh/expertfeed/internal/feed"
	"github.com/garnizeh/expertfeed/internal/match"
	"github.com/garnizeh/expertfeed/pkg/models"
	"github.com/garnizeh/expertfeed/pkg/repository"
)

// StreamChannel is one realtime subscription owned by a stream session.
// realtime.RedisChannel satisfies it.
type StreamChannel interface {
	feed.Channel
	Events() <-chan models.QuestionEvent
	Close() error
}

// ChannelOpener opens a fresh StreamChannel for each stream session.
type ChannelOpener func(ctx context.Context) (StreamChannel, error)

type FeedHandler struct {
	profiles  repository.ProfileRepo
	questions repository.QuestionRepo
	open      ChannelOpener
	cfg       config.StreamConfig
	upgrader  websocket.Upgrader
}

func NewFeedHandler(pr repository.ProfileRepo, qr repository.QuestionRepo, open ChannelOpener, cfg config.StreamConfig) *FeedHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &FeedHandler{
		profiles:  pr,
		questions: qr,
		open:      open,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// streams authenticate with the access token, not the origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type feedResponse struct {
	Items []match.Entry `json:"items"`
}

type streamMessage struct {
	Type  string        `json:"type"`
	Items []match.Entry `json:"items,omitempty"`
	Error string        `json:"error,omitempty"`
}

// GetFeed ranks the current candidate set for the acting provider once.
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	src := h.sources(r.Context())

	var (
		p  *models.ProviderProfile
		qs []models.Question
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		p, err = src.GetProviderProfile(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		qs, err = src.GetCandidateQuestions(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("feed sources", slog.Any("err", err))
		http.Error(w, "Feed unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, feedResponse{Items: feed.Rank(*p, qs)}, http.StatusOK)
}

// Stream upgrades to a websocket and runs one feed session until the client
// goes away. Every mutation is pushed as a full snapshot.
func (h *FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		logger.Warn("websocket upgrade", slog.Any("err", err))
		return
	}
	defer conn.Close()

	// the request context is not reliably cancelled for hijacked connections
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessLog := logger.With(slog.Int64("user_id", uid))
	s := &streamSession{conn: conn, cfg: h.cfg, log: sessLog, pending: make(chan []match.Entry, 1)}

	ch, err := h.open(ctx)
	if err != nil {
		sessLog.Error("open realtime channel", slog.Any("err", err))
		_ = s.write(streamMessage{Type: "error", Error: feed.ErrUnavailable.Error()})
		return
	}

	src := h.sources(r.Context())
	f := feed.New(src, src, ch,
		feed.WithLogger(sessLog),
		feed.WithOnChange(s.offer),
	)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		// unblocks readLoop
		conn.Close()
		wg.Wait()
		teardown, tcancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
		defer tcancel()
		if err := f.Close(teardown); err != nil {
			sessLog.Warn("leave topics", slog.Any("err", err))
		}
		if err := ch.Close(); err != nil {
			sessLog.Warn("close realtime channel", slog.Any("err", err))
		}
	}()

	if err := f.Load(ctx); err != nil {
		sessLog.Warn("feed load", slog.Any("err", err))
		_ = s.write(streamMessage{Type: "error", Error: feed.ErrUnavailable.Error()})
		return
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		f.Run(ctx, ch.Events())
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.readLoop()
	}()

	s.writeLoop(ctx)
}

// sources binds the repositories to the acting provider.
func (h *FeedHandler) sources(ctx context.Context) repoSource {
	uid, _ := UserIDFromContext(ctx)
	return repoSource{userID: uid, profiles: h.profiles, questions: h.questions}
}

type repoSource struct {
	userID    int64
	profiles  repository.ProfileRepo
	questions repository.QuestionRepo
}

// GetProviderProfile treats a provider without a stored profile as one with
// nothing to match.
func (s repoSource) GetProviderProfile(ctx context.Context) (*models.ProviderProfile, error) {
	p, err := s.profiles.GetProfile(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &models.ProviderProfile{UserID: s.userID}, nil
	}
	return p, nil
}

func (s repoSource) GetCandidateQuestions(ctx context.Context) ([]models.Question, error) {
	return s.questions.ListQuestions(ctx)
}

type streamSession struct {
	conn *websocket.Conn
	cfg  config.StreamConfig
	log  *slog.Logger
	// holds at most the latest unsent snapshot
	pending chan []match.Entry
}

// offer replaces any unsent snapshot with entries. It is only called with the
// feed locked, so there is a single producer.
func (s *streamSession) offer(entries []match.Entry) {
	for {
		select {
		case s.pending <- entries:
			return
		default:
			select {
			case <-s.pending:
			default:
			}
		}
	}
}

func (s *streamSession) writeLoop(ctx context.Context) {
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			return
		case entries := <-s.pending:
			if entries == nil {
				entries = []match.Entry{}
			}
			if err := s.write(streamMessage{Type: "snapshot", Items: entries}); err != nil {
				s.log.Debug("stream write", slog.Any("err", err))
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.log.Debug("stream ping", slog.Any("err", err))
				return
			}
		}
	}
}

func (s *streamSession) write(msg streamMessage) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// readLoop discards client frames and returns once the connection is gone.
func (s *streamSession) readLoop() {
	deadline := 2 * s.cfg.PingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(deadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				s.log.Debug("stream read", slog.Any("err", err))
			}
			return
		}
	}
}
