// Package feed keeps a provider's ranked list of matching questions current.
//
// A Feed is loaded once from a profile source and a question source, then
// kept up to date from realtime question events. Handlers never overlap, and
// every mutation re-sorts the whole list.
//
// The profile is captured by Load and stays fixed for the life of the Feed.
// To pick up a profile change, Close the Feed and build a new one.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/garnizeh/expertfeed/internal/match"
	"github.com/garnizeh/expertfeed/pkg/models"
)

var (
	// ErrUnavailable wraps any failure of the initial profile or question fetch.
	ErrUnavailable   = errors.New("feed unavailable")
	ErrAlreadyLoaded = errors.New("feed already loaded")
	ErrClosed        = errors.New("feed closed")
)

type ProfileSource interface {
	GetProviderProfile(ctx context.Context) (*models.ProviderProfile, error)
}

type QuestionSource interface {
	GetCandidateQuestions(ctx context.Context) ([]models.Question, error)
}

// Channel controls membership of realtime topics.
type Channel interface {
	Join(ctx context.Context, topic string) error
	Leave(ctx context.Context, topic string) error
}

type Option func(*Feed)

func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithOnChange registers fn to receive a snapshot after every mutation. fn runs
// while the feed is locked and must not call back into the Feed.
func WithOnChange(fn func([]match.Entry)) Option {
	return func(f *Feed) { f.onChange = fn }
}

type Feed struct {
	profiles  ProfileSource
	questions QuestionSource
	channel   Channel
	logger    *slog.Logger
	onChange  func([]match.Entry)

	mu      sync.Mutex
	profile *models.ProviderProfile
	matcher *match.Matcher
	entries []match.Entry
	joined  []string
	closed  bool
	// ids seen on live events while the bulk list is still pending; nil otherwise
	touched map[string]struct{}
}

func New(profiles ProfileSource, questions QuestionSource, channel Channel, opts ...Option) *Feed {
	f := &Feed{
		profiles:  profiles,
		questions: questions,
		channel:   channel,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load fetches the profile and the candidate questions concurrently, joins the
// profile's topics and applies the bulk list. If either fetch fails nothing is
// joined and the error wraps ErrUnavailable; Load may then be called again.
func (f *Feed) Load(ctx context.Context) error {
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return ErrClosed
	case f.profile != nil:
		f.mu.Unlock()
		return ErrAlreadyLoaded
	}
	f.mu.Unlock()

	var (
		profile   *models.ProviderProfile
		questions []models.Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := f.profiles.GetProviderProfile(gctx)
		if err != nil {
			return fmt.Errorf("get provider profile: %w", err)
		}
		if p == nil {
			return errors.New("get provider profile: no profile")
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		qs, err := f.questions.GetCandidateQuestions(gctx)
		if err != nil {
			return fmt.Errorf("get candidate questions: %w", err)
		}
		questions = qs
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// From here on live events are accepted, so they may race the bulk merge
	// below. A live event is never older than the bulk copy, so ids it touched
	// are skipped by the merge.
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.profile != nil {
		f.mu.Unlock()
		return ErrAlreadyLoaded
	}
	f.profile = profile
	f.matcher = match.NewMatcher(*profile)
	f.touched = map[string]struct{}{}
	f.mu.Unlock()

	f.joinAll(ctx, match.Topics(*profile))

	f.mu.Lock()
	defer f.mu.Unlock()
	touched := f.touched
	f.touched = nil
	if f.closed {
		return ErrClosed
	}
	seen := make(map[string]struct{}, len(f.entries)+len(questions))
	for _, e := range f.entries {
		seen[e.Question.ID] = struct{}{}
	}
	for _, q := range questions {
		if !wellFormed(q) || !f.matcher.Matches(q) {
			continue
		}
		if _, ok := touched[q.ID]; ok {
			continue
		}
		if _, ok := seen[q.ID]; ok {
			continue
		}
		seen[q.ID] = struct{}{}
		f.entries = append(f.entries, f.entry(q))
	}
	match.SortStable(f.entries)
	f.changed()
	f.logger.Debug("feed loaded", "candidates", len(questions), "entries", len(f.entries), "topics", len(f.joined))
	return nil
}

func (f *Feed) joinAll(ctx context.Context, topics []string) {
	for _, t := range topics {
		if err := f.channel.Join(ctx, t); err != nil {
			f.logger.Warn("join topic", "topic", t, "err", err)
			continue
		}
		f.mu.Lock()
		closed := f.closed
		if !closed {
			f.joined = append(f.joined, t)
		}
		f.mu.Unlock()
		if closed {
			// Close already ran and will not see this topic.
			if err := f.channel.Leave(ctx, t); err != nil {
				f.logger.Warn("leave topic", "topic", t, "err", err)
			}
			return
		}
	}
}

// Handle dispatches a realtime event to the matching handler.
func (f *Feed) Handle(ev models.QuestionEvent) {
	switch ev.Type {
	case models.EventQuestionCreated:
		f.HandleCreated(ev.Question)
	case models.EventQuestionUpdated:
		f.HandleUpdated(ev.Question)
	default:
		f.logger.Debug("ignoring event", "type", ev.Type, "topic", ev.Topic)
	}
}

// HandleCreated inserts q if it matches and is not already present.
func (f *Feed) HandleCreated(q models.Question) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accepting(q) {
		return
	}
	f.touch(q.ID)
	if !f.matcher.Matches(q) || f.indexOf(q.ID) >= 0 {
		return
	}
	f.insert(q)
	f.changed()
}

// HandleUpdated replaces, inserts or removes q depending on whether it still
// matches.
func (f *Feed) HandleUpdated(q models.Question) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accepting(q) {
		return
	}
	f.touch(q.ID)
	i := f.indexOf(q.ID)
	switch {
	case !f.matcher.Matches(q):
		if i < 0 {
			return
		}
		f.entries = slices.Delete(f.entries, i, i+1)
	case i < 0:
		f.entries = append(f.entries, f.entry(q))
	default:
		f.entries[i] = f.entry(q)
	}
	match.SortStable(f.entries)
	f.changed()
}

// Run dispatches events one at a time until ctx is done or events is closed.
func (f *Feed) Run(ctx context.Context, events <-chan models.QuestionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.Handle(ev)
		}
	}
}

// Close leaves every joined topic exactly once. It is safe to call more than
// once and on a feed that never loaded.
func (f *Feed) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	topics := f.joined
	f.joined = nil
	f.mu.Unlock()

	var errs []error
	for _, t := range topics {
		if err := f.channel.Leave(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("leave %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns a copy of the ranked entries.
func (f *Feed) Snapshot() []match.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

// Profile returns the profile captured by Load, or nil before that.
func (f *Feed) Profile() *models.ProviderProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profile == nil {
		return nil
	}
	p := *f.profile
	return &p
}

// Topics returns the topics currently joined.
func (f *Feed) Topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.joined)
}

func (f *Feed) accepting(q models.Question) bool {
	if f.closed || f.matcher == nil {
		return false
	}
	if !wellFormed(q) {
		f.logger.Debug("dropping malformed question", "id", q.ID)
		return false
	}
	return true
}

func (f *Feed) touch(id string) {
	if f.touched != nil {
		f.touched[id] = struct{}{}
	}
}

// insert appends q unless its id is already present, then re-sorts.
func (f *Feed) insert(q models.Question) {
	if f.indexOf(q.ID) >= 0 {
		return
	}
	f.entries = append(f.entries, f.entry(q))
	match.SortStable(f.entries)
}

func (f *Feed) entry(q models.Question) match.Entry {
	q.Tags = slices.Clone(q.Tags)
	return match.Entry{Question: q, Score: f.matcher.Score(q)}
}

func (f *Feed) indexOf(id string) int {
	return slices.IndexFunc(f.entries, func(e match.Entry) bool { return e.Question.ID == id })
}

func (f *Feed) snapshot() []match.Entry {
	out := make([]match.Entry, len(f.entries))
	for i, e := range f.entries {
		e.Question.Tags = slices.Clone(e.Question.Tags)
		out[i] = e
	}
	return out
}

func (f *Feed) changed() {
	if f.onChange != nil {
		f.onChange(f.snapshot())
	}
}

// Rank filters questions down to those matching p and returns them in feed
// order. Duplicate ids keep their first occurrence.
func Rank(p models.ProviderProfile, questions []models.Question) []match.Entry {
	m := match.NewMatcher(p)
	seen := make(map[string]struct{}, len(questions))
	out := make([]match.Entry, 0, len(questions))
	for _, q := range questions {
		if !wellFormed(q) || !m.Matches(q) {
			continue
		}
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		out = append(out, match.Entry{Question: q, Score: m.Score(q)})
	}
	match.SortStable(out)
	return out
}

// wellFormed rejects payloads that carry no id or nothing to match on.
func wellFormed(q models.Question) bool {
	return strings.TrimSpace(q.ID) != "" && (strings.TrimSpace(q.Category) != "" || len(q.Tags) > 0)
}
