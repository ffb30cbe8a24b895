// Package mock provides in-memory repositories for handler tests.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garnizeh/expertfeed/pkg/models"
	"github.com/garnizeh/expertfeed/pkg/repository"
)

// Test helpers and mocks
type Mocks struct {
	Users      *UserRepo
	Profiles   *ProfileRepo
	Questions  *QuestionRepo
	Categories *CategoryRepo
}

func NewMocks() *Mocks {
	return &Mocks{
		Users:      &UserRepo{},
		Profiles:   &ProfileRepo{},
		Questions:  &QuestionRepo{},
		Categories: &CategoryRepo{},
	}
}

var (
	_ repository.UserRepo     = (*UserRepo)(nil)
	_ repository.ProfileRepo  = (*ProfileRepo)(nil)
	_ repository.QuestionRepo = (*QuestionRepo)(nil)
	_ repository.CategoryRepo = (*CategoryRepo)(nil)
)

type UserRepo struct {
	mu        sync.Mutex
	users     []models.User
	CreateErr error
}

func (m *UserRepo) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	if m.CreateErr != nil {
		return 0, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range m.users {
		if existing.Email == email {
			return 0, fmt.Errorf("email %s already exists", email)
		}
	}
	stored := *u
	stored.ID = int64(len(m.users) + 1)
	stored.Email = email
	m.users = append(m.users, stored)
	return stored.ID, nil
}

func (m *UserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *UserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

type ProfileRepo struct {
	mu       sync.Mutex
	profiles map[int64]models.ProviderProfile
	GetErr   error
}

func (m *ProfileRepo) UpsertProfile(ctx context.Context, p *models.ProviderProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles == nil {
		m.profiles = map[int64]models.ProviderProfile{}
	}
	p.Updated = time.Now().UnixMilli()
	m.profiles[p.UserID] = *p
	return nil
}

func (m *ProfileRepo) GetProfile(ctx context.Context, userID int64) (*models.ProviderProfile, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type QuestionRepo struct {
	mu        sync.Mutex
	questions []models.Question
	ListErr   error
}

func (m *QuestionRepo) CreateQuestion(ctx context.Context, q *models.Question) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrInvalid, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Status == "" {
		q.Status = models.QuestionPending
	}
	q.CreatedAt = time.Now().UTC()
	q.UpdatedAt = q.CreatedAt
	m.questions = append(m.questions, cloneQuestion(*q))
	return nil
}

func (m *QuestionRepo) UpdateQuestion(ctx context.Context, q *models.Question) (*models.Question, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrInvalid, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.questions, func(s models.Question) bool { return s.ID == q.ID })
	if i < 0 {
		return nil, fmt.Errorf("question %s: %w", q.ID, repository.ErrNotFound)
	}
	prev := cloneQuestion(m.questions[i])
	if q.Status == "" {
		q.Status = prev.Status
	}
	q.SeekerID = prev.SeekerID
	q.CreatedAt = prev.CreatedAt
	q.UpdatedAt = time.Now().UTC()
	if q.UpdatedAt.Before(q.CreatedAt) {
		q.UpdatedAt = q.CreatedAt
	}
	m.questions[i] = cloneQuestion(*q)
	return &prev, nil
}

func (m *QuestionRepo) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions {
		if q.ID == id {
			c := cloneQuestion(q)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *QuestionRepo) ListQuestions(ctx context.Context) ([]models.Question, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Question, 0, len(m.questions))
	for _, q := range m.questions {
		out = append(out, cloneQuestion(q))
	}
	slices.SortStableFunc(out, func(a, b models.Question) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Put stores q as is, bypassing id and timestamp assignment.
func (m *QuestionRepo) Put(q models.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions = append(m.questions, cloneQuestion(q))
}

type CategoryRepo struct {
	Names []string
}

func (m *CategoryRepo) ListCategories(ctx context.Context) ([]models.Category, error) {
	names := slices.Clone(m.Names)
	slices.SortFunc(names, func(a, b string) int { return cmp.Compare(strings.ToLower(a), strings.ToLower(b)) })
	out := make([]models.Category, 0, len(names))
	for _, n := range names {
		out = append(out, models.Category{Name: n})
	}
	return out, nil
}

func cloneQuestion(q models.Question) models.Question {
	q.Tags = slices.Clone(q.Tags)
	return q
}
