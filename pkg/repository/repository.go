package repository

import (
	"context"
	"errors"

	"github.com/garnizeh/expertfeed/pkg/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.
//
// Lookups of a missing row return (nil, nil). Writes against a missing row
// return ErrNotFound.

var (
	ErrNotFound = errors.New("not found")
	// ErrInvalid wraps validation failures of a write.
	ErrInvalid = errors.New("invalid")
)

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type ProfileRepo interface {
	// UpsertProfile creates or replaces the profile of p.UserID.
	UpsertProfile(ctx context.Context, p *models.ProviderProfile) error
	GetProfile(ctx context.Context, userID int64) (*models.ProviderProfile, error)
}

type QuestionRepo interface {
	// CreateQuestion assigns the id, status and timestamps of q and stores it.
	CreateQuestion(ctx context.Context, q *models.Question) error
	// UpdateQuestion replaces the mutable fields of the stored question with
	// those of q and returns the version it replaced.
	UpdateQuestion(ctx context.Context, q *models.Question) (*models.Question, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	// ListQuestions returns every question, newest first.
	ListQuestions(ctx context.Context) ([]models.Question, error)
}

type CategoryRepo interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
}
