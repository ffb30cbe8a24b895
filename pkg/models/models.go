package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain models shared by the API, storage and feed packages.

type Role string

const (
	RoleSeeker   Role = "seeker"
	RoleProvider Role = "provider"
)

func (r Role) Valid() bool {
	return r == RoleSeeker || r == RoleProvider
}

type User struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name" validate:"required"`
	Email        string `json:"email" db:"email" validate:"required,email"`
	Role         Role   `json:"role" db:"role"`
	Updated      int64  `json:"updated" db:"updated"`
	PasswordHash string `json:"-" db:"password_hash"`
}

type Category struct {
	Name string `json:"name" db:"name"`
}

// ProviderProfile is the part of an expert's self-description that drives matching.
type ProviderProfile struct {
	UserID     int64      `json:"user_id" db:"user_id"`
	Categories []Category `json:"categories" db:"categories_json"`
	Skills     []string   `json:"skills" db:"skills_json"`
	Interests  []string   `json:"interests" db:"interests_json"`
	Updated    int64      `json:"updated" db:"updated"`
}

type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "PENDING"
	QuestionAnswered QuestionStatus = "ANSWERED"
	QuestionClosed   QuestionStatus = "CLOSED"
)

func (s QuestionStatus) Valid() bool {
	switch s {
	case QuestionPending, QuestionAnswered, QuestionClosed:
		return true
	}
	return false
}

// Question is a seeker's request for expertise.
type Question struct {
	ID          string         `json:"id" db:"id"`
	SeekerID    int64          `json:"seeker_id,omitempty" db:"seeker_id"`
	Title       string         `json:"title" db:"title"`
	Description string         `json:"description" db:"description"`
	Category    string         `json:"category" db:"category"`
	Tags        []string       `json:"tags" db:"tags_json"`
	Status      QuestionStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated"`
}

type EventType string

const (
	EventQuestionCreated EventType = "question.created"
	EventQuestionUpdated EventType = "question.updated"
)

// QuestionEvent is an inbound realtime notification received on Topic.
type QuestionEvent struct {
	Type     EventType `json:"event"`
	Topic    string    `json:"-"`
	Question Question  `json:"question"`
}

// Validate checks the fields a seeker controls. An empty status is allowed and
// means the caller keeps or assigns the default.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Title) == "" {
		return errors.New("title is required")
	}
	if q.Status != "" && !q.Status.Valid() {
		return fmt.Errorf("unknown status %q", q.Status)
	}
	return nil
}
