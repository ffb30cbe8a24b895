// Package match decides whether a question is relevant to a provider profile
// and how highly it ranks. Everything here is pure.
package match

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/garnizeh/expertfeed/pkg/models"
)

const (
	categoryWeight = 3
	skillWeight    = 2
	interestWeight = 1
)

// Normalize trims s and case-folds it.
func Normalize(s string) string {
	// a Caser is stateful, so one is built per call
	return cases.Fold().String(strings.TrimSpace(s))
}

type set map[string]struct{}

func (s set) add(v string) {
	if n := Normalize(v); n != "" {
		s[n] = struct{}{}
	}
}

func (s set) has(n string) bool {
	_, ok := s[n]
	return ok
}

// Matcher is a provider profile compiled into normalized lookup sets.
type Matcher struct {
	categories set
	skills     set
	interests  set
}

func NewMatcher(p models.ProviderProfile) *Matcher {
	m := &Matcher{categories: set{}, skills: set{}, interests: set{}}
	for _, c := range p.Categories {
		m.categories.add(c.Name)
	}
	for _, s := range p.Skills {
		m.skills.add(s)
	}
	for _, i := range p.Interests {
		m.interests.add(i)
	}
	return m
}

// Matches reports whether q shares a category with the profile, or has a tag
// equal to one of its skills or interests.
func (m *Matcher) Matches(q models.Question) bool {
	if c := Normalize(q.Category); c != "" && m.categories.has(c) {
		return true
	}
	for _, t := range q.Tags {
		n := Normalize(t)
		if n == "" {
			continue
		}
		if m.skills.has(n) || m.interests.has(n) {
			return true
		}
	}
	return false
}

// Score weighs a category match at 3, each skill tag at 2 and each interest
// tag at 1. Repeated tags count once per occurrence.
func (m *Matcher) Score(q models.Question) int {
	score := 0
	if c := Normalize(q.Category); c != "" && m.categories.has(c) {
		score += categoryWeight
	}
	for _, t := range q.Tags {
		n := Normalize(t)
		if n == "" {
			continue
		}
		if m.skills.has(n) {
			score += skillWeight
		}
		if m.interests.has(n) {
			score += interestWeight
		}
	}
	return score
}

func Matches(q models.Question, p models.ProviderProfile) bool {
	return NewMatcher(p).Matches(q)
}

func Score(q models.Question, p models.ProviderProfile) int {
	return NewMatcher(p).Score(q)
}

// Entry is a matched question together with its score.
type Entry struct {
	Question models.Question `json:"question"`
	Score    int             `json:"score"`
}

// Compare orders entries by score descending, then by creation time
// descending.
func Compare(a, b Entry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return b.Question.CreatedAt.Compare(a.Question.CreatedAt)
}

// SortStable sorts entries in feed order. Entries that compare equal keep
// their current relative order.
func SortStable(entries []Entry) {
	slices.SortStableFunc(entries, Compare)
}
