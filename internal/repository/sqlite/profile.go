package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/expertfeed/pkg/models"
)

func (r *SQLiteRepo) UpsertProfile(ctx context.Context, p *models.ProviderProfile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}

	cats, err := encodeList(p.Categories)
	if err != nil {
		return err
	}
	skills, err := encodeList(p.Skills)
	if err != nil {
		return err
	}
	interests, err := encodeList(p.Interests)
	if err != nil {
		return err
	}

	p.Updated = now()
	_, err = r.conn.Exec(ctx, `INSERT INTO provider_profiles (user_id, categories, skills, interests, updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET categories = excluded.categories, skills = excluded.skills, interests = excluded.interests, updated = excluded.updated`,
		p.UserID, cats, skills, interests, p.Updated)
	return err
}

func (r *SQLiteRepo) GetProfile(ctx context.Context, userID int64) (*models.ProviderProfile, error) {
	row := r.conn.QueryRow(ctx, `SELECT user_id, categories, skills, interests, updated FROM provider_profiles WHERE user_id = ?`, userID)
	var (
		p                       models.ProviderProfile
		cats, skills, interests string
	)
	if err := row.Scan(&p.UserID, &cats, &skills, &interests, &p.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	var err error
	if p.Categories, err = decodeList[models.Category](cats); err != nil {
		return nil, err
	}
	if p.Skills, err = decodeList[string](skills); err != nil {
		return nil, err
	}
	if p.Interests, err = decodeList[string](interests); err != nil {
		return nil, err
	}

	return &p, nil
}
