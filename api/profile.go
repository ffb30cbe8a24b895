package api

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/garnizeh/expertfeed/pkg/models"
	"github.com/garnizeh/expertfeed/pkg/repository"
)

type ProfileHandler struct {
	profiles repository.ProfileRepo
}

func NewProfileHandler(pr repository.ProfileRepo) *ProfileHandler {
	return &ProfileHandler{profiles: pr}
}

type profileRequest struct {
	Categories []models.Category `json:"categories"`
	Skills     []string          `json:"skills"`
	Interests  []string          `json:"interests"`
}

// GetProfile returns the acting provider's profile. A provider who never saved
// one gets an empty profile.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())

	p, err := h.profiles.GetProfile(r.Context(), uid)
	if err != nil {
		logger.Error("get profile", slog.Int64("user_id", uid), slog.Any("err", err))
		http.Error(w, "Error loading profile", http.StatusInternalServerError)
		return
	}
	if p == nil {
		p = &models.ProviderProfile{UserID: uid, Categories: []models.Category{}, Skills: []string{}, Interests: []string{}}
	}

	writeJSON(w, p, http.StatusOK)
}

// PutProfile replaces the acting provider's profile. Blank values are dropped.
// Open feed streams keep the profile they loaded until they reconnect.
func (h *ProfileHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())

	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	p := &models.ProviderProfile{
		UserID:     uid,
		Categories: make([]models.Category, 0, len(req.Categories)),
		Skills:     compactValues(req.Skills),
		Interests:  compactValues(req.Interests),
	}
	for _, c := range req.Categories {
		if name := strings.TrimSpace(c.Name); name != "" {
			p.Categories = append(p.Categories, models.Category{Name: name})
		}
	}

	if err := h.profiles.UpsertProfile(r.Context(), p); err != nil {
		logger.Error("upsert profile", slog.Int64("user_id", uid), slog.Any("err", err))
		http.Error(w, "Error saving profile", http.StatusInternalServerError)
		return
	}

	writeJSON(w, p, http.StatusOK)
}

func compactValues(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return slices.Clip(out)
}
