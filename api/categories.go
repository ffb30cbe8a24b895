package api

import (
	"log/slog"
	"net/http"

	"github.com/garnizeh/expertfeed/pkg/repository"
)

type CategoriesHandler struct {
	categories repository.CategoryRepo
}

func NewCategoriesHandler(cr repository.CategoryRepo) *CategoriesHandler {
	return &CategoriesHandler{categories: cr}
}

func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.categories.ListCategories(r.Context())
	if err != nil {
		logger.Error("list categories", slog.Any("err", err))
		http.Error(w, "Error listing categories", http.StatusInternalServerError)
		return
	}

	writeJSON(w, cats, http.StatusOK)
}
