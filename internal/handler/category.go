package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/category"
)

type CategoryHandler struct {
	repo category.Repository
}

func NewCategoryHandler(repo category.Repository) *CategoryHandler {
	return &CategoryHandler{repo: repo}
}

// Tree handles GET /api/categories, returning the category forest.
func (h *CategoryHandler) Tree(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.GetAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load categories")
		respondWithError(w, http.StatusInternalServerError, "Failed to load categories")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"categories": category.BuildTree(categories),
	})
}

// BySlug handles GET /api/categories/{slug}.
func (h *CategoryHandler) BySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	c, err := h.repo.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, category.ErrCategoryNotFound) {
			respondWithError(w, http.StatusNotFound, "Category not found")
			return
		}
		log.Error().Err(err).Str("slug", slug).Msg("Failed to load category")
		respondWithError(w, http.StatusInternalServerError, "Failed to load category")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "category": c})
}
