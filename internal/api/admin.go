package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

type AdminHandler struct {
	api *API
}

func NewAdminHandler(api *API) *AdminHandler {
	return &AdminHandler{api: api}
}

type AddProfileRequest struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type AddProfileResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// AddProfileHandler creates a profile with a fresh id.
func (h *AdminHandler) AddProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req AddProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.api.upsertProfile(uuid.NewString(), PutProfileRequest(req))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, AddProfileResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create profile: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, AddProfileResponse{
		Success:     true,
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
	})
}

func (h *AdminHandler) ListProfilesHandler(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.api.store.ListProfiles()
	if err != nil {
		http.Error(w, "Failed to list profiles", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}
