package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kazoku/internal/api"
	"kazoku/internal/config"
)

func AddProfile(displayName string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.AddProfileRequest{DisplayName: displayName})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(cfg.AdminURL, "/") + "/admin/profiles"
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add profile (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AddProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nProfile Created Successfully!\n")
	fmt.Printf("Display name:      %s\n", result.DisplayName)
	fmt.Printf("User id:           %s\n\n", result.ID)
	fmt.Printf("Start a client with KAZOKU_USER_ID=%s\n", result.ID)
	return nil
}
