package commands

import (
	"context"
	"fmt"

	"kazoku/internal/config"
	"kazoku/internal/remote"
)

// Post sends one message as the configured user and prints its id.
func Post(ctx context.Context, text string, cfg *config.Config) error {
	if cfg.UserID == "" {
		return fmt.Errorf("KAZOKU_USER_ID is required to post")
	}

	client, err := remote.New(cfg.ServerURL)
	if err != nil {
		return err
	}

	msg, err := client.PostMessage(ctx, cfg.UserID, text, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Posted %s at %s\n", msg.ID, msg.CreatedAt.Local().Format("15:04:05"))
	return nil
}
