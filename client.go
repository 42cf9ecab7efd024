package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"kazoku/internal/config"
	"kazoku/internal/models"
	"kazoku/internal/natsbus"
	"kazoku/internal/presence"
	"kazoku/internal/remote"
	"kazoku/internal/session"
	"kazoku/internal/view"

	"golang.org/x/sync/errgroup"
)

const helpText = `commands:
  /typing on|off   set your typing flag
  /bg, /fg         simulate the app going to background or foreground
  /delete ID       delete a message
  /upload PATH     post an image or video
  /who             show who is online
  /quit            leave the room
anything else is posted as a message`

func runClient(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	client, err := remote.New(cfg.ServerURL)
	if err != nil {
		return err
	}

	profile, err := client.Profile(ctx, cfg.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("no profile for %s, create one with -add-profile", cfg.UserID)
		}
		return err
	}

	var transport session.Transport = client
	if cfg.Transport == config.TransportNATS {
		nc, err := natsbus.Connect(cfg.NATSURL, "kazoku-client-"+cfg.UserID)
		if err != nil {
			return err
		}
		defer nc.Close()

		bus, err := natsbus.New(nc, cfg.Room)
		if err != nil {
			return err
		}
		transport = natsbus.NewTransport(client, bus)
	}

	term := newTerminal(out, cfg.UserID)

	sess, err := session.Open(ctx, session.Config{
		Transport: transport,
		Self: models.PresenceRecord{
			UserID:    profile.ID,
			Username:  profile.DisplayName,
			AvatarURL: profile.AvatarURL,
		},
		Debounce:   cfg.Debounce,
		ProfileTTL: cfg.ProfileTTL,
		OnMessages: term.Messages,
		OnRoster: func(r presence.Roster) {
			term.Roster(r.Others(cfg.UserID), r.Typing(cfg.UserID))
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			slog.Warn("session close failed", "error", err)
		}
	}()

	term.Messages(sess.Messages())
	term.Printf("joined as %s, /help for commands", sess.Self().Username)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	lines := make(chan string)
	go readLines(in, lines, sess.Done())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-sess.Done():
				return nil
			case sig := <-signals:
				if sig == syscall.SIGUSR1 {
					sess.Visibility(models.Background)
				} else {
					sess.Visibility(models.Foreground)
				}
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := handleLine(gCtx, line, client, sess, cfg.UserID, term); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

var errQuit = errors.New("quit")

func readLines(in io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-done:
			return
		}
	}
}

func handleLine(ctx context.Context, line string, client *remote.Client, sess *session.Session, userID string, term *terminal) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		if _, err := client.PostMessage(ctx, userID, line, nil); err != nil {
			term.Printf("send failed: %v", err)
		}
		_ = sess.SetTyping(ctx, false)
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return errQuit
	case "/help":
		term.Printf("%s", helpText)
	case "/typing":
		if err := sess.SetTyping(ctx, arg == "on"); err != nil {
			term.Printf("typing update failed: %v", err)
		}
	case "/bg":
		sess.Visibility(models.Background)
	case "/fg":
		sess.Visibility(models.Foreground)
	case "/who":
		term.Printf("online: %s", view.OnlineText(sess.Roster().Others(userID)))
	case "/delete":
		if _, ok := sess.Message(arg); !ok {
			term.Printf("no message #%s", arg)
			return nil
		}
		if err := client.DeleteMessage(ctx, arg); err != nil {
			term.Printf("delete failed: %v", err)
		}
	case "/upload":
		if err := upload(ctx, client, userID, arg); err != nil {
			term.Printf("upload failed: %v", err)
		}
	default:
		term.Printf("unknown command %s, /help for commands", cmd)
	}
	return nil
}

func upload(ctx context.Context, client *remote.Client, userID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	att, err := client.Upload(ctx, userID, f)
	if err != nil {
		return err
	}
	_, err = client.PostMessage(ctx, userID, "", &att)
	return err
}
