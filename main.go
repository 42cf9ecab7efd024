package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kazoku/internal/api"
	"kazoku/internal/commands"
	"kazoku/internal/config"
	"kazoku/internal/filestore"
	"kazoku/internal/http"
	"kazoku/internal/natsbus"
	"kazoku/internal/relay"
	"kazoku/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kazoku", flag.ContinueOnError)
	serve := fs.Bool("serve", false, "Run the relay server")
	addProfile := fs.String("add-profile", "", "Display name of a profile to create through the admin API (prints its id)")
	post := fs.String("post", "", "Post one message as KAZOKU_USER_ID and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var mode config.Mode
	switch {
	case *serve:
		mode = config.ModeServe
	case *addProfile != "", *post != "":
		mode = config.ModeAdmin
	}

	cfg, err := config.Load(mode)
	if err != nil {
		return err
	}

	switch {
	case *addProfile != "":
		return commands.AddProfile(*addProfile, cfg)
	case *post != "":
		return commands.Post(ctx, *post, cfg)
	case cfg.Mode == config.ModeServe:
		return runServer(ctx, cfg)
	default:
		return runClient(ctx, cfg, os.Stdin, os.Stdout)
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	hub := relay.NewHub()
	publishers := api.Fanout{hub}

	if cfg.Transport == config.TransportNATS {
		nc, err := natsbus.Connect(cfg.NATSURL, "kazoku-relay")
		if err != nil {
			return err
		}
		defer nc.Close()

		bus, err := natsbus.New(nc, cfg.Room)
		if err != nil {
			return err
		}
		publishers = append(publishers, bus)
		log.Printf("Publishing changes for room %s to NATS at %s", cfg.Room, cfg.NATSURL)
	}

	apiHandlers := api.New(bbStorage, files, publishers)
	adminServer := http.NewAdminServer(api.NewAdminHandler(apiHandlers), cfg.AdminListenAddr)
	apiServer := http.NewAPIServer(apiHandlers, relay.NewServer(hub), files, bbStorage, cfg.ListenAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
