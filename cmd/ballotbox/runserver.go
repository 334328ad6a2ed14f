package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ballotbox/api"
	"ballotbox/ballotserver"
	"ballotbox/config"
	"ballotbox/encryption"
	"ballotbox/registry"
	"ballotbox/remote"
	"ballotbox/service"
	"ballotbox/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
	demoVoterNumber = 1
	demoBallotStyle = "B1"
)

func init() {
	f := runserverCmd.Flags()
	f.Bool("debug", false, "enable debug logging")
	f.StringP("addr", "a", "", "address to listen on")
	f.IntP("port", "p", 0, "port to listen on")
	f.String("config", "", "path to a YAML config file")
	f.Bool("mock-backends", false, "serve an in-process registrar and ballot server")
	rootCmd.AddCommand(runserverCmd)
}

var runserverCmd = &cobra.Command{
	Use:   "runserver",
	Short: "Serve the voting web service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		defer stop()
		return serve(ctx, cfg, cmd)
	},
}

// loadConfig reads the config file and environment, then applies the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if f.Changed("debug") {
		cfg.Debug, _ = f.GetBool("debug")
	}
	if f.Changed("addr") {
		cfg.Addr, _ = f.GetString("addr")
	}
	if f.Changed("port") {
		cfg.Port, _ = f.GetInt("port")
	}
	if f.Changed("mock-backends") {
		cfg.MockBackends, _ = f.GetBool("mock-backends")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type app struct {
	svc     *service.VotingService
	handler http.Handler
}

// newApp wires the service against the configured backends.
func newApp(cfg *config.Config, keys *config.Keys, log *logrus.Logger) (*app, error) {
	regRemote, err := remote.New(cfg.RegistrarURL, cfg.BackendTimeout, log.WithField("component", "registrar"))
	if err != nil {
		return nil, fmt.Errorf("registrar_url: %w", err)
	}
	ballotRemote, err := remote.New(cfg.BallotServerURL, cfg.BackendTimeout, log.WithField("component", "ballot_server"))
	if err != nil {
		return nil, fmt.Errorf("ballot_server_url: %w", err)
	}

	svc, err := service.NewVotingService(service.Config{
		Registrar:    registry.NewClient(regRemote, keys.Shared),
		BallotServer: ballotserver.NewClient(ballotRemote),
		Codec:        encryption.NewCookieCodec(keys.Cookie, cfg.SessionLifetime),
		SharedKey:    keys.Shared,
		TokenTTL:     cfg.RegistrarTokenTTL,
		Sessions:     service.NewSessionStore(cfg.SessionLifetime),
		Log:          log.WithField("component", "service"),
	})
	if err != nil {
		return nil, err
	}

	server := api.NewServer(svc, api.Options{
		SessionKey:      keys.Session,
		SessionLifetime: cfg.SessionLifetime,
		SecureCookies:   cfg.SecureCookies,
		AllowOrigin:     cfg.AllowOrigin,
		CrossOrigin:     cfg.CrossOrigin(),
	}, log.WithField("component", "api"))

	return &app{svc: svc, handler: server.Handler()}, nil
}

func serve(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	log := config.NewLogger(cfg, os.Stderr)
	keys, err := config.NewKeys(cfg)
	if err != nil {
		return err
	}
	if cfg.CookieKey == "" {
		log.Info("no cookie_key configured: generated a per-process key")
	}

	if cfg.MockBackends {
		token, err := startMockBackends(ctx, cfg, keys, log)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mock registrar token for voter %d (style %s):\n%s\n",
			demoVoterNumber, demoBallotStyle, token)
	}

	a, err := newApp(cfg, keys, log)
	if err != nil {
		return err
	}

	a.svc.Sessions().StartSweeper(ctx, sweepInterval, func(n int) {
		log.WithField("removed", n).Debug("expired sessions swept")
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("starting server")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server shutdown completed")
	return nil
}

// startMockBackends serves the mock registrar and ballot server on local
// ports, points cfg at them and returns a check-in token for a demo voter.
func startMockBackends(ctx context.Context, cfg *config.Config, keys *config.Keys, log *logrus.Logger) (string, error) {
	registrar := registry.NewMockRegistrar(keys.Shared, log.WithField("component", "mock_registrar"))
	ballots := ballotserver.NewMockServer(cfg.BallotStyles, log.WithField("component", "mock_ballot_server"))
	if cfg.MockJournalDir != "" {
		journal, err := storage.OpenJournal[ballotserver.SubmittedBallot](cfg.MockJournalDir, "submitted_ballots")
		if err != nil {
			return "", fmt.Errorf("mock ballot server: %w", err)
		}
		ballots.WithJournal(journal)
	}

	regURL, err := serveLocal(ctx, registrar.Handler())
	if err != nil {
		return "", fmt.Errorf("mock registrar: %w", err)
	}
	ballotURL, err := serveLocal(ctx, ballots.Handler())
	if err != nil {
		return "", fmt.Errorf("mock ballot server: %w", err)
	}
	cfg.RegistrarURL = regURL
	cfg.BallotServerURL = ballotURL

	log.WithFields(logrus.Fields{
		"registrar_url":     regURL,
		"ballot_server_url": ballotURL,
	}).Warn("using mock backends")

	return registrar.AddVoter(demoVoterNumber, demoBallotStyle)
}

func serveLocal(ctx context.Context, h http.Handler) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return "http://" + ln.Addr().String(), nil
}
