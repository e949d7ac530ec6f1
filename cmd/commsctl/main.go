package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/sudoplatform/securecomms/pkg/config"
	"github.com/sudoplatform/securecomms/pkg/e2ee"
	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/matrix"
	"github.com/sudoplatform/securecomms/pkg/media"
	"github.com/sudoplatform/securecomms/pkg/session"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyState
	contextKeyLogger
	contextKeyClient
	contextKeyCloser
)

func getConfig(ctx *cli.Context) *config.Config {
	return ctx.Context.Value(contextKeyConfig).(*config.Config)
}

func getState(ctx *cli.Context) *State {
	return ctx.Context.Value(contextKeyState).(*State)
}

func getLogger(ctx *cli.Context) *zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(*zerolog.Logger)
}

func getClient(ctx *cli.Context) *matrix.Client {
	return ctx.Context.Value(contextKeyClient).(*matrix.Client)
}

func defaultPath(name string) string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "commsctl", name)
}

func prepareApp(ctx *cli.Context) error {
	configPath := ctx.String("config")
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg, err := config.Load(configPath, true)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := loadState(ctx.String("state"))
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyState, st)
	newCtx = context.WithValue(newCtx, contextKeyLogger, log)
	ctx.Context = log.WithContext(newCtx)
	return nil
}

// clientOptions builds client options from the config and the saved login.
func clientOptions(cfg *config.Config, st *State, store matrix.Store) session.OptionsFunc {
	return func(ctx context.Context, handleID entities.HandleID) (matrix.Options, error) {
		opts := matrix.Options{
			HandleID:      handleID,
			AccessToken:   st.AccessToken,
			Claims:        st.Claims(),
			HomeserverURL: st.HomeserverURL,
			UserAgent:     cfg.Homeserver.UserAgent,
			Store:         store,
			RoomListSize:  cfg.Sync.RoomListSize,
			TimelineLimit: cfg.Sync.TimelineLimit,
			Media:         cfg.MediaOptions(),
		}
		if cfg.Homeserver.URL != "" {
			opts.HomeserverURL = cfg.Homeserver.URL
		}
		if timeout := cfg.RequestTimeout(); timeout > 0 {
			opts.HTTPClient = &http.Client{Timeout: timeout}
		}
		static := cfg.StaticBackend()
		if static.AccessToken != "" {
			opts.Backend = static
		}
		if cfg.Encryption.Enabled {
			opts.CryptoProvider = e2ee.Provider(e2ee.Options{
				PickleKey: []byte(cfg.Encryption.PickleKey),
				Database:  cfg.Encryption.Database,
				Log:       *zerolog.Ctx(ctx),
				OnSAS:     printSAS,
			})
		}
		if cfg.Media.Enabled() {
			creds, err := media.NewCredentialCache(static, cfg.Media.CredentialCacheSize, *zerolog.Ctx(ctx))
			if err != nil {
				return opts, err
			}
			opts.Credentials = creds
			opts.ObjectStore = &media.S3Store{Endpoint: cfg.Media.Endpoint, Insecure: cfg.Media.Insecure}
		}
		return opts, nil
	}
}

// requiresAuth opens a client for the logged in handle. closeSession must run
// after the command.
func requiresAuth(ctx *cli.Context) error {
	if err := prepareApp(ctx); err != nil {
		return err
	}
	st := getState(ctx)
	if !st.HasCredentials() {
		return fmt.Errorf("you are not logged in, run 'commsctl login' first")
	}
	cfg := getConfig(ctx)
	store, closeStore, err := cfg.OpenStore(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	mgr := session.NewManager(clientOptions(cfg, st, store), *getLogger(ctx))
	client, err := mgr.GetOrCreate(ctx.Context, st.Handle)
	if err != nil {
		_ = closeStore()
		return err
	}
	closer := func() {
		mgr.Close(context.Background())
		if err := closeStore(); err != nil {
			getLogger(ctx).Warn().Err(err).Msg("Failed to close store")
		}
	}
	newCtx := context.WithValue(ctx.Context, contextKeyClient, client)
	ctx.Context = context.WithValue(newCtx, contextKeyCloser, closer)
	return nil
}

func closeSession(ctx *cli.Context) error {
	if closer, ok := ctx.Context.Value(contextKeyCloser).(func()); ok {
		closer()
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:    "commsctl",
		Usage:   "Send and read secure messages from the command line",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Value:   defaultPath("config.yaml"),
				EnvVars: []string{"COMMSCTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "state",
				Usage:   "Path to login state file",
				Value:   defaultPath("state.json"),
				EnvVars: []string{"COMMSCTL_STATE"},
			},
		},
		Commands: []*cli.Command{
			loginCommand,
			logoutCommand,
			whoamiCommand,
			sendCommand,
			messagesCommand,
			summariesCommand,
			pollResultsCommand,
			syncCommand,
			keyBackupCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
