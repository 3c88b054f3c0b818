package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ArcaView/qualifyr/config"
	"github.com/ArcaView/qualifyr/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the qualifyr server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(configFile, configFile != ""); err != nil {
			return err
		}
		if err := config.ValidateRequired(map[string]string{
			"advertise_url":      "public URL of this server",
			"database.path":      "SQLite database file",
			"oidc.issuer":        "OIDC issuer URL",
			"oidc.client_id":     "OIDC client id",
			"oidc.client_secret": "OIDC client secret",
		}); err != nil {
			return err
		}
		if err := config.ValidateSessionKeys(); err != nil {
			return err
		}

		cfg := config.Get()
		setupLogging(cfg.Logging)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		return app.Run(ctx)
	},
}

func setupLogging(cfg config.LogConfig) {
	zerolog.SetGlobalLevel(cfg.Level)
	if cfg.Format == config.TextLogFormat {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if cfg.WithCaller {
		log.Logger = log.Logger.With().Caller().Logger()
	}
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file")
}
