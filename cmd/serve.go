package cmd

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fhgateway/internal/api"
	"fhgateway/internal/config"
	"fhgateway/internal/executor"
	"fhgateway/internal/futurehouse"
	"fhgateway/internal/registry"
	"fhgateway/internal/webhook"
)

func serveCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()

			if cfg.Server.Debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}

			// No mock stand-ins: a missing key leaves the client nil and the
			// API reports 503 on every path that needs it.
			var client futurehouse.Client
			if cfg.FutureHouse.APIKey == "" {
				log.Warn().Msg("FUTUREHOUSE_API_KEY not set, futurehouse client unavailable")
			} else {
				c, err := futurehouse.NewHTTPClient(futurehouse.Config{
					APIKey:       cfg.FutureHouse.APIKey,
					BaseURL:      cfg.FutureHouse.BaseURL,
					Timeout:      cfg.FutureHouse.Timeout,
					PollInterval: cfg.FutureHouse.PollInterval,
				})
				if err != nil {
					log.Fatal().Err(err).Msg("failed to initialise futurehouse client")
				}
				client = c
				log.Info().Msg("futurehouse client initialised")
			}

			reg := registry.New()
			notifier := webhook.NewNotifier(cfg.Webhook.Timeout)
			exec := executor.New(client, reg, notifier)

			if port == 0 {
				port = cfg.Server.Port
			}

			server := api.NewServer(cfg, client, reg, exec)
			server.Run(port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 0, "Port to run the server on (overrides PORT)")
	return command
}
