package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brayns/brayns_server/internal"
	"github.com/brayns/brayns_server/internal/auth"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "brayns_server",
		Short:        "Model upload and scene server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", internal.DefaultConfigFile, "path to the config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the websocket and HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(configPath)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the server version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
		newTokenCommand(&configPath),
	)
	return root
}

func newTokenCommand(configPath *string) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a JWT for a viewer client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := internal.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			token, expiresAt, err := auth.NewService(config.Auth).Generate(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name stored in the token")
	return cmd
}

func serve(configPath string) error {
	config, err := internal.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := internal.SetupLogging(config.Log); err != nil {
		return err
	}

	server, err := internal.NewServer(config, version)
	if err != nil {
		log.Error().Err(err).Msg("Error initializing server")
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("Error starting server")
			return err
		}
		return nil
	case sig := <-signals:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownGrace())
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}
