package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"chatgpt-archive/api"
	"chatgpt-archive/archive"
	"chatgpt-archive/config"
	"chatgpt-archive/importer"
	"chatgpt-archive/naming"
)

var rootCmd = &cobra.Command{
	Use:   "chatgpt-archive",
	Short: "Import ChatGPT exports into a browsable local archive",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	},
}

func importCmd() *cobra.Command {
	var output string
	var account string
	var incremental bool
	var allowNetworkImages bool

	cmd := &cobra.Command{
		Use:   "import <export-path>",
		Short: "Import a ChatGPT export (folder or .zip)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := importer.Run(cmd.Context(), importer.Options{
				ExportPath:         args[0],
				OutputRoot:         output,
				SourceID:           account,
				Incremental:        incremental,
				AllowNetworkImages: allowNetworkImages,
			})
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "output", "Archive root folder")
	cmd.Flags().StringVarP(&account, "account", "a", naming.DefaultSourceID, "Account the export belongs to")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "Keep the existing index, only add changed conversations")
	cmd.Flags().BoolVar(&allowNetworkImages, "allow-network-images", false, "Reserved: fetch remote asset pointers")
	return cmd
}

func serveCmd() *cobra.Command {
	var root string
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the archive UI and API from an existing archive root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if root != "" {
				cfg.Root = root
			}
			if host != "" {
				cfg.Host = host
			}
			if port != 0 {
				cfg.Port = port
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Archive root folder (with projects/ and index.db)")
	cmd.Flags().StringVar(&host, "host", "", "Listen host")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port")
	return cmd
}

func serve(cfg *config.Config) error {
	engine, err := archive.Open(cfg.Root)
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.SetPageSize(cfg.PageSize)

	h := api.NewHandler(engine, cfg)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	h.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("root", engine.Root()).Msg("archive server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown was not graceful")
	}
	return nil
}

func main() {
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(serveCmd())
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
