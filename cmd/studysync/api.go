package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/apiserver"
	"github.com/studysync/studysync/internal/ui"
)

var apiCmd = &cobra.Command{
	Use:     "api",
	GroupID: "setup",
	Short:   "Secondary HTTP API",
}

var apiServeCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the secondary API for tasks and resources",
	Annotations: map[string]string{longRunning: "true"},
	Long: `Serve the secondary HTTP API that mirrors tasks and resources.

Routes:
  GET  /resources?id=<id> | ?user_id=<id>
  POST /resources?action=create|update|delete
  GET  /tasks?id=<id> | ?user_id=<id>
  POST /tasks?action=create|update|delete
  POST /upload            multipart: resource_id, file
  GET  /download?file_path=<path>
  GET  /healthz`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cmd.Flags().Changed("addr") {
			cfg.API.Addr, _ = cmd.Flags().GetString("addr")
		}

		repo, err := apiserver.OpenRepo(cfg.API.Database)
		if err != nil {
			return err
		}
		defer repo.Close()

		srv, err := apiserver.New(apiserver.Options{
			Repo:           repo,
			UploadDir:      cfg.API.UploadDir,
			Log:            logger,
			MaxUploadBytes: int64(cfg.API.MaxUploadMB) << 20,
		})
		if err != nil {
			return err
		}

		httpServer := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()

		fmt.Fprintf(out, "%s Secondary API listening on %s\n", ui.RenderAccent("🚀"), cfg.API.Addr)
		fmt.Fprintf(out, "   Database: %s\n", cfg.API.Database)
		fmt.Fprintf(out, "   Uploads: %s\n", cfg.API.UploadDir)
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		fmt.Fprintf(out, "%s Secondary API stopped\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	apiServeCmd.Flags().String("addr", "", "listen address (default api.addr)")
	apiCmd.AddCommand(apiServeCmd)
	rootCmd.AddCommand(apiCmd)
}
