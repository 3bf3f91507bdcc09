package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/logging"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/rpc"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Speak JSON-lines over stdin/stdout",
	Long: `Serve the operation protocol over stdio: one JSON request per line in,
one JSON envelope per line out, correlated by request_id. Requests may
interleave; responses come back as they finish.

There is no daemon behind this. The process holds no state a crash
could lose, and it exits when stdin closes, so a supervising agent
owns its whole lifecycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		// Stdout carries the protocol, so the only operator-facing note
		// goes to stderr: where to look when something goes wrong.
		if logging.Enabled() && !debugMode {
			if root, err := paths.Find(workDir()); err == nil {
				fmt.Fprintf(os.Stderr, "diagnostics: %s\n", filepath.Join(root.LogDir(), logging.FileName))
			}
		}
		srv := rpc.NewServer(dispatcher, os.Stdin, os.Stdout)
		if err := srv.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderError("✗"), err)
			exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
