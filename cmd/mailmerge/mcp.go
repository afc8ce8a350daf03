package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/mailmerge/pipeline"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the mail-merge tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol; logs go to stderr.
		a, err := newApp(cmd, os.Stderr)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		conv, err := a.converter()
		if err != nil {
			return err
		}
		defer conv.Close()
		h, err := a.openHistory()
		if err != nil {
			return err
		}
		defer h.Close()

		srv := mcp.NewServer(&mcp.Implementation{Name: "mailmerge", Version: version}, nil)
		a.orchestrator(conv, h).RegisterMCP(srv, pipeline.Files{
			Root:     a.cfg.MCPRoot,
			MaxBytes: a.cfg.MaxUploadBytes(),
		})
		a.logger.Info("mcp server on stdio", "root", a.cfg.MCPRoot)
		return srv.Run(ctx, &mcp.StdioTransport{})
	},
}
