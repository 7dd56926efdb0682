// Command contentstack-mcp serves Contentstack tools to MCP clients over
// server-sent events.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ggoodman/contentstack-mcp/internal/config"
)

var version = "dev"

const (
	exitOK     = 0
	exitFail   = 1
	exitConfig = 2
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stderr))
}

func execute(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newRootCmd(stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			return exitConfig
		}
		return exitFail
	}
	return exitOK
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	var (
		port     int
		toolset  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "contentstack-mcp",
		Short:         "Serve Contentstack tools over the MCP SSE transport",
		Long:          "Start an HTTP server that exposes Contentstack search and entry creation as MCP tools. Settings come from the environment; flags override them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("toolset") {
				cfg.Toolset = toolset
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logOut, os.Exit)
		},
	}

	cmd.Flags().IntVar(&port, "port", 3000, "Port to listen on (PORT)")
	cmd.Flags().StringVar(&toolset, "toolset", config.ToolsetContentstack, "Tools to register: contentstack or minimal (TOOLSET)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error (LOG_LEVEL)")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.ConfigurationError{Err: err}
	})
	return cmd
}
