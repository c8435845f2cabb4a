// Package cli implements the vizflow command-line interface: compiling view
// documents to workflows and running them on the client engine or a compute
// agent.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// globals holds the persistent flags after precedence is applied:
// flag > env > profile > default.
type globals struct {
	server    string
	token     string
	transport string
	output    string
	profile   string
	logLevel  string
	logger    *slog.Logger
}

// computation returns cfg, switched to server mode when a server is set
// globally.
func (g *globals) computation(cfg domain.ComputationConfig) domain.ComputationConfig {
	if g.server == "" {
		if cfg.Mode == "" {
			return domain.ClientComputation()
		}
		return cfg
	}
	out := domain.ComputationConfig{Mode: domain.ModeServer, Server: g.server, APIKey: g.token, Transport: g.transport, Timeout: cfg.Timeout}
	if out.Transport == "" && cfg.Mode == domain.ModeServer {
		out.Transport = cfg.Transport
	}
	return out
}

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == OutputJSON {
			errObj := map[string]interface{}{
				"error": err.Error(),
			}
			if code, field, _ := compute.ErrorCode(err); code != compute.CodeExecution {
				errObj["code"] = code
				if field != "" {
					errObj["field"] = field
				}
			}
			var te *domain.TransportError
			if errors.As(err, &te) {
				errObj["code"] = "TRANSPORT_ERROR"
			}
			_ = PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "vizflow",
		Short:         "Compile and run visualization query workflows",
		Long:          "Compile view documents into query workflows and execute them in-process or on a compute agent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Config file is optional
			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = emptyUserConfig()
			}
			p, err := cfg.ActiveProfile(g.profile)
			if err != nil {
				return err
			}

			resolve := func(flag string, dst *string, env, fromProfile string) {
				if cmd.Flags().Changed(flag) {
					return
				}
				if v := os.Getenv(env); v != "" {
					*dst = v
				} else if fromProfile != "" {
					*dst = fromProfile
				}
			}
			resolve("server", &g.server, "VIZFLOW_SERVER", p.Server)
			resolve("token", &g.token, "VIZFLOW_TOKEN", p.Token)
			resolve("transport", &g.transport, "VIZFLOW_TRANSPORT", p.Transport)
			resolve("output", &g.output, "VIZFLOW_OUTPUT", p.Output)
			resolve("log-level", &g.logLevel, "VIZFLOW_LOG_LEVEL", "")
			// Persist the resolved output so getOutputFormat sees it.
			_ = cmd.Root().PersistentFlags().Set("output", g.output)

			if err := validateOutputFormat(g.output); err != nil {
				return err
			}
			if err := validateTransport(g.transport); err != nil {
				return err
			}
			g.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(g.logLevel)}))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.server, "server", "", "Compute agent URL; forces server-mode computation")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", "", "Compute agent token")
	rootCmd.PersistentFlags().StringVar(&g.transport, "transport", "", "Compute agent transport (http, grpc)")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", OutputAuto, "Output format (auto, table, json, csv)")
	rootCmd.PersistentFlags().StringVarP(&g.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newCompileCmd(g))
	rootCmd.AddCommand(newQueryCmd(g))
	rootCmd.AddCommand(newSampleCmd(g))
	rootCmd.AddCommand(newDatasetsCmd(g))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCommandsCmd())

	// Shell completions
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
