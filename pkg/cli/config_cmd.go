package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage compute agent profiles",
		Long: `Profiles live in $VIZFLOW_CONFIG_DIR/config.yaml (default ~/.vizflow).
Flags and VIZFLOW_* variables override the active profile.`,
	}
	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigProfilesCmd(),
		newConfigSetProfileCmd(),
		newConfigUseProfileCmd(),
		newConfigDeleteProfileCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no configuration at %s: %w", ConfigPath(), err)
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}
			if getOutputFormat(cmd) == OutputJSON {
				return PrintJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print tokens unmasked")
	return cmd
}

func newConfigProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = emptyUserConfig()
			}
			names := make([]string, 0, len(cfg.Profiles))
			for name := range cfg.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				p := cfg.Profiles[name]
				active := ""
				if name == cfg.CurrentProfile {
					active = "*"
				}
				rows = append(rows, []string{active, name, p.Server, p.Transport, p.Output})
			}
			columns := []string{"active", "name", "server", "transport", "output"}
			switch getOutputFormat(cmd) {
			case OutputJSON:
				return PrintJSON(cmd.OutOrStdout(), maskConfig(cfg))
			case OutputCSV:
				return PrintCSV(cmd.OutOrStdout(), columns, rows)
			}
			PrintTable(cmd.OutOrStdout(), columns, rows)
			return nil
		},
	}
}

func newConfigSetProfileCmd() *cobra.Command {
	var p Profile

	cmd := &cobra.Command{
		Use:   "set-profile <name>",
		Short: "Create or update a profile",
		Example: `  vizflow config set-profile prod --server https://agent:9443 --token $AGENT_TOKEN
  vizflow config set-profile local --transport grpc --server localhost:9444`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := cmd.Flags().Changed
			if changed("default-output") {
				if err := validateOutputFormat(p.Output); err != nil {
					return err
				}
			}
			if changed("transport") {
				if err := validateTransport(p.Transport); err != nil {
					return err
				}
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = emptyUserConfig()
			}
			name := args[0]
			cur := cfg.Profiles[name]
			if changed("server") {
				cur.Server = p.Server
			}
			if changed("token") {
				cur.Token = p.Token
			}
			if changed("transport") {
				cur.Transport = p.Transport
			}
			if changed("default-output") {
				cur.Output = p.Output
			}
			cfg.Profiles[name] = cur
			if len(cfg.Profiles) == 1 {
				cfg.CurrentProfile = name
			}
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return reportConfig(cmd, fmt.Sprintf("Profile %q saved to %s", name, ConfigPath()),
				map[string]string{"status": "ok", "profile": name, "path": ConfigPath()})
		},
	}
	cmd.Flags().StringVar(&p.Server, "server", "", "Compute agent URL")
	cmd.Flags().StringVar(&p.Token, "token", "", "Compute agent token")
	cmd.Flags().StringVar(&p.Transport, "transport", "", "Compute agent transport (http, grpc)")
	cmd.Flags().StringVar(&p.Output, "default-output", "", "Output format used when -o is not given")
	return cmd
}

func newConfigUseProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Make a profile active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no configuration at %s: %w", ConfigPath(), err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return reportConfig(cmd, fmt.Sprintf("Active profile set to %q", name),
				map[string]string{"status": "ok", "activeProfile": name})
		},
	}
}

func newConfigDeleteProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-profile <name>",
		Short: "Remove a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no configuration at %s: %w", ConfigPath(), err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			delete(cfg.Profiles, name)
			if cfg.CurrentProfile == name {
				cfg.CurrentProfile = ""
			}
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return reportConfig(cmd, fmt.Sprintf("Profile %q deleted", name),
				map[string]string{"status": "ok", "deleted": name})
		},
	}
}

func reportConfig(cmd *cobra.Command, text string, obj map[string]string) error {
	if getOutputFormat(cmd) == OutputJSON {
		return PrintJSON(cmd.OutOrStdout(), obj)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func maskConfig(cfg *UserConfig) *UserConfig {
	masked := &UserConfig{
		CurrentProfile: cfg.CurrentProfile,
		Profiles:       make(map[string]Profile, len(cfg.Profiles)),
	}
	for name, p := range cfg.Profiles {
		p.Token = maskSecret(p.Token)
		masked.Profiles[name] = p
	}
	return masked
}

// maskSecret keeps the first and last four characters of s.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
