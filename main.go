// Package main provides the penf-linker entry point.
// penf-linker finds entity mentions in documents and links them to the
// entities of a repository.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/penf-linker/cmd"
	"github.com/otherjamesbrown/penf-linker/config"
	"github.com/otherjamesbrown/penf-linker/pkg/buildinfo"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// Global flags.
var (
	cfgFile      string
	outputFormat string
	logLevel     string
	debug        bool
)

// loadConfig loads the configuration and applies the global flags.
func loadConfig() (*config.LinkerConfig, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(outputFormat)
	}
	if logLevel != "" {
		cfg.Logging.Level = logging.Level(logLevel)
	}
	if debug {
		cfg.Logging.Level = logging.LevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// newRootCommand builds the command tree.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "penf-linker",
		Short: "Entity linking for document repositories",
		Long: `penf-linker finds mentions of people, places and organizations in documents
and links them to the entities of a repository.

Documents are sent to an annotation engine. Each mention is matched against
existing entities, or an entity is created for it, and the document records
where the entity occurs. Changing a document queues it for another pass.

COMMON WORKFLOWS:
  Try the engine:     penf-linker analyze notes.txt
  Link one document:  penf-linker link main doc-42
  Run the service:    penf-linker db migrate --yes  →  penf-linker serve --trigger
  Find an entity:     penf-linker suggest "john lennon" --type person

DISCOVERY:
  penf-linker <command> --help   Subcommands, flags, and examples for any command
  penf-linker config show        Effective configuration`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.penf-linker/config.yaml)")
	root.PersistentFlags().StringVar(&outputFormat, "output", "", "default output format: text, json, yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddGroup(
		&cobra.Group{ID: "linking", Title: "Linking:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	deps := cmd.DefaultDeps(loadConfig)

	for _, c := range []*cobra.Command{
		cmd.NewAnalyzeCommand(deps),
		cmd.NewLinkCommand(deps),
		cmd.NewSuggestCommand(deps),
		cmd.NewOccurrencesCommand(deps),
	} {
		c.GroupID = "linking"
		root.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		cmd.NewServeCommand(deps),
		cmd.NewDbCommand(deps),
	} {
		c.GroupID = "ops"
		root.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		cmd.NewAuthCommand(),
		newConfigCommand(),
		newVersionCommand(),
		newCompletionCommand(root),
	} {
		c.GroupID = "setup"
		root.AddCommand(c)
	}

	return root
}

func newVersionCommand() *cobra.Command {
	var (
		server     string
		outputJSON bool
	)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of penf-linker.

Use --server to also ask a running service for its version.

Examples:
  penf-linker version
  penf-linker version --output-json
  penf-linker version --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			infos := []buildinfo.Info{buildinfo.Get("penf-linker")}
			var serverErr error
			if server != "" {
				info, err := fetchServerVersion(cmd.Context(), server)
				if err != nil {
					serverErr = err
					info = &buildinfo.Info{ServiceName: server, Version: "unreachable"}
				}
				infos = append(infos, *info)
			}

			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if server == "" {
					return enc.Encode(infos[0])
				}
				return enc.Encode(infos)
			}

			if server == "" {
				info := infos[0]
				fmt.Fprintf(out, "penf-linker version %s\n", info.Version)
				fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
				fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
				fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
				return nil
			}

			fmt.Fprintf(out, "%-25s %-12s %-10s %s\n", "SERVICE", "VERSION", "COMMIT", "BUILT")
			for _, info := range infos {
				commit := info.Commit
				if len(commit) > 10 {
					commit = commit[:10]
				}
				fmt.Fprintf(out, "%-25s %-12s %-10s %s\n", info.ServiceName, info.Version, commit, info.BuildTime)
			}
			if serverErr != nil {
				fmt.Fprintf(out, "\n%s: %v\n", server, serverErr)
			}
			return nil
		},
	}

	versionCmd.Flags().StringVar(&server, "server", "", "Base URL of a running penf-linker service")
	versionCmd.Flags().BoolVar(&outputJSON, "output-json", false, "Output as JSON")

	return versionCmd
}

// fetchServerVersion reads /version from a running service.
func fetchServerVersion(ctx context.Context, base string) (*buildinfo.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/version", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var info buildinfo.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding version: %w", err)
	}
	return &info, nil
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View and initialize the penf-linker configuration.`,
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Display the configuration after the config file, .env and environment
variables have been applied. Passwords are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			path := cfgFile
			if path == "" {
				path, _ = config.ConfigPath()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
			return writeConfig(cmd.OutOrStdout(), redactConfig(cfg))
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				if path, err = config.ConfigPath(); err != nil {
					return fmt.Errorf("getting config path: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(out, "Configuration file already exists: %s\n", path)
				fmt.Fprintln(out, "Use 'penf-linker config show' to view current settings, or --force to overwrite.")
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("creating config file: %w", err)
			}
			defer f.Close()
			if err := writeConfig(f, config.DefaultConfig()); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			fmt.Fprintf(out, "Created configuration file: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(initCmd)

	return configCmd
}

func writeConfig(w io.Writer, cfg *config.LinkerConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// redactConfig returns a copy of cfg without secrets.
func redactConfig(cfg *config.LinkerConfig) *config.LinkerConfig {
	c := *cfg
	if c.Database.Password != "" {
		c.Database.Password = "********"
	}
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err == nil {
			c.Database.URL = u.Redacted()
		}
	}
	if c.Queue.RedisPassword != "" {
		c.Queue.RedisPassword = "********"
	}
	return &c
}

func newCompletionCommand(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for penf-linker.

Bash:
  $ source <(penf-linker completion bash)

Zsh:
  $ penf-linker completion zsh > "${fpath[1]}/_penf-linker"

Fish:
  $ penf-linker completion fish | source

PowerShell:
  PS> penf-linker completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}

func main() {
	// Commands watch the context; serve drains before returning.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
