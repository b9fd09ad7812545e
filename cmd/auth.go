package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/penf-linker/credentials"
)

// minAPIKeyLength rejects obvious paste mistakes.
const minAPIKeyLength = 8

// NewAuthCommand creates the auth command group.
func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage credentials",
		Long: `Manage the credentials penf-linker presents to other services.

The engine API key is sent as a bearer token to the annotation engine. It is
stored encrypted in ~/.penf-linker/credentials.yaml; the encryption key lives in
the system keyring, in PENF_LINKER_ENCRYPTION_KEY, or is derived from
PENF_LINKER_PASSPHRASE.

PENF_LINKER_ENGINE_API_KEY takes precedence over the stored key.`,
	}

	engineKey := &cobra.Command{
		Use:   "engine-key",
		Short: "Manage the annotation engine API key",
	}
	engineKey.AddCommand(newEngineKeySetCommand())
	engineKey.AddCommand(newEngineKeyClearCommand())
	engineKey.AddCommand(newEngineKeyStatusCommand())
	cmd.AddCommand(engineKey)

	return cmd
}

func newEngineKeySetCommand() *cobra.Command {
	var (
		key       string
		engineURL string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the engine API key",
		Long: `Store the annotation engine API key, encrypted at rest.

Without --key the key is read from the terminal without echo, or from
standard input when it is not a terminal.

Examples:
  penf-linker auth engine-key set
  echo "$KEY" | penf-linker auth engine-key set
  penf-linker auth engine-key set --url https://engine.example.com/enhancer`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if key == "" {
				var err error
				key, err = readSecret(cmd.InOrStdin(), out, "Engine API key: ")
				if err != nil {
					return fmt.Errorf("reading API key: %w", err)
				}
			}
			key = strings.TrimSpace(key)
			if len(key) < minAPIKeyLength {
				return fmt.Errorf("API key is too short")
			}

			store, err := credentials.NewStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if err := store.Save(&credentials.Credentials{EngineAPIKey: key, EngineURL: engineURL}); err != nil {
				return fmt.Errorf("saving credentials: %w", err)
			}

			credPath, _ := credentials.CredentialsPath()
			fmt.Fprintf(out, "%s %s\n", green("Stored engine API key"), credentials.MaskAPIKey(key))
			fmt.Fprintf(out, "  File:           %s\n", credPath)
			fmt.Fprintf(out, "  Encryption key: %s\n", store.KeyStorage())
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "API key (prompted for when omitted)")
	cmd.Flags().StringVar(&engineURL, "url", "", "Engine the key was issued for")

	return cmd
}

func newEngineKeyClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored engine API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			store, err := credentials.NewStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}

			if !store.Exists() {
				fmt.Fprintln(out, "No stored credentials found.")
			} else {
				if err := store.Delete(); err != nil {
					return fmt.Errorf("removing credentials: %w", err)
				}
				fmt.Fprintln(out, "Stored engine API key removed.")
			}

			if os.Getenv(credentials.EngineAPIKeyEnv) != "" {
				fmt.Fprintf(out, "\n%s %s is still set.\n", yellow("Note:"), credentials.EngineAPIKeyEnv)
			}
			return nil
		},
	}
}

func newEngineKeyStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which engine API key is used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			envKey := os.Getenv(credentials.EngineAPIKeyEnv)
			if envKey != "" {
				fmt.Fprintf(out, "Environment:  %s (%s)\n", credentials.MaskAPIKey(envKey), credentials.EngineAPIKeyEnv)
			}

			store, err := credentials.NewStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			creds, err := store.Load()
			switch {
			case errors.Is(err, credentials.ErrNoCredentials):
				fmt.Fprintln(out, "Stored key:   (none)")
			case err != nil:
				return fmt.Errorf("loading credentials: %w", err)
			default:
				fmt.Fprintf(out, "Stored key:   %s\n", credentials.MaskAPIKey(creds.EngineAPIKey))
				if creds.EngineURL != "" {
					fmt.Fprintf(out, "  Engine:       %s\n", creds.EngineURL)
				}
				fmt.Fprintf(out, "  Last updated: %s\n", creds.LastUpdated.Format(time.RFC3339))
				fmt.Fprintf(out, "  Encryption:   %s\n", store.KeyStorage())
			}

			fmt.Fprintln(out)
			switch {
			case envKey != "":
				fmt.Fprintln(out, "Active: environment variable")
			case creds != nil && creds.EngineAPIKey != "":
				fmt.Fprintln(out, "Active: stored key")
			default:
				fmt.Fprintln(out, yellow("Active: none, requests are sent without a key"))
			}
			return nil
		},
	}
}

// readSecret reads one line, without echo when in is a terminal.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}
