package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/strongroom/internal/config"
	"github.com/TheMichaelB/strongroom/internal/device"
	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/services/vaults"
	"github.com/TheMichaelB/strongroom/internal/storage"
)

// PasswordEnv supplies the vault password non-interactively.
const PasswordEnv = config.EnvPrefix + "_PASSWORD"

var (
	configPath string
	jsonOutput bool
	verbose    bool
	password   string

	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "strongroom",
	Short: "Encrypted local media vaults",
	Long: `strongroom keeps photos in password protected vaults on this device.

Vault keys are derived from the password and this device's identifier, so a
vault can only be opened on the device that created it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config init must work without a valid config
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}

		loaded, err := config.NewLoader(configPath).Load()
		if err != nil {
			return err
		}
		if verbose {
			loaded.Log.Level = "debug"
		}
		if err := loaded.EnsureDirectories(); err != nil {
			return err
		}

		l, err := events.NewLogger(&loaded.Log)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}

		cfg = loaded
		logger = l
		// Anything logging through a bare context uses the configured sink
		events.SetDefault(l)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: ./strongroom.yaml, ~/.config/strongroom/strongroom.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

// vaultCommand registers the --password flag shared by commands that open
// a vault.
func vaultCommand(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringVarP(&password, "password", "p", "",
		"Vault password (default: $"+PasswordEnv+", then prompt)")
	rootCmd.AddCommand(cmd)
	return cmd
}

// newService wires the configured store and device identity.
func newService() (*vaults.Service, func(), error) {
	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}

	svc := vaults.NewService(store, device.New(&cfg.Device), cfg, logger)
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Close storage failed")
		}
	}
	return svc, cleanup, nil
}

// openSession opens name and returns a context cancelled on SIGINT. The
// session is closed by the returned cleanup, or as soon as the user
// interrupts, which abandons in-flight decrypts.
func openSession(name string) (context.Context, *vaults.Session, func(), error) {
	svc, closeStore, err := newService()
	if err != nil {
		return nil, nil, nil, err
	}

	pw, err := resolvePassword(name)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	session, err := svc.Open(ctx, name, pw)
	if err != nil {
		stop()
		closeStore()
		return nil, nil, nil, err
	}

	interrupted := context.AfterFunc(ctx, func() {
		printWarning("\nInterrupted, closing vault...")
		_ = session.Close()
	})

	cleanup := func() {
		interrupted()
		stop()
		if err := session.Close(); err != nil {
			logger.WithError(err).Warn("Close session failed")
		}
		closeStore()
	}
	return ctx, session, cleanup, nil
}

// resolvePassword prefers the flag, then the environment, then a prompt.
func resolvePassword(vault string) (string, error) {
	if password != "" {
		return password, nil
	}
	if pw, ok := os.LookupEnv(PasswordEnv); ok {
		return pw, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("no password: use --password or set %s", PasswordEnv)
	}
	return promptPassword(fmt.Sprintf("Password for %s: ", vault))
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

// Output helpers

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, format+"\n", args...)
}

// reportError prints err in the selected output mode.
func reportError(err error) {
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"code":    vaults.ErrorCode(err),
		})
		return
	}
	printError("Error: %v", err)
}
