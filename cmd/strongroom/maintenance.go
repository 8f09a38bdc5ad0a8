package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/strongroom/internal/config"
	"github.com/TheMichaelB/strongroom/internal/transport"
)

var orphansCmd = &cobra.Command{
	Use:   "orphans <vault>",
	Short: "Find items left behind by failed imports",
	Long: `Orphans lists item directories that no manifest entry references. They are
left in storage when an import fails after some files were written. Use
--prune to delete them.`,
	Args: cobra.ExactArgs(1),
	RunE: runOrphans,
}

var serveCmd = &cobra.Command{
	Use:   "serve <vault>",
	Short: "Serve a vault to a local gallery over WebSocket",
	Long: `Serve opens the vault and answers gallery requests on the loopback
bridge address until interrupted. Interrupting closes the vault.

Clients must present the access token printed at startup, either as the
token query parameter or as an "Authorization: Bearer" header. A new
token is generated every time serve starts.`,
	Example: `  strongroom serve holiday
  STRONGROOM_BRIDGE_ADDR=127.0.0.1:9000 strongroom serve holiday`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:         "init <path>",
	Short:       "Write an example config file",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"skipConfig": "true"},
	RunE:        runConfigInit,
}

var (
	orphansPrune bool
	configForce  bool
)

func init() {
	vaultCommand(orphansCmd)
	vaultCommand(serveCmd)

	orphansCmd.Flags().BoolVar(&orphansPrune, "prune", false,
		"Delete the orphaned items")

	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runOrphans(cmd *cobra.Command, args []string) error {
	ctx, session, cleanup, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	var ids []string
	if orphansPrune {
		ids, err = session.PruneOrphans(ctx)
	} else {
		ids, err = session.Orphans(ctx)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		if ids == nil {
			ids = []string{}
		}
		printJSON(map[string]interface{}{
			"vault":   session.Name(),
			"orphans": ids,
			"pruned":  orphansPrune,
		})
		return nil
	}

	if len(ids) == 0 {
		printSuccess("No orphaned items in %s", session.Name())
		return nil
	}
	for _, id := range ids {
		printInfo("%s", id)
	}
	if orphansPrune {
		printSuccess("Removed %d orphaned item(s)", len(ids))
	} else {
		printWarning("%d orphaned item(s); run with --prune to remove", len(ids))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, session, cleanup, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	bridge := transport.NewBridge(session, cfg.Bridge.Addr, logger)
	endpoint := bridge.URL(cfg.Bridge.Addr)

	if jsonOutput {
		printJSON(map[string]interface{}{
			"vault": session.Name(),
			"url":   endpoint,
			"token": bridge.Token(),
		})
	} else {
		printSuccess("Serving %s on %s (Ctrl+C to stop)", session.Name(), endpoint)
		printWarning("The token in this URL grants read access to the vault; do not share it")
	}
	return bridge.ListenAndServe(ctx)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.SaveExample(path); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "path": path})
		return nil
	}
	printSuccess("Wrote example config to %s", path)
	return nil
}
