package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/strongroom/internal/models"
)

var openCmd = &cobra.Command{
	Use:   "open <vault>",
	Short: "Open a vault, creating it on first use",
	Long: `Open derives the vault key and reads its manifest. A vault that does not
exist yet is created empty with the given password.`,
	Example: `  strongroom open holiday
  STRONGROOM_PASSWORD=secret strongroom open holiday --json`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "List vaults in the store",
	Args:  cobra.NoArgs,
	RunE:  runVaults,
}

var listCmd = &cobra.Command{
	Use:     "list <vault>",
	Short:   "List the items of a vault",
	Example: `  strongroom list holiday`,
	Args:    cobra.ExactArgs(1),
	RunE:    runList,
}

func init() {
	vaultCommand(openCmd)
	vaultCommand(listCmd)
	rootCmd.AddCommand(vaultsCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	_, session, cleanup, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	count := len(session.Items())
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"vault":   session.Name(),
			"items":   count,
		})
		return nil
	}

	printSuccess("Opened %s (%d item(s))", session.Name(), count)
	return nil
}

func runVaults(cmd *cobra.Command, args []string) error {
	svc, closeStore, err := newService()
	if err != nil {
		return err
	}
	defer closeStore()

	names, err := svc.List(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		if names == nil {
			names = []string{}
		}
		printJSON(map[string]interface{}{"vaults": names})
		return nil
	}

	if len(names) == 0 {
		printInfo("No vaults")
		return nil
	}
	for _, name := range names {
		printInfo("%s", name)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	_, session, cleanup, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	items := session.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if jsonOutput {
		listing := make(map[string]models.ItemMetadata, len(items))
		for id, item := range items {
			listing[id] = item.ItemMetadata
		}
		printJSON(map[string]interface{}{
			"vault": session.Name(),
			"items": listing,
		})
		return nil
	}

	if len(ids) == 0 {
		printInfo("%s is empty", session.Name())
		return nil
	}
	for _, id := range ids {
		item := items[id]
		printInfo("%s  %-12s %5dx%-5d %s", id, item.MimeType, item.Size.Width, item.Size.Height, item.ItemPath)
	}
	fmt.Println()
	printInfo("%d item(s)", len(ids))
	return nil
}
