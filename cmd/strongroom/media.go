package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/strongroom/internal/importer"
	"github.com/TheMichaelB/strongroom/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import <vault> <file>...",
	Short: "Encrypt files into a vault",
	Long: `Import encrypts each file with a thumbnail into the vault and then deletes
the originals. The batch is all or nothing: if any file fails nothing is
added to the manifest, and items already written are reported as orphans.`,
	Example: `  strongroom import holiday beach.jpg sunset.png
  strongroom import holiday scan.bin --mime image/png --keep-originals`,
	Args: cobra.MinimumNArgs(2),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:     "export <vault> <id>",
	Short:   "Decrypt an item to a file",
	Example: `  strongroom export holiday 3f2c9a1e-... --out beach.jpg`,
	Args:    cobra.ExactArgs(2),
	RunE:    runExport,
}

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail <vault> <id>",
	Short: "Decrypt an item's thumbnail to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runThumbnail,
}

var (
	importMime          string
	importKeepOriginals bool
	exportOut           string
	thumbnailOut        string
)

func init() {
	vaultCommand(importCmd)
	vaultCommand(exportCmd)
	vaultCommand(thumbnailCmd)

	importCmd.Flags().StringVar(&importMime, "mime", "",
		"Mime type for every file (default: inferred from the file name)")
	importCmd.Flags().BoolVar(&importKeepOriginals, "keep-originals", false,
		"Do not delete the original files after import")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "",
		"Output file (required)")
	thumbnailCmd.Flags().StringVarP(&thumbnailOut, "out", "o", "",
		"Output file (required)")

	_ = exportCmd.MarkFlagRequired("out")
	_ = thumbnailCmd.MarkFlagRequired("out")
}

func runImport(cmd *cobra.Command, args []string) error {
	if importKeepOriginals {
		// Read when the service is built
		cfg.Import.DeleteOriginals = false
	}

	refs := make([]importer.FileRef, 0, len(args)-1)
	for _, arg := range args[1:] {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", arg, err)
		}
		refs = append(refs, importer.NewFileRef(path, importMime))
	}

	ctx, session, cleanup, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	ids, err := session.ImportFiles(ctx, refs)
	if err != nil {
		var importErr *models.ImportError
		if errors.As(err, &importErr) && !jsonOutput {
			for _, id := range importErr.Orphaned {
				printWarning("Orphaned item left in storage: %s", id)
			}
			if len(importErr.Orphaned) > 0 {
				printWarning("Run 'strongroom orphans %s --prune' to remove them", session.Name())
			}
		}
		if importErr != nil && jsonOutput {
			printJSON(map[string]interface{}{
				"success":           false,
				"stage":             importErr.Stage,
				"file":              importErr.File,
				"orphaned":          importErr.Orphaned,
				"originals_deleted": importErr.OriginalsDeleted,
				"error":             importErr.Err.Error(),
			})
			return errSilent{err}
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"vault":   session.Name(),
			"ids":     ids,
		})
		return nil
	}

	for i, id := range ids {
		printInfo("%s  %s", id, refs[i].Name)
	}
	printSuccess("Imported %d file(s) into %s", len(ids), session.Name())
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, session, cleanup, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := session.LoadItem(ctx, args[1])
	if err != nil {
		return err
	}
	return writePayload(args[1], result.Payload, exportOut)
}

func runThumbnail(cmd *cobra.Command, args []string) error {
	ctx, session, cleanup, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	thumb, err := session.LoadThumbnail(ctx, args[1])
	if err != nil {
		return err
	}
	return writePayload(args[1], thumb, thumbnailOut)
}

// writePayload decodes a data URI payload into path.
func writePayload(id, payload, path string) error {
	mimeType, data, err := models.DecodeDataURI(payload)
	if err != nil {
		return fmt.Errorf("item %s: %w", id, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"id":      id,
			"type":    mimeType,
			"bytes":   len(data),
			"path":    path,
		})
		return nil
	}

	printSuccess("Wrote %s (%s, %d bytes)", path, mimeType, len(data))
	return nil
}

// errSilent marks an error already reported on stdout.
type errSilent struct{ error }

func (e errSilent) Unwrap() error { return e.error }
