package cli

import (
	"io"
	"strconv"

	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/danieljhkim/btrsync/internal/subvol"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List subvolumes of both sides as one merged catalog",
	Long: `List subvolumes on this machine, the other machine and a cached dump,
in any combination, merged into one catalog.

Merging fails when one side lists the same identity twice, which means the
filesystem listing cannot be trusted.`,
	Args: cobra.NoArgs,
	RunE: runCatalog,
}

var (
	catalogSubvolume string
	catalogRemoteDir string
	catalogDump      string
)

func init() {
	catalogCmd.Flags().StringVar(&catalogSubvolume, "subvolume", "", "Local path to list")
	catalogCmd.Flags().StringVar(&catalogRemoteDir, "remote-dir", "", "Path on the other machine to list")
	catalogCmd.Flags().StringVar(&catalogDump, "dump", "", "Cached dump to include")
	catalogCmd.MarkFlagsOneRequired("subvolume", "remote-dir", "dump")
}

func runCatalog(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	cat, err := eng.Catalog(cmd.Context(), &engine.CatalogRequest{
		Subvolume: catalogSubvolume,
		RemoteDir: catalogRemoteDir,
		Dump:      catalogDump,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, cat.Records())
	}

	PrintSection(out, "Catalog")
	printSnapshots(out, cat.Records())
	return nil
}

// printSnapshots prints records as a table.
func printSnapshots(w io.Writer, snaps []subvol.Snapshot) {
	if len(snaps) == 0 {
		PrintEmptyState(w, "No subvolumes found")
		return
	}

	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		mode := "rw"
		if s.ReadOnly {
			mode = "ro"
		}
		rows = append(rows, []string{
			string(s.Origin),
			strconv.FormatUint(s.SubvolID, 10),
			shortUUID(uuid.NullUUID{UUID: s.IdentityKey(), Valid: true}),
			shortUUID(s.ParentUUID),
			mode,
			s.Path,
		})
	}
	PrintTable(w, []string{"Origin", "ID", "Identity", "Parent", "Mode", "Path"}, rows)
}

// shortUUID abbreviates a uuid for tables; null prints as "-".
func shortUUID(id uuid.NullUUID) string {
	if !id.Valid {
		return "-"
	}
	return id.UUID.String()[:8]
}
