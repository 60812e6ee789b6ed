package cli

import (
	"fmt"
	"time"

	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/spf13/cobra"
)

var patchCmd = &cobra.Command{
	Use:   "patch <snapshot>",
	Short: "Write a snapshot to a patch file for offline transfer",
	Long: `Write the send stream of a snapshot to a file instead of a live receive.

Delta bases are resolved against a cached dump of the machine that will
apply the patch, so that machine never has to be reachable. Apply the file
there with "btrfs receive -f <file> <dir>".`,
	Example: `  btrsync dump save nas /backup --remote --transport "ssh backup@nas"
  btrsync patch /mnt/pool/snaps/2024-06-01 --subvolume /mnt/pool/data --dump nas`,
	Args: cobra.ExactArgs(1),
	RunE: runPatch,
}

var (
	patchSubvolume string
	patchFSRoot    string
	patchDump      string
	patchOutputDir string
	patchParents   []string
	patchDryRun    bool
)

func init() {
	patchCmd.Flags().StringVar(&patchSubvolume, "subvolume", "", "Local subvolume the snapshot was taken from (required)")
	patchCmd.Flags().StringVar(&patchFSRoot, "fs-root", "", "Mount point of the local filesystem top level (default: --subvolume)")
	patchCmd.Flags().StringVar(&patchDump, "dump", "", "Cached dump of the machine that will apply the patch (required)")
	patchCmd.Flags().StringVarP(&patchOutputDir, "output-dir", "o", "", "Directory for the patch file (default: $BTRSYNC_ROOT/patches)")
	patchCmd.Flags().StringArrayVar(&patchParents, "parent", nil, "Explicit delta base (repeatable); skips the lineage walk")
	patchCmd.Flags().BoolVar(&patchDryRun, "dry-run", false, "Resolve and plan without writing")
	_ = patchCmd.MarkFlagRequired("subvolume")
	_ = patchCmd.MarkFlagRequired("dump")
}

func runPatch(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := eng.Patch(cmd.Context(), &engine.PatchRequest{
		Snapshot:  args[0],
		Subvolume: patchSubvolume,
		FSRoot:    patchFSRoot,
		Dump:      patchDump,
		OutputDir: patchOutputDir,
		Parents:   patchParents,
		DryRun:    patchDryRun,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, result)
	}

	printResolution(out, result.Resolution)
	_, _ = fmt.Fprintln(out)
	printPlan(out, result.Plan)

	if result.DryRun {
		PrintInfo(out, "Dry run - nothing written")
		PrintLabelValue(out, "File", result.File)
		return nil
	}

	PrintSuccess(out, fmt.Sprintf("Wrote %s (%s) in %s", result.File, formatBytes(result.Size), result.Elapsed.Round(time.Millisecond)))
	PrintLabelValue(out, "SHA-256", result.Digest)
	PrintLabelValue(out, "Digest file", result.DigestFile)
	return nil
}
