package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <snapshot>",
	Short: "Show which delta bases a snapshot would be sent with",
	Long: `Find snapshots shared with the other machine (or a cached dump of it)
and check each one with a trial btrfs send.

Nothing is transferred. Candidates rejected by btrfs are listed with the
reason, so a pruned or damaged base can be told apart from a missing one.`,
	Example: `  # Against the other machine
  btrsync resolve /mnt/pool/snaps/2024-06-01 --subvolume /mnt/pool/data \
    --fs-root /mnt/pool --transport "ssh backup@nas" --remote-dir /backup

  # Against a cached dump
  btrsync resolve /mnt/pool/snaps/2024-06-01 --subvolume /mnt/pool/data --dump nas`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var (
	resolveSubvolume string
	resolveFSRoot    string
	resolveRemoteDir string
	resolveDump      string
	resolveParents   []string
)

func init() {
	resolveCmd.Flags().StringVar(&resolveSubvolume, "subvolume", "", "Local subvolume the snapshot was taken from (required)")
	resolveCmd.Flags().StringVar(&resolveFSRoot, "fs-root", "", "Mount point of the local filesystem top level (default: --subvolume)")
	resolveCmd.Flags().StringVar(&resolveRemoteDir, "remote-dir", "", "Path on the other machine to list")
	resolveCmd.Flags().StringVar(&resolveDump, "dump", "", "Cached dump to use instead of the other machine")
	resolveCmd.Flags().StringArrayVar(&resolveParents, "parent", nil, "Explicit delta base (repeatable); skips the lineage walk")
	_ = resolveCmd.MarkFlagRequired("subvolume")
	resolveCmd.MarkFlagsMutuallyExclusive("remote-dir", "dump")
	resolveCmd.MarkFlagsOneRequired("remote-dir", "dump")
}

func runResolve(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := eng.Resolve(cmd.Context(), &engine.ResolveRequest{
		Snapshot:  args[0],
		Subvolume: resolveSubvolume,
		FSRoot:    resolveFSRoot,
		RemoteDir: resolveRemoteDir,
		Dump:      resolveDump,
		Parents:   resolveParents,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(out, res)
	}

	printResolution(out, res)
	return nil
}

// printResolution prints the candidates of res and what became of them.
func printResolution(w io.Writer, res *engine.Resolution) {
	PrintSection(w, "Resolution")
	PrintLabelValue(w, "Snapshot", res.SnapshotPath)
	PrintLabelValue(w, "Identity", res.Snapshot.IdentityKey().String())
	PrintLabelValue(w, "Counterpart", string(res.Counterpart))
	if res.AlreadyPresent {
		PrintWarning(w, fmt.Sprintf("The %s side already holds this snapshot", res.Counterpart))
	}

	PrintSection(w, "Candidates")
	if len(res.Candidates) == 0 {
		PrintEmptyState(w, "No shared snapshots found")
	}

	var rows [][]string
	if res.Validation != nil {
		for _, c := range res.Validation.Retained {
			rows = append(rows, []string{c.Path, depth(c.Depth), strconv.FormatUint(c.Counterpart.SubvolID, 10), "valid"})
		}
		for _, x := range res.Validation.Excluded {
			c := x.Candidate
			rows = append(rows, []string{c.Path, depth(c.Depth), strconv.FormatUint(c.Counterpart.SubvolID, 10), "excluded: " + x.Reason})
		}
	}
	PrintTable(w, []string{"Path", "Depth", "Remote ID", "Status"}, rows)
	_, _ = fmt.Fprintln(w)

	if res.FullTransfer {
		PrintWarning(w, "No usable delta base; the snapshot will be sent in full")
		return
	}
	PrintSuccess(w, fmt.Sprintf("%s usable", PrintCount(len(res.Bases()), "base", "bases")))
}

func depth(d int) string {
	if d < 0 {
		return "-"
	}
	return strconv.Itoa(d)
}
