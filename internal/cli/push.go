package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/danieljhkim/btrsync/internal/planner"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <snapshot> <remote-subvolume>",
	Short: "Send a snapshot to the other machine",
	Long: `Send a read-only snapshot to the other machine with btrfs receive.

The snapshot lands in .btrsync_snapshots.<name> beside <remote-subvolume>
unless --receive-dir is given. Shared snapshots that pass a trial send are
used as delta bases; with none the snapshot is sent in full. A snapshot the
other machine already holds is skipped.`,
	Example: `  # Incremental push over ssh
  btrsync push /mnt/pool/snaps/2024-06-01 /backup/data \
    --subvolume /mnt/pool/data --fs-root /mnt/pool --transport "ssh backup@nas"

  # Show the plan without sending
  btrsync push /mnt/pool/snaps/2024-06-01 /backup/data --subvolume /mnt/pool/data --dry-run`,
	Args: cobra.ExactArgs(2),
	RunE: runPush,
}

var (
	pushSubvolume  string
	pushFSRoot     string
	pushReceiveDir string
	pushParents    []string
	pushDryRun     bool
)

func init() {
	pushCmd.Flags().StringVar(&pushSubvolume, "subvolume", "", "Local subvolume the snapshot was taken from (required)")
	pushCmd.Flags().StringVar(&pushFSRoot, "fs-root", "", "Mount point of the local filesystem top level (default: --subvolume)")
	pushCmd.Flags().StringVar(&pushReceiveDir, "receive-dir", "", "Directory on the other machine to receive into")
	pushCmd.Flags().StringArrayVar(&pushParents, "parent", nil, "Explicit delta base (repeatable); skips the lineage walk")
	pushCmd.Flags().BoolVar(&pushDryRun, "dry-run", false, "Resolve and plan without sending")
	_ = pushCmd.MarkFlagRequired("subvolume")
}

func runPush(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := eng.Push(cmd.Context(), &engine.PushRequest{
		Snapshot:        args[0],
		Subvolume:       pushSubvolume,
		FSRoot:          pushFSRoot,
		RemoteSubvolume: args[1],
		ReceiveDir:      pushReceiveDir,
		Parents:         pushParents,
		DryRun:          pushDryRun,
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

	switch {
	case result.Skipped:
		PrintSuccess(out, fmt.Sprintf("Already present at %s; nothing sent", result.Destination))
	case result.DryRun:
		PrintInfo(out, "Dry run - nothing sent")
		printPlan(out, result.Plan)
		PrintLabelValue(out, "Destination", result.Destination)
	default:
		printPlan(out, result.Plan)
		PrintSuccess(out, fmt.Sprintf("Received as %s in %s", result.Destination, result.Elapsed.Round(time.Millisecond)))
	}
	return nil
}

// printPlan prints the send command a plan runs.
func printPlan(w io.Writer, plan *planner.Plan) {
	if plan == nil {
		return
	}
	PrintLabelValue(w, "Mode", plan.Mode.String())
	PrintLabelValue(w, "Command", strings.Join(plan.SendArgs(), " "))
}
