package cli

import (
	"fmt"

	"github.com/danieljhkim/btrsync/internal/engine"
	"github.com/danieljhkim/btrsync/internal/subvol"
	"github.com/spf13/cobra"
)

// dumpCmd is the parent command for cached dumps.
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Manage cached listings of a machine",
	Long: `A dump is a saved subvolume listing. It stands in for a machine that is
not reachable, typically the one a patch file is written for.`,
}

var dumpSaveRemote bool

var dumpSaveCmd = &cobra.Command{
	Use:   "save <name> <path>",
	Short: "List a machine and save the listing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		origin := subvol.OriginLocal
		if dumpSaveRemote {
			origin = subvol.OriginRemote
		}

		n, err := eng.SaveDump(cmd.Context(), &engine.SaveDumpRequest{
			Name:   args[0],
			Origin: origin,
			Dir:    args[1],
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, map[string]any{"name": args[0], "origin": origin, "records": n})
		}
		PrintSuccess(out, fmt.Sprintf("Saved dump %s (%s)", args[0], PrintCount(n, "subvolume", "subvolumes")))
		return nil
	},
}

var dumpLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached dumps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		names, err := eng.ListDumps(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if names == nil {
				names = []string{}
			}
			return outputJSON(out, names)
		}

		PrintSection(out, "Dumps")
		if len(names) == 0 {
			PrintEmptyState(out, "No dumps found")
			return nil
		}
		PrintList(out, names, 1)
		return nil
	},
}

var dumpShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the records of a cached dump",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		snaps, err := eng.LoadDump(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, snaps)
		}

		PrintSection(out, "Dump "+args[0])
		printSnapshots(out, snaps)
		return nil
	},
}

func init() {
	dumpSaveCmd.Flags().BoolVar(&dumpSaveRemote, "remote", false, "List the other machine through the transport")

	dumpCmd.AddCommand(dumpSaveCmd)
	dumpCmd.AddCommand(dumpLsCmd)
	dumpCmd.AddCommand(dumpShowCmd)
}
