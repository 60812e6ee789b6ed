package cli

import (
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <patch-file>",
	Short: "Check a patch file against its recorded digest",
	Long: `Recompute the SHA-256 of a patch file and compare it with the
<patch-file>.sha256 written beside it. Run this on the receiving machine
before "btrfs receive -f".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := eng.VerifyPatch(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, result)
		}
		PrintSuccess(out, result.File+": OK")
		PrintLabelValue(out, "SHA-256", result.Actual)
		return nil
	},
}
