package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/relive/internal/source"
	"github.com/dshills/relive/internal/surrogate"
)

var checkCmd = &cobra.Command{
	Use:   "check SCRIPT...",
	Short: "Parse scripts and list the definitions relive can reload",
	Long: `Check parses each script, verifies delegation calls resolve, and lists
every named function definition with its qualified path and line span.
Definitions listed here are the ones a post-mortem session can reload.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var failed bool
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(out, errStyle.Render(fmt.Sprintf("%s: %v", path, err)))
			failed = true
			continue
		}
		chunk, err := source.Parse(string(data), path)
		if err != nil {
			fmt.Fprintln(out, errStyle.Render(fmt.Sprintf("%s: %v", path, err)))
			failed = true
			continue
		}
		if err := surrogate.RewriteAll(chunk); err != nil {
			fmt.Fprintln(out, errStyle.Render(fmt.Sprintf("%s: %v", path, err)))
			failed = true
			continue
		}
		fmt.Fprintf(out, "%s\n", path)
		for _, d := range source.Definitions(chunk) {
			fmt.Fprintf(out, "  %-40s %d-%d\n", d.Path, d.FirstLine, d.LastLine)
		}
	}
	if failed {
		return fmt.Errorf("check failed")
	}
	return nil
}
