// Package cli implements the relive command line.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

var rootCmd = &cobra.Command{
	Use:   "relive",
	Short: "Run Lua scripts with edit-and-continue debugging",
	Long: `Relive runs a Lua script under an edit-and-continue debugger. When a
wrapped function fails, the program stops in a post-mortem session on the
live stack; edit the source file on disk and continue, and only the failed
function is recompiled and re-run in place with its original arguments and
captured variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command, printing any error itself.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("relive: "+err.Error()))
		return err
	}
	return nil
}

// SetVersion records build metadata for the version template.
func SetVersion(version, commit string) {
	rootCmd.Version = fmt.Sprintf("%s (%s)", version, commit)
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("debugger", "", "debugger backend: term, repl, remote, or auto")
	pf.String("fidelity", "original", "reload fidelity: original or surrogate")
	pf.String("remote-addr", "", "serve the JSON debugger endpoint on this TCP address")
	pf.Bool("watch", false, "on continue, wait for the file to change before retrying")
	pf.Bool("no-reload", false, "retry on continue without re-reading source")

	_ = viper.BindPFlag("debugger", pf.Lookup("debugger"))
	_ = viper.BindPFlag("fidelity", pf.Lookup("fidelity"))
	_ = viper.BindPFlag("remote_addr", pf.Lookup("remote-addr"))
	_ = viper.BindPFlag("watch", pf.Lookup("watch"))
	_ = viper.BindPFlag("no_reload", pf.Lookup("no-reload"))
}

func initConfig() {
	viper.SetConfigName("relive")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config/relive")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RELIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	_ = viper.ReadInConfig()
}
