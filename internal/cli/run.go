package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/relive"
)

var infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

var runCmd = &cobra.Command{
	Use:   "run SCRIPT [ENTRY [ARGS...]]",
	Short: "Run a Lua script under the edit-and-continue debugger",
	Long: `Run loads SCRIPT, wraps every function it defines, and executes it.
With ENTRY, the named global function is called after load with the
remaining arguments passed as strings.

The script can manage wrapping itself through the hotrestart module
(hotrestart.wrap, hotrestart.no_wrap, hotrestart.wrap_module); functions
already wrapped or marked no_wrap are left alone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScript,
}

func init() {
	runCmd.Flags().Bool("no-wrap-all", false, "do not wrap the script's functions automatically")
	_ = viper.BindPFlag("no_wrap_all", runCmd.Flags().Lookup("no-wrap-all"))
	rootCmd.AddCommand(runCmd)
}

func engineOptions() ([]relive.Option, error) {
	var opts []relive.Option
	if name := viper.GetString("debugger"); name != "" {
		opts = append(opts, relive.WithDebugger(name))
	}
	switch f := viper.GetString("fidelity"); f {
	case "", "original":
		opts = append(opts, relive.WithFidelity(relive.FidelityOriginal))
	case "surrogate":
		opts = append(opts, relive.WithFidelity(relive.FidelitySurrogate))
	default:
		return nil, fmt.Errorf("unknown fidelity %q (want original or surrogate)", f)
	}
	if addr := viper.GetString("remote_addr"); addr != "" {
		opts = append(opts, relive.WithRemoteAddr(addr))
	}
	if viper.GetBool("watch") {
		opts = append(opts, relive.WithWatch(true))
	}
	if viper.GetBool("no_reload") {
		opts = append(opts, relive.WithReloadOnContinue(false))
	}
	return opts, nil
}

func runScript(cmd *cobra.Command, args []string) error {
	opts, err := engineOptions()
	if err != nil {
		return err
	}

	L := lua.NewState()
	defer L.Close()
	e := relive.New(L, opts...)
	defer e.Close()

	script := args[0]
	if err := e.DoFile(script); err != nil {
		return err
	}
	if !viper.GetBool("no_wrap_all") {
		e.WrapModule(script, nil)
	}

	if len(args) < 2 {
		return nil
	}
	entry := L.GetGlobal(args[1])
	if entry == lua.LNil {
		return fmt.Errorf("no function %q in %s", args[1], script)
	}
	callArgs := make([]lua.LValue, 0, len(args)-2)
	for _, a := range args[2:] {
		callArgs = append(callArgs, lua.LString(a))
	}
	if err := L.CallByParam(lua.P{Fn: entry, NRet: lua.MultRet, Protect: true}, callArgs...); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), infoStyle.Render("done"))
	return nil
}
