package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/actions/builtin"
	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/daemon"
	"github.com/anstrom/bifrost/internal/logging"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Inspect the action registry",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the loaded actions",
	RunE:  runActionsList,
}

var actionsValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate an action registry source",
	Long: `Parse the registry source and report every record that would be
skipped at load time. Defaults to the configured actions.file.`,
	Example: `  bifrost actions validate
  bifrost actions validate ./actions.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runActionsValidate,
}

var actionsModulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the built-in action modules and classes",
	RunE:  runActionsModules,
}

func init() {
	rootCmd.AddCommand(actionsCmd)
	actionsCmd.AddCommand(actionsListCmd, actionsValidateCmd, actionsModulesCmd)
}

func runActionsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := daemon.LoadRegistry(cfg, actions.NopSink{}, logging.Default())
	if err != nil {
		return err
	}
	return renderRegistry(cmd.OutOrStdout(), reg)
}

func renderRegistry(w io.Writer, reg *actions.Registry) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Port", "Parent", "Kind")
	for _, a := range reg.All() {
		kind := "port-bound"
		port := strconv.Itoa(a.Port())
		if actions.IsStandalone(a) {
			kind = "standalone"
			port = "-"
		}
		if err := table.Append([]string{a.Name(), port, a.Parent(), kind}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d action(s), discovery %s\n", reg.Len(), enabledString(reg.DiscoveryEnabled()))
	return err
}

func runActionsValidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Actions.File
	}
	return validateRegistry(cmd.OutOrStdout(), path, config.Default())
}

// validateRegistry reports every problem in the registry source at path.
func validateRegistry(w io.Writer, path string, cfg *config.Config) error {
	records, err := actions.LoadRecords(path)
	if err != nil {
		return err
	}
	reg, problems := actions.Build(records, builtinCatalog(cfg))
	for _, p := range problems {
		if _, err := fmt.Fprintf(w, "  - %v\n", p); err != nil {
			return err
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %d of %d record(s) invalid", path, len(problems), len(records))
	}
	_, err = fmt.Fprintf(w, "%s: %d action(s) OK, discovery %s\n",
		path, reg.Len(), enabledString(reg.DiscoveryEnabled()))
	return err
}

func runActionsModules(cmd *cobra.Command, _ []string) error {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Module", "Class")
	for _, e := range builtinCatalog(config.Default()).Entries() {
		if err := table.Append([]string{e.Module, e.Class}); err != nil {
			return err
		}
	}
	return table.Render()
}

func builtinCatalog(cfg *config.Config) *actions.Catalog {
	return builtin.NewCatalog(builtin.Deps{
		Timeout:       cfg.Actions.Timeout,
		SNMPCommunity: cfg.Actions.SNMPCommunity,
		DNSResolver:   cfg.Actions.DNSResolver,
		VulnScripts:   cfg.Actions.VulnScripts,
		Findings:      actions.NopSink{},
		Logger:        logging.Default(),
	})
}

func enabledString(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
