package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/bifrost/internal/daemon"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/targets"
)

var targetsAliveOnly bool

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Inspect the target table",
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets with their open ports and action status",
	Example: `  bifrost targets list
  bifrost targets list --alive`,
	RunE: runTargetsList,
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsListCmd)

	targetsListCmd.Flags().BoolVar(&targetsAliveOnly, "alive", false, "only show live targets")
}

func runTargetsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, database, err := daemon.OpenStore(ctx, &cfg.Store, logging.Default())
	if err != nil {
		return fmt.Errorf("failed to open target store: %w", err)
	}
	if database != nil {
		defer func() { _ = database.Close() }()
	}

	rows, err := store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read targets: %w", err)
	}
	return renderTargets(cmd.OutOrStdout(), rows, targetsAliveOnly)
}

// renderTargets writes rows as a table, one status column per action.
func renderTargets(w io.Writer, rows []targets.Snapshot, aliveOnly bool) error {
	if aliveOnly {
		live := rows[:0:0]
		for _, r := range rows {
			if r.Alive {
				live = append(live, r)
			}
		}
		rows = live
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No targets found.")
		return err
	}

	actionNames := statusColumns(rows)
	header := []any{"IP", "Hostname", "Alive", "Ports"}
	for _, name := range actionNames {
		header = append(header, name)
	}

	table := tablewriter.NewWriter(w)
	table.Header(header...)
	for _, r := range rows {
		line := []string{r.IP, r.Hostname, strconv.FormatBool(r.Alive), formatPorts(r.Ports)}
		for _, name := range actionNames {
			if st, ok := r.Statuses[name]; ok {
				line = append(line, st.String())
			} else {
				line = append(line, "")
			}
		}
		if err := table.Append(line); err != nil {
			return err
		}
	}
	return table.Render()
}

func statusColumns(rows []targets.Snapshot) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for name := range r.Statuses {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formatPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
