package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

// NmapVulnScanner runs nmap service detection with vulnerability scripts
// against the open ports of a target and records the script output.
type NmapVulnScanner struct {
	actions.Base
	deps Deps
}

// NewNmapVulnScanner creates the action.
func NewNmapVulnScanner(spec actions.Spec, deps Deps) *NmapVulnScanner {
	return &NmapVulnScanner{Base: actions.NewBase(spec), deps: deps.withDefaults()}
}

// Run implements actions.Action.
func (a *NmapVulnScanner) Run(ctx context.Context, ip string, _ int, row targets.Snapshot, _ string) (status.Outcome, error) {
	if len(row.Ports) == 0 {
		return status.OutcomeFailed, fmt.Errorf("no open ports known for %s", ip)
	}

	ctx, cancel := withTimeout(ctx, a.deps.Timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(ctx, a.options(ip, row.Ports)...)
	if err != nil {
		return status.OutcomeFailed, fmt.Errorf("create scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return status.OutcomeFailed, fmt.Errorf("run scan: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		a.deps.Logger.Warn("Vulnerability scan completed with warnings", "target", ip, "warnings", *warnings)
	}

	for _, f := range scriptFindings(result) {
		record(ctx, a.deps.Findings, ip, a.Name(), f.key, f.value)
	}
	return status.OutcomeSuccess, nil
}

func (a *NmapVulnScanner) options(ip string, ports []int) []nmap.Option {
	list := make([]string, 0, len(ports))
	for _, p := range ports {
		list = append(list, strconv.Itoa(p))
	}
	return []nmap.Option{
		nmap.WithTargets(ip),
		nmap.WithPorts(strings.Join(list, ",")),
		nmap.WithConnectScan(),
		nmap.WithServiceInfo(),
		nmap.WithScripts(a.deps.VulnScripts...),
		nmap.WithSkipHostDiscovery(),
		nmap.WithTimingTemplate(nmap.TimingAggressive),
	}
}

type scriptFinding struct {
	key   string
	value string
}

// scriptFindings flattens script output into "<port>/<script>" findings.
func scriptFindings(result *nmap.Run) []scriptFinding {
	if result == nil {
		return nil
	}
	var out []scriptFinding
	for _, host := range result.Hosts {
		for _, port := range host.Ports {
			for _, script := range port.Scripts {
				output := strings.TrimSpace(script.Output)
				if output == "" {
					continue
				}
				out = append(out, scriptFinding{
					key:   fmt.Sprintf("%d/%s", port.ID, script.ID),
					value: output,
				})
			}
		}
	}
	return out
}
