// Package builtin provides the non-intrusive fingerprinting actions shipped
// with bifrost and registers them in an actions.Catalog.
package builtin

import (
	"context"
	"time"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/logging"
)

const defaultTimeout = 30 * time.Second

// Deps carries the settings and collaborators shared by built-in actions.
type Deps struct {
	Timeout       time.Duration
	SNMPCommunity string
	// DNSResolver is host:port; empty reads /etc/resolv.conf.
	DNSResolver string
	VulnScripts []string
	Findings    actions.FindingSink
	Logger      *logging.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Timeout <= 0 {
		d.Timeout = defaultTimeout
	}
	if d.SNMPCommunity == "" {
		d.SNMPCommunity = "public"
	}
	if len(d.VulnScripts) == 0 {
		d.VulnScripts = []string{"vulners"}
	}
	if d.Findings == nil {
		d.Findings = actions.NopSink{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return d
}

// Register adds every built-in action to c.
func Register(c *actions.Catalog, deps Deps) {
	deps = deps.withDefaults()

	c.Register("ssh_hostkey", "SSHHostKey", func(spec actions.Spec) (actions.Action, error) {
		return NewSSHHostKey(spec, deps), nil
	})
	c.Register("http_banner", "HTTPBanner", func(spec actions.Spec) (actions.Action, error) {
		return NewHTTPBanner(spec, deps), nil
	})
	c.Register("http_headers", "HTTPSecurityHeaders", func(spec actions.Spec) (actions.Action, error) {
		return NewHTTPSecurityHeaders(spec, deps), nil
	})
	c.Register("snmp_sysdescr", "SNMPSysDescr", func(spec actions.Spec) (actions.Action, error) {
		return NewSNMPSysDescr(spec, deps), nil
	})
	c.Register("dns_reverse", "DNSReverse", func(spec actions.Spec) (actions.Action, error) {
		a, err := NewDNSReverse(spec, deps)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	c.Register(actions.ModuleVulnScanner, "NmapVulnScanner", func(spec actions.Spec) (actions.Action, error) {
		return NewNmapVulnScanner(spec, deps), nil
	})
}

// NewCatalog returns a catalog holding every built-in action.
func NewCatalog(deps Deps) *actions.Catalog {
	c := actions.NewCatalog()
	Register(c, deps)
	return c
}

// withTimeout bounds an invocation by the configured timeout.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

func record(ctx context.Context, sink actions.FindingSink, ip, action, key, value string) {
	sink.Record(ctx, actions.Finding{
		IP:     ip,
		Action: action,
		Key:    key,
		Value:  value,
		At:     time.Now(),
	})
}
