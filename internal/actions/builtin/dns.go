package builtin

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

const resolvConf = "/etc/resolv.conf"

// DNSReverse looks up the PTR records of a target.
type DNSReverse struct {
	actions.Base
	deps     Deps
	resolver string
	client   *dns.Client
}

// NewDNSReverse creates the action. Without a configured resolver the first
// nameserver of /etc/resolv.conf is used.
func NewDNSReverse(spec actions.Spec, deps Deps) (*DNSReverse, error) {
	deps = deps.withDefaults()
	resolver := deps.DNSResolver
	if resolver == "" {
		cfg, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil || len(cfg.Servers) == 0 {
			return nil, fmt.Errorf("no DNS resolver configured and %s unusable: %v", resolvConf, err)
		}
		resolver = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}
	return &DNSReverse{
		Base:     actions.NewBase(spec),
		deps:     deps,
		resolver: resolver,
		client:   &dns.Client{Timeout: deps.Timeout},
	}, nil
}

// Run implements actions.Action.
func (a *DNSReverse) Run(ctx context.Context, ip string, _ int, _ targets.Snapshot, _ string) (status.Outcome, error) {
	ctx, cancel := withTimeout(ctx, a.deps.Timeout)
	defer cancel()

	name, err := dns.ReverseAddr(ip)
	if err != nil {
		return status.OutcomeFailed, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypePTR)
	msg.RecursionDesired = true

	in, _, err := a.client.ExchangeContext(ctx, msg, a.resolver)
	if err != nil {
		return status.OutcomeFailed, fmt.Errorf("ptr lookup %s via %s: %w", ip, a.resolver, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return status.OutcomeFailed, fmt.Errorf("ptr lookup %s: %s", ip, dns.RcodeToString[in.Rcode])
	}

	var hosts []string
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			hosts = append(hosts, strings.TrimSuffix(ptr.Ptr, "."))
		}
	}
	if len(hosts) == 0 {
		return status.OutcomeFailed, fmt.Errorf("ptr lookup %s: no records", ip)
	}

	record(ctx, a.deps.Findings, ip, a.Name(), "ptr", strings.Join(hosts, ","))
	return status.OutcomeSuccess, nil
}
