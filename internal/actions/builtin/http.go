package builtin

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

const maxBodyDrain = 64 << 10

// securityHeaders are the response headers HTTPSecurityHeaders checks for.
var securityHeaders = []string{
	"Content-Security-Policy",
	"X-Frame-Options",
	"X-Content-Type-Options",
	"Referrer-Policy",
}

func schemeFor(port int) string {
	switch port {
	case 443, 8443:
		return "https"
	}
	return "http"
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // targets use self-signed certs
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// fetchRoot issues GET / against ip:port and returns the response headers
// and status line.
func fetchRoot(ctx context.Context, client *http.Client, ip string, port int) (*http.Response, error) {
	url := fmt.Sprintf("%s://%s/", schemeFor(port), net.JoinHostPort(ip, strconv.Itoa(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "bifrost")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyDrain))
	_ = resp.Body.Close()
	return resp, nil
}

// HTTPBanner records the status line and Server header of a web service.
type HTTPBanner struct {
	actions.Base
	deps   Deps
	client *http.Client
}

// NewHTTPBanner creates the action.
func NewHTTPBanner(spec actions.Spec, deps Deps) *HTTPBanner {
	return &HTTPBanner{Base: actions.NewBase(spec), deps: deps.withDefaults(), client: newHTTPClient()}
}

// Run implements actions.Action.
func (a *HTTPBanner) Run(ctx context.Context, ip string, port int, _ targets.Snapshot, _ string) (status.Outcome, error) {
	ctx, cancel := withTimeout(ctx, a.deps.Timeout)
	defer cancel()

	resp, err := fetchRoot(ctx, a.client, ip, port)
	if err != nil {
		return status.OutcomeFailed, err
	}

	record(ctx, a.deps.Findings, ip, a.Name(), "http_status", resp.Status)
	if server := resp.Header.Get("Server"); server != "" {
		record(ctx, a.deps.Findings, ip, a.Name(), "http_server", server)
	}
	if powered := resp.Header.Get("X-Powered-By"); powered != "" {
		record(ctx, a.deps.Findings, ip, a.Name(), "http_powered_by", powered)
	}
	return status.OutcomeSuccess, nil
}

// HTTPSecurityHeaders reports which common security headers a web service
// omits. It is meant to run after HTTPBanner.
type HTTPSecurityHeaders struct {
	actions.Base
	deps   Deps
	client *http.Client
}

// NewHTTPSecurityHeaders creates the action.
func NewHTTPSecurityHeaders(spec actions.Spec, deps Deps) *HTTPSecurityHeaders {
	return &HTTPSecurityHeaders{Base: actions.NewBase(spec), deps: deps.withDefaults(), client: newHTTPClient()}
}

// Run implements actions.Action.
func (a *HTTPSecurityHeaders) Run(ctx context.Context, ip string, port int, _ targets.Snapshot, _ string) (status.Outcome, error) {
	ctx, cancel := withTimeout(ctx, a.deps.Timeout)
	defer cancel()

	resp, err := fetchRoot(ctx, a.client, ip, port)
	if err != nil {
		return status.OutcomeFailed, err
	}

	missing := missingSecurityHeaders(resp.Header, schemeFor(port) == "https")
	value := "none"
	if len(missing) > 0 {
		value = strings.Join(missing, ",")
	}
	record(ctx, a.deps.Findings, ip, a.Name(), "missing_security_headers", value)
	return status.OutcomeSuccess, nil
}

func missingSecurityHeaders(h http.Header, https bool) []string {
	var missing []string
	for _, name := range securityHeaders {
		if h.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if https && h.Get("Strict-Transport-Security") == "" {
		missing = append(missing, "Strict-Transport-Security")
	}
	return missing
}
