package builtin

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

// SSHHostKey records the SSH host key fingerprint of a target. It completes
// the key exchange and stops at authentication; no credentials are offered.
type SSHHostKey struct {
	actions.Base
	deps Deps
}

// NewSSHHostKey creates the action.
func NewSSHHostKey(spec actions.Spec, deps Deps) *SSHHostKey {
	return &SSHHostKey{Base: actions.NewBase(spec), deps: deps.withDefaults()}
}

// Run implements actions.Action.
func (a *SSHHostKey) Run(ctx context.Context, ip string, port int, _ targets.Snapshot, _ string) (status.Outcome, error) {
	ctx, cancel := withTimeout(ctx, a.deps.Timeout)
	defer cancel()

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return status.OutcomeFailed, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	var keyType, fingerprint string
	cfg := &ssh.ClientConfig{
		User:          "bifrost",
		ClientVersion: "SSH-2.0-bifrost",
		Timeout:       time.Until(deadline),
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			keyType = key.Type()
			fingerprint = ssh.FingerprintSHA256(key)
			return nil
		},
	}

	client, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err == nil {
		_ = ssh.NewClient(client, chans, reqs).Close()
	}
	if fingerprint == "" {
		return status.OutcomeFailed, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	record(ctx, a.deps.Findings, ip, a.Name(), "ssh_host_key", keyType+" "+fingerprint)
	a.deps.Logger.Debug("SSH host key captured", "target", ip, "type", keyType, "fingerprint", fingerprint)
	return status.OutcomeSuccess, nil
}
