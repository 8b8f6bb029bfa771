package builtin

import (
	"context"
	"fmt"

	"github.com/gosnmp/gosnmp"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

// sysDescrOID is SNMPv2-MIB::sysDescr.0.
const sysDescrOID = ".1.3.6.1.2.1.1.1.0"

// SNMPSysDescr reads the system description over SNMP v2c.
type SNMPSysDescr struct {
	actions.Base
	deps Deps
}

// NewSNMPSysDescr creates the action.
func NewSNMPSysDescr(spec actions.Spec, deps Deps) *SNMPSysDescr {
	return &SNMPSysDescr{Base: actions.NewBase(spec), deps: deps.withDefaults()}
}

// Run implements actions.Action.
func (a *SNMPSysDescr) Run(ctx context.Context, ip string, port int, _ targets.Snapshot, _ string) (status.Outcome, error) {
	ctx, cancel := withTimeout(ctx, a.deps.Timeout)
	defer cancel()

	client := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      uint16(port), //nolint:gosec // ports are validated to 0..65535
		Community: a.deps.SNMPCommunity,
		Version:   gosnmp.Version2c,
		Timeout:   a.deps.Timeout,
		Retries:   1,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return status.OutcomeFailed, fmt.Errorf("snmp connect %s: %w", ip, err)
	}
	defer client.Conn.Close()

	packet, err := client.Get([]string{sysDescrOID})
	if err != nil {
		return status.OutcomeFailed, fmt.Errorf("snmp get %s: %w", ip, err)
	}

	descr, err := sysDescr(packet)
	if err != nil {
		return status.OutcomeFailed, err
	}
	record(ctx, a.deps.Findings, ip, a.Name(), "snmp_sysdescr", descr)
	return status.OutcomeSuccess, nil
}

func sysDescr(packet *gosnmp.SnmpPacket) (string, error) {
	if packet.Error != gosnmp.NoError {
		return "", fmt.Errorf("snmp error status %s", packet.Error)
	}
	for _, v := range packet.Variables {
		if v.Type != gosnmp.OctetString {
			continue
		}
		if b, ok := v.Value.([]byte); ok {
			return string(b), nil
		}
	}
	return "", fmt.Errorf("snmp response carried no sysDescr")
}
