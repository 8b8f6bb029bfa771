package targets

import "strings"

// Host is one live host reported by a discovery scan.
type Host struct {
	IP       string
	MAC      string
	Hostname string
	Ports    []int
}

// Merge folds a discovery result into the existing table.
//
// Hosts seen in the scan are marked alive and take the scanned ports, MAC and
// hostname (MAC and hostname only when the scan reported one). Rows absent
// from the scan are marked not alive. New hosts are appended in scan order.
// Status cells are never touched.
func Merge(existing []Snapshot, hosts []Host) []Snapshot {
	seen := make(map[string]Host, len(hosts))
	for _, h := range hosts {
		if h.IP == "" {
			continue
		}
		seen[h.IP] = h
	}

	out := make([]Snapshot, 0, len(existing)+len(hosts))
	known := make(map[string]bool, len(existing))
	for _, row := range existing {
		row = row.Clone()
		known[row.IP] = true
		h, ok := seen[row.IP]
		if !ok {
			row.Alive = false
			out = append(out, row)
			continue
		}
		row.Alive = true
		row.Ports = NormalizePorts(h.Ports)
		if h.MAC != "" {
			row.MAC = strings.ToLower(h.MAC)
		}
		if h.Hostname != "" {
			row.Hostname = h.Hostname
		}
		out = append(out, row)
	}

	for _, h := range hosts {
		if h.IP == "" || known[h.IP] {
			continue
		}
		known[h.IP] = true
		out = append(out, Snapshot{
			IP:       h.IP,
			MAC:      strings.ToLower(h.MAC),
			Hostname: h.Hostname,
			Alive:    true,
			Ports:    NormalizePorts(h.Ports),
		}.Clone())
	}
	return out
}
