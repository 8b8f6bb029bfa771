// Package targets holds the table of discovered hosts and the status of every
// action run against them.
//
// The table is ordered: rows keep the order in which hosts were first
// discovered, and the scheduler walks them in that order. Each Row guards its
// own status cells so concurrent dispatches against different actions never
// lose each other's updates.
package targets

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/anstrom/bifrost/internal/status"
)

// Store persists the full target table.
type Store interface {
	// Read returns every row in table order.
	Read(ctx context.Context) ([]Snapshot, error)
	// Write replaces the persisted table with rows.
	Write(ctx context.Context, rows []Snapshot) error
}

// Snapshot is an immutable copy of a target row.
type Snapshot struct {
	IP       string                   `json:"ip"`
	MAC      string                   `json:"mac,omitempty"`
	Hostname string                   `json:"hostname,omitempty"`
	Alive    bool                     `json:"alive"`
	Ports    []int                    `json:"ports"`
	Statuses map[string]status.Status `json:"statuses"`
}

// HasPort reports whether port is in the row's open-port set.
func (s Snapshot) HasPort(port int) bool {
	return slices.Contains(s.Ports, port)
}

// Status returns the cell for action, Pending when absent.
func (s Snapshot) Status(action string) status.Status {
	if st, ok := s.Statuses[action]; ok {
		return st
	}
	return status.None
}

// Clone returns a deep copy with ports normalized.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Ports = NormalizePorts(s.Ports)
	c.Statuses = make(map[string]status.Status, len(s.Statuses))
	maps.Copy(c.Statuses, s.Statuses)
	return c
}

// NormalizePorts returns a sorted copy of ports without duplicates or
// out-of-range values.
func NormalizePorts(ports []int) []int {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p > 0 && p <= 65535 {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Row is a live, lockable target row.
type Row struct {
	mu   sync.RWMutex
	data Snapshot
}

// NewRow creates a row from a snapshot.
func NewRow(s Snapshot) *Row {
	return &Row{data: s.Clone()}
}

// IP returns the row key.
func (r *Row) IP() string {
	return r.data.IP
}

// Alive reports the row's liveness flag.
func (r *Row) Alive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Alive
}

// Status returns the cell for action.
func (r *Row) Status(action string) status.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Status(action)
}

// SetStatus overwrites the cell for action.
func (r *Row) SetStatus(action string, st status.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data.Statuses == nil {
		r.data.Statuses = make(map[string]status.Status)
	}
	r.data.Statuses[action] = st
}

// Snapshot returns a deep copy of the row.
func (r *Row) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Clone()
}

// Table is the ordered set of rows loaded for one cycle.
type Table struct {
	rows  []*Row
	index map[string]*Row
}

// NewTable builds a table from snapshots, keeping their order. Later
// duplicates of an IP are dropped.
func NewTable(snaps []Snapshot) *Table {
	t := &Table{index: make(map[string]*Row, len(snaps))}
	for _, s := range snaps {
		if s.IP == "" {
			continue
		}
		if _, dup := t.index[s.IP]; dup {
			continue
		}
		row := NewRow(s)
		t.rows = append(t.rows, row)
		t.index[s.IP] = row
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Get returns the row for ip.
func (t *Table) Get(ip string) (*Row, bool) {
	r, ok := t.index[ip]
	return r, ok
}

// Rows returns all rows in table order.
func (t *Table) Rows() []*Row {
	return slices.Clone(t.rows)
}

// Live returns the rows currently marked alive, in table order.
func (t *Table) Live() []*Row {
	live := make([]*Row, 0, len(t.rows))
	for _, r := range t.rows {
		if r.Alive() {
			live = append(live, r)
		}
	}
	return live
}

// Snapshot copies every row in table order.
func (t *Table) Snapshot() []Snapshot {
	out := make([]Snapshot, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Snapshot()
	}
	return out
}
