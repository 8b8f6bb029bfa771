package db

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

// portSeparator joins open ports in the persisted ports column.
const portSeparator = ";"

// targetRecord maps a row of the targets table.
type targetRecord struct {
	IP       string `db:"ip"`
	Position int    `db:"position"`
	MAC      string `db:"mac"`
	Hostname string `db:"hostname"`
	Alive    bool   `db:"alive"`
	Ports    string `db:"ports"`
}

// statusRecord maps a row of the target_status table.
type statusRecord struct {
	IP     string `db:"ip"`
	Action string `db:"action"`
	Value  string `db:"value"`
}

// TargetStore persists the target table in SQL. It implements targets.Store.
type TargetStore struct {
	db *DB
}

// NewTargetStore creates a store over an open, migrated connection.
func NewTargetStore(db *DB) *TargetStore {
	return &TargetStore{db: db}
}

// Read returns every target in table order with its status cells.
// Status values that cannot be decoded are returned as status.Invalid.
func (s *TargetStore) Read(ctx context.Context) ([]targets.Snapshot, error) {
	var records []targetRecord
	query := `SELECT ip, position, mac, hostname, alive, ports FROM targets ORDER BY position, ip`
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		return nil, errors.WrapStoreError(errors.CodeStoreRead, "read targets", sanitizeDBError("select targets", err))
	}

	var cells []statusRecord
	query = `SELECT ip, action, value FROM target_status`
	if err := s.db.SelectContext(ctx, &cells, query); err != nil {
		return nil, errors.WrapStoreError(errors.CodeStoreRead, "read status", sanitizeDBError("select status", err))
	}

	byIP := make(map[string]map[string]status.Status, len(records))
	for _, c := range cells {
		st, _ := status.Parse(c.Value)
		if byIP[c.IP] == nil {
			byIP[c.IP] = make(map[string]status.Status)
		}
		byIP[c.IP][c.Action] = st
	}

	rows := make([]targets.Snapshot, 0, len(records))
	for _, r := range records {
		rows = append(rows, targets.Snapshot{
			IP:       r.IP,
			MAC:      r.MAC,
			Hostname: r.Hostname,
			Alive:    r.Alive,
			Ports:    parsePorts(r.Ports),
			Statuses: byIP[r.IP],
		})
	}
	return rows, nil
}

// Write replaces the persisted table with rows in one transaction.
func (s *TargetStore) Write(ctx context.Context, rows []targets.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapStoreError(errors.CodeStoreWrite, "begin", sanitizeDBError("begin transaction", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM target_status`); err != nil {
		return errors.WrapStoreError(errors.CodeStoreWrite, "clear status", sanitizeDBError("delete status", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets`); err != nil {
		return errors.WrapStoreError(errors.CodeStoreWrite, "clear targets", sanitizeDBError("delete targets", err))
	}

	insertTarget := tx.Rebind(`INSERT INTO targets (ip, position, mac, hostname, alive, ports) VALUES (?, ?, ?, ?, ?, ?)`)
	insertStatus := tx.Rebind(`INSERT INTO target_status (ip, action, value) VALUES (?, ?, ?)`)

	for i, row := range rows {
		if _, err := tx.ExecContext(ctx, insertTarget,
			row.IP, i, row.MAC, row.Hostname, row.Alive, formatPorts(row.Ports)); err != nil {
			return errors.WrapStoreError(errors.CodeStoreWrite, "insert target", sanitizeDBError("insert target", err))
		}
		for _, action := range slices.Sorted(maps.Keys(row.Statuses)) {
			value := row.Statuses[action].String()
			if value == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, insertStatus, row.IP, action, value); err != nil {
				return errors.WrapStoreError(errors.CodeStoreWrite, "insert status", sanitizeDBError("insert status", err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapStoreError(errors.CodeStoreWrite, "commit", sanitizeDBError("commit", err))
	}
	return nil
}

func parsePorts(raw string) []int {
	var ports []int
	for _, p := range strings.Split(raw, portSeparator) {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			ports = append(ports, n)
		}
	}
	return targets.NormalizePorts(ports)
}

func formatPorts(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, p := range targets.NormalizePorts(ports) {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, portSeparator)
}
