// Package status models the outcome recorded for each (target, action) pair.
//
// A status cell is a tagged value: Pending when nothing was ever recorded,
// Succeeded or Failed with the time of the attempt, or Invalid when a stored
// value could not be decoded. The legacy text form
// "<success|failed>_<YYYYMMDD>_<HHMMSS>" is only produced and consumed at the
// persistence boundary.
package status

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the timestamp layout used by the persisted text form.
const Layout = "20060102_150405"

// Kind discriminates a status cell.
type Kind int

const (
	Pending Kind = iota
	Succeeded
	Failed
	Invalid
)

// String returns a lower-case name for the kind.
func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Succeeded:
		return "success"
	case Failed:
		return "failed"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the result an action reports for one invocation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Status is the value held in a status cell.
type Status struct {
	Kind Kind
	// At is the attempt time for Succeeded and Failed cells.
	At time.Time
	// Raw keeps the undecodable text of an Invalid cell so it round-trips.
	Raw string
}

// None is the absent status.
var None = Status{Kind: Pending}

// Success returns a Succeeded status at t, truncated to whole seconds.
func Success(t time.Time) Status {
	return Status{Kind: Succeeded, At: t.Truncate(time.Second)}
}

// Failure returns a Failed status at t, truncated to whole seconds.
func Failure(t time.Time) Status {
	return Status{Kind: Failed, At: t.Truncate(time.Second)}
}

// FromOutcome maps an action outcome to the status recorded for it.
func FromOutcome(o Outcome, t time.Time) Status {
	if o == OutcomeSuccess {
		return Success(t)
	}
	return Failure(t)
}

// IsSuccess reports whether the cell records a successful attempt.
func (s Status) IsSuccess() bool { return s.Kind == Succeeded }

// String renders the persisted text form. Pending renders as "".
func (s Status) String() string {
	switch s.Kind {
	case Succeeded:
		return "success_" + s.At.Format(Layout)
	case Failed:
		return "failed_" + s.At.Format(Layout)
	case Invalid:
		return s.Raw
	}
	return ""
}

// Parse decodes the persisted text form. The empty string is Pending.
// Timestamps are read in the local time zone, matching how they are written.
func Parse(raw string) (Status, error) {
	return ParseInLocation(raw, time.Local)
}

// ParseInLocation is Parse with an explicit time zone.
func ParseInLocation(raw string, loc *time.Location) (Status, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return None, nil
	}

	prefix, stamp, ok := strings.Cut(raw, "_")
	if !ok {
		return Status{Kind: Invalid, Raw: raw}, fmt.Errorf("status %q has no timestamp", raw)
	}

	var kind Kind
	switch prefix {
	case "success":
		kind = Succeeded
	case "failed":
		kind = Failed
	default:
		return Status{Kind: Invalid, Raw: raw}, fmt.Errorf("status %q has unknown outcome %q", raw, prefix)
	}

	at, err := time.ParseInLocation(Layout, stamp, loc)
	if err != nil {
		return Status{Kind: Invalid, Raw: raw}, fmt.Errorf("status %q has bad timestamp: %w", raw, err)
	}
	return Status{Kind: kind, At: at}, nil
}

// MarshalText implements encoding.TextMarshaler using the persisted form.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Undecodable input
// yields an Invalid status rather than an error.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, _ := Parse(string(text))
	*s = parsed
	return nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(raw string) Status {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}
