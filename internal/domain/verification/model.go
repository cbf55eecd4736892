package verification

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Severity int16

const (
	SeverityInfo     Severity = 1
	SeverityWarn     Severity = 2
	SeverityBlocking Severity = 3
)

var severityNames = map[Severity]string{
	SeverityInfo:     "INFO",
	SeverityWarn:     "WARN",
	SeverityBlocking: "BLOCKING",
}

func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Severity(%d)", int16(s))
}

// ParseSeverity accepts a name (INFO, WARN, BLOCKING) or its numeric code.
func ParseSeverity(v string) (Severity, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for s, n := range severityNames {
		if v == n {
			return s, nil
		}
	}
	if n, err := strconv.Atoi(v); err == nil && Severity(n).Valid() {
		return Severity(n), nil
	}
	return 0, fmt.Errorf("invalid severity %q", v)
}

func (s *Severity) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseSeverity(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = parsed
	return nil
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Rule is one invariant check. Its SQL selects the violating rows; a rule
// passes when it returns none.
type Rule struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	SQL         string    `json:"sql_text"`
	BatchScoped bool      `json:"batch_scoped"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("rule code is required")
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity %d", r.Code, int16(r.Severity))
	}
	if strings.TrimSpace(r.SQL) == "" {
		return fmt.Errorf("rule %s: sql is required", r.Code)
	}
	if r.BatchScoped && !strings.Contains(r.SQL, "$1") {
		return fmt.Errorf("rule %s: batch scoped rules must reference $1", r.Code)
	}
	return nil
}

type Run struct {
	ID               int64      `json:"id"`
	BatchID          *uuid.UUID `json:"batch_id,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Passed           *bool      `json:"passed,omitempty"`
	FailedRules      int        `json:"failed_rules"`
	BlockingFailures int        `json:"blocking_failures"`
}

type Result struct {
	ID           int64           `json:"id"`
	RunID        int64           `json:"verification_run_id"`
	RuleID       int64           `json:"rule_id"`
	RuleCode     string          `json:"rule_code,omitempty"`
	Severity     Severity        `json:"severity,omitempty"`
	OK           bool            `json:"ok"`
	RowsAffected *int64          `json:"rows_affected,omitempty"`
	Sample       json.RawMessage `json:"sample,omitempty"`
	Message      *string         `json:"message,omitempty"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// Report is a finished run with its per-rule results.
type Report struct {
	Run     *Run      `json:"run"`
	Results []*Result `json:"results"`
}
