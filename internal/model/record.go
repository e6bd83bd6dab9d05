package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type EntityKind string

const (
	EntityJob  EntityKind = "job"
	EntityTask EntityKind = "task"
)

const dryRunSuffix = " (dry run)"

// RunRecord is one durable outcome of a Job or a Task run.
type RunRecord struct {
	EntityID string     `json:"entity_id"`
	Kind     EntityKind `json:"kind"`
	Time     time.Time  `json:"time"`
	ExitCode int        `json:"exit_code"`
	Outcome  string     `json:"outcome"`
	DryRun   bool       `json:"dry_run"`
}

// Text renders the outcome part of a history line. It ends with ")"
// if and only if the record is a dry run, older history readers rely on it.
func (r RunRecord) Text() string {
	outcome := strings.Join(strings.Fields(r.Outcome), " ")
	if strings.HasSuffix(outcome, ")") {
		outcome += "."
	}
	var sb strings.Builder
	sb.WriteString(r.Time.UTC().Format(time.RFC3339))
	sb.WriteString(" exit=")
	sb.WriteString(strconv.Itoa(r.ExitCode))
	if outcome != "" {
		sb.WriteByte(' ')
		sb.WriteString(outcome)
	}
	if r.DryRun {
		sb.WriteString(dryRunSuffix)
	}
	return sb.String()
}

// Line renders the record as "<entityId> <outcome-text>".
func (r RunRecord) Line() string {
	return r.EntityID + " " + r.Text()
}

var ErrRecordFormat = errors.New("malformed history line")

// ParseRunRecord is the inverse of RunRecord.Line. Kind is not part
// of the text format and stays empty.
func ParseRunRecord(line string) (RunRecord, error) {
	id, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok || id == "" {
		return RunRecord{}, fmt.Errorf("%w: %q", ErrRecordFormat, line)
	}
	var rec = RunRecord{EntityID: id}

	ts, rest, _ := strings.Cut(rest, " ")
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return RunRecord{}, fmt.Errorf("%w: time: %w", ErrRecordFormat, err)
	}
	rec.Time = t

	code, rest, _ := strings.Cut(rest, " ")
	n, found := strings.CutPrefix(code, "exit=")
	if !found {
		return RunRecord{}, fmt.Errorf("%w: missing exit code: %q", ErrRecordFormat, line)
	}
	rec.ExitCode, err = strconv.Atoi(n)
	if err != nil {
		return RunRecord{}, fmt.Errorf("%w: exit code: %w", ErrRecordFormat, err)
	}

	if strings.HasSuffix(rest, ")") {
		rec.DryRun = true
		if trimmed, ok := strings.CutSuffix(" "+rest, dryRunSuffix); ok {
			rest = trimmed
		} else {
			rest = strings.TrimSuffix(rest, ")")
		}
	}
	rec.Outcome = strings.TrimSpace(rest)
	return rec, nil
}
