// Package report parses the vendor's mailed and exception outcome files.
//
// Vendor exports are ragged: quoted fields, blank trailing lines, short
// rows. Parsing is deliberately tolerant: a row missing a required field is
// dropped from the result set rather than surfaced as an error, so one bad
// line never blocks a reconciliation upload.
package report

import (
	"strings"
	"time"
)

// Delimiter is the vendor's fixed field separator.
const Delimiter = ","

// mailedDateLayout matches the vendor's date column.
const mailedDateLayout = "2006-01-02"

// MailedRecord is one confirmed-mailed row. Records are transient inputs;
// they drive certificate transitions and are never persisted.
type MailedRecord struct {
	Serial       string
	TrackingCode string
	MailedAt     time.Time
}

// ExceptionRecord is one undeliverable/spoiled row.
type ExceptionRecord struct {
	Serial string
	Reason string
}

// ParseMailed parses a mailed report. Columns: serial, tracking code,
// mailed date. The header row is always skipped.
func ParseMailed(text string) []MailedRecord {
	var records []MailedRecord
	for _, fields := range rows(text) {
		if len(fields) < 3 {
			continue
		}
		serial := fields[0]
		mailedAt, err := time.Parse(mailedDateLayout, fields[2])
		if serial == "" || err != nil {
			continue
		}
		records = append(records, MailedRecord{
			Serial:       serial,
			TrackingCode: fields[1],
			MailedAt:     mailedAt,
		})
	}
	return records
}

// ParseExceptions parses an exceptions report. Columns: serial, reason.
func ParseExceptions(text string) []ExceptionRecord {
	var records []ExceptionRecord
	for _, fields := range rows(text) {
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "" || fields[1] == "" {
			continue
		}
		records = append(records, ExceptionRecord{Serial: fields[0], Reason: fields[1]})
	}
	return records
}

// rows splits the report into trimmed field slices, skipping the header and
// blank lines.
func rows(text string) [][]string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out [][]string
	for i, line := range lines {
		if i == 0 {
			// Header row is always present and always skipped.
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, Delimiter)
		for j, field := range fields {
			fields[j] = stripQuotes(strings.TrimSpace(field))
		}
		out = append(out, fields)
	}
	return out
}

func stripQuotes(field string) string {
	if len(field) >= 2 && field[0] == '"' && field[len(field)-1] == '"' {
		return field[1 : len(field)-1]
	}
	return field
}
