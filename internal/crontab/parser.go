// Package crontab loads the declarative schedule table.
//
// The source is a classic five-field crontab: minute, hour, day-of-month,
// month, day-of-week, then the command. `#` lines are comments and
// KEY=VALUE lines set variables for subsequent entries. Malformed lines
// are rejected individually; the rest of the file still loads.
package crontab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/robfig/cron/v3"

	"github.com/apoplexi24/kuber-cron/internal/domain"
)

// Variable lines consumed as per-entry policy instead of child env.
const (
	varTimeout    = "TIMEOUT"
	varMaxRetries = "MAX_RETRIES"
)

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// LineError describes one rejected crontab line.
type LineError struct {
	Line    int
	Field   string // offending time field, or "" when not attributable
	Message string
}

func (e LineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("line %d: field %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Defaults are the daemon-wide timeout and retry policy, applied to
// entries that have no TIMEOUT / MAX_RETRIES variable in scope.
type Defaults struct {
	Timeout    time.Duration
	MaxRetries int
}

// Parser turns crontab sources into Tables.
type Parser struct {
	parser   cron.Parser
	defaults Defaults
}

// NewParser creates a parser with standard five-field semantics.
func NewParser(defaults Defaults) *Parser {
	return &Parser{
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		defaults: defaults,
	}
}

// ParseFile loads a crontab from disk. A missing or unreadable file is an
// error; malformed lines inside a readable file are not.
func (p *Parser) ParseFile(path string) (*Table, []LineError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open crontab: %w", err)
	}
	defer f.Close()

	table, lineErrs := p.Parse(f)
	return table, lineErrs, nil
}

// Parse reads crontab lines from r. Valid entries form the returned
// table; each malformed line yields one LineError.
func (p *Parser) Parse(r io.Reader) (*Table, []LineError) {
	var (
		entries  []domain.Entry
		lineErrs []LineError
		env      []string
		timeout  = p.defaults.Timeout
		retries  = p.defaults.MaxRetries
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if key, value, ok := splitVariable(line); ok {
			switch key {
			case varTimeout:
				d, err := time.ParseDuration(value)
				if err != nil || d <= 0 {
					lineErrs = append(lineErrs, LineError{Line: lineNo, Message: fmt.Sprintf("invalid %s %q", varTimeout, value)})
					continue
				}
				timeout = d
			case varMaxRetries:
				n, err := strconv.Atoi(value)
				if err != nil || n < 0 {
					lineErrs = append(lineErrs, LineError{Line: lineNo, Message: fmt.Sprintf("invalid %s %q", varMaxRetries, value)})
					continue
				}
				retries = n
			default:
				env = append(env, key+"="+value)
			}
			continue
		}

		spec, command, ok := splitEntry(line)
		if !ok {
			lineErrs = append(lineErrs, LineError{Line: lineNo, Message: "expected five time fields and a command"})
			continue
		}

		sched, err := p.parser.Parse(spec)
		if err != nil {
			lineErrs = append(lineErrs, LineError{
				Line:    lineNo,
				Field:   p.offendingField(spec),
				Message: err.Error(),
			})
			continue
		}

		entries = append(entries, domain.Entry{
			Key:        domain.NewEntryKey(spec, command),
			Spec:       spec,
			Command:    command,
			Enabled:    true,
			Line:       lineNo,
			Env:        append([]string(nil), env...),
			Timeout:    timeout,
			MaxRetries: retries,
			Schedule:   sched,
		})
	}

	if err := scanner.Err(); err != nil {
		lineErrs = append(lineErrs, LineError{Line: lineNo, Message: "read: " + err.Error()})
	}

	return NewTable(entries), lineErrs
}

// offendingField identifies which of the five fields broke the parse by
// replacing each field with a wildcard and re-parsing. The first
// substitution that fixes the expression names the offender.
func (p *Parser) offendingField(spec string) string {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return ""
	}
	for i := range fields {
		candidate := make([]string, 5)
		copy(candidate, fields)
		candidate[i] = "*"
		if _, err := p.parser.Parse(strings.Join(candidate, " ")); err == nil {
			return fieldNames[i]
		}
	}
	return ""
}

// splitVariable recognizes KEY=VALUE lines. The key must look like an
// environment variable name so that commands containing '=' are not
// misread.
func splitVariable(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	for i, r := range key {
		if r == '_' || unicode.IsUpper(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

// splitEntry separates the five time fields from the command, preserving
// the command's internal spacing.
func splitEntry(line string) (spec, command string, ok bool) {
	rest := line
	var fields []string
	for i := 0; i < 5; i++ {
		rest = strings.TrimLeft(rest, " \t")
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			return "", "", false
		}
		fields = append(fields, rest[:end])
		rest = rest[end:]
	}
	command = strings.TrimSpace(rest)
	if command == "" {
		return "", "", false
	}
	return strings.Join(fields, " "), command, true
}
