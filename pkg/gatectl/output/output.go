// Package output renders gatectl results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts "", table, json and yaml. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case FormatTable:
		return fmt.Errorf("table format requires a specific formatter")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// Route is one row of the effective route table.
type Route struct {
	Name     string   `json:"name" yaml:"name"`
	Patterns []string `json:"patterns" yaml:"patterns"`
	Methods  []string `json:"methods,omitempty" yaml:"methods,omitempty"`
	Gates    []string `json:"gates" yaml:"gates"`
}

// Decision is the outcome of one simulated request.
type Decision struct {
	Request    int       `json:"request" yaml:"request"`
	At         time.Time `json:"at" yaml:"at"`
	Allowed    bool      `json:"allowed" yaml:"allowed"`
	Reason     string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Category   string    `json:"category" yaml:"category"`
	Message    string    `json:"message,omitempty" yaml:"message,omitempty"`
	RetryAfter string    `json:"retryAfter,omitempty" yaml:"retryAfter,omitempty"`
}

func WriteRouteTable(w io.Writer, routes []Route) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tPATTERNS\tMETHODS\tGATES")
	for _, r := range routes {
		methods := "*"
		if len(r.Methods) > 0 {
			methods = strings.Join(r.Methods, ",")
		}
		gates := "-"
		if len(r.Gates) > 0 {
			gates = strings.Join(r.Gates, ",")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, strings.Join(r.Patterns, ","), methods, gates)
	}
	_ = tw.Flush()
}

func WriteDecisionTable(w io.Writer, decisions []Decision) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tAT\tDECISION\tREASON\tCATEGORY\tMESSAGE")
	for _, d := range decisions {
		decision, reason, message := "ALLOW", "-", "-"
		if !d.Allowed {
			decision = "DENY"
			reason = d.Reason
			message = d.Message
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", d.Request, d.At.Format(time.RFC3339), decision, reason, d.Category, message)
	}
	_ = tw.Flush()
}
