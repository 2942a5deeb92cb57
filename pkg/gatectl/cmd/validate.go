package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/admission-gateway/pkg/config"
	"github.com/telekom/admission-gateway/pkg/gatectl/output"
	"github.com/telekom/admission-gateway/pkg/policy"
)

// validateResult is the structured form of the validate output.
type validateResult struct {
	Valid           bool           `json:"valid" yaml:"valid"`
	Source          string         `json:"source" yaml:"source"`
	Window          string         `json:"window" yaml:"window"`
	BurstLimit      int            `json:"burstLimit" yaml:"burstLimit"`
	RestrictedHours string         `json:"restrictedHours" yaml:"restrictedHours"`
	PrivilegedRoles []string       `json:"privilegedRoles" yaml:"privilegedRoles"`
	Store           string         `json:"store" yaml:"store"`
	Routes          []output.Route `json:"routes" yaml:"routes"`
}

func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the gateway configuration and print the effective routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			res := summarize(rt.configPath, *rt.cfg)
			if format != output.FormatTable {
				return output.WriteObject(rt.Writer(), format, res)
			}

			w := rt.Writer()
			_, _ = fmt.Fprintf(w, "Configuration %s is valid\n", res.Source)
			_, _ = fmt.Fprintf(w, "Window: %s, burst limit: %d, restricted hours: %s, privileged roles: %s, store: %s\n\n",
				res.Window, res.BurstLimit, res.RestrictedHours, strings.Join(res.PrivilegedRoles, ","), res.Store)
			output.WriteRouteTable(w, res.Routes)
			return nil
		},
	}
}

func summarize(path string, cfg config.Config) validateResult {
	source := path
	if source == "" {
		source = "<defaults>"
	}
	hours := cfg.Admission.RestrictedHours
	restricted := hours.Start + "-" + hours.End
	if hours.TimeZone != "" {
		restricted += " " + hours.TimeZone
	}
	return validateResult{
		Valid:           true,
		Source:          source,
		Window:          cfg.Window().String(),
		BurstLimit:      cfg.Admission.BurstLimit,
		RestrictedHours: restricted,
		PrivilegedRoles: cfg.Admission.PrivilegedRoles,
		Store:           cfg.Store.Backend,
		Routes:          routeRows(cfg.Routes()),
	}
}

func routeRows(routes []policy.Route) []output.Route {
	rows := make([]output.Route, 0, len(routes))
	for _, r := range routes {
		var gates []string
		if r.TimeRestricted {
			gates = append(gates, "time")
		}
		if r.Privileged {
			gates = append(gates, "role")
		}
		if r.RateLimited {
			gates = append(gates, "rate")
		}
		rows = append(rows, output.Route{Name: r.Name, Patterns: r.Patterns, Methods: r.Methods, Gates: gates})
	}
	return rows
}
