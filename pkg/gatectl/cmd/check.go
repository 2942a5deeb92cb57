package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/admission-gateway/pkg/admission"
	"github.com/telekom/admission-gateway/pkg/clock"
	"github.com/telekom/admission-gateway/pkg/gatectl/output"
	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/policy"
	"github.com/telekom/admission-gateway/pkg/ratelimit"
)

type checkOptions struct {
	method    string
	path      string
	identity  string
	subject   string
	role      string
	anonymous bool
	at        string
	repeat    int
	interval  time.Duration
}

func NewCheckCommand() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Simulate admission decisions against a fresh in-memory window",
		Example: `  gatectl check --path /api/chats/1/ --role MEMBER
  gatectl check --method POST --path /api/messages/ --role ADMIN --repeat 6 --interval 1s
  gatectl check --path /api/chats/ --anonymous --at 2026-01-02T22:00:00Z -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			decisions, err := runCheck(cmd, rt, opts)
			if err != nil {
				return err
			}
			if format != output.FormatTable {
				return output.WriteObject(rt.Writer(), format, decisions)
			}
			output.WriteDecisionTable(rt.Writer(), decisions)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.method, "method", "GET", "HTTP method of the simulated request")
	cmd.Flags().StringVar(&opts.path, "path", "", "Request path (required)")
	cmd.Flags().StringVar(&opts.identity, "identity", "127.0.0.1", "Client address used as rate-limit identity")
	cmd.Flags().StringVar(&opts.subject, "subject", "gatectl", "Authenticated user name")
	cmd.Flags().StringVar(&opts.role, "role", "", "Role of the authenticated caller")
	cmd.Flags().BoolVar(&opts.anonymous, "anonymous", false, "Simulate an unauthenticated caller")
	cmd.Flags().StringVar(&opts.at, "at", "", "Evaluation time in RFC3339 (default: now)")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "Number of requests to send")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "Time between repeated requests")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}

func runCheck(cmd *cobra.Command, rt *runtimeState, opts *checkOptions) ([]output.Decision, error) {
	if opts.repeat < 1 {
		return nil, errors.New("--repeat must be at least 1")
	}
	if opts.interval < 0 {
		return nil, errors.New("--interval must not be negative")
	}
	start := time.Now()
	if opts.at != "" {
		t, err := time.Parse(time.RFC3339, opts.at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
		start = t
	}

	cfg := rt.cfg
	classifier, err := policy.NewClassifier(cfg.Routes())
	if err != nil {
		return nil, err
	}
	policyCfg, err := cfg.PolicyConfig()
	if err != nil {
		return nil, err
	}
	store := ratelimit.NewMemoryWindowStore(cfg.Window())
	defer store.Stop()
	pol, err := policy.New(policyCfg, store)
	if err != nil {
		return nil, err
	}
	clk := clock.NewFake(start)
	pipeline, err := admission.New(admission.Options{Clock: clk, Classifier: classifier, Policy: pol})
	if err != nil {
		return nil, err
	}

	caller := identity.Anonymous(opts.identity)
	if !opts.anonymous {
		caller = identity.CallerContext{
			Identity:      opts.identity,
			Subject:       opts.subject,
			Role:          identity.ParseRole(opts.role),
			Authenticated: true,
		}
	}

	decisions := make([]output.Decision, 0, opts.repeat)
	for i := 0; i < opts.repeat; i++ {
		at := start.Add(time.Duration(i) * opts.interval)
		clk.Set(at)
		d := pipeline.Evaluate(cmd.Context(), admission.Request{Method: opts.method, Path: opts.path, Caller: caller})
		out := output.Decision{
			Request:  i + 1,
			At:       at,
			Allowed:  d.Allow,
			Reason:   string(d.Reason),
			Category: d.Category,
			Message:  d.Message,
		}
		if d.RetryAfter > 0 {
			out.RetryAfter = d.RetryAfter.String()
		}
		decisions = append(decisions, out)
	}
	return decisions, nil
}
