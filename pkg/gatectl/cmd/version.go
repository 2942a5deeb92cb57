package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/admission-gateway/pkg/gatectl/output"
	"github.com/telekom/admission-gateway/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show gatectl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			info := version.GetBuildInfo()
			if format == output.FormatTable {
				_, _ = fmt.Fprintf(rt.Writer(), "gatectl %s (commit: %s, built: %s)\n", info.Version, info.GitCommit, info.BuildDate)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, info)
		},
	}
}
