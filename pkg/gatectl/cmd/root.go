package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/admission-gateway/pkg/config"
	"github.com/telekom/admission-gateway/pkg/gatectl/output"
)

type Config struct {
	// ConfigPath of the gateway configuration. Empty uses the built-in defaults.
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath   string
	cfg          *config.Config
	outputFormat string
	writer       io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   os.Getenv("ADMISSION_CONFIG_PATH"),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:           "gatectl",
		Short:         "Admission gateway CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("GATECTL_OUTPUT")
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.loadConfig()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to the gateway config file (default: built-in defaults)")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewValidateCommand(),
		NewCheckCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) loadConfig() error {
	if rt.configPath == "" {
		cfg := config.Default()
		rt.cfg = &cfg
		return nil
	}
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	rt.cfg = &cfg
	return nil
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	return output.ParseFormat(rt.outputFormat)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}
