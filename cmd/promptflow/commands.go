package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-promptflow/internal/config"
	"github.com/ahrav/go-promptflow/internal/flow"
	"github.com/ahrav/go-promptflow/internal/llm"
	"github.com/ahrav/go-promptflow/internal/logging"
	"github.com/ahrav/go-promptflow/internal/shape"
)

var errNoProvider = errors.New("render does not call the model")

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := catalogRegistry()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tINPUT\tOUTPUT\tGUARD")
			for _, def := range reg.Definitions() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n",
					def.Name(), def.InputShape().Name, def.OutputShape().Name, def.HasGuard())
			}
			return tw.Flush()
		},
	}
}

// flowDoc is the YAML form of a flow definition.
type flowDoc struct {
	Name         string      `yaml:"name"`
	Description  string      `yaml:"description,omitempty"`
	Input        shape.Shape `yaml:"input"`
	Output       shape.Shape `yaml:"output"`
	SystemPrompt string      `yaml:"systemPrompt,omitempty"`
	EmptyGuard   bool        `yaml:"emptyGuard"`
	Prompt       string      `yaml:"prompt"`
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <flow>",
		Short: "Print a flow definition as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := catalogRegistry()
			if err != nil {
				return err
			}
			def, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(flowDoc{
				Name:         def.Name(),
				Description:  def.Description(),
				Input:        def.InputShape(),
				Output:       def.OutputShape(),
				SystemPrompt: def.SystemPrompt(),
				EmptyGuard:   def.HasGuard(),
				Prompt:       def.Template().Source(),
			}); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newRenderCmd() *cobra.Command {
	in := &inputFlags{}
	cmd := &cobra.Command{
		Use:   "render <flow>",
		Short: "Validate input and print the prompt a flow would send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := catalogRegistry()
			if err != nil {
				return err
			}
			def, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}
			input, err := in.read(cmd.InOrStdin())
			if err != nil {
				return err
			}

			exec := flow.NewExecutor(flow.ProviderFunc(
				func(context.Context, flow.Request) (map[string]any, error) { return nil, errNoProvider }))
			text, err := exec.Render(def, input)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	in.bind(cmd)
	return cmd
}

func newRunCmd(opts *options) *cobra.Command {
	in := &inputFlags{}
	cmd := &cobra.Command{
		Use:   "run <flow>",
		Short: "Execute a flow against the configured model provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LLM.Observability.LogLevel, cfg.LLM.Observability.LogFormat)
			if err != nil {
				return err
			}

			reg, err := catalogRegistry()
			if err != nil {
				return err
			}
			def, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}
			input, err := in.read(cmd.InOrStdin())
			if err != nil {
				return err
			}

			client, err := llm.NewClient(cfg.LLM, llm.WithLogger(logger))
			if err != nil {
				return err
			}
			defer client.Close()

			out, err := flow.NewExecutor(client, flow.WithLogger(logger)).Execute(cmd.Context(), def, input)
			if err != nil {
				return fmt.Errorf("%s: %w", flow.Classify(err), err)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	in.bind(cmd)
	return cmd
}
