package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptflow/internal/catalog"
	"github.com/ahrav/go-promptflow/internal/flow"
)

var errNoInput = errors.New("no input given: use --input or --input-file")

// options holds the persistent flags.
type options struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "promptflow",
		Short:         "EcoMarket prompt flows",
		Long:          "List, preview and run the EcoMarket storefront flows, or serve them from a Temporal worker.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file; missing files are ignored")

	root.AddCommand(
		newListCmd(),
		newDescribeCmd(),
		newRenderCmd(),
		newRunCmd(opts),
		newSubmitCmd(opts),
		newWorkerCmd(opts),
	)
	return root
}

// catalogRegistry returns a sealed registry holding the catalog flows.
func catalogRegistry() (*flow.Registry, error) {
	reg := flow.NewRegistry()
	if err := catalog.Register(reg); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}

// inputFlags binds --input and --input-file on cmd.
type inputFlags struct {
	inline string
	file   string
}

func (f *inputFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.inline, "input", "i", "", "Flow input as a JSON object")
	cmd.Flags().StringVar(&f.file, "input-file", "", "Read flow input from a JSON file, - for stdin")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
}

// read decodes the flow input. Numbers are kept as json.Number so they
// render exactly as written.
func (f *inputFlags) read(stdin io.Reader) (map[string]any, error) {
	var raw []byte
	switch {
	case f.inline != "":
		raw = []byte(f.inline)
	case f.file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		raw = b
	case f.file != "":
		b, err := os.ReadFile(f.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		raw = b
	default:
		return nil, errNoInput
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var input map[string]any
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("input is not a JSON object: %w", err)
	}
	return input, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
