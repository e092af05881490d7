// Command laplacectl runs Laplace inference problems from the command line.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/laplace/internal/logging"
	"github.com/copyleftdev/laplace/internal/optimization/laplace"
	"github.com/copyleftdev/laplace/internal/problem"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type runOptions struct {
	problemFile string
	predictFile string
	format      string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "laplacectl",
		Short:         "Run Laplace-approximation GP inference",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd(), newDefaultsCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Find the posterior mode of a problem file and print the result",
		Example: `  laplacectl run -f problem.yaml
  laplacectl run -f problem.json --predict test.yaml -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProblem(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.problemFile, "file", "f", "", "problem file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.predictFile, "predict", "", "file with test inputs to predict at")
	cmd.Flags().StringVarP(&opts.format, "output", "o", "json", "output format: json or yaml")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "solver log level")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the default solver configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(laplace.DefaultConfig()); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// runOutput is what run prints.
type runOutput struct {
	Result     *problem.Result     `json:"result" yaml:"result"`
	Prediction *problem.Prediction `json:"prediction,omitempty" yaml:"prediction,omitempty"`
}

type predictFile struct {
	Inputs [][]float64 `json:"inputs" yaml:"inputs"`
}

func runProblem(stdout, stderr io.Writer, opts runOptions) error {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	zl := logging.NewZapLogger(logging.New(level, stderr))
	defer func() { _ = zl.Sync() }()

	def, err := problem.LoadFile(opts.problemFile)
	if err != nil {
		return err
	}
	p, err := problem.Build(def, laplace.DefaultConfig(), zl)
	if err != nil {
		return err
	}
	result, err := p.Run()
	if err != nil {
		return err
	}

	out := runOutput{Result: result}
	if opts.predictFile != "" {
		inputs, err := loadInputs(opts.predictFile)
		if err != nil {
			return err
		}
		if out.Prediction, err = p.Predict(inputs); err != nil {
			return err
		}
	}
	return write(stdout, opts.format, out)
}

func loadInputs(path string) ([][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f predictFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return f.Inputs, nil
}

func write(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round trip through JSON so the YAML keys match the JSON ones.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return err
		}
		return yaml.NewEncoder(w).Encode(generic)
	}
	return fmt.Errorf("unknown output format %q", format)
}
