// Package problem turns a declarative description of a GP model and its
// training data into a Laplace inference, and runs it.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/laplace/internal/optimization"
	"github.com/copyleftdev/laplace/internal/optimization/kernels"
	"github.com/copyleftdev/laplace/internal/optimization/laplace"
	"github.com/copyleftdev/laplace/internal/optimization/likelihood"
	"github.com/copyleftdev/laplace/internal/optimization/mean"
)

// Definition describes a problem. JSON and YAML use the same keys.
type Definition struct {
	Kernel     kernels.Config    `json:"kernel" yaml:"kernel"`
	Likelihood likelihood.Config `json:"likelihood" yaml:"likelihood"`
	Mean       mean.Config       `json:"mean" yaml:"mean"`
	// Inputs holds one training point per row.
	Inputs [][]float64 `json:"inputs" yaml:"inputs"`
	Labels []float64   `json:"labels" yaml:"labels"`
	// Scale multiplies the kernel; the covariance is Scale^2 * K. Zero means 1.
	Scale float64 `json:"scale,omitempty" yaml:"scale,omitempty"`
	// Solver overrides the default solver configuration when set.
	Solver *SolverConfig `json:"solver,omitempty" yaml:"solver,omitempty"`
	// WarmStart is the initial alpha; any other length than len(Labels)
	// leads to a cold start.
	WarmStart []float64 `json:"warm_start,omitempty" yaml:"warm_start,omitempty"`
}

// SolverConfig is a solver configuration decoded over laplace.DefaultConfig,
// so a document only names the settings it changes.
type SolverConfig struct {
	laplace.Config `yaml:",inline"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SolverConfig) UnmarshalJSON(data []byte) error {
	s.Config = laplace.DefaultConfig()
	return json.Unmarshal(data, &s.Config)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *SolverConfig) UnmarshalYAML(node *yaml.Node) error {
	s.Config = laplace.DefaultConfig()
	return node.Decode(&s.Config)
}

// ErrEmpty is returned by Load for an empty document.
var ErrEmpty = errors.New("empty problem document")

// Load decodes a definition from r. JSON input is accepted as YAML.
func Load(r io.Reader) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrEmpty
		}
		return Definition{}, optimization.WrapError(err, "decode problem").WithComponent("problem")
	}
	return def, nil
}

// LoadFile decodes the definition stored at path.
func LoadFile(path string) (Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return Definition{}, err
	}
	defer f.Close()
	return Load(f)
}

func invalid(op, format string, args ...interface{}) error {
	return optimization.WrapErrorf(optimization.ErrInvalidParameter, format, args...).
		WithOperation(op).WithComponent("problem")
}

// Validate checks the shape of the data. A positive maxObservations bounds
// the number of training points.
func (s *Definition) Validate(maxObservations int) error {
	const op = "Definition.Validate"

	n := len(s.Inputs)
	switch {
	case n == 0:
		return invalid(op, "inputs must not be empty")
	case maxObservations > 0 && n > maxObservations:
		return invalid(op, "%d observations exceed the limit of %d", n, maxObservations)
	case len(s.Labels) != n:
		return optimization.DimensionError(op, "labels", len(s.Labels), n).WithComponent("problem")
	case s.Scale < 0 || math.IsNaN(s.Scale) || math.IsInf(s.Scale, 0):
		return invalid(op, "scale must be positive, got %v", s.Scale)
	}
	if err := checkRows(op, s.Inputs); err != nil {
		return err
	}

	binary := isBinary(s.Likelihood.Name)
	for i, y := range s.Labels {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return invalid(op, "label %d is not finite", i)
		}
		if binary && y != 1 && y != -1 {
			return invalid(op, "label %d is %v, %s labels must be -1 or +1", i, y, s.Likelihood.Name)
		}
	}
	return nil
}

func checkRows(op string, rows [][]float64) error {
	d := len(rows[0])
	if d == 0 {
		return invalid(op, "inputs must have at least one feature")
	}
	for i, row := range rows {
		if len(row) != d {
			return optimization.DimensionError(op, fmt.Sprintf("input row %d", i), len(row), d).WithComponent("problem")
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return invalid(op, "input row %d is not finite", i)
			}
		}
	}
	return nil
}

func isBinary(name string) bool {
	switch strings.ToLower(name) {
	case "logit", "logistic", "probit", "erf":
		return true
	}
	return false
}

func toDense(rows [][]float64) *mat.Dense {
	d := len(rows[0])
	data := make([]float64, 0, len(rows)*d)
	for _, row := range rows {
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), d, data)
}

// Problem is a built definition: its collaborators and the inference over them.
// It is not safe for concurrent use.
type Problem struct {
	def    Definition
	kernel kernels.Kernel
	meanFn mean.Function
	model  likelihood.Model
	inputs *mat.Dense
	inf    *laplace.Inference
}

// Build validates the definition and creates its inference. defaults is the solver
// configuration used when the definition carries none.
func Build(def Definition, defaults laplace.Config, logger *zap.Logger) (*Problem, error) {
	const op = "problem.Build"

	if err := def.Validate(0); err != nil {
		return nil, err
	}
	kernel, err := kernels.New(def.Kernel)
	if err != nil {
		return nil, err
	}
	model, err := likelihood.New(def.Likelihood)
	if err != nil {
		return nil, err
	}
	meanFn, err := mean.New(def.Mean)
	if err != nil {
		return nil, err
	}

	X := toDense(def.Inputs)
	K, err := kernels.Gram(kernel, X)
	if err != nil {
		return nil, optimization.WrapError(err, op)
	}
	inf, err := laplace.New(K, X, meanFn, mat.NewVecDense(len(def.Labels), append([]float64(nil), def.Labels...)), model)
	if err != nil {
		return nil, err
	}
	inf.SetLogger(logger)

	p := &Problem{
		def:    def,
		kernel: kernel,
		meanFn: meanFn,
		model:  model,
		inputs: X,
		inf:    inf,
	}

	cfg := defaults
	if def.Solver != nil {
		cfg = def.Solver.Config
	}
	scale := def.Scale
	if scale == 0 {
		scale = 1
	}
	if err := p.Retune(scale, &cfg); err != nil {
		return nil, err
	}
	if len(def.WarmStart) > 0 {
		p.WarmStart(def.WarmStart)
	}
	return p, nil
}

// WarmStart sets the alpha the next Run starts from. A length other than
// Len leads to a cold start.
func (p *Problem) WarmStart(alpha []float64) {
	if len(alpha) == 0 {
		p.inf.WarmStart(nil)
		return
	}
	p.inf.WarmStart(mat.NewVecDense(len(alpha), append([]float64(nil), alpha...)))
}

// Inference returns the underlying inference.
func (p *Problem) Inference() *laplace.Inference {
	return p.inf
}

// Definition returns the definition the problem was built from.
func (p *Problem) Definition() Definition {
	return p.def
}

// Len is the number of training observations.
func (p *Problem) Len() int {
	return p.inf.Len()
}

// Retune changes the kernel scale and, when cfg is non-nil, the solver
// configuration. The next Run starts from the current alpha.
func (p *Problem) Retune(scale float64, cfg *laplace.Config) error {
	if cfg != nil {
		if err := p.inf.SetConfig(*cfg); err != nil {
			return err
		}
	}
	return p.inf.SetScale(scale)
}

// Result summarises an update.
type Result struct {
	laplace.Report
	Status        string    `json:"status"`
	NLML          float64   `json:"nlml"`
	Alpha         []float64 `json:"alpha"`
	PosteriorMean []float64 `json:"posterior_mean"`
	W             []float64 `json:"w"`
	SW            []float64 `json:"sw"`
}

// Run updates the posterior and computes the approximate evidence.
func (p *Problem) Run() (*Result, error) {
	report, err := p.inf.Update()
	if err != nil {
		return nil, err
	}
	return p.result(report)
}

// Summary describes the current posterior without updating it.
func (p *Problem) Summary(report laplace.Report) (*Result, error) {
	return p.result(report)
}

func (p *Problem) result(report laplace.Report) (*Result, error) {
	nlml, err := p.inf.NegativeLogMarginalLikelihood()
	if err != nil {
		return nil, err
	}
	return &Result{
		Report:        report,
		Status:        report.Status.String(),
		NLML:          nlml,
		Alpha:         raw(p.inf.Alpha()),
		PosteriorMean: raw(p.inf.PosteriorMean()),
		W:             raw(p.inf.W()),
		SW:            raw(p.inf.SW()),
	}, nil
}

func raw(v *mat.VecDense) []float64 {
	if v == nil {
		return nil
	}
	return v.RawVector().Data
}

// Prediction is the latent predictive distribution at test points and, for
// binary likelihoods, the probability of the +1 class.
type Prediction struct {
	Mean        []float64 `json:"mean"`
	Variance    []float64 `json:"variance"`
	Probability []float64 `json:"probability,omitempty"`
}

// Predict evaluates the posterior at the test inputs, one per row.
func (p *Problem) Predict(inputs [][]float64) (*Prediction, error) {
	const op = "Problem.Predict"

	if len(inputs) == 0 {
		return nil, invalid(op, "test inputs must not be empty")
	}
	if err := checkRows(op, inputs); err != nil {
		return nil, err
	}

	Xs := toDense(inputs)
	kStar, err := kernels.Cross(p.kernel, Xs, p.inputs)
	if err != nil {
		return nil, err
	}
	mu, variance, err := p.inf.Predict(kStar, kernels.Diag(p.kernel, Xs), p.meanFn.Mean(Xs))
	if err != nil {
		return nil, err
	}

	pred := &Prediction{Mean: raw(mu), Variance: raw(variance)}
	pred.Probability = classProbability(p.model, pred.Mean, pred.Variance)
	return pred, nil
}

// classProbability integrates the likelihood of y = +1 against the latent
// Gaussian: exactly for probit, with the probit approximation for logit.
func classProbability(model likelihood.Model, mu, variance []float64) []float64 {
	var prob func(m, v float64) float64
	switch model.(type) {
	case likelihood.Probit:
		prob = func(m, v float64) float64 {
			return distuv.UnitNormal.CDF(m / math.Sqrt(1+v))
		}
	case likelihood.Logit:
		prob = func(m, v float64) float64 {
			return 1 / (1 + math.Exp(-m/math.Sqrt(1+math.Pi*v/8)))
		}
	default:
		return nil
	}

	out := make([]float64, len(mu))
	for i := range mu {
		out[i] = prob(mu[i], variance[i])
	}
	return out
}
