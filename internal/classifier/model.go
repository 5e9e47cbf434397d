// Package classifier evaluates pre-trained binary classifiers and turns their
// output into a labelled prediction with a confidence score.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/example/malaria-detect/internal/mlerr"
)

// Model is a fitted binary classifier. Predict returns one of the two class
// values the model was trained on; Features is the input width it expects.
type Model interface {
	Predict(x []float64) (int, error)
	Features() int
}

// MarginModel exposes the signed distance of x from the separating boundary.
// Positive scores favour the second class.
type MarginModel interface {
	Model
	DecisionFunction(x []float64) (float64, error)
}

// ProbabilisticModel exposes calibrated class probabilities, ordered like the
// model's classes.
type ProbabilisticModel interface {
	Model
	PredictProba(x []float64) ([]float64, error)
}

// linear is the decision rule shared by logistic regression and linear SVMs.
type linear struct {
	coef      []float64
	intercept float64
	classes   [2]int
}

func newLinear(coef []float64, intercept float64, classes [2]int) (linear, error) {
	if len(coef) == 0 {
		return linear{}, errors.New("empty coefficient vector")
	}
	c := make([]float64, len(coef))
	copy(c, coef)
	return linear{coef: c, intercept: intercept, classes: classes}, nil
}

func (l linear) Features() int { return len(l.coef) }

func (l linear) DecisionFunction(x []float64) (float64, error) {
	if len(x) != len(l.coef) {
		return 0, fmt.Errorf("%w: model expects %d features, got %d", mlerr.ErrShape, len(l.coef), len(x))
	}
	return floats.Dot(l.coef, x) + l.intercept, nil
}

func (l linear) Predict(x []float64) (int, error) {
	score, err := l.DecisionFunction(x)
	if err != nil {
		return 0, err
	}
	return pick(l.classes, score), nil
}

// LogisticRegression is a binary logistic-regression model.
type LogisticRegression struct {
	linear
}

// PredictProba returns the probabilities of both classes.
func (m *LogisticRegression) PredictProba(x []float64) ([]float64, error) {
	score, err := m.DecisionFunction(x)
	if err != nil {
		return nil, err
	}
	p := sigmoid(score)
	return []float64{1 - p, p}, nil
}

// LinearSVC is a linear support-vector classifier. It only exposes margins.
type LinearSVC struct {
	linear
}

// Kernel computes the similarity between a support vector and an input.
type Kernel func(sv, x []float64) float64

// KernelParams are the hyperparameters a kernel is built from.
type KernelParams struct {
	Name   string
	Gamma  float64
	Coef0  float64
	Degree int
}

// NewKernel resolves a kernel by name: linear, rbf, poly or sigmoid.
func NewKernel(p KernelParams) (Kernel, error) {
	switch p.Name {
	case "linear":
		return func(sv, x []float64) float64 { return floats.Dot(sv, x) }, nil
	case "rbf", "":
		if p.Gamma <= 0 {
			return nil, fmt.Errorf("rbf kernel needs a positive gamma, got %v", p.Gamma)
		}
		return func(sv, x []float64) float64 {
			d := floats.Distance(sv, x, 2)
			return math.Exp(-p.Gamma * d * d)
		}, nil
	case "poly":
		if p.Degree <= 0 {
			return nil, fmt.Errorf("poly kernel needs a positive degree, got %d", p.Degree)
		}
		return func(sv, x []float64) float64 {
			return math.Pow(p.Gamma*floats.Dot(sv, x)+p.Coef0, float64(p.Degree))
		}, nil
	case "sigmoid":
		return func(sv, x []float64) float64 {
			return math.Tanh(p.Gamma*floats.Dot(sv, x) + p.Coef0)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported kernel %q", p.Name)
	}
}

// SVC is a kernel support-vector classifier without probability calibration.
type SVC struct {
	kernel         Kernel
	supportVectors [][]float64
	dualCoef       []float64
	intercept      float64
	classes        [2]int
	features       int
}

// NewSVC builds a kernel SVC. dualCoef holds one signed coefficient per
// support vector.
func NewSVC(kernel Kernel, supportVectors [][]float64, dualCoef []float64, intercept float64, classes [2]int) (*SVC, error) {
	if len(supportVectors) == 0 {
		return nil, errors.New("no support vectors")
	}
	if len(dualCoef) != len(supportVectors) {
		return nil, fmt.Errorf("%d dual coefficients for %d support vectors", len(dualCoef), len(supportVectors))
	}
	features := len(supportVectors[0])
	svs := make([][]float64, len(supportVectors))
	for i, sv := range supportVectors {
		if len(sv) != features || features == 0 {
			return nil, fmt.Errorf("support vector %d has %d values, want %d", i, len(sv), features)
		}
		svs[i] = append([]float64(nil), sv...)
	}
	return &SVC{
		kernel:         kernel,
		supportVectors: svs,
		dualCoef:       append([]float64(nil), dualCoef...),
		intercept:      intercept,
		classes:        classes,
		features:       features,
	}, nil
}

func (m *SVC) Features() int { return m.features }

// DecisionFunction returns sum(dual_i * K(sv_i, x)) + intercept.
func (m *SVC) DecisionFunction(x []float64) (float64, error) {
	if len(x) != m.features {
		return 0, fmt.Errorf("%w: model expects %d features, got %d", mlerr.ErrShape, m.features, len(x))
	}
	score := m.intercept
	for i, sv := range m.supportVectors {
		score += m.dualCoef[i] * m.kernel(sv, x)
	}
	return score, nil
}

func (m *SVC) Predict(x []float64) (int, error) {
	score, err := m.DecisionFunction(x)
	if err != nil {
		return 0, err
	}
	return pick(m.classes, score), nil
}

// PlattSVC is an SVC fitted with Platt scaling, so it reports probabilities.
type PlattSVC struct {
	*SVC
	probA float64
	probB float64
}

// minProb bounds Platt probabilities away from 0 and 1.
const minProb = 1e-7

// PredictProba returns the Platt-scaled probabilities of both classes.
func (m *PlattSVC) PredictProba(x []float64) ([]float64, error) {
	score, err := m.DecisionFunction(x)
	if err != nil {
		return nil, err
	}
	// The calibration was fitted on margins oriented towards the first class.
	fApB := -score*m.probA + m.probB
	var p float64
	if fApB >= 0 {
		p = math.Exp(-fApB) / (1 + math.Exp(-fApB))
	} else {
		p = 1 / (1 + math.Exp(fApB))
	}
	p = math.Min(math.Max(p, minProb), 1-minProb)
	return []float64{p, 1 - p}, nil
}

func pick(classes [2]int, score float64) int {
	if score > 0 {
		return classes[1]
	}
	return classes[0]
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
