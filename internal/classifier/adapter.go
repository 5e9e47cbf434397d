package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/malaria-detect/internal/mlerr"
)

// Label is the class reported to clients.
type Label string

const (
	Parasitized Label = "Parasitized"
	Uninfected  Label = "Uninfected"
)

// LabelFor maps a raw model output to its label.
func LabelFor(raw int) (Label, error) {
	switch raw {
	case 1:
		return Parasitized, nil
	case 0:
		return Uninfected, nil
	default:
		return "", fmt.Errorf("%w: unexpected class %d", mlerr.ErrModelInvocation, raw)
	}
}

// Strategy is how an adapter derives confidence from its model.
type Strategy int

const (
	// StrategyProbability takes the larger of the two class probabilities.
	StrategyProbability Strategy = iota
	// StrategyMargin squashes the absolute decision score with a sigmoid.
	StrategyMargin
)

func (s Strategy) String() string {
	switch s {
	case StrategyProbability:
		return "probability"
	case StrategyMargin:
		return "margin"
	default:
		return "unknown"
	}
}

// Prediction is the outcome of classifying one feature vector.
type Prediction struct {
	Label      Label
	Confidence float64
	Model      string
}

// Adapter pairs a model with the confidence strategy it supports. The
// strategy is fixed at construction; margin confidences are not calibrated
// and cannot be compared with probability confidences.
type Adapter struct {
	name     string
	model    Model
	strategy Strategy
}

// NewAdapter inspects m once and picks its confidence strategy.
func NewAdapter(name string, m Model) (*Adapter, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	a := &Adapter{name: name, model: m}
	switch m.(type) {
	case ProbabilisticModel:
		a.strategy = StrategyProbability
	case MarginModel:
		a.strategy = StrategyMargin
	default:
		return nil, fmt.Errorf("model %s exposes neither probabilities nor decision scores", name)
	}
	return a, nil
}

// Name is the model identifier reported with each prediction.
func (a *Adapter) Name() string { return a.name }

// Features is the input width of the wrapped model.
func (a *Adapter) Features() int { return a.model.Features() }

// Strategy reports how confidences are computed.
func (a *Adapter) Strategy() Strategy { return a.strategy }

// Classify labels x and attaches a confidence. Model failures are reported as
// mlerr.ErrModelInvocation.
func (a *Adapter) Classify(x []float64) (pred Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", mlerr.ErrModelInvocation, r)
		}
	}()

	raw, err := a.model.Predict(x)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", mlerr.ErrModelInvocation, err)
	}
	label, err := LabelFor(raw)
	if err != nil {
		return Prediction{}, err
	}

	confidence, err := a.confidence(x)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", mlerr.ErrModelInvocation, err)
	}
	return Prediction{Label: label, Confidence: confidence, Model: a.name}, nil
}

func (a *Adapter) confidence(x []float64) (float64, error) {
	if a.strategy == StrategyProbability {
		proba, err := a.model.(ProbabilisticModel).PredictProba(x)
		if err != nil {
			return 0, err
		}
		if len(proba) == 0 {
			return 0, errors.New("empty probability output")
		}
		best := proba[0]
		for _, p := range proba[1:] {
			best = math.Max(best, p)
		}
		return best, nil
	}
	score, err := a.model.(MarginModel).DecisionFunction(x)
	if err != nil {
		return 0, err
	}
	return SigmoidConfidence(score), nil
}

// SigmoidConfidence maps a decision score to [0.5, 1); a score of 0 gives 0.5.
func SigmoidConfidence(score float64) float64 {
	return 1 / (1 + math.Exp(-math.Abs(score)))
}
