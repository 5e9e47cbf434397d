package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Artifact is the on-disk form of a fitted classifier.
type Artifact struct {
	Kind      string    `json:"kind"`
	Classes   []int     `json:"classes"`
	Coef      []float64 `json:"coef,omitempty"`
	Intercept float64   `json:"intercept"`

	Kernel         string      `json:"kernel,omitempty"`
	Gamma          float64     `json:"gamma,omitempty"`
	Coef0          float64     `json:"coef0,omitempty"`
	Degree         int         `json:"degree,omitempty"`
	SupportVectors [][]float64 `json:"support_vectors,omitempty"`
	DualCoef       []float64   `json:"dual_coef,omitempty"`
	ProbA          *float64    `json:"prob_a,omitempty"`
	ProbB          *float64    `json:"prob_b,omitempty"`
}

// Builder constructs a Model from an artifact of a given kind.
type Builder func(art Artifact, classes [2]int) (Model, error)

// Builders maps artifact kinds to their constructors.
var Builders = map[string]Builder{
	"logistic_regression": func(art Artifact, classes [2]int) (Model, error) {
		l, err := newLinear(art.Coef, art.Intercept, classes)
		if err != nil {
			return nil, err
		}
		return &LogisticRegression{linear: l}, nil
	},
	"linear_svc": func(art Artifact, classes [2]int) (Model, error) {
		l, err := newLinear(art.Coef, art.Intercept, classes)
		if err != nil {
			return nil, err
		}
		return &LinearSVC{linear: l}, nil
	},
	"svc": buildSVC,
}

func buildSVC(art Artifact, classes [2]int) (Model, error) {
	kernel, err := NewKernel(KernelParams{Name: art.Kernel, Gamma: art.Gamma, Coef0: art.Coef0, Degree: art.Degree})
	if err != nil {
		return nil, err
	}
	svc, err := NewSVC(kernel, art.SupportVectors, art.DualCoef, art.Intercept, classes)
	if err != nil {
		return nil, err
	}
	switch {
	case art.ProbA != nil && art.ProbB != nil:
		return &PlattSVC{SVC: svc, probA: *art.ProbA, probB: *art.ProbB}, nil
	case art.ProbA != nil || art.ProbB != nil:
		return nil, errors.New("platt scaling needs both prob_a and prob_b")
	default:
		return svc, nil
	}
}

// BuildModel validates art and constructs the model it describes.
func BuildModel(art Artifact) (Model, error) {
	build, ok := Builders[art.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown model kind %q", art.Kind)
	}
	classes := [2]int{0, 1}
	if art.Classes != nil {
		if len(art.Classes) != 2 {
			return nil, fmt.Errorf("binary model needs 2 classes, got %d", len(art.Classes))
		}
		classes = [2]int{art.Classes[0], art.Classes[1]}
	}
	for _, c := range classes {
		if _, err := LabelFor(c); err != nil {
			return nil, err
		}
	}
	return build(art, classes)
}

// LoadModel reads a JSON classifier artifact from path.
func LoadModel(path string) (Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	model, err := BuildModel(art)
	if err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}
	return model, nil
}
