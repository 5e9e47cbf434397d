// Package reducer applies a pre-fitted principal-component projection to
// feature vectors.
package reducer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/example/malaria-detect/internal/mlerr"
)

// Artifact is the on-disk form of a fitted PCA.
type Artifact struct {
	NFeatures         int         `json:"n_features"`
	Mean              []float64   `json:"mean"`
	Components        [][]float64 `json:"components"`
	ExplainedVariance []float64   `json:"explained_variance,omitempty"`
	Whiten            bool        `json:"whiten"`
}

// PCA projects vectors onto a fixed principal-component basis. It is immutable
// after construction and safe for concurrent use.
type PCA struct {
	mean       *mat.VecDense
	components *mat.Dense
	scale      []float64
}

// LoadPCA reads a JSON artifact from path.
func LoadPCA(path string) (*PCA, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pca artifact: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("failed to parse pca artifact: %w", err)
	}
	pca, err := NewPCA(art)
	if err != nil {
		return nil, fmt.Errorf("invalid pca artifact %s: %w", path, err)
	}
	return pca, nil
}

// NewPCA validates art and builds the projection.
func NewPCA(art Artifact) (*PCA, error) {
	k := len(art.Components)
	if k == 0 {
		return nil, errors.New("no components")
	}
	n := len(art.Mean)
	if n == 0 {
		return nil, errors.New("empty mean")
	}
	if art.NFeatures != 0 && art.NFeatures != n {
		return nil, fmt.Errorf("n_features %d does not match mean length %d", art.NFeatures, n)
	}

	data := make([]float64, 0, k*n)
	for i, row := range art.Components {
		if len(row) != n {
			return nil, fmt.Errorf("component %d has %d values, want %d", i, len(row), n)
		}
		data = append(data, row...)
	}

	var scale []float64
	if art.Whiten {
		if len(art.ExplainedVariance) != k {
			return nil, fmt.Errorf("whiten needs %d explained variances, got %d", k, len(art.ExplainedVariance))
		}
		scale = make([]float64, k)
		for i, v := range art.ExplainedVariance {
			if v <= 0 {
				return nil, fmt.Errorf("explained variance %d is not positive", i)
			}
			scale[i] = 1 / math.Sqrt(v)
		}
	}

	mean := make([]float64, n)
	copy(mean, art.Mean)

	return &PCA{
		mean:       mat.NewVecDense(n, mean),
		components: mat.NewDense(k, n, data),
		scale:      scale,
	}, nil
}

// Features is the input length the projection was fitted on.
func (p *PCA) Features() int {
	return p.mean.Len()
}

// Components is the output length k.
func (p *PCA) Components() int {
	r, _ := p.components.Dims()
	return r
}

// Transform returns (x - mean) · componentsᵀ. x is not modified.
func (p *PCA) Transform(x []float64) ([]float64, error) {
	if len(x) != p.Features() {
		return nil, fmt.Errorf("%w: reducer expects %d features, got %d", mlerr.ErrShape, p.Features(), len(x))
	}

	var centered mat.VecDense
	centered.SubVec(mat.NewVecDense(len(x), x), p.mean)

	var projected mat.VecDense
	projected.MulVec(p.components, &centered)

	out := make([]float64, p.Components())
	for i := range out {
		out[i] = projected.AtVec(i)
		if p.scale != nil {
			out[i] *= p.scale[i]
		}
	}
	return out, nil
}
