package tagger

import (
	"github.com/happyhackingspace/seqtag/crf"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// mix returns Σ_k λ_k·features[t][k] for every token.
func (m *Model) mix(ex Example) [][]float64 {
	if m.Projection == nil {
		return nil
	}
	out := make([][]float64, ex.Len())
	for t, layers := range ex.Features {
		v := make([]float64, m.Info.Dim)
		for k, layer := range layers {
			floats.AddScaled(v, m.LayerWeights[k], layer)
		}
		out[t] = v
	}
	return out
}

// emissions scores ex into padded rows: rows past ex.Len() stay zero and
// are ignored by the CRF.
func (m *Model) emissions(ex Example, mixed [][]float64, padded int) [][]float64 {
	C := m.NumTags()
	out := make([][]float64, padded)
	for t := range out {
		row := make([]float64, C)
		out[t] = row
		if t >= ex.Len() {
			continue
		}
		copy(row, m.Bias)
		floats.Add(row, m.WordScores.RawRowView(ex.Words[t]))
		if m.Projection != nil {
			for c := range row {
				row[c] += floats.Dot(m.Projection.RawRowView(c), mixed[t])
			}
		}
	}
	return out
}

// assembled is one padded batch ready for the CRF, with the intermediates
// needed to backpropagate into the emission parameters.
type assembled struct {
	batch crf.Batch
	mixed [][][]float64
}

func (m *Model) assemble(examples []Example) assembled {
	padded := 0
	for _, ex := range examples {
		padded = max(padded, ex.Len())
	}
	a := assembled{
		batch: crf.Batch{
			Emissions: make([][][]float64, len(examples)),
			Lengths:   make([]int, len(examples)),
		},
		mixed: make([][][]float64, len(examples)),
	}
	for i, ex := range examples {
		a.mixed[i] = m.mix(ex)
		a.batch.Emissions[i] = m.emissions(ex, a.mixed[i], padded)
		a.batch.Lengths[i] = ex.Len()
	}
	return a
}

// gradients holds ∂loss/∂θ for every parameter group, laid out like the
// parameters themselves.
type gradients struct {
	Projection   *mat.Dense
	Bias         []float64
	WordScores   *mat.Dense
	LayerWeights []float64
	Transitions  *mat.Dense
}

// slices returns the gradient groups as flat slices in parameter order.
func (g *gradients) slices() [][]float64 {
	out := [][]float64{g.Bias, g.WordScores.RawMatrix().Data, g.Transitions.RawMatrix().Data}
	if g.Projection != nil {
		out = append(out, g.Projection.RawMatrix().Data, g.LayerWeights)
	}
	return out
}

// backprop pushes the CRF emission gradient through the emission scorer.
func (m *Model) backprop(examples []Example, a assembled, grad *crf.Gradient) *gradients {
	C := m.NumTags()
	g := &gradients{
		Bias:        make([]float64, C),
		WordScores:  mat.NewDense(m.Words.Len(), C, nil),
		Transitions: grad.Transitions,
	}
	if m.Projection != nil {
		g.Projection = mat.NewDense(C, m.Info.Dim, nil)
		g.LayerWeights = make([]float64, m.Info.Layers)
	}

	back := make([]float64, m.Info.Dim)
	for i, ex := range examples {
		for t := range ex.Len() {
			gE := grad.Emissions[i][t]
			floats.Add(g.Bias, gE)
			floats.Add(g.WordScores.RawRowView(ex.Words[t]), gE)
			if m.Projection == nil {
				continue
			}
			for d := range back {
				back[d] = 0
			}
			for c, ge := range gE {
				if ge == 0 {
					continue
				}
				floats.AddScaled(g.Projection.RawRowView(c), ge, a.mixed[i][t])
				floats.AddScaled(back, ge, m.Projection.RawRowView(c))
			}
			for k, layer := range ex.Features[t] {
				g.LayerWeights[k] += floats.Dot(back, layer)
			}
		}
	}
	return g
}

// params returns the parameter groups in the order of gradients.slices.
func (m *Model) params() [][]float64 {
	out := [][]float64{m.Bias, m.WordScores.RawMatrix().Data, m.Transitions.Params()}
	if m.Projection != nil {
		out = append(out, m.Projection.RawMatrix().Data, m.LayerWeights)
	}
	return out
}
