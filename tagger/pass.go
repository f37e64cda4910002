package tagger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/happyhackingspace/seqtag/crf"
	"github.com/happyhackingspace/seqtag/internal/batch"
	"github.com/happyhackingspace/seqtag/internal/optim"
	"github.com/happyhackingspace/seqtag/internal/telemetry"
	"github.com/panjf2000/ants/v2"
)

// StepResult reports one parameter update.
type StepResult struct {
	Loss     float64 // CRF loss plus the L2 penalty
	CRFLoss  float64
	Tokens   int
	GradNorm float64 // before clipping
	Version  uint64  // transition version after the update
}

// loss runs the CRF head over examples. The caller holds at least the read
// lock.
func (m *Model) loss(examples []Example, withGrad bool) (*crf.Result, assembled, error) {
	for i, ex := range examples {
		if err := m.checkExample(i, ex, true); err != nil {
			return nil, assembled{}, err
		}
	}
	a := m.assemble(examples)
	padded := 0
	if len(a.batch.Emissions) > 0 {
		padded = len(a.batch.Emissions[0])
	}

	layer := m.layer()
	if !m.Options.WordPiece {
		labels := make([][]int, len(examples))
		for i, ex := range examples {
			row := make([]int, padded)
			copy(row, ex.Labels)
			labels[i] = row
		}
		res, err := layer.Loss(m.Transitions, a.batch, labels, withGrad)
		return res, a, err
	}

	cands := make([][][]int, len(examples))
	for i, ex := range examples {
		sets, err := m.Options.Policy.candidates(m.Transitions.Space, m.marker(), ex.Labels, padded)
		if err != nil {
			return nil, assembled{}, err
		}
		cands[i] = sets
	}
	partial := crf.PartialLayer{Layer: layer}
	res, err := partial.Loss(m.Transitions, a.batch, cands, withGrad)
	return res, a, err
}

// Loss returns the CRF loss of labelled examples without updating anything.
func (m *Model) Loss(examples []Example) (*crf.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, _, err := m.loss(examples, false)
	return res, err
}

// Step computes gradients for one batch under the read lock, then applies
// L2, clipping and the optimizer update under the write lock. Concurrent
// Steps run one after another, so every update applies to the parameters
// its gradient was computed on; Decode and Loss may run alongside the
// gradient computation.
func (m *Model) Step(ctx context.Context, examples []Example, opt optim.Optimizer, lr float64) (StepResult, error) {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()

	start := time.Now()
	m.mu.RLock()
	res, a, err := m.loss(examples, true)
	var g *gradients
	if err == nil {
		g = m.backprop(examples, a, res.Grad)
	}
	m.mu.RUnlock()
	if err != nil {
		return StepResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := StepResult{CRFLoss: res.Loss, Tokens: res.Tokens}
	out.Loss = res.Loss + optim.AddL2(m.WordScores.RawMatrix().Data, g.WordScores.RawMatrix().Data, m.Options.L2)
	if m.Projection != nil {
		out.Loss += optim.AddL2(m.Projection.RawMatrix().Data, g.Projection.RawMatrix().Data, m.Options.L2)
	}
	grads := g.slices()
	out.GradNorm = optim.ClipNorm(grads, m.Options.ClipGrad)
	for i, p := range m.params() {
		opt.Step(p, grads[i], lr)
	}
	m.Transitions.Commit()
	out.Version = m.Transitions.Version

	telemetry.RecordPass(ctx, telemetry.KindTrain, res.Tokens, time.Since(start))
	telemetry.RecordLoss(ctx, out.Loss)
	return out, nil
}

// Decode returns the best tag ids of every example.
func (m *Model) Decode(ctx context.Context, examples []Example) ([][]int, error) {
	start := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, ex := range examples {
		if err := m.checkExample(i, ex, false); err != nil {
			return nil, err
		}
	}
	a := m.assemble(examples)
	layer := m.layer()
	paths, err := layer.Decode(m.Transitions, a.batch)
	if err != nil {
		return nil, err
	}
	telemetry.RecordPass(ctx, telemetry.KindDecode, a.batch.Tokens(), time.Since(start))
	return paths, nil
}

// Marginals returns P(tag_t = c) for one example.
func (m *Model) Marginals(ex Example) ([][]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkExample(0, ex, false); err != nil {
		return nil, err
	}
	mixed := m.mix(ex)
	return crf.Marginals(m.Transitions, m.emissions(ex, mixed, ex.Len()))
}

// Predict decodes examples in length-sorted batches of batchSize on a
// worker pool and returns the paths in input order.
func (m *Model) Predict(ctx context.Context, examples []Example, batchSize int) ([][]int, error) {
	lengths := make([]int, len(examples))
	for i, ex := range examples {
		lengths[i] = ex.Len()
	}
	plan, err := batch.Build(lengths, batchSize, batch.Options{Sort: true, KeepFull: true})
	if err != nil {
		return nil, err
	}

	workers := m.Options.Workers
	if workers <= 0 {
		workers = max(1, min(plan.Len(), 8))
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("tagger: worker pool: %w", err)
	}
	defer pool.Release()

	flat := make([][]int, len(examples))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	offset := 0
	for bi, idx := range plan.Batches {
		if err := ctx.Err(); err != nil {
			errOnce.Do(func() { firstErr = err })
			break
		}
		members := make([]Example, len(idx))
		for j, i := range idx {
			members[j] = examples[i]
		}
		at := offset
		offset += len(idx)

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			paths, err := m.Decode(ctx, members)
			if err != nil {
				errOnce.Do(func() { firstErr = fmt.Errorf("batch %d: %w", bi, err) })
				return
			}
			copy(flat[at:], paths)
		})
		if submitErr != nil {
			wg.Done()
			errOnce.Do(func() { firstErr = submitErr })
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	slog.Debug("Predicted", "sentences", len(examples), "batches", plan.Len())
	return batch.Restore(plan.Order, flat)
}
