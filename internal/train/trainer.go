package train

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/corpus"
	"github.com/raaihank/seqvec/internal/model"
	"github.com/raaihank/seqvec/internal/vocab"
)

const (
	negativeTableSize = 1 << 20
	progressInterval  = 10000 // words between progress events
	adagradEpsilon    = 1e-8
)

// Event is a training progress notification
type Event struct {
	Epoch        int     `json:"epoch"`
	Epochs       int     `json:"epochs"`
	WordsTrained int64   `json:"words_trained"`
	TotalWords   int64   `json:"total_words"`
	Alpha        float32 `json:"alpha"`
}

// Stats summarizes a completed training run
type Stats struct {
	WordsTrained int64
	Sequences    int64
	Epochs       int
	Duration     time.Duration
	FinalAlpha   float32
}

// Trainer runs gradient updates over the lookup table. Workers share weight
// rows without locking (hogwild-style); occasional lost updates are part of
// the algorithm's tolerance, not a correctness bug.
type Trainer struct {
	opts     Options
	table    *model.Table
	vocab    *vocab.Cache
	logger   *zap.Logger
	sigmoid  *sigmoidTable
	negTable []int32
	progress func(Event)

	wordsProcessed int64
	totalWords     int64

	adaIn  [][]float32
	adaOut [][]float32
	seqMu  sync.Mutex
	adaSeq map[string][]float32
}

// New builds a trainer for the given lookup table. The configuration is
// validated here; an invalid option fails the model build before any weight
// is touched. ResetModel re-initializes the table weights.
func New(table *model.Table, opts Options, logger *zap.Logger, progress func(Event)) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	tr := &Trainer{
		opts:     opts,
		table:    table,
		vocab:    table.Vocab(),
		logger:   logger,
		sigmoid:  newSigmoidTable(),
		progress: progress,
	}

	switch opts.Objective {
	case HierarchicalSoftmax:
		table.EnsureHS()
		tr.vocab.AssignCodes()
	case NegativeSampling:
		table.EnsureNegative()
		tr.negTable = tr.vocab.NegativeTable(negativeTableSize)
	}

	if opts.ResetModel {
		table.ResetWeights()
	}

	if opts.UseAdaGrad {
		dim := table.Dim()
		tr.adaIn = make([][]float32, tr.vocab.Size())
		tr.adaOut = make([][]float32, tr.vocab.Size())
		for i := range tr.adaIn {
			tr.adaIn[i] = make([]float32, dim)
			tr.adaOut[i] = make([]float32, dim)
		}
		tr.adaSeq = make(map[string][]float32)
	}

	logger.Info("Trainer initialized",
		zap.String("algorithm", string(opts.Algorithm)),
		zap.String("objective", string(opts.Objective)),
		zap.Int("vector_size", table.Dim()),
		zap.Int("vocab_size", tr.vocab.Size()),
		zap.Int("window", opts.Window),
		zap.Int("negative", opts.Negative),
		zap.Int("epochs", opts.Epochs),
		zap.Int("workers", opts.Workers),
		zap.Bool("train_elements", opts.TrainElements),
		zap.Bool("train_sequences", opts.TrainSequences),
		zap.Bool("adagrad", opts.UseAdaGrad))

	return tr, nil
}

// Train runs the configured number of epochs over the sequence iterator.
// Any failure aborts the whole run; there are no retries.
func (tr *Trainer) Train(ctx context.Context, it corpus.Iterator) (*Stats, error) {
	start := time.Now()

	tr.totalWords = tr.vocab.TotalCount() * int64(tr.opts.Epochs) * int64(tr.opts.Iterations)
	if tr.totalWords <= 0 {
		tr.totalWords = 1
	}
	atomic.StoreInt64(&tr.wordsProcessed, 0)

	var sequences int64
	for epoch := 1; epoch <= tr.opts.Epochs; epoch++ {
		epochStart := time.Now()
		epochWordsBefore := atomic.LoadInt64(&tr.wordsProcessed)

		if err := it.Reset(); err != nil {
			return nil, fmt.Errorf("failed to restart corpus for epoch %d: %w", epoch, err)
		}

		n, err := tr.runEpoch(ctx, epoch, it)
		if err != nil {
			return nil, err
		}
		if epoch == 1 {
			sequences = n
		}

		epochWords := atomic.LoadInt64(&tr.wordsProcessed) - epochWordsBefore
		tr.logger.Info("Epoch completed",
			zap.Int("epoch", epoch),
			zap.Int("total_epochs", tr.opts.Epochs),
			zap.Int64("words", epochWords),
			zap.Float32("alpha", tr.currentAlpha()),
			zap.Duration("duration", time.Since(epochStart)))
	}

	stats := &Stats{
		WordsTrained: atomic.LoadInt64(&tr.wordsProcessed),
		Sequences:    sequences,
		Epochs:       tr.opts.Epochs,
		Duration:     time.Since(start),
		FinalAlpha:   tr.currentAlpha(),
	}

	tr.logger.Info("Training completed",
		zap.Int64("words_trained", stats.WordsTrained),
		zap.Int64("sequences", stats.Sequences),
		zap.Int("epochs", stats.Epochs),
		zap.Duration("duration", stats.Duration))

	return stats, nil
}

// runEpoch dispatches batches of sequences to the worker pool and returns the
// number of sequences read from the iterator.
func (tr *Trainer) runEpoch(ctx context.Context, epoch int, it corpus.Iterator) (int64, error) {
	batches := make(chan []*corpus.Sequence, tr.opts.Workers)

	var wg sync.WaitGroup
	for w := 0; w < tr.opts.Workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(tr.opts.Seed + int64(epoch)*31 + int64(id)))
			sc := newScratch(tr.table.Dim())
			for batch := range batches {
				if ctx.Err() != nil {
					continue // drain
				}
				for iter := 0; iter < tr.opts.Iterations; iter++ {
					for _, seq := range batch {
						tr.trainSequence(epoch, seq, rng, sc)
					}
				}
			}
		}(w)
	}

	var sequences int64
	var readErr error
	batch := make([]*corpus.Sequence, 0, tr.opts.BatchSize)

	for {
		if err := ctx.Err(); err != nil {
			readErr = err
			break
		}

		seq, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}

		sequences++
		batch = append(batch, seq)
		if len(batch) == tr.opts.BatchSize {
			batches <- batch
			batch = make([]*corpus.Sequence, 0, tr.opts.BatchSize)
		}
	}
	if len(batch) > 0 && readErr == nil {
		batches <- batch
	}
	close(batches)
	wg.Wait()

	if readErr != nil {
		return sequences, fmt.Errorf("training aborted in epoch %d: %w", epoch, readErr)
	}
	return sequences, nil
}

// scratch holds per-worker reusable buffers
type scratch struct {
	words []*vocab.Element
	eIn   []float32
	neu1  []float32
}

func newScratch(dim int) *scratch {
	return &scratch{
		words: make([]*vocab.Element, 0, 1024),
		eIn:   make([]float32, dim),
		neu1:  make([]float32, dim),
	}
}

// trainSequence applies one training pass over a single sequence
func (tr *Trainer) trainSequence(epoch int, seq *corpus.Sequence, rng *rand.Rand, sc *scratch) {
	// Resolve tokens to vocabulary elements, applying frequency subsampling.
	words := sc.words[:0]
	for _, tok := range seq.Tokens {
		e, ok := tr.vocab.Get(tok)
		if !ok {
			continue
		}
		if tr.opts.Sample > 0 && rng.Float64() > tr.vocab.KeepProbability(e.Index, tr.opts.Sample) {
			continue
		}
		words = append(words, e)
	}
	if len(words) == 0 {
		return
	}

	var seqVec, seqAcc []float32
	if tr.opts.TrainSequences {
		seqVec = tr.table.SequenceVector(seq.Label)
		seqAcc = tr.seqAccumulator(seq.Label)
	}

	for pos, center := range words {
		alpha := tr.currentAlpha()

		if tr.opts.TrainElements {
			reduced := rng.Intn(tr.opts.Window)
			lo := pos - tr.opts.Window + reduced
			hi := pos + tr.opts.Window - reduced
			if lo < 0 {
				lo = 0
			}
			if hi >= len(words) {
				hi = len(words) - 1
			}

			switch tr.opts.Algorithm {
			case SkipGram:
				for c := lo; c <= hi; c++ {
					if c == pos {
						continue
					}
					ctxWord := words[c]
					tr.updatePair(tr.table.VectorAt(ctxWord.Index), tr.inAcc(ctxWord.Index), center, alpha, rng, sc)
				}
			case CBOW:
				tr.updateCBOW(words, pos, lo, hi, center, alpha, rng, sc)
			}
		}

		if tr.opts.TrainSequences {
			// PV-DBOW: the sequence vector predicts every retained element.
			tr.updatePair(seqVec, seqAcc, center, alpha, rng, sc)
		}
	}

	before := atomic.AddInt64(&tr.wordsProcessed, int64(len(words))) - int64(len(words))
	tr.maybeReport(epoch, before, int64(len(words)))
}

// updatePair trains one (input vector, target element) pair under the
// configured objective, mutating the input and output rows in place.
func (tr *Trainer) updatePair(input, inputAcc []float32, target *vocab.Element, alpha float32, rng *rand.Rand, sc *scratch) {
	eIn := sc.eIn
	for i := range eIn {
		eIn[i] = 0
	}

	switch tr.opts.Objective {
	case HierarchicalSoftmax:
		for k, code := range target.Code {
			node := target.Points[k]
			row := tr.table.HSAt(node)
			f := dot(input, row)
			g := (1 - float32(code)) - tr.sigmoid.at(f)
			for i := range eIn {
				eIn[i] += g * row[i]
			}
			tr.applyGrad(row, tr.outAcc(int(node)), g, input, alpha)
		}

	case NegativeSampling:
		for d := 0; d <= tr.opts.Negative; d++ {
			var idx int32
			var label float32
			if d == 0 {
				idx = int32(target.Index)
				label = 1
			} else {
				idx = tr.negTable[rng.Intn(len(tr.negTable))]
				if idx == int32(target.Index) {
					continue
				}
				label = 0
			}
			row := tr.table.NegAt(idx)
			f := dot(input, row)
			g := label - tr.sigmoid.at(f)
			for i := range eIn {
				eIn[i] += g * row[i]
			}
			tr.applyGrad(row, tr.outAcc(int(idx)), g, input, alpha)
		}
	}

	tr.applyGradVec(input, inputAcc, eIn, alpha)
}

// updateCBOW averages the context window, trains it against the center
// element, then distributes the input gradient back to every context vector.
func (tr *Trainer) updateCBOW(words []*vocab.Element, pos, lo, hi int, center *vocab.Element, alpha float32, rng *rand.Rand, sc *scratch) {
	neu1 := sc.neu1
	for i := range neu1 {
		neu1[i] = 0
	}

	count := 0
	for c := lo; c <= hi; c++ {
		if c == pos {
			continue
		}
		vec := tr.table.VectorAt(words[c].Index)
		for i := range neu1 {
			neu1[i] += vec[i]
		}
		count++
	}
	if count == 0 {
		return
	}
	inv := 1 / float32(count)
	for i := range neu1 {
		neu1[i] *= inv
	}

	eIn := sc.eIn
	for i := range eIn {
		eIn[i] = 0
	}

	switch tr.opts.Objective {
	case HierarchicalSoftmax:
		for k, code := range center.Code {
			node := center.Points[k]
			row := tr.table.HSAt(node)
			f := dot(neu1, row)
			g := (1 - float32(code)) - tr.sigmoid.at(f)
			for i := range eIn {
				eIn[i] += g * row[i]
			}
			tr.applyGrad(row, tr.outAcc(int(node)), g, neu1, alpha)
		}
	case NegativeSampling:
		for d := 0; d <= tr.opts.Negative; d++ {
			var idx int32
			var label float32
			if d == 0 {
				idx = int32(center.Index)
				label = 1
			} else {
				idx = tr.negTable[rng.Intn(len(tr.negTable))]
				if idx == int32(center.Index) {
					continue
				}
				label = 0
			}
			row := tr.table.NegAt(idx)
			f := dot(neu1, row)
			g := label - tr.sigmoid.at(f)
			for i := range eIn {
				eIn[i] += g * row[i]
			}
			tr.applyGrad(row, tr.outAcc(int(idx)), g, neu1, alpha)
		}
	}

	for c := lo; c <= hi; c++ {
		if c == pos {
			continue
		}
		w := words[c]
		tr.applyGradVec(tr.table.VectorAt(w.Index), tr.inAcc(w.Index), eIn, alpha)
	}
}

// applyGrad applies the scaled gradient g*src to row. With AdaGrad the step
// is normalized by the accumulated squared gradient; otherwise plain SGD.
func (tr *Trainer) applyGrad(row, acc []float32, g float32, src []float32, alpha float32) {
	if acc == nil {
		for i := range row {
			row[i] += alpha * g * src[i]
		}
		return
	}
	base := float32(tr.opts.LearningRate)
	for i := range row {
		grad := g * src[i]
		acc[i] += grad * grad
		row[i] += base * grad / (float32(math.Sqrt(float64(acc[i]))) + adagradEpsilon)
	}
}

// applyGradVec applies a per-dimension gradient vector to row
func (tr *Trainer) applyGradVec(row, acc, grad []float32, alpha float32) {
	if acc == nil {
		for i := range row {
			row[i] += alpha * grad[i]
		}
		return
	}
	base := float32(tr.opts.LearningRate)
	for i := range row {
		acc[i] += grad[i] * grad[i]
		row[i] += base * grad[i] / (float32(math.Sqrt(float64(acc[i]))) + adagradEpsilon)
	}
}

func (tr *Trainer) inAcc(index int) []float32 {
	if tr.adaIn == nil {
		return nil
	}
	return tr.adaIn[index]
}

func (tr *Trainer) outAcc(index int) []float32 {
	if tr.adaOut == nil {
		return nil
	}
	return tr.adaOut[index]
}

func (tr *Trainer) seqAccumulator(label string) []float32 {
	if tr.adaSeq == nil {
		return nil
	}
	tr.seqMu.Lock()
	defer tr.seqMu.Unlock()
	acc, ok := tr.adaSeq[label]
	if !ok {
		acc = make([]float32, tr.table.Dim())
		tr.adaSeq[label] = acc
	}
	return acc
}

// currentAlpha returns the decayed learning rate. AdaGrad performs its own
// per-parameter scaling, so decay applies only to plain SGD.
func (tr *Trainer) currentAlpha() float32 {
	if tr.opts.UseAdaGrad {
		return float32(tr.opts.LearningRate)
	}
	processed := atomic.LoadInt64(&tr.wordsProcessed)
	frac := float64(processed) / float64(tr.totalWords)
	a := tr.opts.LearningRate * (1 - frac)
	floor := tr.opts.LearningRate * 1e-4
	if a < floor {
		a = floor
	}
	return float32(a)
}

func (tr *Trainer) maybeReport(epoch int, before, added int64) {
	if tr.progress == nil {
		return
	}
	after := before + added
	if before/progressInterval == after/progressInterval {
		return
	}
	tr.progress(Event{
		Epoch:        epoch,
		Epochs:       tr.opts.Epochs,
		WordsTrained: after,
		TotalWords:   tr.totalWords,
		Alpha:        tr.currentAlpha(),
	})
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
