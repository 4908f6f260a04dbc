package localmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Layer is a dense layer; Weight is [out][in].
type Layer struct {
	Weight [][]float64 `json:"weight"`
	Bias   []float64   `json:"bias"`
}

func (l *Layer) in() int {
	if len(l.Weight) == 0 {
		return 0
	}
	return len(l.Weight[0])
}

func (l *Layer) out() int { return len(l.Weight) }

func (l *Layer) validate(name string, in int) error {
	if l.out() == 0 {
		return fmt.Errorf("%w: %s has no rows", ErrInvalidModel, name)
	}
	if len(l.Bias) != l.out() {
		return fmt.Errorf("%w: %s bias has %d entries, want %d", ErrInvalidModel, name, len(l.Bias), l.out())
	}
	for i, row := range l.Weight {
		if len(row) != in {
			return fmt.Errorf("%w: %s row %d has %d columns, want %d", ErrInvalidModel, name, i, len(row), in)
		}
	}
	return nil
}

func (l *Layer) apply(x []float64) []float64 {
	y := make([]float64, l.out())
	for i, row := range l.Weight {
		sum := l.Bias[i]
		for j, w := range row {
			sum += w * x[j]
		}
		y[i] = sum
	}
	return y
}

// Spec is the on-disk model.json layout.
type Spec struct {
	MaxSeqLength  int         `json:"max_seq_length"`
	Labels        []string    `json:"labels,omitempty"`
	HarmfulIndex  *int        `json:"harmful_index,omitempty"`
	Embeddings    [][]float64 `json:"embeddings"`
	PreClassifier *Layer      `json:"pre_classifier,omitempty"`
	Classifier    Layer       `json:"classifier"`
}

// EmbeddingModel is a two-class sequence classifier: mean-pooled token
// embeddings, an optional ReLU layer and a linear head. It is read-only after
// loading.
type EmbeddingModel struct {
	tokenizer     *Tokenizer
	embeddings    [][]float64
	preClassifier *Layer
	classifier    Layer
	labels        []string
	harmfulIndex  int
}

// LoadEmbedding reads model.json from dir, with tokenizer.json when present
// and vocab.txt otherwise.
func LoadEmbedding(dir string) (*EmbeddingModel, error) {
	data, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("loading model weights: %w", err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ModelFile, err)
	}

	if path := filepath.Join(dir, TokenizerFile); fileExists(path) {
		tok, err := LoadTokenizerJSON(path, maxSeqLength(spec))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
		}
		return NewEmbedding(tok, spec)
	}
	vocab, err := LoadVocab(filepath.Join(dir, VocabFile))
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}
	return New(vocab, spec)
}

func maxSeqLength(spec Spec) int {
	if spec.MaxSeqLength == 0 {
		return defaultMaxSeqLength
	}
	return spec.MaxSeqLength
}

// New builds a model from an in-memory vocabulary and weights.
func New(vocab []string, spec Spec) (*EmbeddingModel, error) {
	tok, err := NewTokenizer(vocab, maxSeqLength(spec))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return NewEmbedding(tok, spec)
}

// NewEmbedding builds a model over an existing tokenizer. The embedding table
// needs one row per token ID.
func NewEmbedding(tok *Tokenizer, spec Spec) (*EmbeddingModel, error) {
	if len(spec.Embeddings) == 0 || len(spec.Embeddings) != tok.VocabSize() {
		return nil, fmt.Errorf("%w: %d embedding rows for %d vocabulary entries", ErrInvalidModel, len(spec.Embeddings), tok.VocabSize())
	}
	dim := len(spec.Embeddings[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: embedding dimension is zero", ErrInvalidModel)
	}
	for i, row := range spec.Embeddings {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: embedding row %d has %d values, want %d", ErrInvalidModel, i, len(row), dim)
		}
	}

	headIn := dim
	if spec.PreClassifier != nil {
		if err := spec.PreClassifier.validate("pre_classifier", dim); err != nil {
			return nil, err
		}
		headIn = spec.PreClassifier.out()
	}
	if err := spec.Classifier.validate("classifier", headIn); err != nil {
		return nil, err
	}
	if spec.Classifier.out() != 2 {
		return nil, fmt.Errorf("%w: classifier has %d outputs, want 2", ErrInvalidModel, spec.Classifier.out())
	}

	harmful := defaultHarmfulIndex
	if spec.HarmfulIndex != nil {
		harmful = *spec.HarmfulIndex
	}
	if harmful != 0 && harmful != 1 {
		return nil, fmt.Errorf("%w: harmful_index must be 0 or 1, got %d", ErrInvalidModel, harmful)
	}
	labels := spec.Labels
	if len(labels) == 0 {
		labels = []string{"NEGATIVE", "POSITIVE"}
	}
	if len(labels) != 2 {
		return nil, fmt.Errorf("%w: %d labels, want 2", ErrInvalidModel, len(labels))
	}

	return &EmbeddingModel{
		tokenizer:     tok,
		embeddings:    spec.Embeddings,
		preClassifier: spec.PreClassifier,
		classifier:    spec.Classifier,
		labels:        labels,
		harmfulIndex:  harmful,
	}, nil
}

func (m *EmbeddingModel) Tokenizer() *Tokenizer { return m.tokenizer }
func (m *EmbeddingModel) Labels() []string      { return m.labels }
func (m *EmbeddingModel) HarmfulIndex() int     { return m.harmfulIndex }
func (m *EmbeddingModel) Runtime() string       { return RuntimeEmbedding }
func (m *EmbeddingModel) Close() error          { return nil }

// Probabilities encodes text and runs the forward pass.
func (m *EmbeddingModel) Probabilities(ctx context.Context, text string) ([2]float64, error) {
	if err := ctx.Err(); err != nil {
		return [2]float64{}, err
	}
	enc, err := m.tokenizer.Encode(text)
	if err != nil {
		return [2]float64{}, err
	}
	return Softmax(m.Logits(enc)), nil
}

// Logits runs the forward pass over one encoding.
func (m *EmbeddingModel) Logits(enc Encoding) [2]float64 {
	dim := len(m.embeddings[0])
	pooled := make([]float64, dim)
	count := 0
	for i, id := range enc.IDs {
		if i < len(enc.AttentionMask) && enc.AttentionMask[i] == 0 {
			continue
		}
		if id < 0 || id >= len(m.embeddings) {
			id = m.tokenizer.unkID
		}
		for j, v := range m.embeddings[id] {
			pooled[j] += v
		}
		count++
	}
	if count > 0 {
		for j := range pooled {
			pooled[j] /= float64(count)
		}
	}

	hidden := pooled
	if m.preClassifier != nil {
		hidden = m.preClassifier.apply(hidden)
		for i, v := range hidden {
			if v < 0 {
				hidden[i] = 0
			}
		}
	}
	out := m.classifier.apply(hidden)
	return [2]float64{out[0], out[1]}
}

// Softmax converts two logits into probabilities.
func Softmax(logits [2]float64) [2]float64 {
	maxLogit := math.Max(logits[0], logits[1])
	e0 := math.Exp(logits[0] - maxLogit)
	e1 := math.Exp(logits[1] - maxLogit)
	sum := e0 + e1
	return [2]float64{e0 / sum, e1 / sum}
}
