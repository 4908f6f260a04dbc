package localmodel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	VocabFile     = "vocab.txt"
	TokenizerFile = "tokenizer.json"
	ModelFile     = "model.json"
	OnnxFile      = "model.onnx"

	RuntimeEmbedding = "embedding"
	RuntimeONNX      = "onnx"

	defaultMaxSeqLength = 512
	defaultHarmfulIndex = 1
)

var ErrInvalidModel = errors.New("invalid model")

// Model is a loaded two-class sequence classifier.
type Model interface {
	// Probabilities returns the class probabilities of text, indexed like
	// Labels.
	Probabilities(ctx context.Context, text string) ([2]float64, error)
	Labels() []string
	HarmfulIndex() int
	Runtime() string
	Close() error
}

// Load opens the model stored in dir. A directory holding model.onnx is an
// exported Hugging Face sequence classifier (config.json, tokenizer.json)
// and runs through an ONNX pipeline; otherwise dir must hold model.json with
// vocab.txt or tokenizer.json.
func Load(dir string) (Model, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if fileExists(filepath.Join(dir, OnnxFile)) {
		m, err := LoadPipeline(dir)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	m, err := LoadEmbedding(dir)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
