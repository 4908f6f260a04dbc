package localmodel

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

const pipelineName = "contentguard-local"

// PipelineModel runs an exported ONNX sequence classifier (for example
// DistilBERT SST-2) on the pure Go backend.
type PipelineModel struct {
	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	labels   []string
}

// LoadPipeline opens model.onnx, tokenizer.json and config.json from dir.
// The model must have exactly two labels in its id2label map; label 1 is
// the harmful class.
func LoadPipeline(dir string) (*PipelineModel, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("creating inference session: %w", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath:    dir,
		Name:         pipelineName,
		OnnxFilename: OnnxFile,
		Options: []hugot.TextClassificationOption{
			pipelines.WithMultiLabel(),
			pipelines.WithSoftmax(),
		},
	})
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("loading onnx pipeline from %s: %w", dir, err)
	}

	labels, err := binaryLabels(pipeline.Model.IDLabelMap)
	if err != nil {
		session.Destroy()
		return nil, err
	}
	return &PipelineModel{session: session, pipeline: pipeline, labels: labels}, nil
}

func binaryLabels(id2label map[int]string) ([]string, error) {
	if len(id2label) != 2 {
		return nil, fmt.Errorf("%w: %d labels in config.json, want 2", ErrInvalidModel, len(id2label))
	}
	labels := make([]string, 2)
	for id, label := range id2label {
		if id < 0 || id > 1 {
			return nil, fmt.Errorf("%w: label id %d out of range", ErrInvalidModel, id)
		}
		labels[id] = label
	}
	return labels, nil
}

func (m *PipelineModel) Labels() []string  { return m.labels }
func (m *PipelineModel) HarmfulIndex() int { return defaultHarmfulIndex }
func (m *PipelineModel) Runtime() string   { return RuntimeONNX }

// Probabilities runs the pipeline on text. Calls are serialized.
func (m *PipelineModel) Probabilities(ctx context.Context, text string) ([2]float64, error) {
	if err := ctx.Err(); err != nil {
		return [2]float64{}, err
	}
	m.mu.Lock()
	out, err := m.pipeline.RunPipeline([]string{text})
	m.mu.Unlock()
	if err != nil {
		return [2]float64{}, fmt.Errorf("running onnx pipeline: %w", err)
	}
	return pipelineProbabilities(out, m.labels)
}

// pipelineProbabilities maps multi-label output back to label order.
func pipelineProbabilities(out *pipelines.TextClassificationOutput, labels []string) ([2]float64, error) {
	var probs [2]float64
	if out == nil || len(out.ClassificationOutputs) != 1 {
		return probs, fmt.Errorf("%w: expected one pipeline result", ErrInvalidModel)
	}
	found := 0
	for _, c := range out.ClassificationOutputs[0] {
		for i, label := range labels {
			if c.Label == label {
				probs[i] = float64(c.Score)
				found++
			}
		}
	}
	if found != len(labels) {
		return probs, fmt.Errorf("%w: pipeline returned %d of %d labels", ErrInvalidModel, found, len(labels))
	}
	return probs, nil
}

func (m *PipelineModel) Close() error {
	return m.session.Destroy()
}
