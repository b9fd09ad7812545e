package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/graph"
)

// LocalAnnotator runs a token classification (NER) model in process instead
// of calling a remote engine.
type LocalAnnotator struct {
	mu         sync.Mutex
	session    *hugot.Session
	pipeline   *pipelines.TokenClassificationPipeline
	labelTypes map[string]string
}

// NewLocalAnnotator loads the ONNX NER model at modelPath.
func NewLocalAnnotator(modelPath string) (*LocalAnnotator, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("creating hugot session: %w", err)
	}

	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "penf-linker-ner",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("creating NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("creating NER pipeline: %w", err)
	}

	return &LocalAnnotator{
		session:    session,
		pipeline:   pipeline,
		labelTypes: DefaultLabelTypes(),
	}, nil
}

// Annotate runs the model over text and returns FISE text annotations.
func (a *LocalAnnotator) Annotate(ctx context.Context, text string) (graph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	result, err := a.pipeline.RunPipeline([]string{text})
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("running NER: %w", err)
	}
	if len(result.Entities) == 0 {
		return graph.NewMemory(), nil
	}

	spans := make([]Span, 0, len(result.Entities[0]))
	for _, e := range result.Entities[0] {
		spans = append(spans, Span{
			Label: e.Entity,
			Text:  e.Word,
			Start: int(e.Start),
			End:   int(e.End),
			Score: float64(e.Score),
		})
	}
	return BuildGraph(text, spans, a.labelTypes), nil
}

// Close releases the model session.
func (a *LocalAnnotator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.Destroy()
}
