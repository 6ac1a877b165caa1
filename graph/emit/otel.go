package emit

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter maps workflow events onto OpenTelemetry spans: one root span
// per run, one child span per node execution. node_start opens a span,
// node_complete closes it; error events mark the enclosing span failed.
//
// Setup:
//
//	tracer := otel.Tracer("researchgraph")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer

	mu    sync.Mutex
	runs  map[string]trace.Span            // runID -> root span
	nodes map[string]map[string]trace.Span // runID -> node -> open span
}

// NewOTelEmitter creates an OTelEmitter over the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{
		tracer: tracer,
		runs:   make(map[string]trace.Span),
		nodes:  make(map[string]map[string]trace.Span),
	}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	root, ok := o.runs[event.RunID]
	if !ok {
		_, root = o.tracer.Start(context.Background(), "workflow",
			trace.WithAttributes(attribute.String("run_id", event.RunID)))
		o.runs[event.RunID] = root
		o.nodes[event.RunID] = make(map[string]trace.Span)
	}

	switch event.Type {
	case TypeNodeStart:
		ctx := trace.ContextWithSpan(context.Background(), root)
		_, span := o.tracer.Start(ctx, event.Node,
			trace.WithAttributes(
				attribute.String("run_id", event.RunID),
				attribute.Int("step", event.Step),
			))
		o.nodes[event.RunID][event.Node] = span

	case TypeNodeComplete:
		if span, ok := o.nodes[event.RunID][event.Node]; ok {
			span.SetAttributes(metaAttrs(event.Meta)...)
			span.End()
			delete(o.nodes[event.RunID], event.Node)
		}

	case TypeError:
		span := root
		if ns, ok := o.nodes[event.RunID][event.Node]; ok {
			span = ns
		}
		span.SetStatus(codes.Error, event.Msg)

	case TypeFinalResult, TypeCancelled:
		for _, span := range o.nodes[event.RunID] {
			span.End()
		}
		root.SetAttributes(metaAttrs(event.Meta)...)
		root.End()
		delete(o.runs, event.RunID)
		delete(o.nodes, event.RunID)
	}
}

func metaAttrs(meta map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}
