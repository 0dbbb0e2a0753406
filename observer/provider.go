package observer

import (
	"context"
	"time"

	"github.com/nevindra/tideline"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a tideline.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner tideline.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider. model is the remote model
// name used for pricing.
func WrapProvider(inner tideline.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

// Diagnostics forwards to the wrapped provider.
func (o *ObservedProvider) Diagnostics() string {
	if d, ok := o.inner.(tideline.DiagnosticsReporter); ok {
		return d.Diagnostics()
	}
	return ""
}

func (o *ObservedProvider) startSpan(ctx context.Context, name string, req tideline.ChatRequest) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	}
	if len(req.Tools) > 0 {
		names := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			names[i] = t.Name
		}
		attrs = append(attrs, AttrToolCount.Int(len(req.Tools)), AttrToolNames.StringSlice(names))
	}
	return o.inst.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *ObservedProvider) Chat(ctx context.Context, req tideline.ChatRequest) (tideline.ChatResponse, error) {
	ctx, span := o.startSpan(ctx, "llm.chat", req)
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	o.record(ctx, span, "chat", err, time.Since(start), resp.Usage)
	return resp, err
}

// ChatStream forwards deltas while counting them. ch is closed once the
// inner stream has ended.
func (o *ObservedProvider) ChatStream(ctx context.Context, req tideline.ChatRequest, ch chan<- tideline.StreamDelta) (tideline.ChatResponse, error) {
	ctx, span := o.startSpan(ctx, "llm.chat_stream", req)
	defer span.End()
	start := time.Now()

	// The inner provider must never block on a full relay while the
	// consumer is still waiting for ChatStream to return.
	relay := make(chan tideline.StreamDelta, max(cap(ch), 64))
	var chunks, reasoning int
	var first time.Duration
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for d := range relay {
			if chunks == 0 {
				first = time.Since(start)
			}
			chunks++
			if d.Reasoning != "" {
				reasoning++
			}
			select {
			case ch <- d:
			case <-ctx.Done():
				for range relay {
				}
				return
			}
		}
	}()

	resp, err := o.inner.ChatStream(ctx, req, relay)
	<-done

	span.SetAttributes(AttrStreamChunks.Int(chunks), AttrReasoningChunks.Int(reasoning))
	if chunks > 0 {
		o.inst.TimeToFirstOutput.Record(ctx, float64(first.Milliseconds()), metric.WithAttributes(AttrLLMModel.String(o.model)))
	}
	o.record(ctx, span, "chat_stream", err, time.Since(start), resp.Usage)
	return resp, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method string, err error, elapsed time.Duration, usage tideline.Usage) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	durationMs := float64(elapsed.Milliseconds())
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	model := AttrLLMModel.String(o.model)
	provider := AttrLLMProvider.String(o.inner.Name())
	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)
	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(model, provider, attribute.String("direction", "input")))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(model, provider, attribute.String("direction", "output")))
	o.inst.CostTotal.Add(ctx, cost, metric.WithAttributes(model, provider))
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(model, provider, AttrLLMMethod.String(method), attribute.String("status", status)))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(model, provider, AttrLLMMethod.String(method)))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var (
	_ tideline.Provider            = (*ObservedProvider)(nil)
	_ tideline.DiagnosticsReporter = (*ObservedProvider)(nil)
)
