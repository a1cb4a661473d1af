package clinical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/joelkehle/clinical-agents/internal/clinical"

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type StageProgressFn func(stage, message string)

// Deps are the collaborators for the canonical stage list. Any source may be
// nil; a nil or disabled Refiner runs every stage in degraded mode.
type Deps struct {
	Literature LiteratureSource
	Ontology   OntologySource
	Formulary  FormularySource
	Refiner    *Refiner
}

// DefaultStages returns the five stages in their fixed order.
func DefaultStages(d Deps) []Stage {
	return []Stage{
		NewSymptomAnalyzer(d.Refiner),
		NewLiteratureLookup(d.Literature, d.Refiner),
		NewCaseMatcher(d.Ontology, d.Refiner),
		NewTreatmentRecommender(d.Formulary, d.Refiner),
		NewSummarizer(d.Refiner),
	}
}

var stageMessages = map[string]string{
	StageSymptomAnalyzer:      "Analyzing symptoms...",
	StageLiteratureLookup:     "Searching literature...",
	StageCaseMatcher:          "Matching ontology cases...",
	StageTreatmentRecommender: "Looking up treatments...",
	StageSummarizer:           "Summarizing findings...",
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

func WithModel(model string) Option {
	return func(p *Pipeline) { p.model = model }
}

// Pipeline runs stages strictly in order, once each. Nothing is retried.
type Pipeline struct {
	stages []Stage
	logger *zap.Logger
	tracer trace.Tracer
	model  string
}

func NewPipeline(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: stages,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDefaultPipeline wires the canonical stages and records the refiner's
// model in run metadata.
func NewDefaultPipeline(d Deps, opts ...Option) *Pipeline {
	opts = append([]Option{WithModel(d.Refiner.ModelName())}, opts...)
	return NewPipeline(DefaultStages(d), opts...)
}

func (p *Pipeline) Validate() error {
	if len(p.stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	for i, s := range p.stages {
		if s == nil {
			return fmt.Errorf("stage %d is nil", i)
		}
	}
	return nil
}

func (p *Pipeline) Run(ctx context.Context, in PatientInput) (State, error) {
	return p.runWithProgress(ctx, in, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, in PatientInput, progress StageProgressFn) (State, error) {
	return p.runWithProgress(ctx, in, progress)
}

func (p *Pipeline) runWithProgress(ctx context.Context, in PatientInput, progress StageProgressFn) (State, error) {
	st := NewState(in)
	if err := p.Validate(); err != nil {
		return *st, err
	}
	md := &st.Metadata
	md.RunID = uuid.NewString()
	md.Model = p.model
	md.Status = RunRunning
	md.StartedAt = time.Now().UTC()

	log := p.logger.With(zap.String("run_id", md.RunID))
	ctx, span := p.tracer.Start(ctx, "clinical.pipeline", trace.WithAttributes(
		attribute.String("clinical.run_id", md.RunID),
		attribute.Int("clinical.stage_count", len(p.stages)),
	))
	defer span.End()
	log.Info("pipeline_start", zap.Int("stages", len(p.stages)), zap.Bool("completion_enabled", p.model != ""))

	for i, stage := range p.stages {
		name := stage.Name()
		if err := ctx.Err(); err != nil {
			return p.fault(st, span, log, &StageError{Stage: name, Err: err})
		}
		emit(progress, name, fmt.Sprintf("Stage %d/%d: %s", i+1, len(p.stages), stageMessage(name)))

		report, err := p.runStage(ctx, stage, st)
		md.StagesExecuted = append(md.StagesExecuted, name)
		if err != nil {
			return p.fault(st, span, log, &StageError{Stage: name, Err: err})
		}
		md.Stages = append(md.Stages, report)
		if report.DegradedReason != ReasonNone {
			md.Degraded = true
		}
		log.Info("stage_complete",
			zap.String("stage", name),
			zap.String("outcome", string(report.Outcome)),
			zap.String("degraded_reason", string(report.DegradedReason)),
			zap.Int("source_records", report.SourceRecords),
			zap.Int64("duration_ms", report.DurationMS),
		)
	}

	p.finish(st, RunCompleted)
	span.SetAttributes(attribute.Bool("clinical.degraded", md.Degraded))
	log.Info("pipeline_complete", zap.Int64("duration_ms", md.DurationMS), zap.Bool("degraded", md.Degraded))
	return *st, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, st *State) (report StageReport, err error) {
	name := stage.Name()
	ctx, span := p.tracer.Start(ctx, "clinical.stage."+name)
	defer span.End()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		report.DurationMS = time.Since(started).Milliseconds()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(
			attribute.String("clinical.stage", name),
			attribute.String("clinical.outcome", string(report.Outcome)),
			attribute.String("clinical.degraded_reason", string(report.DegradedReason)),
			attribute.Int("clinical.source_records", report.SourceRecords),
		)
	}()

	report, err = stage.Run(ctx, st)
	if report.Stage == "" {
		report.Stage = name
	}
	return report, err
}

func (p *Pipeline) fault(st *State, span trace.Span, log *zap.Logger, se *StageError) (State, error) {
	st.Metadata.FailedStage = se.Stage
	p.finish(st, RunFaulted)
	span.RecordError(se)
	span.SetStatus(codes.Error, se.Error())
	log.Error("pipeline_faulted", zap.String("stage", se.Stage), zap.Error(se.Err))
	return *st, se
}

func (p *Pipeline) finish(st *State, status RunStatus) {
	st.Metadata.Status = status
	st.Metadata.CompletedAt = time.Now().UTC()
	st.Metadata.DurationMS = st.Metadata.CompletedAt.Sub(st.Metadata.StartedAt).Milliseconds()
}

func stageMessage(name string) string {
	if m, ok := stageMessages[name]; ok {
		return m
	}
	return "Running " + name + "..."
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}
