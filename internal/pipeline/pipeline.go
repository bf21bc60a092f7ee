package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/thtskaran/effenAi/internal/metrics"
	"github.com/thtskaran/effenAi/internal/planner"
	"github.com/thtskaran/effenAi/internal/recording"
	"github.com/thtskaran/effenAi/internal/store"
)

// detailTitleMaxLen is the display length detail-step titles are truncated
// to; the full step text is kept in the action description.
const detailTitleMaxLen = 80

// Transcriber produces a transcript from an assembled audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// PlanGenerator converts a transcript into a structured plan draft.
type PlanGenerator interface {
	Generate(ctx context.Context, transcript string) (planner.PlanDraft, error)
}

// DetailGenerator enriches a plan draft with a step breakdown, category
// code and workflow diagram.
type DetailGenerator interface {
	Generate(ctx context.Context, summary string, actionTitles []string) (planner.Details, error)
}

// Gateway is the persistence boundary the pipeline depends on.
type Gateway interface {
	EmployeeByEmail(ctx context.Context, email string) (*store.Employee, error)
	SaveActionPlan(ctx context.Context, plan *store.ActionPlan, actions []*store.Action) error
}

// Pipeline runs end-of-recording processing synchronously within the
// calling handler. There is no internal cancellation: once started, a run
// goes to completion (success or failure) before the session is released.
type Pipeline struct {
	buffer      *recording.Buffer
	gateway     Gateway
	transcriber Transcriber
	planGen     PlanGenerator
	detailGen   DetailGenerator
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates an ingestion pipeline.
func New(buffer *recording.Buffer, gateway Gateway, transcriber Transcriber,
	planGen PlanGenerator, detailGen DetailGenerator, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		buffer:      buffer,
		gateway:     gateway,
		transcriber: transcriber,
		planGen:     planGen,
		detailGen:   detailGen,
		metrics:     m,
		logger:      logger,
	}
}

// EndRecording processes the end-of-recording signal for recordingID on
// behalf of userEmail. On success the generated plan has been durably
// committed. Whatever the outcome, the session's temp file and buffer
// entry are gone when this returns; the only exceptions are the NotFound
// short-circuit (nothing existed to clean up) and a duplicate end signal,
// which must not disturb the in-flight run that owns the session.
func (p *Pipeline) EndRecording(ctx context.Context, recordingID, userEmail string) error {
	session, err := p.buffer.MarkProcessing(recordingID)
	if err != nil {
		switch {
		case errors.Is(err, recording.ErrAlreadyProcessing):
			return fmt.Errorf("%w: recording %s is already being processed", ErrStateConflict, recordingID)

		case errors.Is(err, recording.ErrUnknownRecording):
			// No session. A backing file on disk means a prior run
			// crashed mid-processing; report the inconsistency and
			// delete the orphan so it cannot outlive this call.
			path := p.buffer.FilePathFor(recordingID)
			if _, statErr := os.Stat(path); statErr == nil {
				p.removeFile(recordingID, path)
				return fmt.Errorf("%w: orphaned audio file for recording %s", ErrStateConflict, recordingID)
			}
			return fmt.Errorf("%w: %s", ErrNotFound, recordingID)

		default:
			return fmt.Errorf("%w: %v", ErrStateConflict, err)
		}
	}

	startTime := time.Now()

	// Cleanup is unconditional from here on: the file is deleted and the
	// buffer entry removed on every exit path, including panics.
	defer func() {
		p.removeFile(recordingID, session.FilePath)
		p.buffer.Remove(recordingID)
		p.metrics.SetActiveRecordings(p.buffer.ActiveCount())
	}()

	err = p.process(ctx, session, userEmail)

	elapsed := time.Since(startTime)
	if err != nil {
		p.metrics.RecordRecordingFailed(Category(err), elapsed.Seconds())
		p.logger.Error("Recording processing failed",
			slog.String("recording_id", recordingID),
			slog.String("category", Category(err)),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return err
	}

	p.metrics.RecordRecordingCompleted(elapsed.Seconds())
	p.logger.Info("Recording processed",
		slog.String("recording_id", recordingID),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// process runs pipeline stages 2-7; cleanup is handled by the caller.
func (p *Pipeline) process(ctx context.Context, session *recording.Session, userEmail string) error {
	employee, err := p.gateway.EmployeeByEmail(ctx, userEmail)
	if err != nil {
		return fmt.Errorf("%w: employee lookup: %v", ErrPersistence, err)
	}
	if employee == nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userEmail)
	}

	fi, err := os.Stat(session.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileMissing, session.FilePath)
		}
		return fmt.Errorf("%w: %v", ErrFileMissing, err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%w: recording %s", ErrEmptyAudio, session.ID)
	}

	transcribeStart := time.Now()
	transcript, err := p.transcriber.Transcribe(ctx, session.FilePath)
	p.metrics.TranscriptionDuration.Observe(time.Since(transcribeStart).Seconds())
	if err != nil {
		return fmt.Errorf("%w: transcription: %v", ErrTransport, err)
	}

	draft, details, err := p.generate(ctx, session, transcript)
	if err != nil {
		return err
	}

	return p.persist(ctx, employee, draft, details)
}

// generate runs the two model stages. An empty or whitespace-only
// transcript is not an error: a minimal plan is synthesized and neither
// model is called.
func (p *Pipeline) generate(ctx context.Context, session *recording.Session, transcript string) (planner.PlanDraft, planner.Details, error) {
	if strings.TrimSpace(transcript) == "" {
		p.metrics.EmptyTranscripts.Inc()
		p.logger.Info("No speech detected, synthesizing minimal plan",
			slog.String("recording_id", session.ID),
		)

		draft := planner.PlanDraft{
			Title:   "Meeting Recording " + time.Now().Format("2006-01-02 15:04"),
			Summary: "No speech was detected in this recording.",
		}
		return draft, planner.Details{}, nil
	}

	planStart := time.Now()
	draft, err := p.planGen.Generate(ctx, transcript)
	p.metrics.PlanDuration.Observe(time.Since(planStart).Seconds())
	if err != nil {
		if errors.Is(err, planner.ErrMalformedResponse) {
			return planner.PlanDraft{}, planner.Details{}, fmt.Errorf("%w: %v", ErrPlanParse, err)
		}
		return planner.PlanDraft{}, planner.Details{}, fmt.Errorf("%w: plan generation: %v", ErrTransport, err)
	}

	actionTitles := make([]string, 0, len(draft.Actions))
	for _, a := range draft.Actions {
		actionTitles = append(actionTitles, a.Title)
	}

	// Detail generation is best-effort: the plan is worth more than its
	// enrichment, so any failure here degrades to empty details.
	detailStart := time.Now()
	details, err := p.detailGen.Generate(ctx, draft.Summary, actionTitles)
	p.metrics.DetailDuration.Observe(time.Since(detailStart).Seconds())
	if err != nil {
		p.metrics.DetailDegradations.Inc()
		p.logger.Warn("Detail generation failed, persisting plan without enrichment",
			slog.String("recording_id", session.ID),
			slog.String("error", err.Error()),
		)
		details = planner.Details{}
	}

	return draft, details, nil
}

// persist commits the plan and all of its actions in one transaction.
func (p *Pipeline) persist(ctx context.Context, employee *store.Employee, draft planner.PlanDraft, details planner.Details) error {
	plan := &store.ActionPlan{
		Title:       draft.Title,
		Description: draft.Summary,
		Workflow:    details.Workflow,
		EmployeeID:  employee.ID,
	}

	actions := make([]*store.Action, 0, len(draft.Actions)+len(details.Steps))

	for _, item := range draft.Actions {
		actions = append(actions, &store.Action{
			Title:       item.Title,
			Description: item.Description,
			DueDate:     item.DueDate,
			Priority:    string(item.Priority),
			Status:      string(item.Status),
		})
	}

	for _, step := range details.Steps {
		step = strings.TrimSpace(step)
		if step == "" {
			continue
		}

		title := step
		description := ""
		if len(title) > detailTitleMaxLen {
			title = truncate(step, detailTitleMaxLen)
			description = step
		}

		actions = append(actions, &store.Action{
			Title:       title,
			Description: description,
			Code:        details.CategoryCode,
			Priority:    string(planner.PriorityMedium),
			Status:      string(planner.StatusPending),
		})
	}

	persistStart := time.Now()
	if err := p.gateway.SaveActionPlan(ctx, plan, actions); err != nil {
		p.metrics.PersistenceDuration.Observe(time.Since(persistStart).Seconds())
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	p.metrics.RecordPersistence(len(actions), time.Since(persistStart).Seconds())

	return nil
}

func (p *Pipeline) removeFile(recordingID, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Error removing temp audio file",
			slog.String("recording_id", recordingID),
			slog.String("file_path", path),
			slog.String("error", err.Error()),
		)
	}
}

// truncate shortens s to max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
