package core

// orchestrator.go drives one import run for one target.
//
// Records are handled strictly in source order and one at a time: the cursor
// written after record n is the only resume marker, so record n+1 is never
// read before that write completes. The cursor is written after every record
// (submitted, skipped, or failed to map), and on a fatal error it is written
// before the error is returned.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/qaimport/internal/logging"
)

// Orchestrator runs imports against a session connector and a progress store.
type Orchestrator struct {
	connect Connector
	store   ProgressStore
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(connect Connector, store ProgressStore) *Orchestrator {
	return &Orchestrator{connect: connect, store: store}
}

// run carries the mutable state of a single Run call.
type run struct {
	target   Target
	opts     RunOptions
	result   *RunResult
	progress RunProgress
	log      *slog.Logger
}

func (r *run) status(msg string) {
	r.progress.Message = msg
	if r.opts.OnStatus != nil {
		r.opts.OnStatus(msg)
	}
}

func (r *run) enter(phase RunPhase) {
	r.result.Phase = phase
	r.progress.Phase = phase
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(r.progress)
	}
}

// fail records err on the result and moves to aborted, or cancelled when
// the context was cancelled.
func (r *run) fail(err error) error {
	r.result.Error = err.Error()
	r.progress.Error = FormatUserError(err)
	phase := PhaseAborted
	if errors.Is(err, context.Canceled) {
		phase = PhaseCancelled
	}
	r.log.Error("run stopped", "phase", phase, "ref", r.result.Failed, "error", err)
	r.status(FormatUserError(err))
	r.enter(phase)
	return err
}

// Run imports the target's records. The returned result is never nil; the
// error is one of AuthError, SourceError, MappingError, SubmitError, a
// progress store error, or the context's error on cancellation.
func (o *Orchestrator) Run(ctx context.Context, t Target, opts RunOptions) (*RunResult, error) {
	r := &run{
		target: t,
		opts:   opts,
		result: &RunResult{
			RunID:     opts.RunID,
			TargetID:  t.ID,
			Phase:     PhaseIdle,
			DryRun:    opts.DryRun,
			StartedAt: time.Now(),
		},
		progress: RunProgress{RunID: opts.RunID, TargetID: t.ID, Phase: PhaseIdle},
		log:      logging.WithFields(logging.WithRunID(ctx, opts.RunID), "target", t.ID),
	}
	defer func() { r.result.Duration = time.Since(r.result.StartedAt) }()

	err := o.run(ctx, r)
	return r.result, err
}

func (o *Orchestrator) run(ctx context.Context, r *run) error {
	res := r.result

	r.status("Connecting to QATrack+ Server...")
	r.enter(PhaseConnecting)
	session, err := o.connect(ctx)
	if err != nil {
		return r.fail(err)
	}
	r.enter(PhaseAuthenticated)

	kind := r.target.Source.CursorKind()
	rng := r.opts.Range
	if rng.Start.IsZero() {
		stored, ok, err := o.store.Load(ctx, r.target.ID, kind)
		if err != nil {
			return r.fail(fmt.Errorf("load progress for %s: %w", r.target.ID, err))
		}
		if ok {
			rng.Start = stored
		}
	}

	batch, err := r.target.Source.Open(ctx, rng)
	if err != nil {
		var se *SourceError
		if !errors.As(err, &se) {
			err = &SourceError{Err: err}
		}
		return r.fail(err)
	}
	defer batch.Close()

	res.Range = batch.Range()
	res.Total = batch.Len()
	res.Resume = res.Range.Start
	r.progress.Total = res.Total
	r.log.Info("records in range", "range", res.Range.String(), "count", res.Total, "dry_run", r.opts.DryRun)

	if res.Total == 0 {
		res.NoData = true
		res.Summary = fmt.Sprintf("No data to import from %s.", res.Range)
		r.log.Info(res.Summary)
		r.status(res.Summary)
		r.enter(PhaseCompleted)
		return nil
	}

	r.enter(PhaseIterating)
	var last Record
	for i := 0; i < res.Total; i++ {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}

		rec, err := batch.Record(ctx, i)
		if err != nil {
			var se *SourceError
			if !errors.As(err, &se) {
				err = &SourceError{Ref: fmt.Sprintf("record %d of %d", i+1, res.Total), Err: err}
			}
			if perr := o.persist(ctx, r, res.Resume); perr != nil {
				err = errors.Join(err, perr)
			}
			return r.fail(err)
		}
		last = rec

		r.progress.Current = i + 1
		r.progress.Ref = rec.Ref
		r.status(fmt.Sprintf("Reading record: %d of %d [%s]", i+1, res.Total, rec.Ref))
		r.log.Info("reading record", "ref", rec.Ref, "index", i+1, "total", res.Total)

		mapped, mapErr := r.target.Mapper.Map(rec)

		// The record counts as attempted from here on.
		res.Resume = rec.Next
		r.progress.Cursor = rec.Next

		if mapErr != nil {
			res.Failed = rec.Ref
			if perr := o.persist(ctx, r, res.Resume); perr != nil {
				mapErr = errors.Join(mapErr, perr)
			}
			return r.fail(mapErr)
		}

		var submitErr error
		switch {
		case mapped.Skip:
			res.Skipped++
			r.log.Info("skipping record with no activity", "ref", rec.Ref)
		case r.opts.DryRun:
			res.Mapped++
			r.log.Debug("dry run form", "ref", rec.Ref, "form", mapped.Form)
		default:
			res.Mapped++
			r.enter(PhaseSubmitting)
			r.log.Info("submitting record", "ref", rec.Ref)
			if _, err := session.Submit(ctx, r.target.ID, mapped.Form); err != nil {
				submitErr = withRef(err, r.target.ID, rec.Ref)
				res.Failed = rec.Ref
			} else {
				res.Submitted++
			}
		}
		res.Processed++
		r.progress.Submitted = res.Submitted
		r.progress.Skipped = res.Skipped

		r.enter(PhaseAdvancing)
		if perr := o.persist(ctx, r, res.Resume); perr != nil {
			if submitErr != nil {
				return r.fail(errors.Join(submitErr, perr))
			}
			res.Failed = rec.Ref
			return r.fail(perr)
		}
		if submitErr != nil {
			return r.fail(submitErr)
		}
		r.enter(PhaseIterating)
	}

	verb := "Imported"
	if r.opts.DryRun {
		verb = "Dry run read"
	}
	res.Summary = fmt.Sprintf("%s %d records from %s to %s (%d submitted, %d skipped).",
		verb, res.Processed, res.Range.Start, last.Cursor, res.Submitted, res.Skipped)
	r.log.Info(res.Summary)
	r.status(res.Summary)
	r.progress.Current = res.Total
	r.enter(PhaseCompleted)
	return nil
}

// persist writes the resume cursor unless the run is a dry run. The write
// survives cancellation of ctx so a cancelled run still records its position.
func (o *Orchestrator) persist(ctx context.Context, r *run, c Cursor) error {
	if r.opts.DryRun || c.IsZero() {
		return nil
	}
	if err := o.store.Save(context.WithoutCancel(ctx), r.target.ID, c); err != nil {
		return fmt.Errorf("save progress for %s: %w", r.target.ID, err)
	}
	return nil
}

// withRef attaches the record reference to a SubmitError, wrapping plain
// errors so callers can always match *SubmitError.
func withRef(err error, targetID, ref string) error {
	var se *SubmitError
	if errors.As(err, &se) {
		se.Ref = ref
		if se.TargetID == "" {
			se.TargetID = targetID
		}
		return err
	}
	return &SubmitError{TargetID: targetID, Ref: ref, Err: err}
}
