package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
	"github.com/iamanmiglani/Image-to-text/v1/metrics"
	"github.com/iamanmiglani/Image-to-text/v1/ocr"
	"github.com/iamanmiglani/Image-to-text/v1/render"
	"github.com/iamanmiglani/Image-to-text/v1/session"
	"github.com/iamanmiglani/Image-to-text/v1/turn"
)

var tracer = otel.Tracer("github.com/iamanmiglani/Image-to-text/v1/core")

// Upload submits a batch and runs recognition on it. Recognition runs to
// completion even if ctx is cancelled; a failure returns the session to the
// upload step with the turn kept.
func (a *App) Upload(ctx context.Context, p string, files []session.Upload) (session.Session, error) {
	ctx, span := tracer.Start(ctx, "core.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("participant", p), attribute.Int("files", len(files)))

	e := a.lock(p)
	if err := a.begin(ctx, e); err != nil {
		defer e.mu.Unlock()
		return e.s, err
	}
	next, err := e.s.Submit(files)
	if err != nil {
		defer e.mu.Unlock()
		return e.s, err
	}
	if err := a.touch(ctx, e); err != nil {
		defer e.mu.Unlock()
		return e.s, err
	}
	e.s = next
	e.mu.Unlock()

	inputs := make([]ocr.Input, len(files))
	for i, f := range files {
		inputs[i] = ocr.Input{Name: f.Name, ContentType: f.ContentType, Data: f.Data}
	}
	start := time.Now()
	stop := a.keepTurn(ctx, p)
	doc, xerr := a.extractor.Extract(context.WithoutCancel(ctx), inputs)
	stop()
	observe("extract", start, xerr)

	e = a.lock(p)
	defer e.mu.Unlock()
	if e.s.State != session.Extracting {
		if err := a.ended(e); err != nil {
			return e.s, err
		}
		return e.s, fmt.Errorf("session left extraction while it ran: %w", session.ErrOutOfOrder)
	}
	if xerr != nil {
		e.s, _ = e.s.FailExtraction()
		a.logger.Warn("extraction failed", "participant", p, "error", xerr)
		if err := a.touch(ctx, e); err != nil {
			return e.s, err
		}
		return e.s, xerr
	}
	e.s, _ = e.s.FinishExtraction(doc)
	a.logger.Info("extraction finished", "participant", p, "images", doc.Len(), "took", time.Since(start))
	if err := a.touch(ctx, e); err != nil {
		return e.s, err
	}
	return e.s, nil
}

// Generate renders the extracted document in format f, or in the format
// picked earlier when f is FormatNone, and keeps it for one download.
func (a *App) Generate(ctx context.Context, p string, f session.Format) (session.Session, error) {
	ctx, span := tracer.Start(ctx, "core.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("participant", p), attribute.String("format", f.String()))

	e := a.lock(p)
	if err := a.begin(ctx, e); err != nil {
		defer e.mu.Unlock()
		return e.s, err
	}
	next, err := e.s.BeginGeneration(f)
	if err != nil {
		defer e.mu.Unlock()
		return e.s, err
	}
	r, ok := a.renderers[next.Format]
	if !ok {
		defer e.mu.Unlock()
		return e.s, fmt.Errorf("%w: no renderer for %s", session.ErrUnknownFormat, next.Format)
	}
	if err := a.touch(ctx, e); err != nil {
		defer e.mu.Unlock()
		return e.s, err
	}
	e.s = next
	doc := e.s.Document
	e.mu.Unlock()

	start := time.Now()
	stop := a.keepTurn(ctx, p)
	file, gerr := render.Generate(context.WithoutCancel(ctx), r, doc)
	if gerr == nil {
		if err := a.artifacts.Set(context.WithoutCancel(ctx), p, file, a.artifactTTL); err != nil {
			gerr = fmt.Errorf("%w: keep generated document: %w", turnerrors.ErrStoreUnavailable, err)
		}
	}
	stop()
	observe("generate", start, gerr)

	e = a.lock(p)
	defer e.mu.Unlock()
	if e.s.State != session.Generating {
		if gerr == nil {
			_ = a.artifacts.Invalidate(context.Background(), p)
		}
		if err := a.ended(e); err != nil {
			return e.s, err
		}
		return e.s, fmt.Errorf("session left generation while it ran: %w", session.ErrOutOfOrder)
	}
	if gerr != nil {
		e.s, _ = e.s.FailGeneration()
		a.logger.Warn("generation failed", "participant", p, "format", next.Format.String(), "error", gerr)
		if err := a.touch(ctx, e); err != nil {
			return e.s, err
		}
		return e.s, gerr
	}
	e.s, _ = e.s.FinishGeneration(session.Artifact{
		Key:         p,
		FileName:    file.Name,
		ContentType: file.ContentType,
		Size:        file.Size(),
	})
	a.logger.Info("document generated", "participant", p, "file", file.Name, "bytes", file.Size())
	if err := a.touch(ctx, e); err != nil {
		return e.s, err
	}
	return e.s, nil
}

// keepTurn renews p's lease every renewEvery while an engine runs, so the
// turn cannot lapse under a busy session. Renewal stops when the returned
// func is called, when the lease is lost, or once the engine has run for
// maxEngineRun.
func (a *App) keepTurn(ctx context.Context, p string) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	began := a.now()
	go func() {
		defer close(done)
		ticker := time.NewTicker(a.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if ran := a.now().Sub(began); ran >= a.maxEngineRun {
				a.logger.Warn("engine run limit reached, turn no longer renewed", "participant", p, "ran", ran)
				return
			}
			if err := a.coord.Renew(ctx, p); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.logger.Warn("turn not renewed during engine run", "participant", p, "error", err)
				if errors.Is(err, turn.ErrLeaseLost) {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func observe(stage string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StageDuration.WithLabelValues(stage, outcome).Observe(time.Since(start).Seconds())
}
