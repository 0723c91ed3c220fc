// Package watermark computes the time window the next run should process.
//
// The lower bound follows the newest record already written to the output
// (so nothing is processed twice); the upper bound trails the newest record
// in the input by a safety margin (so late-arriving log lines land before
// their window is read).
package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/usertrack/internal/model"
)

// Defaults for Tracker fields left zero.
const (
	DefaultSafetyMargin = 60 * time.Second
	DefaultStep         = time.Second
)

// ErrNoWatermark is matched by every *UnavailableError.
var ErrNoWatermark = errors.New("watermark unavailable")

// Source reports the newest record timestamp of one side of the pipeline.
// The boolean is false when the source holds no records.
type Source interface {
	MaxTimestamp(ctx context.Context) (time.Time, bool, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (time.Time, bool, error)

// MaxTimestamp calls f.
func (f SourceFunc) MaxTimestamp(ctx context.Context) (time.Time, bool, error) {
	return f(ctx)
}

// UnavailableError reports which side had no usable watermark. Err is nil
// when the source was reachable but empty.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s watermark unavailable: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s watermark unavailable: no records", e.Source)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is matches ErrNoWatermark.
func (e *UnavailableError) Is(target error) bool { return target == ErrNoWatermark }

// Tracker derives processing windows from two watermark sources.
type Tracker struct {
	// Output is the newest already-processed record.
	Output Source
	// Input is the newest ingested record.
	Input Source

	SafetyMargin time.Duration
	Step         time.Duration
}

// NextWindow returns [output max + step, input max - safety margin], both
// truncated to whole seconds in model.Zone. When the bounds cross the window
// is returned as is and reports Empty; callers skip the run.
func (t Tracker) NextWindow(ctx context.Context) (model.Window, error) {
	margin := t.SafetyMargin
	if margin == 0 {
		margin = DefaultSafetyMargin
	}
	step := t.Step
	if step == 0 {
		step = DefaultStep
	}

	out, err := watermarkOf(ctx, "output", t.Output)
	if err != nil {
		return model.Window{}, err
	}
	in, err := watermarkOf(ctx, "input", t.Input)
	if err != nil {
		return model.Window{}, err
	}

	return model.Window{
		From: out.Truncate(time.Second).Add(step).In(model.Zone),
		To:   in.Truncate(time.Second).Add(-margin).In(model.Zone),
	}, nil
}

func watermarkOf(ctx context.Context, name string, src Source) (time.Time, error) {
	if src == nil {
		return time.Time{}, &UnavailableError{Source: name, Err: errors.New("no source configured")}
	}
	ts, ok, err := src.MaxTimestamp(ctx)
	if err != nil {
		return time.Time{}, &UnavailableError{Source: name, Err: err}
	}
	if !ok {
		return time.Time{}, &UnavailableError{Source: name}
	}
	return ts, nil
}
