package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidScore      = errors.New("invalid score")
	ErrInvalidSnapshot   = errors.New("invalid feature snapshot")
	ErrStalePrediction   = errors.New("stale prediction")
	ErrLedgerWrite       = errors.New("ledger write failed")
	ErrNotFound          = errors.New("not found")
	ErrOpenAlertExists   = errors.New("open alert already exists for asset")
	ErrScoringTimeout    = errors.New("scoring timed out")
	ErrAlreadyResolved   = errors.New("alert already resolved")
	ErrPredictionSettled = errors.New("prediction no longer pending")
)

// InvalidScoreError rejects a model output outside its [0,100] domain.
type InvalidScoreError struct {
	Field string
	Value float64
}

func (e *InvalidScoreError) Error() string {
	return fmt.Sprintf("invalid %s %.4f: must be within [0,100]", e.Field, e.Value)
}

func (e *InvalidScoreError) Is(target error) bool {
	return target == ErrInvalidScore
}

// StalePredictionError rejects a prediction captured before the state already applied.
type StalePredictionError struct {
	AssetID    string
	CapturedAt time.Time
	AppliedAt  time.Time
}

func (e *StalePredictionError) Error() string {
	return fmt.Sprintf("stale prediction for asset %s: captured %s before applied %s",
		e.AssetID, e.CapturedAt.Format(time.RFC3339Nano), e.AppliedAt.Format(time.RFC3339Nano))
}

func (e *StalePredictionError) Is(target error) bool {
	return target == ErrStalePrediction
}

// LedgerWriteError wraps a persistence failure on a write path. It is retryable.
type LedgerWriteError struct {
	Op  string
	Err error
}

func NewLedgerWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LedgerWriteError{Op: op, Err: err}
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write %s: %v", e.Op, e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

func (e *LedgerWriteError) Is(target error) bool {
	return target == ErrLedgerWrite
}
