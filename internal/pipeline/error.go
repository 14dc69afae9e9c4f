package pipeline

import "fmt"

// Stage identifies where in the per-item pipeline an attempt was when it
// reached a terminal failure. A retry is a brand-new attempt; no stage is
// revisited within one.
type Stage string

const (
	StageValidating   Stage = "validating"
	StageTransforming Stage = "transforming"
	StageStoring      Stage = "storing"
	StageRecording    Stage = "recording"
)

// ItemError is the terminal failure of one item. Retryable tells the client
// whether requeueing the item can possibly succeed.
type ItemError struct {
	Stage     Stage
	Retryable bool
	Err       error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func rejected(stage Stage, err error) *ItemError {
	return &ItemError{Stage: stage, Retryable: false, Err: err}
}

func failed(stage Stage, retryable bool, err error) *ItemError {
	return &ItemError{Stage: stage, Retryable: retryable, Err: err}
}

func errContentMismatch(declared, actual string) error {
	return fmt.Errorf("content type mismatch: declared %s, actual %s", declared, actual)
}
