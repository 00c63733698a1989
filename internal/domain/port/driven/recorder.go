package driven

import (
	"time"

	"github.com/ericfisherdev/contactlink/internal/domain/model"
)

// ResolveRecorder receives reconciliation telemetry.
type ResolveRecorder interface {
	ObserveResolve(outcome model.ResolveOutcome, elapsed time.Duration)
	ObserveFailure(reason string)
	ObserveRetry()
}
