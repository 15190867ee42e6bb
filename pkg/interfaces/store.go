package interfaces

import (
	"context"

	"lingolink/pkg/types"
)

// TranscriptStore keeps translated utterances for the lifetime of their
// classroom session only: late joiners get a bounded replay in their
// language, and the teacher can scroll back during class. Purge removes a
// classroom's entries when the session expires; nothing survives it.
type TranscriptStore interface {
	Append(ctx context.Context, unit *types.TranslationUnit) error
	Recent(ctx context.Context, code, language string, limit int) ([]*types.TranslationUnit, error)
	Purge(ctx context.Context, code string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
