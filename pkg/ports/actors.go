package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Actors is the set of external operations the conversation machine can invoke.
// Every call returns within a bounded time, either with a result or an error.
type Actors interface {
	RunDialogueTurn(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error)
	ConnectLiveAgent(ctx context.Context, sessionID string) (domain.HandoverOutput, error)
	RelayToLiveAgent(ctx context.Context, sessionID, agentID, message string) error
	SendTranscript(ctx context.Context, sessionID, email string) error
}
