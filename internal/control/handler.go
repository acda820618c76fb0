package control

import (
	"context"
	"fmt"

	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/sentinel"
	"github.com/qorelogic/sentinel/internal/types"
)

// Daemon is the part of the sentinel daemon served over the socket
type Daemon interface {
	Status() sentinel.Status
	AuditFile(ctx context.Context, path string) (*types.Verdict, error)
	ValidateClaim(ctx context.Context, agentID string, artifacts []string) (*types.Verdict, error)
}

// ChainVerifier checks the ledger hash chain
type ChainVerifier interface {
	VerifyChain(ctx context.Context) (ledger.ChainReport, error)
}

// DaemonHandler routes commands to d. Verification is refused when chain is
// nil.
func DaemonHandler(d Daemon, chain ChainVerifier) HandlerFunc {
	return func(ctx context.Context, cmd Command) (any, error) {
		switch cmd.Type {
		case CommandStatus:
			return d.Status(), nil
		case CommandAudit:
			if cmd.Path == "" {
				return nil, fmt.Errorf("path is required")
			}
			return d.AuditFile(ctx, cmd.Path)
		case CommandClaim:
			return d.ValidateClaim(ctx, cmd.AgentID, cmd.Artifacts)
		case CommandVerify:
			if chain == nil {
				return nil, fmt.Errorf("ledger verification is not available")
			}
			return chain.VerifyChain(ctx)
		default:
			return nil, fmt.Errorf("unknown command %q", cmd.Type)
		}
	}
}
