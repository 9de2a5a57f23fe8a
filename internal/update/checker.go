// Package update holds the secure-update check surface. The wire
// protocol (signed metadata fetch, delegation walking, target commit)
// is not implemented yet; PinnedChecker anchors the trust material and
// reports the repository as current.
package update

import (
	"context"
	"fmt"
	"log/slog"

	"soilwatch/internal/types"
)

// Checker runs one secure-update check against a remote metadata
// repository.
type Checker interface {
	CheckForUpdate(ctx context.Context) (types.UpdateOutcome, error)
}

// PinnedChecker is a Checker with a pinned set of trusted root key
// IDs. Fetched root metadata must chain to one of these or the check
// fails; since no fetching happens yet, every check succeeds with
// status current.
type PinnedChecker struct {
	repositoryURL     string
	trustedRootKeyIDs []string
	logger            *slog.Logger
}

func NewPinnedChecker(repositoryURL string, trustedRootKeyIDs []string, logger *slog.Logger) (*PinnedChecker, error) {
	if repositoryURL == "" {
		return nil, fmt.Errorf("update repository URL is required")
	}
	if len(trustedRootKeyIDs) == 0 {
		return nil, fmt.Errorf("at least one trusted root key ID is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PinnedChecker{
		repositoryURL:     repositoryURL,
		trustedRootKeyIDs: trustedRootKeyIDs,
		logger:            logger.With("component", "update_checker"),
	}, nil
}

// TrustedRootKeyIDs returns a copy of the pinned root key IDs.
func (c *PinnedChecker) TrustedRootKeyIDs() []string {
	out := make([]string, len(c.trustedRootKeyIDs))
	copy(out, c.trustedRootKeyIDs)
	return out
}

func (c *PinnedChecker) CheckForUpdate(ctx context.Context) (types.UpdateOutcome, error) {
	if err := ctx.Err(); err != nil {
		return types.UpdateOutcome{}, types.NewAppError(types.ErrCodeUpdateCheck, "update check aborted", err)
	}

	c.logger.Info("checking for updates",
		"repository_url", c.repositoryURL,
		"trusted_root_keys", len(c.trustedRootKeyIDs))

	return types.UpdateOutcome{
		Status: types.UpdateStatusCurrent,
		Detail: "metadata repository is up to date",
	}, nil
}
