package ports

import (
	"context"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
)

// CredentialLocator hands out one isolated storage location per account.
// Locate must be deterministic: the same id always yields the same location.
type CredentialLocator interface {
	Locate(ctx context.Context, id domain.AccountID) (string, error)
	Purge(ctx context.Context, id domain.AccountID) error
}
