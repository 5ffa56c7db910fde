package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
)

const storeDirMode = 0o700

// Locator keeps one credential directory per account under root.
type Locator struct {
	root string
	mu   sync.Mutex
}

var _ ports.CredentialLocator = (*Locator)(nil)

func NewLocator(root string) *Locator {
	return &Locator{root: filepath.Clean(root)}
}

func (l *Locator) Root() string {
	return l.root
}

// Locate returns the credential directory for id, creating it on first use.
func (l *Locator) Locate(ctx context.Context, id domain.AccountID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := l.pathForAccount(id)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(path, storeDirMode); err != nil {
		return "", fmt.Errorf("create credential directory: %w", err)
	}

	return path, nil
}

// Purge deletes everything stored for id. Missing directories are fine.
func (l *Locator) Purge(ctx context.Context, id domain.AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := l.pathForAccount(id)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("purge credential directory %q: %w", id, err)
	}

	return nil
}

func (l *Locator) pathForAccount(id domain.AccountID) (string, error) {
	parsed, err := domain.ParseAccountID(string(id))
	if err != nil {
		return "", err
	}

	path := filepath.Join(l.root, string(parsed))
	if filepath.Dir(path) != l.root {
		return "", fmt.Errorf("invalid credential location for %q: %w", id, domain.ErrInvalidAccountID)
	}

	return path, nil
}
