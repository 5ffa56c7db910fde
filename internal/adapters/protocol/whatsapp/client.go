package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	_ "modernc.org/sqlite"
)

const (
	deviceDBFile = "device.db"
	sqliteDriver = "sqlite"
	storeDialect = "sqlite3"
)

var errEmptyLocation = errors.New("credential location is empty")

type Options struct {
	Logger *slog.Logger
	// OSName is the device name shown in the phone's linked devices list.
	OSName string
}

// Client opens one whatsmeow client per connection attempt, backed by a
// sqlite device store inside the account's credential directory.
type Client struct {
	logger *slog.Logger
}

var _ ports.ProtocolClient = (*Client)(nil)

var osInfoOnce sync.Once

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.OSName != "" {
		osInfoOnce.Do(func() {
			store.SetOSInfo(opts.OSName, [3]uint32{1, 0, 0})
		})
	}

	return &Client{logger: logger}
}

func (c *Client) Connect(ctx context.Context, id domain.AccountID, location string) (ports.ProtocolHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if location == "" {
		return nil, errEmptyLocation
	}

	logger := c.logger.With("account", id)
	waLogger := newLogger(logger)

	db, err := sql.Open(sqliteDriver, deviceDSN(filepath.Join(location, deviceDBFile)))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	container := sqlstore.NewWithDB(db, storeDialect, waLogger.Sub("store"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLogger.Sub("client"))
	client.EnableAutoReconnect = false

	return newHandle(id, client, db, logger), nil
}

func deviceDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
