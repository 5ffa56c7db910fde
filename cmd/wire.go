package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	credfile "github.com/bnema/whatsapp-accounts-broker/internal/adapters/credentials/file"
	"github.com/bnema/whatsapp-accounts-broker/internal/adapters/protocol/whatsapp"
	"github.com/bnema/whatsapp-accounts-broker/internal/adapters/render/qr"
	sessionsrender "github.com/bnema/whatsapp-accounts-broker/internal/adapters/render/sessions"
	tomlrepo "github.com/bnema/whatsapp-accounts-broker/internal/adapters/repo/toml"
	"github.com/bnema/whatsapp-accounts-broker/internal/adapters/transport/ws"
	"github.com/bnema/whatsapp-accounts-broker/internal/application"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	keyListen          = "listen"
	keyServer          = "server"
	keyDataDir         = "data_dir"
	keyAccountsPath    = "accounts.path"
	keyCredentialsDir  = "credentials.dir"
	keyQRSize          = "qr.size"
	keyMaxReconnects   = "reconnect.max_consecutive"
	keyScanTimeout     = "scan.timeout"
	keyScanInterval    = "scan.check_interval"
	keyRestore         = "restore"
	keyLogLevel        = "log.level"
	keyLogFormat       = "log.format"
	keyAllowedOrigins  = "cors.allowed_origins"
	keyDeviceName      = "device.name"
	defaultListen      = "127.0.0.1:3000"
	defaultDeviceName  = "wab"
	credentialsDirName = "sessions"
	httpTimeout        = 30 * time.Second
)

type app struct {
	cfg             *viper.Viper
	httpClient      *http.Client
	now             func() time.Time
	sessionRenderer func([]application.SessionSummary, sessionsrender.RenderOptions) (string, error)
	protocolClient  func(*slog.Logger) ports.ProtocolClient
}

// broker is the long-running object graph behind `wab serve`.
type broker struct {
	registry *application.Registry
	server   *ws.Server
	watchdog *application.ScanWatchdog
}

func wireApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:             cfg,
		httpClient:      &http.Client{Timeout: httpTimeout},
		now:             time.Now,
		sessionRenderer: sessionsrender.Render,
		protocolClient: func(logger *slog.Logger) ports.ProtocolClient {
			return whatsapp.NewClient(whatsapp.Options{
				Logger: logger.With("component", "whatsapp"),
				OSName: cfg.GetString(keyDeviceName),
			})
		},
	}, nil
}

// loadConfig layers defaults, config.toml, .env and WAB_* environment
// variables, in increasing precedence.
func loadConfig() (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg := viper.New()
	listen := defaultListen
	if port := os.Getenv("PORT"); port != "" {
		listen = ":" + port
	}
	cfg.SetDefault(keyListen, listen)
	cfg.SetDefault(keyDataDir, filepath.Join(homeDir, ".local", "share", "wab"))
	cfg.SetDefault(keyQRSize, qr.DefaultSize)
	cfg.SetDefault(keyMaxReconnects, application.DefaultMaxConsecutiveReconnects)
	cfg.SetDefault(keyScanTimeout, application.DefaultScanTimeout)
	cfg.SetDefault(keyScanInterval, application.DefaultScanCheckInterval)
	cfg.SetDefault(keyRestore, true)
	cfg.SetDefault(keyLogLevel, "info")
	cfg.SetDefault(keyLogFormat, "text")
	cfg.SetDefault(keyAllowedOrigins, []string{"*"})
	cfg.SetDefault(keyDeviceName, defaultDeviceName)

	cfg.SetEnvPrefix("WAB")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	cfg.SetConfigType("toml")
	if path := os.Getenv("WAB_CONFIG"); path != "" {
		cfg.SetConfigFile(path)
	} else {
		cfg.SetConfigName("config")
		cfg.AddConfigPath(filepath.Join(homeDir, ".config", "wab"))
	}

	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return cfg, nil
}

func newLogger(cfg *viper.Viper, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.GetString(keyLogLevel))); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch format := cfg.GetString(keyLogFormat); format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func (a *app) credentialsDir() string {
	if dir := a.cfg.GetString(keyCredentialsDir); dir != "" {
		return dir
	}
	return filepath.Join(a.cfg.GetString(keyDataDir), credentialsDirName)
}

func (a *app) wireRegistry(logger *slog.Logger, renderer ports.ChallengeRenderer) (*application.Registry, error) {
	accounts, err := tomlrepo.NewRepository(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("wire account journal: %w", err)
	}

	return application.NewRegistry(
		a.protocolClient(logger),
		credfile.NewLocator(a.credentialsDir()),
		renderer,
		nil,
		application.RegistryConfig{
			Accounts:                 accounts,
			Clock:                    ports.SystemClock{},
			Logger:                   logger,
			MaxConsecutiveReconnects: a.cfg.GetInt(keyMaxReconnects),
		},
	), nil
}

func (a *app) wireBroker(logger *slog.Logger) (*broker, error) {
	registry, err := a.wireRegistry(logger, qr.NewRenderer(a.cfg.GetInt(keyQRSize)))
	if err != nil {
		return nil, err
	}

	return &broker{
		registry: registry,
		server: ws.NewServer(registry, ws.Options{
			Logger:         logger.With("component", "transport"),
			AllowedOrigins: a.cfg.GetStringSlice(keyAllowedOrigins),
		}),
		watchdog: application.NewScanWatchdog(
			registry,
			a.cfg.GetDuration(keyScanTimeout),
			a.cfg.GetDuration(keyScanInterval),
			ports.SystemClock{},
			logger,
		),
	}, nil
}

// serverURL resolves the broker base URL for client commands: the --server
// flag, then the server key, then the address `wab serve` would listen on.
func (a *app) serverURL(flag string) string {
	if flag != "" {
		return strings.TrimRight(flag, "/")
	}
	if server := a.cfg.GetString(keyServer); server != "" {
		return strings.TrimRight(server, "/")
	}

	listen := a.cfg.GetString(keyListen)
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
