package version

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/bnema/whatsapp-accounts-broker/internal/version.Version=v0.3.0" ./cmd/wab
var Version = "dev"
