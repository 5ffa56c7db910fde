package qr

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultSize   = 256
	dataURLPrefix = "data:image/png;base64,"
)

var ErrEmptyChallenge = errors.New("challenge is empty")

// Renderer turns pairing challenges into PNG data URLs that a browser can
// show directly in an <img> tag.
type Renderer struct {
	size  int
	level qrcode.RecoveryLevel
}

var _ ports.ChallengeRenderer = (*Renderer)(nil)

func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}

	return &Renderer{size: size, level: qrcode.Medium}
}

func (r *Renderer) Render(challenge string) (string, error) {
	if challenge == "" {
		return "", ErrEmptyChallenge
	}

	png, err := qrcode.Encode(challenge, r.level, r.size)
	if err != nil {
		return "", fmt.Errorf("encode qr png: %w", err)
	}

	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// TerminalRenderer renders challenges as half-block text for sessions paired
// from a terminal.
type TerminalRenderer struct{}

var _ ports.ChallengeRenderer = TerminalRenderer{}

func (TerminalRenderer) Render(challenge string) (string, error) {
	return Terminal(challenge)
}

// Terminal renders challenge with half-block characters for a terminal.
func Terminal(challenge string) (string, error) {
	if challenge == "" {
		return "", ErrEmptyChallenge
	}

	code, err := qrcode.New(challenge, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	return code.ToSmallString(false), nil
}

// DecodeDataURL returns the PNG bytes of a data URL produced by Render.
func DecodeDataURL(dataURL string) ([]byte, error) {
	if len(dataURL) < len(dataURLPrefix) || dataURL[:len(dataURLPrefix)] != dataURLPrefix {
		return nil, errors.New("not a png data url")
	}

	png, err := base64.StdEncoding.DecodeString(dataURL[len(dataURLPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode png data url: %w", err)
	}

	return png, nil
}
