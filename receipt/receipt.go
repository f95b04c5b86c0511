// Package receipt provides access to the app-store purchase receipt that
// backs every reported transaction.
package receipt

import (
	"encoding/base64"
	"os"

	"github.com/pkg/errors"
)

// ErrReceiptLost means the receipt could not be read from disk. The purchase
// cannot be proven to the backend, so retrying the transaction will not help.
var ErrReceiptLost = errors.New("app store receipt is missing")

// Provider reads the current base64-encoded receipt.
type Provider interface {
	Read() (string, error)
}

// FileProvider reads the receipt from the app bundle location.
type FileProvider struct {
	path string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Read() (string, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return "", ErrReceiptLost
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// StaticProvider serves a fixed receipt, for tests and the simulator.
type StaticProvider struct {
	Receipt string
	Err     error
}

func (p *StaticProvider) Read() (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	return p.Receipt, nil
}
