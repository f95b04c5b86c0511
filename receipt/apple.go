package receipt

import (
	"github.com/devsisters/go-applereceipt"
	"github.com/devsisters/go-applereceipt/applepki"
	"github.com/pkg/errors"
)

// Validator checks a receipt locally before it is shipped to the backend.
type Validator interface {
	Validate(encodedReceipt string) error
}

// BundleValidator verifies that the receipt was issued for this app's bundle.
// The backend does its own full verification; this only catches receipts that
// could never be accepted, before a network round trip.
type BundleValidator struct {
	bundleID string
}

func NewBundleValidator(bundleID string) *BundleValidator {
	return &BundleValidator{bundleID: bundleID}
}

func (v *BundleValidator) Validate(encodedReceipt string) error {
	decoded, err := applereceipt.DecodeBase64(encodedReceipt, applepki.CertPool())
	if err != nil {
		return errors.Wrap(ErrReceiptLost, err.Error())
	}

	if decoded.BundleIdentifier != v.bundleID {
		return errors.Errorf("receipt belongs to bundle %q, not %q", decoded.BundleIdentifier, v.bundleID)
	}
	return nil
}

// NoopValidator skips local validation, for stores whose receipts are not in
// the App Store envelope format.
type NoopValidator struct{}

func (NoopValidator) Validate(string) error { return nil }
