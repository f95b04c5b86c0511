package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// PurchaseIdentity uniquely identifies one in-flight purchase attempt.
//
// HashedUserID is empty for purchases made before the user authenticated.
// The zero value is not a valid identity.
type PurchaseIdentity struct {
	ProductID    string
	HashedUserID string
}

func NewPurchaseIdentity(productID, hashedUserID string) PurchaseIdentity {
	return PurchaseIdentity{
		ProductID:    productID,
		HashedUserID: hashedUserID,
	}
}

// HashUserID derives the one-way hash attached to platform payments, so a
// transaction can later be matched to the account that initiated it without
// exposing the raw identifier to the platform.
func HashUserID(userID string) string {
	if len(userID) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}
