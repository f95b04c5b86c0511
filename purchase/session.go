package purchase

// Session reports the app's authentication state. Implementations are
// supplied by the surrounding app; the engine never reaches for a global.
type Session interface {
	// UserID returns the authenticated account identifier, or empty when no
	// account exists yet (e.g. during signup).
	UserID() string

	// IsSignedIn reports whether a user session is active, including an
	// in-progress signup session that has no account identifier yet.
	IsSignedIn() bool

	// IsUnlocked reports whether the app vault is unlocked. Purchased
	// transactions are left in the platform queue while locked.
	IsUnlocked() bool

	// ActiveUsername is shown in the identity-mismatch bypass prompt.
	ActiveUsername() string
}

// Alerter is the engine's only UI surface. Both calls may complete
// asynchronously on an arbitrary goroutine.
type Alerter interface {
	ShowError(err error)

	// ConfirmBypass asks whether a transaction made by a different account
	// should be processed for username anyway. Exactly one of confirm or
	// decline is eventually invoked.
	ConfirmBypass(username string, err error, confirm func(), decline func())
}
