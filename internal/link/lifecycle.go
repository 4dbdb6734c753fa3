package link

import (
	"time"

	appLog "icalsynchub/internal/log"
	"icalsynchub/internal/token"
)

// Lifecycle couples the token store with its derived filesystem artifacts so
// every CRUD action carries its side effects, whether it is triggered by the
// admin surface or by the sync loop's per-cycle sweep.
type Lifecycle struct {
	store *token.Store
	art   Artifacts
	now   func() time.Time
}

// NewLifecycle wires a store to an artifact manager.
func NewLifecycle(store *token.Store, art Artifacts) *Lifecycle {
	return &Lifecycle{store: store, art: art, now: time.Now}
}

// SetNowFunc overrides the lifecycle clock; used by tests.
func (l *Lifecycle) SetNowFunc(now func() time.Time) {
	l.now = now
}

// Create issues a token and publishes its artifacts when it is not born
// expired. An artifact failure does not undo the token: the next sweep
// retries creation.
func (l *Lifecycle) Create(owner string, expiry *time.Time) (token.Token, error) {
	t, err := l.store.Create(owner, expiry)
	if err != nil {
		return token.Token{}, err
	}
	if t.Active(l.now()) {
		if _, err := l.art.Ensure(t); err != nil {
			appLog.Error("token created but artifact creation failed; next sweep retries", err, "token", t.Token)
		}
	}
	return t, nil
}

// Remove deletes the token record and tears down its artifacts.
func (l *Lifecycle) Remove(tok string) error {
	t, err := l.store.Get(tok)
	if err != nil {
		return err
	}
	if err := l.store.Remove(tok); err != nil {
		return err
	}
	if _, err := l.art.Remove(t); err != nil {
		appLog.Error("token removed but artifact teardown failed; orphaned files remain", err, "token", tok)
	}
	return nil
}

// SetExpiry updates the expiry and reconciles that token's artifacts:
// a future or absent expiry recreates previously torn-down artifacts, a past
// one tears them down.
func (l *Lifecycle) SetExpiry(tok string, expiry *time.Time) error {
	if err := l.store.SetExpiry(tok, expiry); err != nil {
		return err
	}
	t, err := l.store.Get(tok)
	if err != nil {
		return err
	}

	if t.Active(l.now()) {
		_, err = l.art.Ensure(t)
	} else {
		_, err = l.art.Remove(t)
	}
	if err != nil {
		appLog.Error("expiry changed but artifact reconcile failed; next sweep retries", err, "token", tok)
	}
	return nil
}

// List returns all tokens; status derivation is the caller's concern since
// it depends on the reporting horizon.
func (l *Lifecycle) List() ([]token.Token, error) {
	return l.store.List()
}

// Sweep reconciles every token's artifacts against the current time. Called
// once per sync cycle; safe to call at any time and from admin contexts.
func (l *Lifecycle) Sweep() error {
	tokens, err := l.store.List()
	if err != nil {
		return err
	}
	l.art.Reconcile(tokens, l.now())
	return nil
}
