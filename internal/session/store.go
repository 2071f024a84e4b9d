// Package session persists the authenticated portal session across runs and
// performs the login flow when the stored state has gone stale.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// Page is the subset of browser operations the session layer drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	ElementCount(ctx context.Context, sel string) (int, error)
	Fill(ctx context.Context, sel, value string) error
	Click(ctx context.Context, sel string) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	WaitGone(ctx context.Context, sel string, timeout time.Duration) error
	ExportCookies(ctx context.Context) ([]byte, error)
	ImportCookies(ctx context.Context, blob []byte) error
	SetChecked(ctx context.Context, sel string, checked bool) error
	SelectOption(ctx context.Context, sel, value string) (string, error)
}

// Portal selectors for the two-step login form and the login probe.
const (
	selUserID     = "#userid"
	selSignInNext = "#signInSbmtBtn"
	selPassword   = "#password"
	selNext       = "#next"
)

// Credentials holds the portal login pair.
type Credentials struct {
	User string
	Pass string
}

// Config controls the session manager.
type Config struct {
	PortalURL     string
	StateKey      string
	LoginTimeout  time.Duration
	ClientIDURL   string
	ClientIDValue string
}

// Store loads and saves the opaque session blob in the blob store. Load
// failures are treated as "no session" rather than surfacing an error, so a
// missing or corrupt blob just forces a fresh login.
type Store struct {
	blobs  docket.BlobStore
	key    string
	logger *zap.Logger
}

// NewStore wires a blob-backed session store.
func NewStore(blobs docket.BlobStore, key string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{blobs: blobs, key: key, logger: logger}
}

// Load returns the persisted session state, or an empty state if none is
// usable.
func (s *Store) Load(ctx context.Context) docket.SessionState {
	blob, err := s.blobs.GetObject(ctx, s.key)
	if err != nil {
		s.logger.Info("no stored session state", zap.String("key", s.key), zap.Error(err))
		return docket.SessionState{}
	}
	var state docket.SessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		s.logger.Warn("stored session state is malformed, ignoring", zap.String("key", s.key), zap.Error(err))
		return docket.SessionState{}
	}
	return state
}

// Save persists the session state.
func (s *Store) Save(ctx context.Context, state docket.SessionState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := s.blobs.PutObject(ctx, s.key, "application/json", blob); err != nil {
		return fmt.Errorf("%w: save session state: %w", docket.ErrStorage, err)
	}
	return nil
}

// Manager combines the store with the live page to restore, probe and renew
// authentication.
type Manager struct {
	store  *Store
	page   Page
	creds  Credentials
	cfg    Config
	logger *zap.Logger
}

// NewManager constructs a session manager for one run.
func NewManager(store *Store, page Page, creds Credentials, cfg Config, logger *zap.Logger) *Manager {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, page: page, creds: creds, cfg: cfg, logger: logger}
}

// Restore loads any persisted state into the browser before first
// navigation. A missing blob is not an error.
func (m *Manager) Restore(ctx context.Context) error {
	state := m.store.Load(ctx)
	if state.Empty() {
		m.logger.Info("starting with a fresh browser session")
		return nil
	}
	if err := m.page.ImportCookies(ctx, state.Cookies); err != nil {
		m.logger.Warn("failed to restore session cookies, continuing fresh", zap.Error(err))
		return nil
	}
	m.logger.Info("restored session state", zap.Time("saved_at", state.SavedAt))
	return nil
}

// IsAuthenticated probes the current page for the login form. The portal
// renders the user-id field only when unauthenticated.
func (m *Manager) IsAuthenticated(ctx context.Context) (bool, error) {
	count, err := m.page.ElementCount(ctx, selUserID)
	if err != nil {
		return false, fmt.Errorf("login probe: %w", err)
	}
	return count == 0, nil
}

// EnsureAuthenticated navigates to the portal and, if the login form is
// present, runs the two-step login and persists the fresh session
// immediately so a later crash still benefits the next run.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	if err := m.page.Navigate(ctx, m.cfg.PortalURL); err != nil {
		return fmt.Errorf("open portal: %w", err)
	}
	ok, err := m.IsAuthenticated(ctx)
	if err != nil {
		return err
	}
	if ok {
		m.logger.Info("stored session still authenticated")
		return nil
	}

	m.logger.Info("stored session rejected, logging in")
	if m.creds.User == "" || m.creds.Pass == "" {
		return fmt.Errorf("%w: missing portal credentials", docket.ErrAuth)
	}
	if err := m.login(ctx); err != nil {
		return fmt.Errorf("%w: %w", docket.ErrAuth, err)
	}

	cookies, err := m.page.ExportCookies(ctx)
	if err != nil {
		return fmt.Errorf("snapshot session: %w", err)
	}
	state := docket.SessionState{Cookies: cookies, SavedAt: time.Now().UTC()}
	if err := m.store.Save(ctx, state); err != nil {
		return err
	}
	m.logger.Info("login complete, session state saved")
	return nil
}

// login drives the sequential two-field form: the identifier is submitted
// first, which makes the password field appear.
func (m *Manager) login(ctx context.Context) error {
	if err := m.page.WaitVisible(ctx, selUserID, m.cfg.LoginTimeout); err != nil {
		return fmt.Errorf("wait for user field: %w", err)
	}
	if err := m.page.Fill(ctx, selUserID, m.creds.User); err != nil {
		return fmt.Errorf("fill user: %w", err)
	}
	if err := m.page.Click(ctx, selSignInNext); err != nil {
		return fmt.Errorf("submit user: %w", err)
	}
	if err := m.page.WaitVisible(ctx, selPassword, m.cfg.LoginTimeout); err != nil {
		return fmt.Errorf("wait for password field: %w", err)
	}
	if err := m.page.Fill(ctx, selPassword, m.creds.Pass); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := m.page.Click(ctx, selNext); err != nil {
		return fmt.Errorf("submit password: %w", err)
	}
	if err := m.page.WaitGone(ctx, selPassword, m.cfg.LoginTimeout); err != nil {
		return fmt.Errorf("wait for login to settle: %w", err)
	}
	return nil
}

// SelectClientID walks the post-login client-ID page, choosing the
// configured client before billing-sensitive searches. It is a no-op when
// no client-ID URL is configured.
func (m *Manager) SelectClientID(ctx context.Context) error {
	if m.cfg.ClientIDURL == "" {
		return nil
	}
	if err := m.page.Navigate(ctx, m.cfg.ClientIDURL); err != nil {
		return fmt.Errorf("open client-id page: %w", err)
	}
	if err := m.page.SetChecked(ctx, "#recent", true); err != nil {
		return fmt.Errorf("check recent clients: %w", err)
	}
	if err := m.page.WaitVisible(ctx, "select.clientIds", 30*time.Second); err != nil {
		return fmt.Errorf("wait for client list: %w", err)
	}
	if _, err := m.page.SelectOption(ctx, "select.clientIds", m.cfg.ClientIDValue); err != nil {
		return fmt.Errorf("select client: %w", err)
	}
	if err := m.page.Click(ctx, "input.submit-client"); err != nil {
		return fmt.Errorf("submit client: %w", err)
	}
	m.logger.Info("client id set", zap.String("client", m.cfg.ClientIDValue))
	return nil
}
