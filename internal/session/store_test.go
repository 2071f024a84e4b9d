package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docketwatch/docketwatch/internal/docket"
	"github.com/docketwatch/docketwatch/internal/storage"
)

// fakePage simulates the portal login surface. The login form is rendered
// only while unauthenticated.
type fakePage struct {
	authenticated bool
	// loginWorks controls whether completing the form flips the session.
	loginWorks bool

	cookies  []byte
	imported [][]byte
	fills    map[string]string
	clicks   []string
	navs     []string
	selected map[string]string
	checks   map[string]bool
}

func newFakePage() *fakePage {
	return &fakePage{
		loginWorks: true,
		cookies:    []byte(`[{"name":"sid","value":"abc"}]`),
		fills:      map[string]string{},
		selected:   map[string]string{},
		checks:     map[string]bool{},
	}
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.navs = append(f.navs, url)
	return nil
}

func (f *fakePage) ElementCount(_ context.Context, sel string) (int, error) {
	if sel == selUserID && !f.authenticated {
		return 1, nil
	}
	return 0, nil
}

func (f *fakePage) Fill(_ context.Context, sel, value string) error {
	f.fills[sel] = value
	return nil
}

func (f *fakePage) Click(_ context.Context, sel string) error {
	f.clicks = append(f.clicks, sel)
	if sel == selNext && f.loginWorks {
		f.authenticated = true
	}
	return nil
}

func (f *fakePage) WaitVisible(context.Context, string, time.Duration) error { return nil }

func (f *fakePage) WaitGone(_ context.Context, sel string, _ time.Duration) error {
	if sel == selPassword && !f.authenticated {
		return fmt.Errorf("%w: %s still present", docket.ErrNavigationTimeout, sel)
	}
	return nil
}

func (f *fakePage) ExportCookies(context.Context) ([]byte, error) {
	return f.cookies, nil
}

func (f *fakePage) ImportCookies(_ context.Context, blob []byte) error {
	f.imported = append(f.imported, blob)
	return nil
}

func (f *fakePage) SetChecked(_ context.Context, sel string, checked bool) error {
	f.checks[sel] = checked
	return nil
}

func (f *fakePage) SelectOption(_ context.Context, sel, value string) (string, error) {
	prev := f.selected[sel]
	f.selected[sel] = value
	return prev, nil
}

func testManager(page Page, blobs docket.BlobStore, cfg Config) *Manager {
	store := NewStore(blobs, "state/session.json", nil)
	return NewManager(store, page, Credentials{User: "user@example.com", Pass: "hunter2"}, cfg, nil)
}

func TestStoreLoadReturnsEmptyStateOnMissingBlob(t *testing.T) {
	t.Parallel()
	store := NewStore(storage.NewMemory(), "state/session.json", nil)
	state := store.Load(context.Background())
	require.True(t, state.Empty())
}

func TestStoreLoadReturnsEmptyStateOnCorruptBlob(t *testing.T) {
	t.Parallel()
	blobs := storage.NewMemory()
	require.NoError(t, blobs.PutObject(context.Background(), "state/session.json", "application/json", []byte("{not json")))

	store := NewStore(blobs, "state/session.json", nil)
	state := store.Load(context.Background())
	require.True(t, state.Empty(), "a corrupt blob must force a fresh login, not an error")
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	blobs := storage.NewMemory()
	store := NewStore(blobs, "state/session.json", nil)

	saved := docket.SessionState{Cookies: []byte(`[{"name":"sid"}]`), SavedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, store.Save(context.Background(), saved))

	loaded := store.Load(context.Background())
	require.Equal(t, saved.Cookies, loaded.Cookies)
	require.Equal(t, saved.SavedAt, loaded.SavedAt)
}

func TestRestoreImportsPersistedCookies(t *testing.T) {
	t.Parallel()
	blobs := storage.NewMemory()
	store := NewStore(blobs, "state/session.json", nil)
	require.NoError(t, store.Save(context.Background(), docket.SessionState{
		Cookies: []byte(`[{"name":"sid"}]`),
		SavedAt: time.Now().UTC(),
	}))

	page := newFakePage()
	m := NewManager(store, page, Credentials{}, Config{PortalURL: "https://portal.example/"}, nil)
	require.NoError(t, m.Restore(context.Background()))
	require.Len(t, page.imported, 1)
}

func TestEnsureAuthenticatedSkipsLoginWhenSessionHolds(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	page.authenticated = true
	blobs := storage.NewMemory()

	m := testManager(page, blobs, Config{PortalURL: "https://portal.example/"})
	require.NoError(t, m.EnsureAuthenticated(context.Background()))
	require.Empty(t, page.fills, "no form interaction when already authenticated")
	_, err := blobs.GetObject(context.Background(), "state/session.json")
	require.Error(t, err, "no state rewrite when the session held")
}

func TestEnsureAuthenticatedRunsLoginAndSavesState(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	blobs := storage.NewMemory()

	m := testManager(page, blobs, Config{PortalURL: "https://portal.example/"})
	require.NoError(t, m.EnsureAuthenticated(context.Background()))

	require.Equal(t, "user@example.com", page.fills[selUserID])
	require.Equal(t, "hunter2", page.fills[selPassword])
	require.Equal(t, []string{selSignInNext, selNext}, page.clicks, "identifier must be submitted before the password")

	blob, err := blobs.GetObject(context.Background(), "state/session.json")
	require.NoError(t, err)
	var state docket.SessionState
	require.NoError(t, json.Unmarshal(blob, &state))
	require.Equal(t, page.cookies, state.Cookies)
	require.False(t, state.SavedAt.IsZero())
}

func TestEnsureAuthenticatedMissingCredentials(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	m := NewManager(NewStore(storage.NewMemory(), "k", nil), page, Credentials{}, Config{PortalURL: "https://portal.example/"}, nil)

	err := m.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, docket.ErrAuth)
}

func TestEnsureAuthenticatedLoginFailure(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	page.loginWorks = false
	m := testManager(page, storage.NewMemory(), Config{PortalURL: "https://portal.example/"})

	err := m.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, docket.ErrAuth)
}

func TestSelectClientIDWalksForm(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	m := testManager(page, storage.NewMemory(), Config{
		PortalURL:     "https://portal.example/",
		ClientIDURL:   "https://portal.example/client",
		ClientIDValue: "42",
	})

	require.NoError(t, m.SelectClientID(context.Background()))
	require.Contains(t, page.navs, "https://portal.example/client")
	require.True(t, page.checks["#recent"])
	require.Equal(t, "42", page.selected["select.clientIds"])
	require.Contains(t, page.clicks, "input.submit-client")
}

func TestSelectClientIDNoopWithoutURL(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	m := testManager(page, storage.NewMemory(), Config{PortalURL: "https://portal.example/"})
	require.NoError(t, m.SelectClientID(context.Background()))
	require.Empty(t, page.navs)
}
