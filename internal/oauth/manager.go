// Package oauth owns OAuth2 token state for publishers that need it:
// interactive authorization (PKCE for X, standard flow for LinkedIn),
// proactive refresh before expiry, and reactive refresh after a 401.
// No other package mutates token state.
package oauth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/logging"
)

// ErrReauthorizeRequired means the refresh path is dead: an operator
// has to rerun the interactive flow before this publisher can send.
var ErrReauthorizeRequired = errors.New("reauthorize required")

// refreshSkew: refresh proactively this long before the token expires.
const refreshSkew = 5 * time.Minute

var xEndpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

var linkedinEndpoint = oauth2.Endpoint{
	AuthURL:   "https://www.linkedin.com/oauth/v2/authorization",
	TokenURL:  "https://www.linkedin.com/oauth/v2/accessToken",
	AuthStyle: oauth2.AuthStyleInParams,
}

type tokenState struct {
	access       string
	refresh      string
	expiry       time.Time
	unauthorized bool
}

// Manager serializes all token mutation per publisher id.
type Manager struct {
	configPath string

	mu     sync.Mutex
	states map[string]*tokenState
	confs  map[string]*oauth2.Config

	group singleflight.Group

	// Input for the interactive paste-code step, stdin by default.
	Input io.Reader
}

func NewManager(configPath string, publishers map[string]*config.Publisher) *Manager {
	m := &Manager{
		configPath: configPath,
		states:     make(map[string]*tokenState),
		confs:      make(map[string]*oauth2.Config),
	}

	for id, p := range publishers {
		switch p.Type {
		case config.KindX, config.KindLinkedIn:
		default:
			continue
		}

		redirect := p.RedirectURI
		if redirect == "" {
			redirect = "https://127.0.0.1"
		}

		conf := &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  redirect,
		}
		if p.Type == config.KindX {
			conf.Endpoint = xEndpoint
			conf.Scopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}
		} else {
			conf.Endpoint = linkedinEndpoint
			conf.Scopes = []string{"w_member_social", "openid", "profile", "email"}
		}

		m.confs[id] = conf
		m.states[id] = &tokenState{
			access:  p.AccessToken,
			refresh: p.RefreshToken,
			expiry:  p.TokenExpiry,
		}
	}

	return m
}

// Manages reports whether the manager owns token state for this publisher.
func (m *Manager) Manages(publisherID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.confs[publisherID]
	return ok
}

// Token returns a valid access token, refreshing it first when expiry
// is within the skew window. Concurrent callers share one refresh.
func (m *Manager) Token(ctx context.Context, publisherID string) (string, error) {
	m.mu.Lock()
	st, ok := m.states[publisherID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("publisher %q: no oauth state", publisherID)
	}
	if st.unauthorized {
		m.mu.Unlock()
		return "", fmt.Errorf("publisher %q: %w", publisherID, ErrReauthorizeRequired)
	}
	if st.access != "" && (st.expiry.IsZero() || time.Now().Before(st.expiry.Add(-refreshSkew))) {
		token := st.access
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	// singleflight keys on publisher id, so two sends hitting the skew
	// window together trigger exactly one refresh.
	v, err, _ := m.group.Do(publisherID, func() (any, error) {
		return m.refresh(ctx, publisherID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached access token after an auth-expired
// response, so the next Token call refreshes.
func (m *Manager) Invalidate(publisherID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[publisherID]; ok {
		st.access = ""
	}
}

func (m *Manager) refresh(ctx context.Context, publisherID string) (string, error) {
	m.mu.Lock()
	st := m.states[publisherID]
	conf := m.confs[publisherID]
	refreshToken := st.refresh
	m.mu.Unlock()

	if refreshToken == "" {
		m.markUnauthorized(publisherID)
		return "", fmt.Errorf("publisher %q: no refresh token: %w", publisherID, ErrReauthorizeRequired)
	}

	logging.Logger.Info("refreshing access token", "publisher", publisherID)

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		m.markUnauthorized(publisherID)
		logging.Logger.Error("token refresh failed", "publisher", publisherID, "err", err)
		return "", fmt.Errorf("publisher %q: refresh failed (%v): %w", publisherID, err, ErrReauthorizeRequired)
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	m.storeToken(publisherID, tok)

	return tok.AccessToken, nil
}

func (m *Manager) markUnauthorized(publisherID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[publisherID]; ok {
		st.unauthorized = true
	}
}

// storeToken updates in-memory state and persists it through the
// config write-back immediately.
func (m *Manager) storeToken(publisherID string, tok *oauth2.Token) {
	m.mu.Lock()
	st := m.states[publisherID]
	st.access = tok.AccessToken
	st.refresh = tok.RefreshToken
	st.expiry = tok.Expiry
	st.unauthorized = false
	m.mu.Unlock()

	err := config.SaveTokens(m.configPath, publisherID, config.TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		logging.Logger.Error("persist tokens failed", "publisher", publisherID, "err", err)
	}
}

// Authorize runs the interactive flow: print the authorization URL,
// read the pasted code, exchange it, persist the tokens. For X the
// exchange carries a PKCE verifier, generated here and discarded as
// soon as the function returns.
func (m *Manager) Authorize(ctx context.Context, publisherID string, out io.Writer) error {
	m.mu.Lock()
	conf, ok := m.confs[publisherID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("publisher %q is not an oauth publisher", publisherID)
	}

	state := uuid.NewString()
	pkce := conf.Endpoint == xEndpoint

	var authURL, verifier string
	if pkce {
		verifier = oauth2.GenerateVerifier()
		authURL = conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	} else {
		authURL = conf.AuthCodeURL(state)
	}

	fmt.Fprintf(out, "Open this URL in your browser:\n\n  %s\n\n", authURL)
	fmt.Fprint(out, "Authorize the application, then paste the code from the redirect URL: ")

	code, err := m.readCode()
	if err != nil {
		return err
	}

	var tok *oauth2.Token
	if pkce {
		tok, err = conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	} else {
		tok, err = conf.Exchange(ctx, code)
	}
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	m.storeToken(publisherID, tok)
	fmt.Fprintf(out, "\nTokens saved for publisher %q (expires %s).\n", publisherID, tok.Expiry.Format(time.RFC3339))
	return nil
}

func (m *Manager) readCode() (string, error) {
	in := m.Input
	if in == nil {
		return "", errors.New("no input configured for interactive flow")
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read code: %w", err)
		}
		return "", errors.New("no code provided")
	}
	code := strings.TrimSpace(scanner.Text())
	if code == "" {
		return "", errors.New("no code provided")
	}
	return code, nil
}
