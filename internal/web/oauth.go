package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/devtrackhq/devtrack/internal/config"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const oauthStateCookie = "devtrack_oauth_state"

// ErrNoVerifiedEmail is returned when a provider profile carries no usable
// email address. Accounts are keyed by email, so the login cannot proceed.
var ErrNoVerifiedEmail = errors.New("oauth profile has no email")

// Profile is the subset of a provider identity DevTrack needs.
type Profile struct {
	Subject     string
	Email       string
	DisplayName string
}

// profileFetcher loads the provider profile with an authorized client.
type profileFetcher func(ctx context.Context, client *http.Client) (*Profile, error)

type oauthProvider struct {
	name    string
	config  *oauth2.Config
	profile profileFetcher
}

// OAuthManager runs the authorization-code flow for the configured providers.
type OAuthManager struct {
	providers map[string]*oauthProvider
	logger    zerolog.Logger
}

// NewOAuthManager builds the provider table from configuration. Disabled
// providers are simply absent, the handlers answer 404 for them.
func NewOAuthManager(cfg config.OAuthConfig, baseURL string, logger zerolog.Logger) *OAuthManager {
	m := &OAuthManager{
		providers: make(map[string]*oauthProvider),
		logger:    logger.With().Str("component", "oauth").Logger(),
	}

	if cfg.GitHub.Enabled {
		m.providers["github"] = &oauthProvider{
			name: "github",
			config: &oauth2.Config{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				Endpoint:     github.Endpoint,
				RedirectURL:  baseURL + "/api/auth/oauth/github/callback",
				Scopes:       []string{"read:user", "user:email"},
			},
			profile: fetchGitHubProfile,
		}
	}

	if cfg.Google.Enabled {
		m.providers["google"] = &oauthProvider{
			name: "google",
			config: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				Endpoint:     google.Endpoint,
				RedirectURL:  baseURL + "/api/auth/oauth/google/callback",
				Scopes:       []string{"openid", "email", "profile"},
			},
			profile: fetchGoogleProfile,
		}
	}

	return m
}

// Provider returns the named provider, or nil when it is not configured.
func (m *OAuthManager) Provider(name string) *oauthProvider {
	return m.providers[name]
}

// handleOAuthRedirect starts the authorization flow for a provider.
func (s *Server) handleOAuthRedirect(w http.ResponseWriter, r *http.Request) {
	provider := s.oauth.Provider(mux.Vars(r)["provider"])
	if provider == nil {
		writeError(w, http.StatusNotFound, "Unknown login provider")
		return
	}

	state, err := generateState()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate OAuth state")
		writeError(w, http.StatusInternalServerError, "Failed to start login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(10 * time.Minute),
	})

	http.Redirect(w, r, provider.config.AuthCodeURL(state), http.StatusFound)
}

// handleOAuthCallback finishes the authorization flow, resolving or creating
// the local account and issuing a session.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := s.oauth.Provider(mux.Vars(r)["provider"])
	if provider == nil {
		writeError(w, http.StatusNotFound, "Unknown login provider")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "Invalid OAuth state")
		return
	}

	// The state cookie is single use.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	token, err := provider.config.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error().Err(err).Str("provider", provider.name).Msg("OAuth code exchange failed")
		writeError(w, http.StatusBadGateway, "Login provider rejected the request")
		return
	}

	profile, err := provider.profile(r.Context(), provider.config.Client(r.Context(), token))
	if err != nil {
		if errors.Is(err, ErrNoVerifiedEmail) {
			writeError(w, http.StatusNotFound, "No usable email address on the provider account")
			return
		}
		s.logger.Error().Err(err).Str("provider", provider.name).Msg("Failed to fetch OAuth profile")
		writeError(w, http.StatusBadGateway, "Failed to load profile from login provider")
		return
	}

	user, err := s.resolveOAuthUser(r.Context(), provider.name, profile)
	if err != nil {
		s.logger.Error().Err(err).Str("provider", provider.name).Msg("Failed to resolve OAuth user")
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	session, jwtToken, err := s.auth.CreateSession(r.Context(), user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	s.setAuthCookies(w, jwtToken, session)

	s.logger.Info().
		Str("provider", provider.name).
		Str("email", user.Email).
		Msg("User logged in via OAuth")

	http.Redirect(w, r, s.config.BaseURL+"/", http.StatusFound)
}

// resolveOAuthUser finds the account for a provider identity. Lookup order
// is provider subject first, then email to link an existing local account,
// then a fresh account.
func (s *Server) resolveOAuthUser(ctx context.Context, provider string, profile *Profile) (*storage.User, error) {
	users := s.store.Users()

	user, err := users.GetByOAuthSubject(ctx, provider, profile.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup by subject: %w", err)
	}

	user, err = users.GetByEmail(ctx, profile.Email)
	if err == nil {
		// Link the provider identity to the existing account.
		user.OAuthProvider = provider
		user.OAuthSubject = profile.Subject
		user.UpdatedAt = time.Now()
		if err := users.Upsert(ctx, *user); err != nil {
			return nil, fmt.Errorf("link provider identity: %w", err)
		}
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup by email: %w", err)
	}

	now := time.Now()
	created := storage.User{
		ID:            uuid.NewString(),
		Email:         profile.Email,
		DisplayName:   profile.DisplayName,
		OAuthProvider: provider,
		OAuthSubject:  profile.Subject,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := users.Upsert(ctx, created); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.mailer != nil {
		if err := s.mailer.EnqueueWelcome(ctx, created); err != nil {
			s.logger.Warn().Err(err).Str("email", created.Email).Msg("Failed to enqueue welcome mail")
		}
	}

	return &created, nil
}

func fetchGitHubProfile(ctx context.Context, client *http.Client) (*Profile, error) {
	var ghUser struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := getJSON(ctx, client, "https://api.github.com/user", &ghUser); err != nil {
		return nil, err
	}

	email := ghUser.Email
	if email == "" {
		// Profile email can be hidden, the emails endpoint still lists it.
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, "https://api.github.com/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}
	if email == "" {
		return nil, ErrNoVerifiedEmail
	}

	displayName := ghUser.Name
	if displayName == "" {
		displayName = ghUser.Login
	}

	return &Profile{
		Subject:     fmt.Sprintf("%d", ghUser.ID),
		Email:       email,
		DisplayName: displayName,
	}, nil
}

func fetchGoogleProfile(ctx context.Context, client *http.Client) (*Profile, error) {
	var gUser struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := getJSON(ctx, client, "https://openidconnect.googleapis.com/v1/userinfo", &gUser); err != nil {
		return nil, err
	}

	if gUser.Email == "" || !gUser.EmailVerified {
		return nil, ErrNoVerifiedEmail
	}

	return &Profile{
		Subject:     gUser.Sub,
		Email:       gUser.Email,
		DisplayName: gUser.Name,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// generateState generates a random OAuth state value.
func generateState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
