// Package actor models the authenticated identities a scenario acts as and
// the capabilities each role has in the ShotBuzz UI.
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
)

// Role is a ShotBuzz user role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleHead       Role = "head"
	RoleSupervisor Role = "supervisor"
	RoleTeamLead   Role = "team_lead"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleAdmin, RoleHead, RoleSupervisor, RoleTeamLead}

// ParseRole accepts the config key or a display name such as "Team Lead" or "tl".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(s))) {
	case "admin":
		return RoleAdmin, nil
	case "head":
		return RoleHead, nil
	case "supervisor":
		return RoleSupervisor, nil
	case "team_lead", "teamlead", "tl":
		return RoleTeamLead, nil
	}
	return "", failure.New(failure.KindConfig, "unknown role %q", s)
}

// Capabilities is the fixed permission set of a role.
type Capabilities struct {
	CanCreateShots      bool
	CanChangeStatus     bool
	CanAssignSupervisor bool
	CanAssignTeamLead   bool
	// DashboardLabel matches the sidebar entry that opens the shot list.
	DashboardLabel *regexp.Regexp
}

var dashboardLabel = regexp.MustCompile(`(?i)^\s*(Headshots|Shots?)\s*$`)

var capabilities = map[Role]Capabilities{
	RoleAdmin: {
		CanCreateShots:  true,
		CanChangeStatus: true,
		DashboardLabel:  dashboardLabel,
	},
	RoleHead: {
		CanAssignSupervisor: true,
		DashboardLabel:      dashboardLabel,
	},
	RoleSupervisor: {
		CanAssignTeamLead: true,
		DashboardLabel:    regexp.MustCompile(`(?i)^\s*Shots?\s*$`),
	},
	RoleTeamLead: {
		DashboardLabel: dashboardLabel,
	},
}

// CapabilitiesOf returns the capability set of r. Unknown roles get none.
func CapabilitiesOf(r Role) Capabilities {
	c, ok := capabilities[r]
	if !ok {
		return Capabilities{DashboardLabel: dashboardLabel}
	}
	return c
}

// Require returns a Permission error when the role lacks a capability.
func (c Capabilities) Require(r Role, allowed bool, op string) error {
	if allowed {
		return nil
	}
	return failure.New(failure.KindPermission, "role %s cannot %s", r, op)
}

// Credentials are a login pair.
type Credentials struct {
	Email    string `json:"email" mapstructure:"email"`
	Password string `json:"password" mapstructure:"password"`
}

// IsZero reports whether no credentials were configured.
func (c Credentials) IsZero() bool {
	return c.Email == "" && c.Password == ""
}

// Session is an authenticated identity bound to one scenario.
type Session struct {
	Role         Role
	Credentials  Credentials
	Token        string
	ExpiresAt    time.Time
	Capabilities Capabilities
	OpenedAt     time.Time
}

// Authenticator performs the UI login of a role.
type Authenticator interface {
	// Login signs in and returns the bearer token the backend issued.
	Login(ctx context.Context, creds Credentials) (string, error)
	Logout(ctx context.Context) error
}

// Manager owns the single active session of a scenario.
type Manager struct {
	mu      sync.Mutex
	auth    Authenticator
	creds   map[Role]Credentials
	current *Session
	logger  *log.Logger
}

// NewManager creates a session manager. A nil logger discards output.
func NewManager(auth Authenticator, creds map[Role]Credentials, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{auth: auth, creds: creds, logger: logger}
}

// Open logs role in. A scenario holds at most one session, so opening a
// second one before Close is an error.
func (m *Manager) Open(ctx context.Context, role Role) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, failure.New(failure.KindSetupFailure, "session for %s already open", m.current.Role)
	}
	if m.auth == nil {
		return nil, failure.New(failure.KindSetupFailure, "no authenticator for role %s", role)
	}
	creds, ok := m.creds[role]
	if !ok || creds.IsZero() {
		return nil, failure.New(failure.KindConfig, "no credentials configured for role %s", role)
	}

	m.logger.Printf("-> Logging in as %s (%s)", role, creds.Email)
	token, err := m.auth.Login(ctx, creds)
	if err != nil {
		if failure.KindOf(err) != "" {
			return nil, err
		}
		return nil, failure.Wrap(err, failure.KindSetupFailure, fmt.Sprintf("login as %s", role))
	}
	if token == "" {
		return nil, failure.New(failure.KindSetupFailure, "login as %s returned no token", role)
	}

	s := &Session{
		Role:         role,
		Credentials:  creds,
		Token:        token,
		ExpiresAt:    TokenExpiry(token),
		Capabilities: CapabilitiesOf(role),
		OpenedAt:     time.Now(),
	}
	m.current = s
	m.logger.Printf("[PASS] Logged in as %s", role)
	return s, nil
}

// Current returns the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close logs the active session out. It is a no-op without one.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	m.current = nil
	return m.auth.Logout(ctx)
}

// TokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens yield the zero time.
func TokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// ExtractToken pulls the bearer token out of a login response body. The
// backend has used token, accessToken and data.token over time.
func ExtractToken(body []byte) (string, error) {
	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"accessToken"`
		Data        struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", failure.Wrap(err, failure.KindSetupFailure, "decode login response")
	}
	for _, t := range []string{resp.Token, resp.AccessToken, resp.Data.Token} {
		if t != "" {
			return t, nil
		}
	}
	return "", failure.New(failure.KindSetupFailure, "login response carries no token")
}
