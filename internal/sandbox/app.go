// Package sandbox is an in-process stand-in for the ShotBuzz portal: a small
// REST API served with gin plus a simulated UI rendered into a
// locator.Snapshot. It backs dry runs of the suite and the package tests of
// everything above the locator layer.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
)

// Options tune how the sandbox misbehaves, so callers can exercise waiting
// and recovery paths.
type Options struct {
	// PropagationDelay is how long a write takes to become visible in the UI.
	PropagationDelay time.Duration
	// HideNewShotsUntilReload keeps newly created shots out of the table of
	// pages that were loaded before the shot existed.
	HideNewShotsUntilReload bool
	// SwallowFirstNavClick ignores the first sidebar click of each workspace.
	SwallowFirstNavClick bool
	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration
	// HOD is the display name of the head of department.
	HOD string
	// People lists the names offered by the role pickers.
	People []string
	// ArtifactsDir receives page outlines captured on failure. Empty disables
	// capture.
	ArtifactsDir string
	// Tick is how often open workspaces re-render. Defaults to 20ms.
	Tick   time.Duration
	Logger *log.Logger
}

// Shot is a record in the sandbox.
type Shot struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	HOD        string `json:"hod"`
	Complexity string `json:"complexity"`
	StartFrame int    `json:"actualStartFrame"`
	EndFrame   int    `json:"actualEndFrame"`
	Supervisor string `json:"supervisor,omitempty"`
	TeamLead   string `json:"teamLead,omitempty"`

	createdAt time.Time
	pending   []pendingChange
}

type pendingChange struct {
	at    time.Time
	apply func(*Shot)
}

type account struct {
	creds actor.Credentials
	role  actor.Role
}

var complexityLabels = map[int]string{1: "HARD", 2: "MEDIUM", 3: "EASY"}

// App holds the sandbox state shared by its API and every workspace.
type App struct {
	mu       sync.Mutex
	opts     Options
	accounts []account
	shots    []*Shot
	nextID   int
	tokens   *tokenIssuer
	logger   *log.Logger

	routerOnce sync.Once
	router     *gin.Engine
}

// NewApp creates a sandbox that accepts the given logins.
func NewApp(users map[actor.Role]actor.Credentials, opts Options) *App {
	if opts.TokenTTL == 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.HOD == "" {
		opts.HOD = "TravisHead"
	}
	if len(opts.People) == 0 {
		opts.People = []string{"Mitchel John", "Vidya Shree", "Arjun Rao"}
	}
	if opts.Tick <= 0 {
		opts.Tick = 20 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	a := &App{
		opts:   opts,
		nextID: 1,
		tokens: &tokenIssuer{secretKey: []byte("sandbox-secret"), tokenDuration: opts.TokenTTL},
		logger: opts.Logger,
	}
	for _, r := range actor.Roles {
		if c, ok := users[r]; ok && !c.IsZero() {
			a.accounts = append(a.accounts, account{creds: c, role: r})
		}
	}
	return a
}

// Shots returns a copy of every shot with pending changes applied.
func (a *App) Shots() []Shot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settleLocked(time.Now())
	out := make([]Shot, 0, len(a.shots))
	for _, s := range a.shots {
		out = append(out, *s)
	}
	return out
}

// People are the names offered by the role pickers.
func (a *App) People() []string {
	return append([]string(nil), a.opts.People...)
}

// Shot returns the named shot.
func (a *App) Shot(name string) (Shot, bool) {
	for _, s := range a.Shots() {
		if s.Name == name {
			return s, true
		}
	}
	return Shot{}, false
}

func (a *App) authenticate(email, password string) (actor.Role, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, acc := range a.accounts {
		if strings.EqualFold(acc.creds.Email, email) && acc.creds.Password == password {
			token, err := a.tokens.issue(acc.creds.Email, string(acc.role))
			return acc.role, token, err
		}
	}
	return "", "", errors.New("invalid credentials")
}

type createShotRequest struct {
	Name             string `json:"name" binding:"required"`
	Type             string `json:"type" binding:"required"`
	ActualStartFrame int    `json:"actualStartFrame"`
	ActualEndFrame   int    `json:"actualEndFrame"`
	ComplexityID     int    `json:"complexityId"`
}

func (a *App) createShot(req createShotRequest) (*Shot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.shots {
		if s.Name == req.Name {
			return nil, fmt.Errorf("shot %s already exists", req.Name)
		}
	}
	s := &Shot{
		ID:         a.nextID,
		Name:       req.Name,
		Type:       req.Type,
		Status:     "YTA",
		HOD:        a.opts.HOD,
		Complexity: complexityLabels[req.ComplexityID],
		StartFrame: req.ActualStartFrame,
		EndFrame:   req.ActualEndFrame,
		createdAt:  time.Now(),
	}
	a.nextID++
	a.shots = append(a.shots, s)
	a.logger.Printf("created shot %s", s.Name)
	out := *s
	return &out, nil
}

// assignRoles stages a supervisor and/or team lead change. Assigning a
// supervisor moves YTA to ATS and a team lead moves ATS to ATL once the
// change propagates.
func (a *App) assignRoles(name, supervisor, teamLead string) error {
	if _, ok := a.Shot(name); !ok {
		return fmt.Errorf("shot %s not found", name)
	}
	a.schedule(name, func(s *Shot) {
		if supervisor != "" {
			s.Supervisor = supervisor
			if s.Status == "YTA" {
				s.Status = "ATS"
			}
		}
		if teamLead != "" {
			s.TeamLead = teamLead
			if s.Status == "ATS" {
				s.Status = "ATL"
			}
		}
	})
	return nil
}

// schedule applies fn to the shot after the propagation delay.
func (a *App) schedule(name string, fn func(*Shot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.shots {
		if s.Name == name {
			s.pending = append(s.pending, pendingChange{at: time.Now().Add(a.opts.PropagationDelay), apply: fn})
		}
	}
}

func (a *App) settleLocked(now time.Time) {
	for _, s := range a.shots {
		kept := s.pending[:0]
		for _, p := range s.pending {
			if now.Before(p.at) {
				kept = append(kept, p)
				continue
			}
			p.apply(s)
		}
		s.pending = kept
	}
}

// Handler returns the sandbox REST API.
func (a *App) Handler() http.Handler {
	a.routerOnce.Do(a.buildRouter)
	return a.router
}

// call serves one request in process, the way the UI's fetch would.
func (a *App) call(method, path, token string, body []byte) (int, []byte) {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func (a *App) buildRouter() {
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		role, token, err := a.authenticate(req.Email, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"token": token, "role": role}})
	})

	api := r.Group("/api", a.requireToken)
	api.GET("/shots", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": a.Shots()})
	})
	api.POST("/shots", func(c *gin.Context) {
		claims := c.MustGet("claims").(*Claims)
		if claims.Role != string(actor.RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"message": "only admins create shots"})
			return
		}
		var req createShotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		s, err := a.createShot(req)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, s)
	})
	api.PUT("/shots/:name/roles", func(c *gin.Context) {
		claims := c.MustGet("claims").(*Claims)
		var req struct {
			Supervisor string `json:"supervisor"`
			TeamLead   string `json:"teamLead"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		caps := actor.CapabilitiesOf(actor.Role(claims.Role))
		if (req.Supervisor != "" && !caps.CanAssignSupervisor) || (req.TeamLead != "" && !caps.CanAssignTeamLead) {
			c.JSON(http.StatusForbidden, gin.H{"message": "role " + claims.Role + " cannot make this assignment"})
			return
		}
		if err := a.assignRoles(c.Param("name"), req.Supervisor, req.TeamLead); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"name": c.Param("name")}})
	})
	a.router = r
}

func (a *App) requireToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
		return
	}
	claims, err := a.tokens.validate(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		return
	}
	c.Set("claims", claims)
	c.Next()
}

// Serve starts the API on a loopback port and returns its base URL. The
// server stops when ctx is done or stop is called.
func (a *App) Serve(ctx context.Context) (baseURL string, stop func(), err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Printf("sandbox server: %v", err)
		}
	}()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return "http://" + ln.Addr().String(), stop, nil
}
