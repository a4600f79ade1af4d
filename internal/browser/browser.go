// Package browser owns the playwright lifecycle: one browser per run and a
// fresh context and page per scenario.
package browser

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/coherent-in/shotbuzz-e2e/internal/actor"
	"github.com/coherent-in/shotbuzz-e2e/internal/pages"
	"github.com/coherent-in/shotbuzz-e2e/internal/poll"
	"github.com/coherent-in/shotbuzz-e2e/internal/scenario"
)

// Options configure the browser.
type Options struct {
	BaseURL     string
	Headless    bool
	SlowMo      time.Duration
	Timeout     time.Duration
	Screenshots bool
	Videos      bool
	ResultsDir  string
	// Install downloads the driver and chromium before the first run.
	Install bool
	Verbose bool
	Logger  *log.Logger
}

// Launcher holds a running playwright driver and browser.
type Launcher struct {
	opts    Options
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *log.Logger
}

// Launch starts playwright and chromium.
func Launch(opts Options) (*Launcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ResultsDir == "" {
		opts.ResultsDir = "./test-results"
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	l := &Launcher{opts: opts, logger: opts.Logger}

	runOpts := &playwright.RunOptions{Browsers: []string{"chromium"}, Verbose: opts.Verbose}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("could not install playwright browsers: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		// The driver may be missing or stale; install once and retry.
		_ = playwright.Install(runOpts)
		pw, err = playwright.Run(runOpts)
		if err != nil {
			return nil, fmt.Errorf("could not start playwright after retry: %w", err)
		}
	}
	l.pw = pw

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		SlowMo:   playwright.Float(float64(opts.SlowMo.Milliseconds())),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	l.browser = browser
	l.logger.Printf("chromium %s started (headless=%t)", browser.Version(), opts.Headless)
	return l, nil
}

// Close stops the browser and the driver.
func (l *Launcher) Close() error {
	var firstErr error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			firstErr = err
		}
	}
	if l.pw != nil {
		if err := l.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Session is one isolated browser context with a single page.
type Session struct {
	name     string
	launcher *Launcher
	context  playwright.BrowserContext
	page     playwright.Page
	surface  *Surface
}

// NewSession opens a fresh context and page for the named scenario.
func (l *Launcher) NewSession(ctx context.Context, name string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctxOpts := playwright.BrowserNewContextOptions{
		BaseURL:  playwright.String(l.opts.BaseURL),
		Viewport: &playwright.Size{Width: 1280, Height: 720},
	}
	if l.opts.Videos {
		ctxOpts.RecordVideo = &playwright.RecordVideo{Dir: filepath.Join(l.opts.ResultsDir, "videos")}
	}
	bctx, err := l.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("could not create context: %w", err)
	}
	bctx.SetDefaultTimeout(float64(l.opts.Timeout.Milliseconds()))

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("could not create page: %w", err)
	}
	return &Session{
		name:     name,
		launcher: l,
		context:  bctx,
		page:     page,
		surface:  NewSurface(page, l.opts.BaseURL, l.opts.Timeout),
	}, nil
}

func (s *Session) Surface() *Surface { return s.surface }

// Screenshot saves a full-page PNG under the results directory.
func (s *Session) Screenshot(_ context.Context, name string) (string, error) {
	dir := filepath.Join(s.launcher.opts.ResultsDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", name, time.Now().Unix()))
	if _, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	}); err != nil {
		return "", err
	}
	return path, nil
}

// Close closes the page and context. Videos are finalized on close.
func (s *Session) Close(context.Context) error {
	var video playwright.Video
	if s.launcher.opts.Videos {
		video = s.page.Video()
	}
	if err := s.page.Close(); err != nil {
		return err
	}
	if err := s.context.Close(); err != nil {
		return err
	}
	if video != nil {
		if path, err := video.Path(); err == nil {
			s.launcher.logger.Printf("video for %s: %s", s.name, path)
		}
	}
	return nil
}

// Authenticator logs in through the portal's login form and takes the token
// from the login response.
type Authenticator struct {
	surface *Surface
	poller  *poll.Poller
	logger  *log.Logger
}

func NewAuthenticator(surface *Surface, poller *poll.Poller, logger *log.Logger) *Authenticator {
	return &Authenticator{surface: surface, poller: poller, logger: logger}
}

// Login opens the shots page, which redirects to the login form, and signs
// in. The response listener is attached before the form is submitted.
func (a *Authenticator) Login(ctx context.Context, creds actor.Credentials) (string, error) {
	portal := pages.New(a.surface, a.poller, "", a.logger)
	if err := portal.Open(ctx); err != nil {
		return "", err
	}
	body, err := a.surface.ExpectLogin(ctx, func() error {
		return portal.SubmitLogin(ctx, creds)
	})
	if err != nil {
		return "", err
	}
	return actor.ExtractToken(body)
}

// Logout drops the session cookies and storage.
func (a *Authenticator) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page := a.surface.Page()
	if err := page.Context().ClearCookies(); err != nil {
		return err
	}
	_, err := page.Evaluate(`() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} }`)
	return err
}

// Factory opens a browser session per scenario.
func (l *Launcher) Factory(pollOpts ...poll.Option) scenario.WorkspaceFactory {
	return func(ctx context.Context, name string) (*scenario.Workspace, error) {
		s, err := l.NewSession(ctx, name)
		if err != nil {
			return nil, err
		}
		ws := &scenario.Workspace{
			Surface: s.surface,
			Auth:    NewAuthenticator(s.surface, poll.New(s.surface, pollOpts...), l.logger),
			Close:   s.Close,
		}
		if l.opts.Screenshots {
			ws.Capture = s.Screenshot
		}
		return ws, nil
	}
}
