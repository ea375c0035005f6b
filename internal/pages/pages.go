package pages

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	jsonwriter "github.com/dgellow/melody/internal/json"
	"github.com/dgellow/melody/internal/log"
)

//go:embed templates/*.html
var embedded embed.FS

const (
	entryTemplate     = "entry.html"
	dashboardTemplate = "dashboard.html"

	reloadDebounce = 500 * time.Millisecond
)

var entryMessages = map[string]string{
	"access_denied":         "You declined access to your Spotify account.",
	"provider_error":        "Spotify reported an error during login. Please try again.",
	"state_mismatch":        "Your login request could not be verified. Please try again.",
	"missing_code":          "Spotify did not return an authorization code. Please try again.",
	"authentication_failed": "Authentication with Spotify failed. Please try again.",
	"session_expired":       "Your session has expired. Please log in again.",
	"not_authenticated":     "Please log in to continue.",
	"invalid_user_data":     "Your stored profile could not be read. Please log in again.",
}

const genericEntryMessage = "Something went wrong. Please try again."

// EntryMessage maps a reason code to the text shown on the entry page.
// Unknown codes get a generic message so raw values are never displayed.
func EntryMessage(reason string) string {
	if reason == "" {
		return ""
	}
	if msg, ok := entryMessages[reason]; ok {
		return msg
	}
	return genericEntryMessage
}

// EntryData is rendered by the entry page
type EntryData struct {
	Reason    string
	Message   string
	LoginPath string
}

// DashboardData is rendered by the dashboard page
type DashboardData struct {
	DisplayName           string
	Email                 string
	AvatarURL             string
	AccessToken           string
	TokenPath             string
	APIPath               string
	LogoutPath            string
	ExpiredURL            string
	RefreshIntervalMillis int64
}

// Renderer holds the parsed page templates. Templates from an optional
// directory override the embedded ones by file name.
type Renderer struct {
	dir  string
	base *template.Template

	mu      sync.RWMutex
	current *template.Template
}

// New parses the embedded templates and, when dir is set, the overrides in dir
func New(dir string) (*Renderer, error) {
	base, err := template.ParseFS(embedded, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing embedded templates: %w", err)
	}

	r := &Renderer{dir: dir, base: base}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the template set from the embedded base and the override
// directory. On error the previous set stays active.
func (r *Renderer) Reload() error {
	next, err := r.base.Clone()
	if err != nil {
		return fmt.Errorf("cloning templates: %w", err)
	}

	if r.dir != "" {
		matches, err := filepath.Glob(filepath.Join(r.dir, "*.html"))
		if err != nil {
			return fmt.Errorf("listing templates in %s: %w", r.dir, err)
		}
		for _, path := range matches {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading template %s: %w", path, err)
			}
			if _, err := next.New(filepath.Base(path)).Parse(string(content)); err != nil {
				return fmt.Errorf("parsing template %s: %w", path, err)
			}
		}
	}

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()
	return nil
}

// Watch reloads the templates whenever the override directory changes.
// Bursts of events are collapsed. It returns when ctx is done.
func (r *Renderer) Watch(ctx context.Context) error {
	if r.dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watching %s: %w", r.dir, err)
	}

	log.LogInfoWithFields("pages", "Watching templates", map[string]any{
		"dir": r.dir,
	})

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create | fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			timer = nil
			if err := r.Reload(); err != nil {
				log.LogWarnWithFields("pages", "Template reload failed, keeping previous templates", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			log.LogInfoWithFields("pages", "Templates reloaded", map[string]any{
				"dir": r.dir,
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.LogWarnWithFields("pages", "Template watcher error", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// RenderEntry writes the entry page
func (r *Renderer) RenderEntry(w http.ResponseWriter, data EntryData) {
	r.render(w, entryTemplate, data)
}

// RenderDashboard writes the dashboard page
func (r *Renderer) RenderDashboard(w http.ResponseWriter, data DashboardData) {
	w.Header().Set("Cache-Control", "no-store")
	r.render(w, dashboardTemplate, data)
}

func (r *Renderer) render(w http.ResponseWriter, name string, data any) {
	r.mu.RLock()
	tmpl := r.current
	r.mu.RUnlock()

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.LogErrorWithFields("pages", "Failed to render page", map[string]any{
			"template": name,
			"error":    err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to render page")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
