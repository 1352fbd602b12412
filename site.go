// Package site is the HTTP surface of the game studio site: public pages, the
// reactions API and the editor dashboard.
package site

import (
	"context"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/jcgregorio/gamesite/admin"
	"github.com/jcgregorio/gamesite/config"
	"github.com/jcgregorio/gamesite/email"
	"github.com/jcgregorio/gamesite/mention"
	"github.com/jcgregorio/gamesite/message"
	"github.com/jcgregorio/gamesite/post"
	"github.com/jcgregorio/gamesite/project"
	"github.com/jcgregorio/gamesite/reaction"
	"github.com/jcgregorio/gamesite/settings"
	"github.com/jcgregorio/gamesite/slug"
	"github.com/jcgregorio/gamesite/upload"
	"github.com/jcgregorio/gamesite/user"
)

type Projects interface {
	List(ctx context.Context, publishedOnly bool) ([]*project.Project, error)
	Featured(ctx context.Context, n int) ([]*project.Project, error)
	Get(ctx context.Context, id string) (*project.Project, error)
	GetBySlug(ctx context.Context, name string) (*project.Project, error)
	Put(ctx context.Context, p *project.Project) error
	Delete(ctx context.Context, id string) error
	Slugs(ctx context.Context) ([]slug.Entry, error)
}

type Posts interface {
	List(ctx context.Context, publishedOnly bool, limit, offset int) ([]*post.Post, error)
	ListByTag(ctx context.Context, tag string) ([]*post.Post, error)
	Tags(ctx context.Context) (map[string]int, error)
	Get(ctx context.Context, id string) (*post.Post, error)
	GetBySlug(ctx context.Context, name string) (*post.Post, error)
	Put(ctx context.Context, p *post.Post) error
	Delete(ctx context.Context, id string) error
	Slugs(ctx context.Context) ([]slug.Entry, error)
}

type Reactions interface {
	Toggle(ctx context.Context, postID, uid, kind string) (*reaction.Result, error)
	Mine(ctx context.Context, postID, uid string) (string, error)
	Counts(ctx context.Context, postID string) (reaction.Counts, error)
	Watch(ctx context.Context, postID string, fn func(reaction.Counts) error) error
}

type Users interface {
	List(ctx context.Context) ([]*user.User, error)
	SetRole(ctx context.Context, uid string, role user.Role) error
	Delete(ctx context.Context, uid string) error
}

type Settings interface {
	Get(ctx context.Context) (*settings.Settings, error)
	Put(ctx context.Context, s *settings.Settings) error
}

type Messages interface {
	Put(ctx context.Context, m *message.Message) error
	List(ctx context.Context, unreadOnly bool, limit, offset int) ([]*message.Message, error)
	Get(ctx context.Context, id string) (*message.Message, error)
	MarkRead(ctx context.Context, id string, read bool) error
	Delete(ctx context.Context, id string) error
	Unread(ctx context.Context) (int, error)
}

type Mentions interface {
	Put(ctx context.Context, m *mention.Mention) error
	GetGood(ctx context.Context, target string) ([]*mention.Mention, error)
	GetTriage(ctx context.Context, limit, offset int) ([]*mention.MentionWithKey, error)
	UpdateState(ctx context.Context, key, state string) error
	GetThumbnail(ctx context.Context, id string) ([]byte, error)
	SendForPost(ctx context.Context, c *http.Client, source, html string, updated time.Time) error
}

type Images interface {
	Upload(ctx context.Context, r io.Reader, maxBytes int64) (*upload.Image, error)
}

type Site struct {
	Config    *config.Config
	Auth      *admin.Auth
	Projects  Projects
	Posts     Posts
	Reactions Reactions
	Users     Users
	Settings  Settings
	Messages  Messages
	Mentions  Mentions
	Images    Images
	Mailer    email.Sender

	// Client is used for outbound requests such as sending webmentions.
	Client *http.Client

	// background runs work that outlives a request.
	background func(func())
}

func New(cfg *config.Config, auth *admin.Auth) *Site {
	return &Site{
		Config: cfg,
		Auth:   auth,
		Mailer: email.Log{},
		Client: &http.Client{
			Timeout: time.Second * 30,
		},
		background: func(f func()) { go f() },
	}
}

// pageContext is the value every full page template is executed with.
type pageContext struct {
	Settings *settings.Settings
	User     *user.User
	Host     string
	Title    string
	Flash    string
	Data     interface{}
}

func (s *Site) settings(ctx context.Context) *settings.Settings {
	st, err := s.Settings.Get(ctx)
	if err != nil {
		glog.Errorf("Failed to load settings: %s", err)
		return settings.Defaults()
	}
	return st
}

func (s *Site) render(w http.ResponseWriter, r *http.Request, t *template.Template, title string, data interface{}) {
	s.renderPage(w, r, http.StatusOK, t, title, "", data)
}

func (s *Site) renderPage(w http.ResponseWriter, r *http.Request, code int, t *template.Template, title, flash string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	p := &pageContext{
		Settings: s.settings(r.Context()),
		User:     admin.FromContext(r.Context()),
		Host:     s.Config.Host,
		Title:    title,
		Flash:    flash,
		Data:     data,
	}
	if err := t.ExecuteTemplate(w, "layout", p); err != nil {
		glog.Errorf("Failed to render %q: %s", title, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("Failed to encode response: %s", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// intParam parses a non-negative integer form value, returning def when it is
// missing or malformed.
func intParam(r *http.Request, name string, def int) int {
	v := r.FormValue(name)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		glog.V(1).Infof("Ignoring bad %s %q", name, v)
		return def
	}
	return i
}

func editor(h http.HandlerFunc) http.Handler {
	return admin.RequirePage(user.EDITOR)(h)
}

func adminOnly(h http.HandlerFunc) http.Handler {
	return admin.RequirePage(user.ADMIN)(h)
}

// Router returns the handler for every route of the site.
func (s *Site) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.Auth.Middleware)

	r.HandleFunc("/", s.Home).Methods("GET")
	r.HandleFunc("/projects", s.ProjectList).Methods("GET")
	r.HandleFunc("/projects/{slug}", s.ProjectPage).Methods("GET")
	r.HandleFunc("/blog", s.Blog).Methods("GET")
	r.HandleFunc("/blog/tag/{tag}", s.Blog).Methods("GET")
	r.HandleFunc("/blog/{slug}", s.PostPage).Methods("GET")
	r.HandleFunc("/blog/{slug}/mentions", s.MentionsFragment).Methods("GET")
	r.HandleFunc("/about", s.About).Methods("GET")
	r.HandleFunc("/contact", s.Contact).Methods("GET", "POST")
	r.HandleFunc("/feed.atom", s.Feed).Methods("GET")
	r.HandleFunc("/sitemap.xml", s.Sitemap).Methods("GET")
	r.HandleFunc("/webmention", s.Webmention).Methods("POST")
	r.HandleFunc("/u/thumbnail/{id}", s.Thumbnail).Methods("GET")
	r.HandleFunc("/login", s.LoginPage).Methods("GET")
	r.HandleFunc("/login", s.Auth.Login).Methods("POST")
	r.HandleFunc("/logout", s.Auth.Logout).Methods("GET", "POST")

	r.HandleFunc("/api/posts/{id}/reactions", s.GetReactions).Methods("GET")
	r.Handle("/api/posts/{id}/reactions", admin.RequireAPI(user.VIEWER)(http.HandlerFunc(s.PostReaction))).Methods("POST")
	r.HandleFunc("/api/posts/{id}/reactions/live", s.LiveReactions).Methods("GET")

	r.Handle("/admin", editor(s.Dashboard)).Methods("GET")
	r.Handle("/admin/projects", editor(s.AdminProjects)).Methods("GET")
	r.Handle("/admin/projects/new", editor(s.EditProject)).Methods("GET")
	r.Handle("/admin/projects/{id}", editor(s.EditProject)).Methods("GET")
	r.Handle("/admin/projects/{id}", editor(s.SaveProject)).Methods("POST")
	r.Handle("/admin/projects/{id}/delete", editor(s.DeleteProject)).Methods("POST")
	r.Handle("/admin/posts", editor(s.AdminPosts)).Methods("GET")
	r.Handle("/admin/posts/new", editor(s.EditPost)).Methods("GET")
	r.Handle("/admin/posts/{id}", editor(s.EditPost)).Methods("GET")
	r.Handle("/admin/posts/{id}", editor(s.SavePost)).Methods("POST")
	r.Handle("/admin/posts/{id}/delete", editor(s.DeletePost)).Methods("POST")
	r.Handle("/admin/mentions", editor(s.Triage)).Methods("GET")
	r.Handle("/admin/mentions/update", editor(s.UpdateMention)).Methods("POST")
	r.Handle("/admin/upload", editor(s.Upload)).Methods("POST")

	r.Handle("/admin/users", adminOnly(s.AdminUsers)).Methods("GET")
	r.Handle("/admin/users/{uid}/role", adminOnly(s.SetRole)).Methods("POST")
	r.Handle("/admin/users/{uid}/delete", adminOnly(s.DeleteUser)).Methods("POST")
	r.Handle("/admin/settings", adminOnly(s.AdminSettings)).Methods("GET", "POST")
	r.Handle("/admin/messages", adminOnly(s.AdminMessages)).Methods("GET")
	r.Handle("/admin/messages/{id}", adminOnly(s.ViewMessage)).Methods("GET")
	r.Handle("/admin/messages/{id}/read", adminOnly(s.MarkMessage)).Methods("POST")
	r.Handle("/admin/messages/{id}/delete", adminOnly(s.DeleteMessage)).Methods("POST")
	return r
}
