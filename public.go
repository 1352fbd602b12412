package site

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/jcgregorio/gamesite/admin"
	"github.com/jcgregorio/gamesite/email"
	"github.com/jcgregorio/gamesite/feed"
	"github.com/jcgregorio/gamesite/message"
	"github.com/jcgregorio/gamesite/post"
	"github.com/jcgregorio/gamesite/project"
	"github.com/jcgregorio/gamesite/user"
)

const (
	HOME_PROJECTS = 3
	HOME_POSTS    = 3

	SEND_TIMEOUT = time.Minute
)

var notFoundTemplate = page(`
  <h2>Not found</h2>
  <p>There is nothing at this address. Try the <a href="/blog">blog</a> or the <a href="/projects">projects</a>.</p>
`)

func (s *Site) notFound(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusNotFound, notFoundTemplate, "Not found", "", nil)
}

func (s *Site) serverError(w http.ResponseWriter, err error) {
	glog.Errorf("Request failed: %s", err)
	http.Error(w, "Something went wrong.", http.StatusInternalServerError)
}

// canPreview is true for users who may see unpublished content.
func canPreview(r *http.Request) bool {
	u := admin.FromContext(r.Context())
	return u != nil && u.Role.Allows(user.EDITOR)
}

type homeContext struct {
	Hero     *project.Project
	Projects []*project.Project
	Posts    []*post.Post
}

func (s *Site) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := s.settings(ctx)
	data := &homeContext{}
	var err error
	if st.HeroProject != "" {
		data.Hero, err = s.Projects.GetBySlug(ctx, st.HeroProject)
		if err != nil || !data.Hero.Published {
			glog.Warningf("Hero project %q unavailable: %v", st.HeroProject, err)
			data.Hero = nil
		}
	}
	if data.Projects, err = s.Projects.Featured(ctx, HOME_PROJECTS); err != nil {
		s.serverError(w, err)
		return
	}
	if data.Posts, err = s.Posts.List(ctx, true, HOME_POSTS, 0); err != nil {
		s.serverError(w, err)
		return
	}
	s.render(w, r, homeTemplate, "", data)
}

func (s *Site) ProjectList(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Projects.List(r.Context(), true)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.render(w, r, projectsTemplate, "Projects", projects)
}

func (s *Site) ProjectPage(w http.ResponseWriter, r *http.Request) {
	p, err := s.Projects.GetBySlug(r.Context(), mux.Vars(r)["slug"])
	if errors.Is(err, project.ErrNotFound) || (err == nil && !p.Published && !canPreview(r)) {
		s.notFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.render(w, r, projectTemplate, p.Title, p)
}

type blogContext struct {
	Tag   string
	Posts []*post.Post
	Tags  map[string]int
	Prev  int
	Next  int
}

// Blog lists published posts, optionally only those with a tag, one page at
// a time.
func (s *Site) Blog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	per := s.settings(ctx).PostsPerPage
	if per < 1 {
		per = 10
	}
	n := intParam(r, "page", 1)
	if n < 1 {
		n = 1
	}
	data := &blogContext{Tag: strings.ToLower(mux.Vars(r)["tag"])}
	var posts []*post.Post
	var err error
	if data.Tag != "" {
		posts, err = s.Posts.ListByTag(ctx, data.Tag)
		if err == nil {
			offset := (n - 1) * per
			if offset > len(posts) {
				offset = len(posts)
			}
			posts = posts[offset:]
			if len(posts) > per+1 {
				posts = posts[:per+1]
			}
		}
	} else {
		posts, err = s.Posts.List(ctx, true, per+1, (n-1)*per)
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	if len(posts) > per {
		posts = posts[:per]
		data.Next = n + 1
	}
	if n > 1 {
		data.Prev = n - 1
	}
	data.Posts = posts
	if data.Tags, err = s.Posts.Tags(ctx); err != nil {
		glog.Warningf("Failed to count tags: %s", err)
	}
	title := "Blog"
	if data.Tag != "" {
		title = "#" + data.Tag
	}
	s.render(w, r, blogTemplate, title, data)
}

func (s *Site) PostPage(w http.ResponseWriter, r *http.Request) {
	p, err := s.Posts.GetBySlug(r.Context(), mux.Vars(r)["slug"])
	if errors.Is(err, post.ErrNotFound) || (err == nil && !p.Published && !canPreview(r)) {
		s.notFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.render(w, r, postTemplate, p.Title, p)
}

func (s *Site) About(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, aboutTemplate, "About", s.settings(r.Context()).About)
}

type contactContext struct {
	Sent    bool
	Message *message.Message
}

func (s *Site) Contact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != "POST" {
		s.render(w, r, contactTemplate, "Contact", &contactContext{Message: &message.Message{}})
		return
	}
	m := &message.Message{
		Name:       r.FormValue("name"),
		Email:      r.FormValue("email"),
		Subject:    r.FormValue("subject"),
		Body:       r.FormValue("body"),
		Honeypot:   r.FormValue("website"),
		RemoteAddr: r.RemoteAddr,
	}
	if m.Honeypot != "" {
		glog.Infof("Dropped contact form spam from %s", r.RemoteAddr)
		s.render(w, r, contactTemplate, "Contact", &contactContext{Sent: true})
		return
	}
	if err := m.Validate(); err != nil {
		s.renderPage(w, r, http.StatusBadRequest, contactTemplate, "Contact", err.Error(), &contactContext{Message: m})
		return
	}
	if err := s.Messages.Put(ctx, m); err != nil {
		s.serverError(w, err)
		return
	}
	st := s.settings(ctx)
	to := st.ContactEmail
	if to == "" {
		to = s.Config.SMTP.To
	}
	if to != "" {
		e := email.ContactNotification(m, st.SiteName, s.Config.SMTP.From, to)
		s.background(func() {
			ctx, cancel := context.WithTimeout(context.Background(), SEND_TIMEOUT)
			defer cancel()
			if err := s.Mailer.Send(ctx, e); err != nil {
				glog.Errorf("Failed to send notification for message %s: %s", m.ID, err)
			}
		})
	}
	s.render(w, r, contactTemplate, "Contact", &contactContext{Sent: true})
}

func (s *Site) Feed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := s.settings(ctx)
	posts, err := s.Posts.List(ctx, true, feed.MAX_ENTRIES, 0)
	if err != nil {
		s.serverError(w, err)
		return
	}
	b, err := feed.Atom(st.SiteName, st.Tagline, s.Config.Host, posts)
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *Site) Sitemap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projects, err := s.Projects.Slugs(ctx)
	if err != nil {
		s.serverError(w, err)
		return
	}
	posts, err := s.Posts.Slugs(ctx)
	if err != nil {
		s.serverError(w, err)
		return
	}
	b, err := feed.Sitemap(s.Config.Host, []string{"/", "/projects", "/blog", "/about", "/contact"}, projects, posts)
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(b)
}

type loginContext struct {
	APIKey     string
	AuthDomain string
	Project    string
	Next       string
}

func (s *Site) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := admin.SafeNext(r.FormValue("next"))
	if admin.FromContext(r.Context()) != nil {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	s.render(w, r, loginTemplate, "Sign in", &loginContext{
		APIKey:     s.Config.FirebaseAPIKey,
		AuthDomain: s.Config.Project + ".firebaseapp.com",
		Project:    s.Config.Project,
		Next:       next,
	})
}
