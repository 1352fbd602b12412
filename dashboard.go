package site

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/jcgregorio/gamesite/admin"
	"github.com/jcgregorio/gamesite/feed"
	"github.com/jcgregorio/gamesite/markup"
	"github.com/jcgregorio/gamesite/message"
	"github.com/jcgregorio/gamesite/post"
	"github.com/jcgregorio/gamesite/project"
	"github.com/jcgregorio/gamesite/settings"
	"github.com/jcgregorio/gamesite/slug"
	"github.com/jcgregorio/gamesite/upload"
	"github.com/jcgregorio/gamesite/user"
)

const MESSAGES_PER_PAGE = 50

var (
	dashboardTemplate = page(`
  <h2>Dashboard</h2>
  <ul>
    <li><a href="/admin/projects">Projects</a> ({{.Data.Projects}})</li>
    <li><a href="/admin/posts">Posts</a> ({{.Data.Posts}}, {{.Data.Drafts}} drafts)</li>
    <li><a href="/admin/mentions">Webmentions</a></li>
    {{if allows .User "admin"}}
    <li><a href="/admin/messages">Messages</a> ({{.Data.Unread}} unread)</li>
    <li><a href="/admin/users">Users</a></li>
    <li><a href="/admin/settings">Settings</a></li>
    {{end}}
  </ul>
`)

	adminProjectsTemplate = page(`
  <h2>Projects</h2>
  <p><a href="/admin/projects/new">New project</a></p>
  <div class="grid">
  {{range .Data}}
    <span>{{if .Published}}Published{{else}}Draft{{end}}{{if .Featured}} ★{{end}}</span>
    <span>{{humanTime .Updated}}</span>
    <a href="/admin/projects/{{.ID}}">{{.Title}}</a>
  {{end}}
  </div>
`)

	editProjectTemplate = page(`
  {{with .Data}}
  <h2>{{if .ID}}Edit{{else}}New{{end}} project</h2>
  <form method="post" action="/admin/projects/{{if .ID}}{{.ID}}{{else}}new{{end}}">
    <label>Title <input name="title" value="{{.Title}}" required></label>
    <label>Slug <input name="slug" value="{{.Slug}}" placeholder="from the title"></label>
    <label>Summary <input name="summary" value="{{.Summary}}"></label>
    <label>Body <textarea name="body" id="body">{{.Body}}</textarea></label>
    <label>Engine <input name="engine" value="{{.Engine}}"></label>
    <label>Platforms <input name="platforms" value="{{join .Platforms ", "}}"></label>
    <label>Tags <input name="tags" value="{{join .Tags ", "}}"></label>
    <label>Cover image <input name="coverImage" value="{{.CoverImage}}"></label>
    <label>Gallery, one URL per line <textarea name="gallery">{{lines .Gallery}}</textarea></label>
    <label>Repository <input name="repoUrl" value="{{.RepoURL}}"></label>
    <label>Play <input name="playUrl" value="{{.PlayURL}}"></label>
    <label>Order <input name="order" type="number" value="{{.Order}}"></label>
    <label><input name="featured" type="checkbox" {{if .Featured}}checked{{end}}> Featured</label>
    <label><input name="published" type="checkbox" {{if .Published}}checked{{end}}> Published</label>
    <button type="submit">Save</button>
  </form>
  {{template "uploader"}}
  {{if .ID}}
  <form method="post" action="/admin/projects/{{.ID}}/delete" onsubmit="return confirm('Delete this project?')">
    <button type="submit">Delete</button>
  </form>
  {{end}}
  {{end}}
`)

	adminPostsTemplate = page(`
  <h2>Posts</h2>
  <p><a href="/admin/posts/new">New post</a></p>
  <div class="grid">
  {{range .Data}}
    <span>{{if .Published}}Published{{else}}Draft{{end}}</span>
    <span>{{humanTime .Updated}}</span>
    <a href="/admin/posts/{{.ID}}">{{.Title}}</a>
  {{end}}
  </div>
`)

	editPostTemplate = page(`
  {{with .Data}}
  <h2>{{if .ID}}Edit{{else}}New{{end}} post</h2>
  {{if .Published}}<p><a href="/blog/{{.Slug}}">View</a></p>{{end}}
  <form method="post" action="/admin/posts/{{if .ID}}{{.ID}}{{else}}new{{end}}">
    <label>Title <input name="title" value="{{.Title}}" required></label>
    <label>Slug <input name="slug" value="{{.Slug}}" placeholder="from the title"></label>
    <label>Excerpt <textarea name="excerpt" placeholder="from the body">{{.Excerpt}}</textarea></label>
    <label>Body <textarea name="body" id="body">{{.Body}}</textarea></label>
    <label>Tags <input name="tags" value="{{join .Tags ", "}}"></label>
    <label>Cover image <input name="coverImage" value="{{.CoverImage}}"></label>
    <label><input name="published" type="checkbox" {{if .Published}}checked{{end}}> Published</label>
    <button type="submit">Save</button>
  </form>
  {{template "uploader"}}
  {{if .ID}}
  <form method="post" action="/admin/posts/{{.ID}}/delete" onsubmit="return confirm('Delete this post and its reactions?')">
    <button type="submit">Delete</button>
  </form>
  {{end}}
  {{end}}
`)

	usersTemplate = page(`
  <h2>Users</h2>
  <div class="grid">
  {{range .Data}}
    <form method="post" action="/admin/users/{{.UID}}/role">
      <select name="role" onchange="this.form.submit()">
      {{$role := .Role}}
      {{range roles}}<option value="{{.}}" {{if eq . $role}}selected{{end}}>{{.}}</option>{{end}}
      </select>
    </form>
    <span>{{humanTime .LastLogin}}</span>
    <span>
      {{.DisplayName}} &lt;{{.Email}}&gt;
      <form method="post" action="/admin/users/{{.UID}}/delete" style="display:inline" onsubmit="return confirm('Remove this user?')">
        <button type="submit">Remove</button>
      </form>
    </span>
  {{end}}
  </div>
`)

	settingsTemplate = page(`
  {{with .Data}}
  <h2>Settings</h2>
  <form method="post" action="/admin/settings">
    <label>Site name <input name="siteName" value="{{.SiteName}}" required></label>
    <label>Tagline <input name="tagline" value="{{.Tagline}}"></label>
    <label>About <textarea name="about">{{.About}}</textarea></label>
    <label>Contact email <input name="contactEmail" type="email" value="{{.ContactEmail}}"></label>
    <label>Links, one "Name | URL" per line <textarea name="social">{{range .Social}}{{.Name}} | {{.URL}}
{{end}}</textarea></label>
    <label>Hero project slug <input name="heroProject" value="{{.HeroProject}}"></label>
    <label>Posts per page <input name="postsPerPage" type="number" min="1" max="100" value="{{.PostsPerPage}}"></label>
    <button type="submit">Save</button>
  </form>
  {{end}}
`)

	messagesTemplate = page(`
  <h2>Messages</h2>
  <p>{{if .Data.UnreadOnly}}<a href="/admin/messages">All</a>{{else}}<a href="/admin/messages?unread=1">Unread only</a>{{end}}</p>
  <div class="grid">
  {{range .Data.Messages}}
    <span>{{if not .Read}}<b>New</b>{{end}}</span>
    <span>{{humanTime .Created}}</span>
    <a href="/admin/messages/{{.ID}}">{{.Name}}: {{if .Subject}}{{.Subject}}{{else}}{{trunc 60 .Body}}{{end}}</a>
  {{end}}
  </div>
  <p>{{if .Data.Next}}<a href="?offset={{.Data.Next}}{{if .Data.UnreadOnly}}&unread=1{{end}}">More</a>{{end}}</p>
`)

	messageTemplate = page(`
  {{with .Data}}
  <h2>{{if .Subject}}{{.Subject}}{{else}}Message{{end}}</h2>
  <p class="meta">{{.Name}} &lt;<a href="mailto:{{.Email}}">{{.Email}}</a>&gt; • {{date .Created}}</p>
  <pre style="white-space: pre-wrap">{{.Body}}</pre>
  <form method="post" action="/admin/messages/{{.ID}}/read">
    <input type="hidden" name="read" value="{{if .Read}}0{{else}}1{{end}}">
    <button type="submit">Mark {{if .Read}}unread{{else}}read{{end}}</button>
  </form>
  <form method="post" action="/admin/messages/{{.ID}}/delete" onsubmit="return confirm('Delete this message?')">
    <button type="submit">Delete</button>
  </form>
  {{end}}
`)
)

// splitList splits a comma separated form value.
func splitList(s string) []string {
	ret := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}

func splitLines(s string) []string {
	return splitList(strings.Replace(s, "\n", ",", -1))
}

func checked(r *http.Request, name string) bool {
	return r.FormValue(name) != ""
}

type dashboardContext struct {
	Projects int
	Posts    int
	Drafts   int
	Unread   int
}

func (s *Site) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := &dashboardContext{}
	projects, err := s.Projects.List(ctx, false)
	if err != nil {
		s.serverError(w, err)
		return
	}
	data.Projects = len(projects)
	posts, err := s.Posts.List(ctx, false, 0, 0)
	if err != nil {
		s.serverError(w, err)
		return
	}
	data.Posts = len(posts)
	for _, p := range posts {
		if !p.Published {
			data.Drafts++
		}
	}
	if u := admin.FromContext(ctx); u != nil && u.Role.Allows(user.ADMIN) {
		if data.Unread, err = s.Messages.Unread(ctx); err != nil {
			glog.Warningf("Failed to count unread messages: %s", err)
		}
	}
	s.render(w, r, dashboardTemplate, "Dashboard", data)
}

func (s *Site) AdminProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Projects.List(r.Context(), false)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.render(w, r, adminProjectsTemplate, "Projects", projects)
}

func (s *Site) EditProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p := &project.Project{}
	if id != "" && id != "new" {
		var err error
		p, err = s.Projects.Get(r.Context(), id)
		if errors.Is(err, project.ErrNotFound) {
			s.notFound(w, r)
			return
		}
		if err != nil {
			s.serverError(w, err)
			return
		}
	}
	s.render(w, r, editProjectTemplate, "Edit project", p)
}

func (s *Site) SaveProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if id == "new" {
		id = ""
	}
	order, _ := strconv.Atoi(r.FormValue("order"))
	p := &project.Project{
		ID:         id,
		Title:      strings.TrimSpace(r.FormValue("title")),
		Slug:       strings.TrimSpace(r.FormValue("slug")),
		Summary:    strings.TrimSpace(r.FormValue("summary")),
		Body:       r.FormValue("body"),
		Engine:     strings.TrimSpace(r.FormValue("engine")),
		Platforms:  splitList(r.FormValue("platforms")),
		Tags:       splitList(r.FormValue("tags")),
		CoverImage: strings.TrimSpace(r.FormValue("coverImage")),
		Gallery:    splitLines(r.FormValue("gallery")),
		RepoURL:    strings.TrimSpace(r.FormValue("repoUrl")),
		PlayURL:    strings.TrimSpace(r.FormValue("playUrl")),
		Featured:   checked(r, "featured"),
		Published:  checked(r, "published"),
		Order:      order,
	}
	if p.Slug == "" {
		p.Slug = slug.Make(p.Title)
	}
	if err := p.Validate(); err != nil {
		s.renderPage(w, r, http.StatusBadRequest, editProjectTemplate, "Edit project", err.Error(), p)
		return
	}
	err := s.Projects.Put(ctx, p)
	if errors.Is(err, project.ErrSlugTaken) {
		s.renderPage(w, r, http.StatusConflict, editProjectTemplate, "Edit project", "That slug is already used by another project.", p)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	glog.Infof("Saved project %q", p.Slug)
	http.Redirect(w, r, "/admin/projects", http.StatusSeeOther)
}

func (s *Site) DeleteProject(w http.ResponseWriter, r *http.Request) {
	err := s.Projects.Delete(r.Context(), mux.Vars(r)["id"])
	if err != nil && !errors.Is(err, project.ErrNotFound) {
		s.serverError(w, err)
		return
	}
	http.Redirect(w, r, "/admin/projects", http.StatusSeeOther)
}

func (s *Site) AdminPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.Posts.List(r.Context(), false, 0, 0)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.render(w, r, adminPostsTemplate, "Posts", posts)
}

func (s *Site) EditPost(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p := &post.Post{}
	if id != "" && id != "new" {
		var err error
		p, err = s.Posts.Get(r.Context(), id)
		if errors.Is(err, post.ErrNotFound) {
			s.notFound(w, r)
			return
		}
		if err != nil {
			s.serverError(w, err)
			return
		}
	}
	s.render(w, r, editPostTemplate, "Edit post", p)
}

func (s *Site) SavePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	p := &post.Post{}
	if id != "new" {
		old, err := s.Posts.Get(ctx, id)
		if errors.Is(err, post.ErrNotFound) {
			s.notFound(w, r)
			return
		}
		if err != nil {
			s.serverError(w, err)
			return
		}
		p = old
	}
	if p.AuthorUID == "" {
		if u := admin.FromContext(ctx); u != nil {
			p.AuthorUID = u.UID
			p.AuthorName = u.DisplayName()
		}
	}
	p.Title = strings.TrimSpace(r.FormValue("title"))
	p.Slug = strings.TrimSpace(r.FormValue("slug"))
	p.Excerpt = strings.TrimSpace(r.FormValue("excerpt"))
	p.Body = r.FormValue("body")
	p.Tags = splitList(r.FormValue("tags"))
	p.CoverImage = strings.TrimSpace(r.FormValue("coverImage"))
	p.Published = checked(r, "published")
	if p.Slug == "" {
		p.Slug = slug.Make(p.Title)
	}
	if err := p.Validate(); err != nil {
		s.renderPage(w, r, http.StatusBadRequest, editPostTemplate, "Edit post", err.Error(), p)
		return
	}
	err := s.Posts.Put(ctx, p)
	if errors.Is(err, post.ErrSlugTaken) {
		s.renderPage(w, r, http.StatusConflict, editPostTemplate, "Edit post", "That slug is already used by another post.", p)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	glog.Infof("Saved post %q", p.Slug)
	if p.Published {
		s.sendMentions(p)
	}
	http.Redirect(w, r, "/admin/posts", http.StatusSeeOther)
}

// sendMentions notifies the pages a published post links to.
func (s *Site) sendMentions(p *post.Post) {
	source := feed.PostURL(s.Config.Host, p.Slug)
	html := string(markup.Render(p.Body))
	updated := p.Updated
	s.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), SEND_TIMEOUT)
		defer cancel()
		if err := s.Mentions.SendForPost(ctx, s.Client, source, html, updated); err != nil {
			glog.Errorf("Failed to send webmentions for %s: %s", source, err)
		}
	})
}

func (s *Site) DeletePost(w http.ResponseWriter, r *http.Request) {
	err := s.Posts.Delete(r.Context(), mux.Vars(r)["id"])
	if err != nil && !errors.Is(err, post.ErrNotFound) {
		s.serverError(w, err)
		return
	}
	http.Redirect(w, r, "/admin/posts", http.StatusSeeOther)
}

// Upload stores an image posted as the "image" field of a multipart form.
func (s *Site) Upload(w http.ResponseWriter, r *http.Request) {
	if s.Images == nil {
		jsonError(w, "Uploads are not configured.", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, upload.MAX_BYTES+1<<20)
	f, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, "Missing image.", http.StatusBadRequest)
		return
	}
	defer func() { _ = f.Close() }()
	img, err := s.Images.Upload(r.Context(), f, upload.MAX_BYTES)
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		jsonError(w, "Image is too large.", http.StatusRequestEntityTooLarge)
	case errors.Is(err, upload.ErrUnsupported):
		jsonError(w, "Only JPEG, PNG and GIF images are supported.", http.StatusUnsupportedMediaType)
	case err != nil:
		glog.Errorf("Upload failed: %s", err)
		jsonError(w, "Upload failed.", http.StatusInternalServerError)
	default:
		glog.Infof("Uploaded %s", img.URL)
		writeJSON(w, http.StatusOK, img)
	}
}

func (s *Site) AdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Users.List(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.render(w, r, usersTemplate, "Users", users)
}

func (s *Site) SetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	role, err := user.ParseRole(r.FormValue("role"))
	if err != nil {
		http.Error(w, "Unknown role.", http.StatusBadRequest)
		return
	}
	uid := mux.Vars(r)["uid"]
	err = s.Users.SetRole(ctx, uid, role)
	switch {
	case errors.Is(err, user.ErrLastAdmin):
		http.Error(w, "The last administrator cannot be demoted.", http.StatusConflict)
		return
	case errors.Is(err, user.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		s.serverError(w, err)
		return
	}
	glog.Infof("%s set the role of %s to %s", admin.FromContext(ctx).Email, uid, role)
	http.Redirect(w, r, "/admin/users", http.StatusSeeOther)
}

// DeleteUser removes the profile and ends the user's sessions, so they are
// signed out rather than recreated on their next request.
func (s *Site) DeleteUser(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	err := s.Users.Delete(r.Context(), uid)
	switch {
	case errors.Is(err, user.ErrLastAdmin):
		http.Error(w, "The last administrator cannot be removed.", http.StatusConflict)
		return
	case err != nil && !errors.Is(err, user.ErrNotFound):
		s.serverError(w, err)
		return
	}
	if err := s.Auth.Revoke(r.Context(), uid); err != nil {
		s.serverError(w, err)
		return
	}
	http.Redirect(w, r, "/admin/users", http.StatusSeeOther)
}

// parseLinks reads "Name | URL" lines.
func parseLinks(s string) []settings.Link {
	ret := []settings.Link{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		if len(parts) == 1 {
			ret = append(ret, settings.Link{Name: parts[0], URL: parts[0]})
			continue
		}
		ret = append(ret, settings.Link{Name: strings.TrimSpace(parts[0]), URL: strings.TrimSpace(parts[1])})
	}
	return ret
}

func (s *Site) AdminSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != "POST" {
		s.render(w, r, settingsTemplate, "Settings", s.settings(ctx))
		return
	}
	perPage, err := strconv.Atoi(r.FormValue("postsPerPage"))
	if err != nil {
		perPage = 0
	}
	st := &settings.Settings{
		SiteName:     strings.TrimSpace(r.FormValue("siteName")),
		Tagline:      strings.TrimSpace(r.FormValue("tagline")),
		About:        r.FormValue("about"),
		ContactEmail: strings.TrimSpace(r.FormValue("contactEmail")),
		Social:       parseLinks(r.FormValue("social")),
		HeroProject:  strings.TrimSpace(r.FormValue("heroProject")),
		PostsPerPage: perPage,
	}
	if err := st.Validate(); err != nil {
		s.renderPage(w, r, http.StatusBadRequest, settingsTemplate, "Settings", err.Error(), st)
		return
	}
	if err := s.Settings.Put(ctx, st); err != nil {
		s.serverError(w, err)
		return
	}
	s.renderPage(w, r, http.StatusOK, settingsTemplate, "Settings", "Saved.", st)
}

type messagesContext struct {
	UnreadOnly bool
	Messages   []*message.Message
	Next       int
}

func (s *Site) AdminMessages(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.FormValue("unread") != ""
	offset := intParam(r, "offset", 0)
	messages, err := s.Messages.List(r.Context(), unreadOnly, MESSAGES_PER_PAGE+1, offset)
	if err != nil {
		s.serverError(w, err)
		return
	}
	data := &messagesContext{UnreadOnly: unreadOnly, Messages: messages}
	if len(messages) > MESSAGES_PER_PAGE {
		data.Messages = messages[:MESSAGES_PER_PAGE]
		data.Next = offset + MESSAGES_PER_PAGE
	}
	s.render(w, r, messagesTemplate, "Messages", data)
}

// ViewMessage shows a message and marks it read.
func (s *Site) ViewMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := s.Messages.Get(ctx, mux.Vars(r)["id"])
	if errors.Is(err, message.ErrNotFound) {
		s.notFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !m.Read {
		if err := s.Messages.MarkRead(ctx, m.ID, true); err != nil {
			glog.Warningf("Failed to mark %s read: %s", m.ID, err)
		} else {
			m.Read = true
		}
	}
	s.render(w, r, messageTemplate, "Message", m)
}

func (s *Site) MarkMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.Messages.MarkRead(r.Context(), id, r.FormValue("read") != "0")
	if errors.Is(err, message.ErrNotFound) {
		s.notFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	http.Redirect(w, r, "/admin/messages", http.StatusSeeOther)
}

func (s *Site) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := s.Messages.Delete(r.Context(), mux.Vars(r)["id"])
	if err != nil && !errors.Is(err, message.ErrNotFound) {
		s.serverError(w, err)
		return
	}
	http.Redirect(w, r, "/admin/messages", http.StatusSeeOther)
}
