package site

import (
	"html/template"
	"strings"
	"time"

	units "github.com/docker/go-units"

	"github.com/jcgregorio/gamesite/markup"
	"github.com/jcgregorio/gamesite/reaction"
	"github.com/jcgregorio/gamesite/user"
)

var funcs = template.FuncMap{
	"trunc": func(n int, s string) string {
		if len(s) > n {
			return s[:n] + "..."
		}
		return s
	},
	"humanTime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return units.HumanDuration(time.Now().Sub(t)) + " ago"
	},
	"rfc3339": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
	"markup":      markup.Render,
	"readingTime": markup.ReadingTime,
	"join":        strings.Join,
	"lines": func(s []string) string {
		return strings.Join(s, "\n")
	},
	"emoji": reaction.Emoji,
	"kinds": reaction.Kinds,
	"roles": user.Roles,
	"allows": func(u *user.User, role string) bool {
		return u != nil && u.Role.Allows(user.Role(role))
	},
}

const layout = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
    <title>{{if .Title}}{{.Title}} | {{end}}{{.Settings.SiteName}}</title>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta name="description" content="{{.Settings.Tagline}}">
    <link rel="alternate" type="application/atom+xml" href="/feed.atom" title="{{.Settings.SiteName}}">
    <link rel="webmention" href="{{.Host}}/webmention">
    <style type="text/css" media="screen">
      body { max-width: 60em; margin: 0 auto; padding: 0 1em; font-family: sans-serif; }
      nav a { margin-right: 1em; }
      .cards { display: grid; grid-template-columns: repeat(auto-fill, minmax(16em, 1fr)); grid-gap: 1em; }
      .card img { max-width: 100%; }
      .meta { color: #666; font-size: 0.9em; }
      .flash { background: #fee; padding: 0.5em; }
      .reactions button.mine { font-weight: bold; outline: 2px solid #06c; }
      #webmentions, .grid { display: grid; padding: 1em; grid-template-columns: 7em 10em 1fr; grid-column-gap: 10px; grid-row-gap: 6px; }
      form label { display: block; margin-top: 0.5em; }
      form textarea { width: 100%; min-height: 6em; }
    </style>
</head>
<body>
  <header>
    <h1><a href="/">{{.Settings.SiteName}}</a></h1>
    <nav>
      <a href="/projects">Projects</a>
      <a href="/blog">Blog</a>
      <a href="/about">About</a>
      <a href="/contact">Contact</a>
      {{if allows .User "editor"}}<a href="/admin">Dashboard</a>{{end}}
      {{if .User}}<span class="meta">{{.User.DisplayName}}</span> <a href="/logout">Sign out</a>{{else}}<a href="/login">Sign in</a>{{end}}
    </nav>
  </header>
  {{if .Flash}}<p class="flash">{{.Flash}}</p>{{end}}
  <main>
  {{template "content" .}}
  </main>
  <footer class="meta">
    {{range .Settings.Social}}<a href="{{.URL}}" rel="me">{{.Name}}</a> {{end}}
    <a href="/feed.atom">Feed</a>
  </footer>
</body>
</html>{{end}}
{{define "projectCard"}}
  <div class="card">
    {{if .CoverImage}}<a href="/projects/{{.Slug}}"><img src="{{.CoverImage}}" alt="{{.Title}}"></a>{{end}}
    <h3><a href="/projects/{{.Slug}}">{{.Title}}</a></h3>
    <p>{{.Summary}}</p>
  </div>{{end}}
{{define "postItem"}}
  <div class="post">
    <h3><a href="/blog/{{.Slug}}">{{.Title}}</a></h3>
    <p class="meta">{{date .PublishedAt}} • {{readingTime .Body}} min read</p>
    <p>{{.Excerpt}}</p>
  </div>{{end}}
{{define "uploader"}}
  <form id="uploader">
    <label>Insert image <input type="file" name="image" accept="image/png,image/jpeg,image/gif"></label>
  </form>
  <script type="text/javascript" charset="utf-8">
    document.querySelector('#uploader input').addEventListener('change', e => {
      const data = new FormData();
      data.append('image', e.target.files[0]);
      fetch('/admin/upload', {credentials: 'same-origin', method: 'POST', body: data})
        .then(r => r.json())
        .then(r => {
          if (r.error) {
            alert(r.error);
            return;
          }
          document.getElementById('body').value += '\n\n![](' + r.url + ')\n';
        })
        .catch(e => console.error('Error:', e));
    });
  </script>{{end}}`

var base = template.Must(template.New("base").Funcs(funcs).Parse(layout))

func page(content string) *template.Template {
	return template.Must(template.Must(base.Clone()).Parse(`{{define "content"}}` + content + `{{end}}`))
}

var (
	homeTemplate = page(`
  <p>{{.Settings.Tagline}}</p>
  {{with .Data.Hero}}
  <section class="hero">
    {{if .CoverImage}}<img src="{{.CoverImage}}" alt="{{.Title}}">{{end}}
    <h2><a href="/projects/{{.Slug}}">{{.Title}}</a></h2>
    <p>{{.Summary}}</p>
  </section>
  {{end}}
  <h2>Featured projects</h2>
  <div class="cards">
  {{range .Data.Projects}}{{template "projectCard" .}}{{end}}
  </div>
  <h2>Latest posts</h2>
  {{range .Data.Posts}}{{template "postItem" .}}{{end}}
  <p><a href="/blog">All posts</a></p>
`)

	projectsTemplate = page(`
  <h2>Projects</h2>
  <div class="cards">
  {{range .Data}}{{template "projectCard" .}}{{else}}<p>Nothing here yet.</p>{{end}}
  </div>
`)

	projectTemplate = page(`
  {{with .Data}}
  <article class="h-entry">
    <h2 class="p-name">{{.Title}}</h2>
    <p class="meta">
      {{if .Engine}}{{.Engine}}{{end}}
      {{if .Platforms}} • {{join .Platforms ", "}}{{end}}
    </p>
    {{if .CoverImage}}<img class="u-photo" src="{{.CoverImage}}" alt="{{.Title}}">{{end}}
    <p class="p-summary">{{.Summary}}</p>
    <div class="e-content">{{markup .Body}}</div>
    {{if .Gallery}}<div class="cards">{{range .Gallery}}<img src="{{.}}" alt="">{{end}}</div>{{end}}
    <p>
      {{if .PlayURL}}<a href="{{.PlayURL}}">Play</a>{{end}}
      {{if .RepoURL}}<a href="{{.RepoURL}}">Source</a>{{end}}
    </p>
    {{range .Tags}}<span class="p-category">#{{.}}</span> {{end}}
  </article>
  {{end}}
`)

	blogTemplate = page(`
  <h2>{{if .Data.Tag}}Posts tagged #{{.Data.Tag}}{{else}}Blog{{end}}</h2>
  {{range .Data.Posts}}{{template "postItem" .}}{{else}}<p>No posts yet.</p>{{end}}
  <p>
    {{if .Data.Prev}}<a href="?page={{.Data.Prev}}">Newer</a>{{end}}
    {{if .Data.Next}}<a href="?page={{.Data.Next}}">Older</a>{{end}}
  </p>
  {{with .Data.Tags}}
  <aside>
    <h3>Tags</h3>
    {{range $tag, $n := .}}<a href="/blog/tag/{{$tag}}">#{{$tag}}</a> ({{$n}}) {{end}}
  </aside>
  {{end}}
`)

	postTemplate = page(`
  {{with .Data}}
  <article class="h-entry">
    <h2 class="p-name">{{.Title}}</h2>
    <p class="meta">
      <time class="dt-published" datetime="{{rfc3339 .PublishedAt}}">{{date .PublishedAt}}</time>
      {{if .AuthorName}} • <span class="p-author">{{.AuthorName}}</span>{{end}}
      • {{readingTime .Body}} min read
    </p>
    {{if .CoverImage}}<img class="u-photo" src="{{.CoverImage}}" alt="{{.Title}}">{{end}}
    <div class="e-content">{{markup .Body}}</div>
    <p>{{range .Tags}}<a class="p-category" href="/blog/tag/{{.}}">#{{.}}</a> {{end}}</p>
    <a class="u-url" href="/blog/{{.Slug}}"></a>
  </article>
  <div class="reactions" id="reactions" data-post="{{.ID}}">
    {{$counts := .Reactions}}
    {{range kinds}}<button data-kind="{{.}}">{{emoji .}} <span>{{index $counts .}}</span></button>{{end}}
  </div>
  <div id="mentions"></div>
  <script type="text/javascript" charset="utf-8">
    (function() {
      const root = document.getElementById('reactions');
      const base = '/api/posts/' + {{.ID}} + '/reactions';
      const render = (counts, mine) => {
        root.querySelectorAll('button').forEach(b => {
          const k = b.dataset.kind;
          b.querySelector('span').textContent = (counts && counts[k]) || 0;
          if (mine !== undefined) {
            b.classList.toggle('mine', mine === k);
          }
        });
      };
      fetch(base, {credentials: 'same-origin'})
        .then(r => r.json())
        .then(r => render(r.counts, r.mine))
        .catch(e => console.error('Error:', e));
      root.addEventListener('click', e => {
        const b = e.target.closest('button');
        if (!b) {
          return;
        }
        fetch(base, {
          credentials: 'same-origin',
          method: 'POST',
          body: JSON.stringify({kind: b.dataset.kind}),
          headers: new Headers({'Content-Type': 'application/json'})
        }).then(r => {
          if (r.status == 401) {
            window.location = '/login?next=' + encodeURIComponent(window.location.pathname);
            return;
          }
          return r.json().then(r => render(r.counts, r.mine));
        }).catch(e => console.error('Error:', e));
      });
      if (window.EventSource) {
        new EventSource(base + '/live').onmessage = e => render(JSON.parse(e.data));
      }
      fetch('/blog/' + {{.Slug}} + '/mentions')
        .then(r => r.text())
        .then(t => document.getElementById('mentions').innerHTML = t);
    })();
  </script>
  {{end}}
`)

	aboutTemplate = page(`
  <h2>About</h2>
  <div>{{markup .Data}}</div>
  {{if .Settings.ContactEmail}}<p><a href="/contact">Get in touch</a></p>{{end}}
`)

	contactTemplate = page(`
  <h2>Contact</h2>
  {{if .Data.Sent}}
  <p>Thanks, your message was sent.</p>
  {{else}}
  <form method="post" action="/contact">
    {{with .Data.Message}}
    <label>Name <input name="name" value="{{.Name}}" required></label>
    <label>Email <input name="email" type="email" value="{{.Email}}" required></label>
    <label>Subject <input name="subject" value="{{.Subject}}"></label>
    <label>Message <textarea name="body" required>{{.Body}}</textarea></label>
    {{end}}
    <label style="display:none">Website <input name="website" tabindex="-1" autocomplete="off"></label>
    <button type="submit">Send</button>
  </form>
  {{end}}
`)

	loginTemplate = page(`
  <h2>Sign in</h2>
  <button id="signin">Sign in with Google</button>
  <script src="https://www.gstatic.com/firebasejs/10.12.2/firebase-app-compat.js"></script>
  <script src="https://www.gstatic.com/firebasejs/10.12.2/firebase-auth-compat.js"></script>
  <script type="text/javascript" charset="utf-8">
    firebase.initializeApp({
      apiKey: {{.Data.APIKey}},
      authDomain: {{.Data.AuthDomain}},
      projectId: {{.Data.Project}}
    });
    firebase.auth().setPersistence(firebase.auth.Auth.Persistence.NONE);
    document.getElementById('signin').addEventListener('click', () => {
      firebase.auth().signInWithPopup(new firebase.auth.GoogleAuthProvider())
        .then(cred => cred.user.getIdToken())
        .then(idToken => fetch('/login?next=' + encodeURIComponent({{.Data.Next}}), {
          credentials: 'same-origin',
          method: 'POST',
          body: JSON.stringify({idToken: idToken}),
          headers: new Headers({'Content-Type': 'application/json'})
        }))
        .then(r => r.json())
        .then(r => firebase.auth().signOut().then(() => window.location = r.next || '/'))
        .catch(e => console.error('Error:', e));
    });
  </script>
`)
)
