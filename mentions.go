package site

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/jcgregorio/gamesite/feed"
	"github.com/jcgregorio/gamesite/mention"
)

const TRIAGE_LIMIT = 20

var (
	triageTemplate = page(`
  <h2>Webmentions</h2>
  <div id=webmentions>
  {{range .Data.Mentions }}
		<select name="text" data-key="{{ .Key }}">
			<option value="good" {{if eq .State "good" }}selected{{ end }} >Good</option>
			<option value="spam" {{if eq .State "spam" }}selected{{ end }} >Spam</option>
			<option value="untriaged" {{if eq .State "untriaged" }}selected{{ end }} >Untriaged</option>
		</select>
		<span>{{ .TS | humanTime }}</span>
		<div>
		  <div>Source: <a href="{{ .Source }}">{{ trunc 80 .Source }}</a></div>
			<div>Target: <a href="{{ .Target }}">{{ trunc 80 .Target }}</a></div>
		</div>
  {{end}}
  </div>
	<div>{{if .Data.Prev}}<a href="?offset={{.Data.PrevOffset}}&limit={{.Data.Limit}}">Previous</a>{{end}} <a href="?offset={{.Data.Offset}}&limit={{.Data.Limit}}">Next</a></div>
	<script type="text/javascript" charset="utf-8">
	 document.getElementById('webmentions').addEventListener('change', e => {
		 if (e.target.dataset.key != "") {
			 fetch("/admin/mentions/update", {
			   credentials: 'same-origin',
				 method: 'POST',
				 body: JSON.stringify({
					 key: e.target.dataset.key,
					 value:  e.target.value,
				 }),
				 headers: new Headers({
					 'Content-Type': 'application/json'
				 })
			 }).catch(e => console.error('Error:', e));
		 }
	 });
	</script>
`)

	// mentionsTemplate is a fragment loaded into post pages.
	mentionsTemplate = template.Must(template.New("mentions").Funcs(funcs).Parse(`
	<section id=webmention>
	<h3>WebMentions</h3>
	{{ range . }}
	    <span class="wm-author">
				{{ if .AuthorURL }}
					{{ if .Thumbnail }}
					<a href="{{ .AuthorURL}}" rel=nofollow class="wm-thumbnail">
						<img src="/u/thumbnail/{{ .Thumbnail }}"/>
					</a>
					{{ end }}
					<a href="{{ .AuthorURL}}" rel=nofollow>
						{{ .Author }}
					</a>
				{{ else }}
					{{ .Author }}
				{{ end }}
			</span>
			<time datetime="{{ .Published | rfc3339 }}">{{ .Published | humanTime }}</time>
			<a class="wm-content" href="{{ .Source }}" rel=nofollow>
				{{ if .Title }}
					{{ trunc 200 .Title }}
				{{ else }}
					{{ trunc 200 .Source }}
				{{ end }}
			</a>
	{{ end }}
	</section>
`))
)

// Webmention accepts an incoming webmention and queues it for verification.
func (s *Site) Webmention(w http.ResponseWriter, r *http.Request) {
	m := mention.New(r.FormValue("source"), r.FormValue("target"))
	if err := m.FastValidate(s.Config.Hostname()); err != nil {
		glog.Infof("Rejected webmention from %q: %s", m.Source, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Mentions.Put(r.Context(), m); err != nil {
		glog.Errorf("Failed to queue webmention: %s", err)
		http.Error(w, "Failed to save.", http.StatusInternalServerError)
		return
	}
	glog.Infof("Queued webmention %s -> %s", m.Source, m.Target)
	w.WriteHeader(http.StatusAccepted)
}

// MentionsFragment returns HTML describing all the good Webmentions of a post.
func (s *Site) MentionsFragment(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	m, err := s.Mentions.GetGood(r.Context(), feed.PostURL(s.Config.Host, mux.Vars(r)["slug"]))
	if err != nil {
		glog.Errorf("Failed to load mentions: %s", err)
		return
	}
	if len(m) == 0 {
		return
	}
	if err := mentionsTemplate.Execute(w, m); err != nil {
		glog.Errorf("Failed to expand template: %s", err)
	}
}

func (s *Site) Thumbnail(w http.ResponseWriter, r *http.Request) {
	b, err := s.Mentions.GetThumbnail(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, mention.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(b)
}

type triageContext struct {
	Mentions   []*mention.MentionWithKey
	Limit      int
	Offset     int
	Prev       bool
	PrevOffset int
}

// Triage displays the triage page for Webmentions.
func (s *Site) Triage(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", TRIAGE_LIMIT)
	if limit == 0 {
		limit = TRIAGE_LIMIT
	}
	offset := intParam(r, "offset", 0)
	mentions, err := s.Mentions.GetTriage(r.Context(), limit, offset)
	if err != nil {
		s.serverError(w, err)
		return
	}
	prev := offset - limit
	if prev < 0 {
		prev = 0
	}
	s.render(w, r, triageTemplate, "Webmentions", &triageContext{
		Mentions:   mentions,
		Limit:      limit,
		Offset:     offset + limit,
		Prev:       offset > 0,
		PrevOffset: prev,
	})
}

type updateMention struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Site) UpdateMention(w http.ResponseWriter, r *http.Request) {
	var u updateMention
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		glog.Warningf("Failed to decode update: %s", err)
		http.Error(w, "Bad JSON", http.StatusBadRequest)
		return
	}
	if !mention.ValidState(u.Value) {
		http.Error(w, "Unknown state", http.StatusBadRequest)
		return
	}
	err := s.Mentions.UpdateState(r.Context(), u.Key, u.Value)
	if errors.Is(err, mention.ErrNotFound) {
		http.Error(w, "No such mention", http.StatusNotFound)
		return
	}
	if err != nil {
		glog.Errorf("Failed to write update: %s", err)
		http.Error(w, "Failed to write", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
