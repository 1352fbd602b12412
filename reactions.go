package site

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/jcgregorio/gamesite/admin"
	"github.com/jcgregorio/gamesite/live"
	"github.com/jcgregorio/gamesite/post"
	"github.com/jcgregorio/gamesite/reaction"
)

// visiblePost returns the post if the request may see it, writing a 404 or
// 500 JSON response otherwise.
func (s *Site) visiblePost(w http.ResponseWriter, r *http.Request) (*post.Post, bool) {
	p, err := s.Posts.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, post.ErrNotFound) || (err == nil && !p.Published && !canPreview(r)) {
		jsonError(w, "Post not found.", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		glog.Errorf("Failed to load post: %s", err)
		jsonError(w, "Failed to load post.", http.StatusInternalServerError)
		return nil, false
	}
	return p, true
}

// GetReactions returns the post's counts and, when signed in, the caller's
// own reaction.
func (s *Site) GetReactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := s.visiblePost(w, r)
	if !ok {
		return
	}
	counts, err := s.Reactions.Counts(ctx, p.ID)
	if err != nil {
		glog.Errorf("Failed to read reactions: %s", err)
		jsonError(w, "Failed to read reactions.", http.StatusInternalServerError)
		return
	}
	ret := &reaction.Result{Counts: counts}
	if u := admin.FromContext(ctx); u != nil {
		if ret.Mine, err = s.Reactions.Mine(ctx, p.ID, u.UID); err != nil {
			glog.Warningf("Failed to read reaction of %q: %s", u.UID, err)
		}
	}
	writeJSON(w, http.StatusOK, ret)
}

type reactRequest struct {
	Kind string `json:"kind"`
}

// PostReaction toggles the caller's reaction. Picking the current reaction
// again removes it.
func (s *Site) PostReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := admin.FromContext(ctx)
	var req reactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Bad JSON.", http.StatusBadRequest)
		return
	}
	if !reaction.Valid(req.Kind) {
		jsonError(w, "Unknown reaction.", http.StatusBadRequest)
		return
	}
	p, ok := s.visiblePost(w, r)
	if !ok {
		return
	}
	res, err := s.Reactions.Toggle(ctx, p.ID, u.UID, req.Kind)
	switch {
	case errors.Is(err, reaction.ErrPostNotFound):
		jsonError(w, "Post not found.", http.StatusNotFound)
	case errors.Is(err, reaction.ErrInvalidKind):
		jsonError(w, "Unknown reaction.", http.StatusBadRequest)
	case err != nil:
		glog.Errorf("Failed to toggle reaction: %s", err)
		jsonError(w, "Failed to save reaction.", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// LiveReactions streams the post's counts as they change.
func (s *Site) LiveReactions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.visiblePost(w, r)
	if !ok {
		return
	}
	live.Serve(w, r, func(ctx context.Context, fn func(interface{}) error) error {
		return s.Reactions.Watch(ctx, p.ID, func(c reaction.Counts) error {
			return fn(c)
		})
	})
}
