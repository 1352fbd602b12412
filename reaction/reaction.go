// Package reaction implements per-user emoji reactions on blog posts.
//
// Each user has at most one reaction per post, stored as
// Posts/{post}/reactions/{uid}. The parent post carries a denormalized
// "reactions" map of kind to count that is only ever changed in the same
// transaction that changes a user's reaction document.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/golang/glog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jcgregorio/gamesite/ds"
	"github.com/jcgregorio/gamesite/post"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrInvalidKind  = errors.New("unknown reaction")
)

type kindInfo struct {
	Kind  string
	Emoji string
}

var kinds = []kindInfo{
	{"like", "👍"},
	{"love", "❤️"},
	{"laugh", "😂"},
	{"wow", "😮"},
	{"fire", "🔥"},
	{"gg", "🎮"},
}

// Kinds returns the reaction kinds in display order.
func Kinds() []string {
	ret := make([]string, len(kinds))
	for i, k := range kinds {
		ret[i] = k.Kind
	}
	return ret
}

func Valid(kind string) bool {
	return Emoji(kind) != ""
}

// Emoji returns the emoji for kind, or "" for an unknown kind.
func Emoji(kind string) string {
	for _, k := range kinds {
		if k.Kind == kind {
			return k.Emoji
		}
	}
	return ""
}

// Change is the effect of a user picking a reaction.
type Change struct {
	// Remove is the kind whose counter goes down, or "".
	Remove string
	// Add is the kind whose counter goes up, or "".
	Add string
	// Final is the user's reaction afterwards, "" for none.
	Final string
}

// Decide applies the toggle rule: picking the current reaction clears it,
// picking any other reaction replaces it.
func Decide(prev, next string) Change {
	if next == "" {
		return Change{Remove: prev}
	}
	if prev == next {
		return Change{Remove: prev}
	}
	return Change{Remove: prev, Add: next, Final: next}
}

// Counts maps reaction kind to the number of users who picked it.
type Counts map[string]int64

// Apply returns a copy of counts with the change applied. No counter goes
// below zero and zero counters are dropped.
func Apply(counts Counts, c Change) Counts {
	ret := Counts{}
	for k, v := range counts {
		if v > 0 {
			ret[k] = v
		}
	}
	if c.Remove != "" && ret[c.Remove] > 0 {
		ret[c.Remove]--
		if ret[c.Remove] == 0 {
			delete(ret, c.Remove)
		}
	}
	if c.Add != "" {
		ret[c.Add]++
	}
	return ret
}

// Reaction is the per-user document.
type Reaction struct {
	Kind    string    `firestore:"kind"`
	Updated time.Time `firestore:"updated"`
}

// Result is what the caller needs to update its view.
type Result struct {
	Counts Counts `json:"counts"`
	Mine   string `json:"mine"`
}

type Store struct {
	DS    *ds.DS
	Posts *post.Store
}

func New(d *ds.DS) *Store {
	return &Store{
		DS:    d,
		Posts: post.New(d),
	}
}

func (s *Store) reactionRef(postID, uid string) *firestore.DocumentRef {
	return s.Posts.Ref(postID).Collection(post.REACTIONS).Doc(uid)
}

func countsOf(doc *firestore.DocumentSnapshot) Counts {
	ret := Counts{}
	v, err := doc.DataAt("reactions")
	if err != nil {
		return ret
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return ret
	}
	for k, n := range m {
		if i, ok := n.(int64); ok && i > 0 {
			ret[k] = i
		}
	}
	return ret
}

// Toggle records uid's choice of kind on the post and returns the resulting
// counts. Both the user's reaction document and the post's counters are read
// and written in one transaction.
func (s *Store) Toggle(ctx context.Context, postID, uid, kind string) (*Result, error) {
	if !Valid(kind) {
		return nil, ErrInvalidKind
	}
	if uid == "" {
		return nil, fmt.Errorf("uid is required")
	}
	postRef := s.Posts.Ref(postID)
	reactRef := s.reactionRef(postID, uid)
	var result *Result
	err := s.DS.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		postDoc, err := tx.Get(postRef)
		if ds.IsNotFound(err) {
			return ErrPostNotFound
		}
		if err != nil {
			return err
		}
		prev := ""
		reactDoc, err := tx.Get(reactRef)
		if err == nil {
			var r Reaction
			if err := reactDoc.DataTo(&r); err != nil {
				return err
			}
			prev = r.Kind
		} else if !ds.IsNotFound(err) {
			return err
		}

		counts := countsOf(postDoc)
		change := Decide(prev, kind)
		updates := []firestore.Update{}
		if change.Remove != "" && counts[change.Remove] > 0 {
			updates = append(updates, firestore.Update{
				FieldPath: firestore.FieldPath{"reactions", change.Remove},
				Value:     firestore.Increment(-1),
			})
		}
		if change.Add != "" {
			updates = append(updates, firestore.Update{
				FieldPath: firestore.FieldPath{"reactions", change.Add},
				Value:     firestore.Increment(1),
			})
		}
		if len(updates) > 0 {
			if err := tx.Update(postRef, updates); err != nil {
				return err
			}
		}
		if change.Final == "" {
			if err := tx.Delete(reactRef); err != nil {
				return err
			}
		} else {
			if err := tx.Set(reactRef, &Reaction{Kind: change.Final, Updated: time.Now().UTC()}); err != nil {
				return err
			}
		}
		result = &Result{
			Counts: Apply(counts, change),
			Mine:   change.Final,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("Failed to toggle reaction on %q: %w", postID, err)
	}
	glog.V(1).Infof("Reaction on %s by %s is now %q", postID, uid, result.Mine)
	return result, nil
}

// Mine returns uid's reaction on the post, or "" if there is none.
func (s *Store) Mine(ctx context.Context, postID, uid string) (string, error) {
	if uid == "" {
		return "", nil
	}
	doc, err := s.reactionRef(postID, uid).Get(ctx)
	if ds.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("Failed to read reaction: %w", err)
	}
	var r Reaction
	if err := doc.DataTo(&r); err != nil {
		return "", err
	}
	return r.Kind, nil
}

// Counts returns the post's current counters.
func (s *Store) Counts(ctx context.Context, postID string) (Counts, error) {
	doc, err := s.Posts.Ref(postID).Get(ctx)
	if ds.IsNotFound(err) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to read post: %w", err)
	}
	return countsOf(doc), nil
}

// Watch calls fn with the post's counters every time they change, starting
// with the current value, until ctx is done or fn returns an error.
func (s *Store) Watch(ctx context.Context, postID string, fn func(Counts) error) error {
	it := s.Posts.Ref(postID).Snapshots(ctx)
	defer it.Stop()
	var last Counts
	for {
		doc, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("Failed while watching %q: %w", postID, err)
		}
		if !doc.Exists() {
			return ErrPostNotFound
		}
		counts := countsOf(doc)
		if last != nil && equal(last, counts) {
			continue
		}
		last = counts
		if err := fn(counts); err != nil {
			return err
		}
	}
}

func equal(a, b Counts) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
