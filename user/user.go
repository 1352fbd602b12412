// Package user stores the profiles and roles of people who have signed in.
package user

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/golang/glog"
	"google.golang.org/api/iterator"

	"github.com/jcgregorio/gamesite/ds"
)

const (
	USERS ds.Kind = "Users"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrLastAdmin = errors.New("the last administrator cannot be removed")
	ErrBadRole   = errors.New("unknown role")
)

// Role gates what a signed in user may do.
type Role string

const (
	VIEWER Role = "viewer"
	EDITOR Role = "editor"
	ADMIN  Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case ADMIN:
		return 3
	case EDITOR:
		return 2
	case VIEWER:
		return 1
	}
	return 0
}

// Allows is true if r grants at least the privileges of required.
func (r Role) Allows(required Role) bool {
	return r.rank() >= required.rank() && r.rank() > 0
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.rank() == 0 {
		return "", ErrBadRole
	}
	return r, nil
}

// Roles lists the roles from least to most privileged.
func Roles() []Role {
	return []Role{VIEWER, EDITOR, ADMIN}
}

type User struct {
	UID       string    `firestore:"-" json:"uid"`
	Email     string    `firestore:"email" json:"email"`
	Name      string    `firestore:"name" json:"name"`
	PhotoURL  string    `firestore:"photoUrl" json:"photoUrl"`
	Role      Role      `firestore:"role" json:"role"`
	Created   time.Time `firestore:"created" json:"created"`
	LastLogin time.Time `firestore:"lastLogin" json:"lastLogin"`
}

// DisplayName is the name to show for the user.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if i := strings.Index(u.Email, "@"); i > 0 {
		return u.Email[:i]
	}
	return u.UID
}

type Store struct {
	DS *ds.DS
}

func New(d *ds.DS) *Store {
	return &Store{DS: d}
}

func (s *Store) coll() *firestore.CollectionRef {
	return s.DS.Collection(USERS)
}

func fromSnapshot(doc *firestore.DocumentSnapshot) (*User, error) {
	u := &User{}
	if err := doc.DataTo(u); err != nil {
		return nil, fmt.Errorf("Failed to decode user %s: %w", doc.Ref.ID, err)
	}
	u.UID = doc.Ref.ID
	return u, nil
}

func (s *Store) Get(ctx context.Context, uid string) (*User, error) {
	doc, err := s.coll().Doc(uid).Get(ctx)
	if ds.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to get user %q: %w", uid, err)
	}
	return fromSnapshot(doc)
}

// loginInterval limits how often LastLogin is rewritten for the same user.
const loginInterval = 10 * time.Minute

// refresh updates u from a fresh sign-in and returns true if anything
// changed.
func refresh(u *User, email, name, photo string, bootstrapAdmin bool, now time.Time) bool {
	dirty := false
	if bootstrapAdmin && u.Role != ADMIN {
		u.Role = ADMIN
		dirty = true
	}
	if email != "" && u.Email != email {
		u.Email = email
		dirty = true
	}
	if name != "" && u.Name != name {
		u.Name = name
		dirty = true
	}
	if photo != "" && u.PhotoURL != photo {
		u.PhotoURL = photo
		dirty = true
	}
	if now.Sub(u.LastLogin) > loginInterval {
		u.LastLogin = now
		dirty = true
	}
	return dirty
}

// Ensure returns the profile for uid, creating it on first sign-in. New users
// are viewers unless bootstrapAdmin is set, in which case they are, and stay,
// administrators.
//
// Ensure runs on every authenticated request, so an up to date profile is
// returned from a plain read and only a missing or stale one takes a
// transaction.
func (s *Store) Ensure(ctx context.Context, uid, email, name, photo string, bootstrapAdmin bool) (*User, error) {
	now := time.Now().UTC()
	u, err := s.Get(ctx, uid)
	if err == nil && !refresh(u, email, name, photo, bootstrapAdmin, now) {
		return u, nil
	}
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	ref := s.coll().Doc(uid)
	var ret *User
	err = s.DS.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if ds.IsNotFound(err) {
			u := &User{
				UID:       uid,
				Email:     email,
				Name:      name,
				PhotoURL:  photo,
				Role:      VIEWER,
				Created:   now,
				LastLogin: now,
			}
			if bootstrapAdmin {
				u.Role = ADMIN
			}
			ret = u
			return tx.Create(ref, u)
		}
		if err != nil {
			return err
		}
		u, err := fromSnapshot(doc)
		if err != nil {
			return err
		}
		ret = u
		if !refresh(u, email, name, photo, bootstrapAdmin, now) {
			return nil
		}
		return tx.Set(ref, u)
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to ensure user %q: %w", uid, err)
	}
	return ret, nil
}

// List returns all users, administrators first, then by email.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	it := s.coll().Documents(ctx)
	defer it.Stop()
	ret := []*User{}
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Failed while reading: %w", err)
		}
		u, err := fromSnapshot(doc)
		if err != nil {
			return nil, err
		}
		ret = append(ret, u)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].Role.rank() != ret[j].Role.rank() {
			return ret[i].Role.rank() > ret[j].Role.rank()
		}
		return ret[i].Email < ret[j].Email
	})
	return ret, nil
}

// otherAdmins returns true if an administrator other than uid exists.
func (s *Store) otherAdmins(tx *firestore.Transaction, uid string) (bool, error) {
	admins, err := tx.Documents(s.coll().Where("role", "==", string(ADMIN))).GetAll()
	if err != nil {
		return false, err
	}
	for _, doc := range admins {
		if doc.Ref.ID != uid {
			return true, nil
		}
	}
	return false, nil
}

// SetRole changes the role of a user. The last administrator can't be demoted.
func (s *Store) SetRole(ctx context.Context, uid string, role Role) error {
	if role.rank() == 0 {
		return ErrBadRole
	}
	ref := s.coll().Doc(uid)
	err := s.DS.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if ds.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		u, err := fromSnapshot(doc)
		if err != nil {
			return err
		}
		if u.Role == ADMIN && role != ADMIN {
			ok, err := s.otherAdmins(tx, uid)
			if err != nil {
				return err
			}
			if !ok {
				return ErrLastAdmin
			}
		}
		return tx.Update(ref, []firestore.Update{{Path: "role", Value: string(role)}})
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLastAdmin) {
		return unwrap(err)
	}
	if err != nil {
		return fmt.Errorf("Failed to set role of %q: %w", uid, err)
	}
	glog.Infof("Role of %s is now %s", uid, role)
	return nil
}

// Delete removes the user's profile. The last administrator can't be deleted.
func (s *Store) Delete(ctx context.Context, uid string) error {
	ref := s.coll().Doc(uid)
	err := s.DS.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if ds.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		u, err := fromSnapshot(doc)
		if err != nil {
			return err
		}
		if u.Role == ADMIN {
			ok, err := s.otherAdmins(tx, uid)
			if err != nil {
				return err
			}
			if !ok {
				return ErrLastAdmin
			}
		}
		return tx.Delete(ref)
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLastAdmin) {
		return unwrap(err)
	}
	if err != nil {
		return fmt.Errorf("Failed to delete user %q: %w", uid, err)
	}
	return nil
}

func unwrap(err error) error {
	for _, target := range []error{ErrNotFound, ErrLastAdmin} {
		if errors.Is(err, target) {
			return target
		}
	}
	return err
}
