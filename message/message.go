// Package message stores the messages visitors send through the contact form.
package message

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/jcgregorio/gamesite/ds"
)

const (
	MESSAGES ds.Kind = "Messages"

	MAX_BODY    = 5000
	MAX_NAME    = 100
	MAX_SUBJECT = 200
)

var ErrNotFound = errors.New("message not found")

type Message struct {
	ID         string    `firestore:"-" json:"id"`
	Name       string    `firestore:"name" json:"name"`
	Email      string    `firestore:"email" json:"email"`
	Subject    string    `firestore:"subject" json:"subject"`
	Body       string    `firestore:"body" json:"body"`
	Read       bool      `firestore:"read" json:"read"`
	Created    time.Time `firestore:"created" json:"created"`
	RemoteAddr string    `firestore:"remoteAddr" json:"-"`

	// Honeypot is a form field hidden from people. Bots fill it in.
	Honeypot string `firestore:"-" json:"-"`
}

// Validate checks a message submitted by a visitor and normalizes its fields.
func (m *Message) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.TrimSpace(m.Email)
	m.Subject = strings.TrimSpace(m.Subject)
	m.Body = strings.TrimSpace(m.Body)
	if m.Honeypot != "" {
		return fmt.Errorf("Message rejected.")
	}
	if m.Name == "" {
		return fmt.Errorf("Name is required.")
	}
	if utf8.RuneCountInString(m.Name) > MAX_NAME {
		return fmt.Errorf("Name is too long.")
	}
	addr, err := mail.ParseAddress(m.Email)
	if err != nil {
		return fmt.Errorf("Email is not valid.")
	}
	m.Email = addr.Address
	if utf8.RuneCountInString(m.Subject) > MAX_SUBJECT {
		return fmt.Errorf("Subject is too long.")
	}
	n := utf8.RuneCountInString(m.Body)
	if n == 0 {
		return fmt.Errorf("Message is empty.")
	}
	if n > MAX_BODY {
		return fmt.Errorf("Message is too long, %d characters max.", MAX_BODY)
	}
	return nil
}

type Store struct {
	DS *ds.DS
}

func New(d *ds.DS) *Store {
	return &Store{DS: d}
}

func (s *Store) coll() *firestore.CollectionRef {
	return s.DS.Collection(MESSAGES)
}

func fromSnapshot(doc *firestore.DocumentSnapshot) (*Message, error) {
	m := &Message{}
	if err := doc.DataTo(m); err != nil {
		return nil, fmt.Errorf("Failed to decode message %s: %w", doc.Ref.ID, err)
	}
	m.ID = doc.Ref.ID
	return m, nil
}

// Put stores a new message.
func (s *Store) Put(ctx context.Context, m *Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.Created = time.Now().UTC()
	m.Read = false
	ref := s.coll().NewDoc()
	if _, err := ref.Create(ctx, m); err != nil {
		return fmt.Errorf("Failed writing message: %w", err)
	}
	m.ID = ref.ID
	return nil
}

// List returns messages newest first. A limit of 0 means no limit.
func (s *Store) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]*Message, error) {
	q := s.coll().OrderBy("created", firestore.Desc)
	if unreadOnly {
		q = s.coll().Where("read", "==", false).OrderBy("created", firestore.Desc)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	it := q.Documents(ctx)
	defer it.Stop()
	ret := []*Message{}
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Failed while reading: %w", err)
		}
		m, err := fromSnapshot(doc)
		if err != nil {
			return nil, err
		}
		ret = append(ret, m)
	}
	return ret, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Message, error) {
	doc, err := s.coll().Doc(id).Get(ctx)
	if ds.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to get message %q: %w", id, err)
	}
	return fromSnapshot(doc)
}

func (s *Store) MarkRead(ctx context.Context, id string, read bool) error {
	_, err := s.coll().Doc(id).Update(ctx, []firestore.Update{{Path: "read", Value: read}})
	if ds.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("Failed to update message %q: %w", id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.coll().Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if ds.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("Failed to delete message %q: %w", id, err)
	}
	return nil
}

// Unread counts the messages nobody has read yet.
func (s *Store) Unread(ctx context.Context) (int, error) {
	docs, err := s.coll().Where("read", "==", false).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("Failed to count unread messages: %w", err)
	}
	return len(docs), nil
}
