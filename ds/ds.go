// Package ds is a thin helper around the Firestore client that keeps every
// collection of the site under a namespace prefix.
package ds

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the un-namespaced name of a top level collection.
type Kind string

const (
	EMULATOR_HOST = "FIRESTORE_EMULATOR_HOST"
)

type DS struct {
	Client    *firestore.Client
	Namespace string
}

// New creates a Firestore client for the given project and database.
func New(ctx context.Context, project, database, ns string, opts ...option.ClientOption) (*DS, error) {
	if project == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, project, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return FromClient(client, ns), nil
}

// FromClient wraps an existing client, e.g. one created by a firebase.App.
func FromClient(client *firestore.Client, ns string) *DS {
	return &DS{
		Client:    client,
		Namespace: ns,
	}
}

func (d *DS) Close() error {
	return d.Client.Close()
}

// Collection returns the namespaced collection for kind.
func (d *DS) Collection(kind Kind) *firestore.CollectionRef {
	if d.Namespace == "" {
		return d.Client.Collection(string(kind))
	}
	return d.Client.Collection(d.Namespace + "-" + string(kind))
}

// IsNotFound is true if err is Firestore's answer for a missing document.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// job is the result of a write queued on a BulkWriter.
type job interface {
	Results() (*firestore.WriteResult, error)
}

// wait blocks until every job finishes and returns how many succeeded, along
// with the first failure.
func wait(jobs []job) (int, error) {
	n := 0
	var first error
	for _, j := range jobs {
		if _, err := j.Results(); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		n++
	}
	return n, first
}

// DeleteQuery deletes every document the query yields and returns how many
// were deleted.
func (d *DS) DeleteQuery(ctx context.Context, q firestore.Query) (int, error) {
	it := q.Documents(ctx)
	defer it.Stop()

	bw := d.Client.BulkWriter(ctx)
	jobs := []job{}
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			n, _ := wait(jobs)
			return n, fmt.Errorf("Failed while reading: %w", err)
		}
		j, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			n, _ := wait(jobs)
			return n, fmt.Errorf("Failed to enqueue delete of %s: %w", doc.Ref.ID, err)
		}
		jobs = append(jobs, j)
	}
	bw.End()
	n, err := wait(jobs)
	if err != nil {
		return n, fmt.Errorf("Failed to delete %d of %d documents: %w", len(jobs)-n, len(jobs), err)
	}
	return n, nil
}

// InitForTesting connects to the Firestore emulator with a fresh random
// namespace. The second return value is false if the emulator isn't running,
// in which case the caller should skip.
func InitForTesting(ctx context.Context) (*DS, bool, error) {
	if os.Getenv(EMULATOR_HOST) == "" {
		return nil, false, nil
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	d, err := New(ctx, "test-project", "", fmt.Sprintf("test-%d", r.Uint64()))
	if err != nil {
		return nil, true, err
	}
	return d, true, nil
}
