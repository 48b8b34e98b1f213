// Package cloud implements the primary alert transport: a single document
// per deployment in a remote Firestore collection, written by the field
// unit and answered by the operator's app.
package cloud

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store abstracts the document operations the channel needs. The Firestore
// client satisfies it through firestoreStore; tests substitute an in-memory
// fake.
type Store interface {
	Set(ctx context.Context, docID string, data map[string]any) error
	Get(ctx context.Context, docID string) (map[string]any, bool, error)
	Update(ctx context.Context, docID string, fields map[string]any) error
	Close() error
}

// StoreConfig describes the Firestore connection.
type StoreConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

type firestoreStore struct {
	client     *firestore.Client
	collection string
}

// ConnectStore opens the Firestore client. The returned store is safe for
// concurrent use as provided by the client.
func ConnectStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &firestoreStore{client: client, collection: cfg.Collection}, nil
}

func (s *firestoreStore) Set(ctx context.Context, docID string, data map[string]any) error {
	_, err := s.client.Collection(s.collection).Doc(docID).Set(ctx, data)
	return err
}

func (s *firestoreStore) Get(ctx context.Context, docID string) (map[string]any, bool, error) {
	snap, err := s.client.Collection(s.collection).Doc(docID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return snap.Data(), true, nil
}

func (s *firestoreStore) Update(ctx context.Context, docID string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	_, err := s.client.Collection(s.collection).Doc(docID).Update(ctx, updates)
	return err
}

func (s *firestoreStore) Close() error {
	return s.client.Close()
}
