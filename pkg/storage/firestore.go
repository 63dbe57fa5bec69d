package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const tokensCollection = "lumentreeTokens"

// FirestoreStore implements TokenStore using Google Cloud Firestore. Each
// device has one document in the tokens collection keyed by device ID.
type FirestoreStore struct {
	client    *firestore.Client
	projectID string
	database  string
	sealer    *sealer
}

type firestoreToken struct {
	Token     []byte    `firestore:"token"`
	Expiry    time.Time `firestore:"expiry"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// configuredFirestore sets up the Firestore store.
// It registers flags for configuration.
func configuredFirestore() *FirestoreStore {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreStore{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the store methods.
func (f *FirestoreStore) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreStore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreStore) doc(deviceID string) (*firestore.DocumentRef, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	return f.client.Collection(tokensCollection).Doc(deviceID), nil
}

// GetToken reads the device's token document.
func (f *FirestoreStore) GetToken(ctx context.Context, deviceID string) (types.StoredToken, error) {
	ref, err := f.doc(deviceID)
	if err != nil {
		return types.StoredToken{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.StoredToken{}, ErrTokenNotFound
		}
		return types.StoredToken{}, fmt.Errorf("failed to fetch token doc: %w", err)
	}

	var doc firestoreToken
	if err := snap.DataTo(&doc); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode token doc", slog.String("deviceId", deviceID), slog.Any("error", err))
		return types.StoredToken{}, fmt.Errorf("failed to decode token doc: %w", err)
	}
	token, err := f.sealer.open(ctx, doc.Token)
	if err != nil {
		return types.StoredToken{}, err
	}
	return types.StoredToken{
		DeviceID: deviceID,
		Token:    token,
		Expiry:   doc.Expiry,
	}, nil
}

// SetToken writes the device's token document.
func (f *FirestoreStore) SetToken(ctx context.Context, token types.StoredToken) error {
	ref, err := f.doc(token.DeviceID)
	if err != nil {
		return err
	}
	sealed, err := f.sealer.seal(ctx, token.Token)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, firestoreToken{
		Token:     sealed,
		Expiry:    token.Expiry,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// DeleteToken removes the device's token document.
func (f *FirestoreStore) DeleteToken(ctx context.Context, deviceID string) error {
	ref, err := f.doc(deviceID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// PurgeExpired deletes every token document whose expiry is before now and
// returns how many were removed.
func (f *FirestoreStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	iter := f.client.Collection(tokensCollection).Where("expiry", "<", now).Documents(ctx)
	defer iter.Stop()

	var n int
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return n, fmt.Errorf("failed to iterate expired tokens: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return n, fmt.Errorf("failed to delete expired token %s: %w", snap.Ref.ID, err)
		}
		n++
	}
	if n > 0 {
		log.Ctx(ctx).InfoContext(ctx, "purged expired tokens", slog.Int("count", n))
	}
	return n, nil
}
