package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
)

const defaultSnapshotCollection = "cart_snapshots"

// CartSnapshotRepository persists cart snapshots as Firestore documents keyed by snapshot key.
type CartSnapshotRepository struct {
	provider   *pfirestore.Provider
	collection string
}

// NewCartSnapshotRepository constructs a Firestore-backed snapshot store.
func NewCartSnapshotRepository(provider *pfirestore.Provider) (*CartSnapshotRepository, error) {
	if provider == nil {
		return nil, errors.New("cart snapshot repository requires firestore provider")
	}
	collection := provider.Collection()
	if collection == "" {
		collection = defaultSnapshotCollection
	}
	return &CartSnapshotRepository{provider: provider, collection: collection}, nil
}

// SaveSnapshot upserts the snapshot document.
func (r *CartSnapshotRepository) SaveSnapshot(ctx context.Context, key string, snapshot domain.CartSnapshot) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("cart snapshot repository: key is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(r.collection).Doc(key).Set(ctx, encodeSnapshot(snapshot))
	return pfirestore.WrapError("cart_snapshots.save", err)
}

// LoadSnapshot fetches the snapshot document.
func (r *CartSnapshotRepository) LoadSnapshot(ctx context.Context, key string) (domain.CartSnapshot, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	snap, err := client.Collection(r.collection).Doc(strings.TrimSpace(key)).Get(ctx)
	if err != nil {
		return domain.CartSnapshot{}, pfirestore.WrapError("cart_snapshots.load", err)
	}
	var doc snapshotDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.CartSnapshot{}, pfirestore.WrapError("cart_snapshots.decode", err)
	}
	return doc.toDomain(), nil
}

// DeleteSnapshot removes the snapshot document.
func (r *CartSnapshotRepository) DeleteSnapshot(ctx context.Context, key string) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(r.collection).Doc(strings.TrimSpace(key)).Delete(ctx)
	return pfirestore.WrapError("cart_snapshots.delete", err)
}

type snapshotDocument struct {
	CartID    string         `firestore:"cartId"`
	Currency  string         `firestore:"currency"`
	Items     []itemDocument `firestore:"items"`
	Subtotal  int64          `firestore:"subtotal"`
	Total     int64          `firestore:"total"`
	FetchedAt time.Time      `firestore:"fetchedAt"`
	SavedAt   time.Time      `firestore:"savedAt,serverTimestamp"`
}

type itemDocument struct {
	Key       string `firestore:"key"`
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku,omitempty"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	LineTotal int64  `firestore:"lineTotal"`
}

func encodeSnapshot(snapshot domain.CartSnapshot) snapshotDocument {
	doc := snapshotDocument{
		CartID:    snapshot.ID,
		Currency:  strings.ToUpper(strings.TrimSpace(snapshot.Currency)),
		Items:     make([]itemDocument, 0, len(snapshot.Items)),
		Subtotal:  snapshot.Subtotal,
		Total:     snapshot.Total,
		FetchedAt: snapshot.FetchedAt.UTC(),
	}
	for _, item := range snapshot.Items {
		doc.Items = append(doc.Items, itemDocument(item))
	}
	return doc
}

func (d snapshotDocument) toDomain() domain.CartSnapshot {
	snapshot := domain.CartSnapshot{
		ID:        d.CartID,
		Currency:  d.Currency,
		Subtotal:  d.Subtotal,
		Total:     d.Total,
		FetchedAt: d.FetchedAt,
	}
	for _, item := range d.Items {
		snapshot.Items = append(snapshot.Items, domain.CartItem(item))
	}
	return snapshot
}
