package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/car-rental/populate/internal/platform/firestore"
	"github.com/car-rental/populate/internal/repositories"
)

const partitionKeyField = "partitionKey"

// itemCodec converts between a domain item and its stored document.
type itemCodec[T any, D any] struct {
	key       func(item T) (id string, partitionKey string)
	partition func(doc D) string
	toDoc     func(item T, now time.Time) D
	fromDoc   func(id string, doc D) (T, error)
	// stamp copies bookkeeping fields of the stored document onto a replacement.
	stamp func(existing D, replacement *D)
}

// itemStore implements repositories.ItemRepository for one container collection.
type itemStore[T any, D any] struct {
	provider *pfirestore.Provider
	docs     *pfirestore.Collection[D]
	codec    itemCodec[T, D]
	name     string
	now      func() time.Time
}

func newItemStore[T any, D any](provider *pfirestore.Provider, databaseID, containerID string, codec itemCodec[T, D]) (*itemStore[T, D], error) {
	if provider == nil {
		return nil, fmt.Errorf("%s repository requires firestore provider", containerID)
	}
	if strings.TrimSpace(databaseID) == "" || strings.TrimSpace(containerID) == "" {
		return nil, errors.New("item repository requires database and container ids")
	}
	if containerID == repositories.ReservedContainerID {
		return nil, fmt.Errorf("item repository: container id %q is reserved", containerID)
	}
	return &itemStore[T, D]{
		provider: provider,
		docs:     pfirestore.NewCollection[D](provider, itemsPath(databaseID, containerID)),
		codec:    codec,
		name:     containerID,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *itemStore[T, D]) CreateIfAbsent(ctx context.Context, item T) (bool, error) {
	id, partitionKey := s.codec.key(item)
	if err := validateItemKey(id, partitionKey); err != nil {
		return false, err
	}
	if err := s.docs.Create(ctx, id, s.codec.toDoc(item, s.now())); err != nil {
		if repositories.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *itemStore[T, D]) FindByID(ctx context.Context, id, partitionKey string) (T, error) {
	var zero T
	if err := validateItemKey(id, partitionKey); err != nil {
		return zero, err
	}
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	if s.codec.partition(doc.Data) != partitionKey {
		return zero, pfirestore.WrapError(s.docs.Op("get"), partitionMismatch(s.name, id, partitionKey))
	}
	return s.codec.fromDoc(doc.ID, doc.Data)
}

func (s *itemStore[T, D]) Replace(ctx context.Context, item T) error {
	id, partitionKey := s.codec.key(item)
	if err := validateItemKey(id, partitionKey); err != nil {
		return err
	}
	replacement := s.codec.toDoc(item, s.now())

	return s.provider.RunTransaction(ctx, s.docs.Op("replace"), func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.docs.Doc(ctx, id)
		if err != nil {
			return err
		}
		existing, err := s.readInPartition(tx, ref, partitionKey)
		if err != nil {
			return err
		}
		if s.codec.stamp != nil {
			s.codec.stamp(existing, &replacement)
		}
		return tx.Set(ref, replacement)
	})
}

// update applies mutate to the stored item inside a transaction and writes the result back. An
// error from mutate aborts the write and is returned classified.
func (s *itemStore[T, D]) update(ctx context.Context, id, partitionKey string, mutate func(item *T) error) (T, error) {
	var updated T
	if err := validateItemKey(id, partitionKey); err != nil {
		return updated, err
	}
	err := s.provider.RunTransaction(ctx, s.docs.Op("update"), func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.docs.Doc(ctx, id)
		if err != nil {
			return err
		}
		existing, err := s.readInPartition(tx, ref, partitionKey)
		if err != nil {
			return err
		}
		item, err := s.codec.fromDoc(ref.ID, existing)
		if err != nil {
			return err
		}
		if err := mutate(&item); err != nil {
			return err
		}
		replacement := s.codec.toDoc(item, s.now())
		if s.codec.stamp != nil {
			s.codec.stamp(existing, &replacement)
		}
		if err := tx.Set(ref, replacement); err != nil {
			return err
		}
		updated, err = s.codec.fromDoc(ref.ID, replacement)
		return err
	})
	return updated, err
}

func (s *itemStore[T, D]) Delete(ctx context.Context, id, partitionKey string) error {
	if err := validateItemKey(id, partitionKey); err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, s.docs.Op("delete"), func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.docs.Doc(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.readInPartition(tx, ref, partitionKey); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
}

func (s *itemStore[T, D]) ListByPartition(ctx context.Context, partitionKey string) ([]T, error) {
	if strings.TrimSpace(partitionKey) == "" {
		return nil, errors.New("partition key is required")
	}
	docs, err := s.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(partitionKeyField, "==", partitionKey).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return s.decodeAll(docs)
}

// query runs an arbitrary filter over the container and decodes the results.
func (s *itemStore[T, D]) query(ctx context.Context, build pfirestore.QueryBuilder) ([]T, error) {
	docs, err := s.docs.Query(ctx, build)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(docs)
}

func (s *itemStore[T, D]) decodeAll(docs []pfirestore.Document[D]) ([]T, error) {
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := s.codec.fromDoc(doc.ID, doc.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: decode %s: %w", s.docs.Op("query"), doc.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *itemStore[T, D]) readInPartition(tx *firestore.Transaction, ref *firestore.DocumentRef, partitionKey string) (D, error) {
	var zero D
	snap, err := tx.Get(ref)
	if err != nil {
		return zero, err
	}
	decoded, err := s.docs.Decode(snap)
	if err != nil {
		return zero, err
	}
	if s.codec.partition(decoded.Data) != partitionKey {
		return zero, partitionMismatch(s.name, ref.ID, partitionKey)
	}
	return decoded.Data, nil
}

func partitionMismatch(container, id, partitionKey string) error {
	return fmt.Errorf("%w: %s item %s not in partition %s", pfirestore.ErrPartitionMismatch, container, id, partitionKey)
}

func validateItemKey(id, partitionKey string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("item id is required")
	}
	if strings.TrimSpace(partitionKey) == "" {
		return errors.New("partition key is required")
	}
	return nil
}

func itemsPath(databaseID, containerID string) string {
	return databasesCollection + "/" + databaseID + "/" + containerID
}
