package firestore

import (
	"context"
	"fmt"
	"time"

	domain "github.com/car-rental/populate/internal/domain"
	pfirestore "github.com/car-rental/populate/internal/platform/firestore"
	"github.com/car-rental/populate/internal/repositories"
)

type carDocument struct {
	PartitionKey string    `firestore:"partitionKey"`
	Name         string    `firestore:"name"`
	Brand        string    `firestore:"brand"`
	Category     string    `firestore:"category"`
	IsRented     bool      `firestore:"isRented"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CarRepository persists cars in a container partitioned by brand.
type CarRepository struct {
	*itemStore[domain.Car, carDocument]
}

var _ repositories.CarRepository = (*CarRepository)(nil)

// NewCarRepository constructs a Firestore-backed car repository for the given database container.
func NewCarRepository(provider *pfirestore.Provider, databaseID, containerID string) (*CarRepository, error) {
	store, err := newItemStore(provider, databaseID, containerID, itemCodec[domain.Car, carDocument]{
		key:       func(car domain.Car) (string, string) { return car.ID, car.PartitionKey },
		partition: func(doc carDocument) string { return doc.PartitionKey },
		toDoc:     fromDomainCar,
		fromDoc:   toDomainCar,
		stamp: func(existing carDocument, replacement *carDocument) {
			replacement.CreatedAt = existing.CreatedAt
		},
	})
	if err != nil {
		return nil, err
	}
	return &CarRepository{itemStore: store}, nil
}

// SetRented flips the rented flag inside a transaction. A car already in the requested state fails
// with a conflict, so concurrent rentals of one car cannot both succeed.
func (r *CarRepository) SetRented(ctx context.Context, id, partitionKey string, rented bool) (domain.Car, error) {
	return r.update(ctx, id, partitionKey, func(car *domain.Car) error {
		if car.IsRented == rented {
			return fmt.Errorf("%w: car %s rented=%t", pfirestore.ErrUnchanged, car.ID, rented)
		}
		car.IsRented = rented
		return nil
	})
}

func fromDomainCar(car domain.Car, now time.Time) carDocument {
	doc := carDocument{
		PartitionKey: car.PartitionKey,
		Name:         car.Name,
		Brand:        car.Brand,
		Category:     string(car.Category),
		IsRented:     car.IsRented,
		CreatedAt:    car.CreatedAt,
		UpdatedAt:    now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return doc
}

func toDomainCar(id string, doc carDocument) (domain.Car, error) {
	category, err := domain.ParseCarCategory(doc.Category)
	if err != nil {
		return domain.Car{}, err
	}
	return domain.Car{
		ID:           id,
		PartitionKey: doc.PartitionKey,
		Name:         doc.Name,
		Brand:        doc.Brand,
		Category:     category,
		IsRented:     doc.IsRented,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}
