package firestore

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	domain "github.com/car-rental/populate/internal/domain"
	pfirestore "github.com/car-rental/populate/internal/platform/firestore"
	"github.com/car-rental/populate/internal/repositories"
)

// Amounts are stored as decimal strings and dates as YYYY-MM-DD.
type rentalDocument struct {
	PartitionKey   string    `firestore:"partitionKey"`
	CarID          string    `firestore:"carId"`
	UserID         string    `firestore:"userId"`
	CarCategory    string    `firestore:"carCategory"`
	DeliveryDate   string    `firestore:"deliveryDate"`
	ContractedDays int       `firestore:"contractedDays"`
	ReturnDate     string    `firestore:"contractReturnDate"`
	ActualDaysUsed *int      `firestore:"actualDaysUsed,omitempty"`
	BasePrice      string    `firestore:"basePrice"`
	Surcharge      string    `firestore:"surcharge"`
	IsCarReturned  bool      `firestore:"isCarReturned"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// RentalRepository persists rentals in a container partitioned like the rented cars.
type RentalRepository struct {
	*itemStore[domain.Rental, rentalDocument]
}

var _ repositories.RentalRepository = (*RentalRepository)(nil)

// NewRentalRepository constructs a Firestore-backed rental repository for the given database container.
func NewRentalRepository(provider *pfirestore.Provider, databaseID, containerID string) (*RentalRepository, error) {
	store, err := newItemStore(provider, databaseID, containerID, itemCodec[domain.Rental, rentalDocument]{
		key:       func(rental domain.Rental) (string, string) { return rental.ID, rental.PartitionKey },
		partition: func(doc rentalDocument) string { return doc.PartitionKey },
		toDoc:     fromDomainRental,
		fromDoc:   toDomainRental,
		stamp: func(existing rentalDocument, replacement *rentalDocument) {
			replacement.CreatedAt = existing.CreatedAt
		},
	})
	if err != nil {
		return nil, err
	}
	return &RentalRepository{itemStore: store}, nil
}

func fromDomainRental(rental domain.Rental, now time.Time) rentalDocument {
	var actual *int
	if rental.ActualDaysUsed != nil {
		days := *rental.ActualDaysUsed
		actual = &days
	}
	doc := rentalDocument{
		PartitionKey:   rental.PartitionKey,
		CarID:          rental.CarID,
		UserID:         rental.UserID,
		CarCategory:    string(rental.CarCategory),
		DeliveryDate:   rental.DeliveryDate.String(),
		ContractedDays: rental.ContractedDays,
		ReturnDate:     rental.ContractReturnDate().String(),
		ActualDaysUsed: actual,
		BasePrice:      rental.Price.BasePrice.String(),
		Surcharge:      rental.Price.Surcharge.String(),
		IsCarReturned:  rental.IsCarReturned,
		CreatedAt:      rental.CreatedAt,
		UpdatedAt:      now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return doc
}

func toDomainRental(id string, doc rentalDocument) (domain.Rental, error) {
	category, err := domain.ParseCarCategory(doc.CarCategory)
	if err != nil {
		return domain.Rental{}, err
	}
	delivery, err := civil.ParseDate(doc.DeliveryDate)
	if err != nil {
		return domain.Rental{}, fmt.Errorf("delivery date: %w", err)
	}
	base, err := decimal.NewFromString(doc.BasePrice)
	if err != nil {
		return domain.Rental{}, fmt.Errorf("base price: %w", err)
	}
	surcharge := decimal.Zero
	if doc.Surcharge != "" {
		surcharge, err = decimal.NewFromString(doc.Surcharge)
		if err != nil {
			return domain.Rental{}, fmt.Errorf("surcharge: %w", err)
		}
	}
	return domain.Rental{
		ID:             id,
		PartitionKey:   doc.PartitionKey,
		CarID:          doc.CarID,
		UserID:         doc.UserID,
		CarCategory:    category,
		DeliveryDate:   delivery,
		ContractedDays: doc.ContractedDays,
		ActualDaysUsed: doc.ActualDaysUsed,
		Price:          domain.PriceQuote{BasePrice: base, Surcharge: surcharge},
		IsCarReturned:  doc.IsCarReturned,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}
