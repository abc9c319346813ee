package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/car-rental/populate/internal/domain"
	pfirestore "github.com/car-rental/populate/internal/platform/firestore"
	"github.com/car-rental/populate/internal/repositories"
)

type userDocument struct {
	PartitionKey  string    `firestore:"partitionKey"`
	Name          string    `firestore:"name"`
	Surname       string    `firestore:"surname"`
	NameKey       string    `firestore:"nameKey"`
	DNI           string    `firestore:"dni"`
	Age           int       `firestore:"age"`
	LoyaltyPoints int       `firestore:"loyaltyPoints"`
	Sex           string    `firestore:"sex"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// UserRepository persists renters keyed by DNI in a container partitioned by sex.
type UserRepository struct {
	*itemStore[domain.User, userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository for the given database container.
func NewUserRepository(provider *pfirestore.Provider, databaseID, containerID string) (*UserRepository, error) {
	store, err := newItemStore(provider, databaseID, containerID, itemCodec[domain.User, userDocument]{
		key:       func(user domain.User) (string, string) { return user.ID, user.PartitionKey },
		partition: func(doc userDocument) string { return doc.PartitionKey },
		toDoc:     fromDomainUser,
		fromDoc:   toDomainUser,
		stamp: func(existing userDocument, replacement *userDocument) {
			replacement.CreatedAt = existing.CreatedAt
		},
	})
	if err != nil {
		return nil, err
	}
	return &UserRepository{itemStore: store}, nil
}

// FindByName returns the first user, ordered by DNI, whose folded name and surname match.
func (r *UserRepository) FindByName(ctx context.Context, name, surname string) (domain.User, error) {
	if r == nil || r.itemStore == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(name) == "" && strings.TrimSpace(surname) == "" {
		return domain.User{}, errors.New("name or surname is required")
	}
	key := domain.NameKey(name, surname)
	users, err := r.query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("nameKey", "==", key).OrderBy(firestore.DocumentID, firestore.Asc).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(users) == 0 {
		return domain.User{}, pfirestore.WrapError(r.docs.Op("find_by_name"), fmt.Errorf("%w: user %q", pfirestore.ErrNoMatch, key))
	}
	return users[0], nil
}

func fromDomainUser(user domain.User, now time.Time) userDocument {
	doc := userDocument{
		PartitionKey:  user.PartitionKey,
		Name:          user.Name,
		Surname:       user.Surname,
		NameKey:       user.NameKey(),
		DNI:           user.DNI,
		Age:           user.Age,
		LoyaltyPoints: user.LoyaltyPoints,
		Sex:           string(user.Sex),
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return doc
}

func toDomainUser(id string, doc userDocument) (domain.User, error) {
	sex, err := domain.ParseSex(doc.Sex)
	if err != nil {
		return domain.User{}, err
	}
	dni := doc.DNI
	if dni == "" {
		dni = id
	}
	return domain.User{
		ID:            id,
		PartitionKey:  doc.PartitionKey,
		Name:          doc.Name,
		Surname:       doc.Surname,
		DNI:           dni,
		Age:           doc.Age,
		LoyaltyPoints: doc.LoyaltyPoints,
		Sex:           sex,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}, nil
}
