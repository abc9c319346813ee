package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/iterator"

	"github.com/car-rental/populate/internal/platform/config"
	pfirestore "github.com/car-rental/populate/internal/platform/firestore"
	"github.com/car-rental/populate/internal/repositories"
)

const firestoreProbeTimeout = 1500 * time.Millisecond

// Registry bundles the Firestore repositories of one rental database.
type Registry struct {
	provider *pfirestore.Provider
	catalog  *CatalogRepository
	cars     *CarRepository
	users    *UserRepository
	rentals  *RentalRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories for the configured database. The firestore probe is always
// part of the health checks; extra checks cover optional dependencies.
func NewRegistry(provider *pfirestore.Provider, db config.DatabaseConfig, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	cars, err := NewCarRepository(provider, db.ID, db.CarsContainer)
	if err != nil {
		return nil, fmt.Errorf("build car repository: %w", err)
	}
	users, err := NewUserRepository(provider, db.ID, db.UsersContainer)
	if err != nil {
		return nil, fmt.Errorf("build user repository: %w", err)
	}
	rentals, err := NewRentalRepository(provider, db.ID, db.RentalsContainer)
	if err != nil {
		return nil, fmt.Errorf("build rental repository: %w", err)
	}

	checks := append([]repositories.DependencyCheck{FirestoreCheck(provider)}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider: provider,
		catalog:  catalog,
		cars:     cars,
		users:    users,
		rentals:  rentals,
		health:   health,
	}, nil
}

// FirestoreCheck probes the backend with a single-document read of the database catalog.
func FirestoreCheck(provider *pfirestore.Provider) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: firestoreProbeTimeout,
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collection(databasesCollection).Limit(1).Documents(ctx)
			defer iter.Stop()
			_, err = iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Cars() repositories.CarRepository { return r.cars }

func (r *Registry) Users() repositories.UserRepository { return r.users }

func (r *Registry) Rentals() repositories.RentalRepository { return r.rentals }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
