package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/car-rental/populate/internal/domain"
)

// ReservedContainerID names the metadata collection of a database; containers cannot use it.
const ReservedContainerID = "containers"

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Cars() CarRepository
	Users() UserRepository
	Rentals() RentalRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err is a repository error classified as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a repository error classified as a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// ContainerSpec describes a container to provision.
type ContainerSpec struct {
	ID               string
	PartitionKeyPath string
	Throughput       int
}

// ContainerInfo is the stored metadata of a container.
type ContainerInfo struct {
	ID               string
	PartitionKeyPath string
	Throughput       int
	CreatedAt        time.Time
}

// CatalogRepository manages databases and their containers.
type CatalogRepository interface {
	EnsureDatabase(ctx context.Context, databaseID string) (bool, error)
	EnsureContainer(ctx context.Context, databaseID string, spec ContainerSpec) (bool, error)
	GetContainer(ctx context.Context, databaseID, containerID string) (ContainerInfo, error)
	ReadThroughput(ctx context.Context, databaseID, containerID string) (int, error)
	ReplaceThroughput(ctx context.Context, databaseID, containerID string, throughput int) error
	DropDatabase(ctx context.Context, databaseID string) (bool, error)
}

// ItemRepository stores partitioned items of one container.
type ItemRepository[T any] interface {
	// CreateIfAbsent reports created=false, without error, when an item with the same id exists.
	CreateIfAbsent(ctx context.Context, item T) (bool, error)
	// FindByID reports an item stored under another partition key as not found.
	FindByID(ctx context.Context, id, partitionKey string) (T, error)
	Replace(ctx context.Context, item T) error
	Delete(ctx context.Context, id, partitionKey string) error
	ListByPartition(ctx context.Context, partitionKey string) ([]T, error)
}

// CarRepository persists cars partitioned by brand.
type CarRepository interface {
	ItemRepository[domain.Car]
	// SetRented flips the rented flag atomically. A car already in the requested state fails with a
	// conflict, so two rentals of the same car cannot both succeed.
	SetRented(ctx context.Context, id, partitionKey string, rented bool) (domain.Car, error)
}

// UserRepository persists renters partitioned by sex.
type UserRepository interface {
	ItemRepository[domain.User]
	// FindByName matches name and surname ignoring case and diacritics.
	FindByName(ctx context.Context, name, surname string) (domain.User, error)
}

// RentalRepository persists rentals partitioned like the rented car.
type RentalRepository interface {
	ItemRepository[domain.Rental]
}

// HealthRepository probes the dependencies a run relies on.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.PreflightReport, error)
}
