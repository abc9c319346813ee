package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/car-rental/populate/internal/platform/firestore"
	"github.com/car-rental/populate/internal/repositories"
)

const databasesCollection = "databases"

type databaseDocument struct {
	ID        string    `firestore:"id"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type containerDocument struct {
	ID               string    `firestore:"id"`
	PartitionKeyPath string    `firestore:"partitionKeyPath"`
	Throughput       int       `firestore:"throughput"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

// CatalogRepository manages database documents and the container metadata stored beneath them.
type CatalogRepository struct {
	provider  *pfirestore.Provider
	databases *pfirestore.Collection[databaseDocument]
	now       func() time.Time
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider:  provider,
		databases: pfirestore.NewCollection[databaseDocument](provider, databasesCollection),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureDatabase creates the database document and reports whether it did.
func (r *CatalogRepository) EnsureDatabase(ctx context.Context, databaseID string) (bool, error) {
	id := strings.TrimSpace(databaseID)
	if err := validateSegment("catalog.ensure_database", "database id", id); err != nil {
		return false, err
	}
	if err := r.databases.Create(ctx, id, databaseDocument{ID: id, CreatedAt: r.now()}); err != nil {
		if repositories.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnsureContainer registers the container when absent. An existing container must use the same
// partition key path.
func (r *CatalogRepository) EnsureContainer(ctx context.Context, databaseID string, spec repositories.ContainerSpec) (bool, error) {
	const op = "catalog.ensure_container"
	if err := validateSegment(op, "database id", databaseID); err != nil {
		return false, err
	}
	if err := validateContainerSpec(op, spec); err != nil {
		return false, err
	}

	created := false
	now := r.now()
	err := r.provider.RunTransaction(ctx, op, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		dbRef, err := r.databases.Doc(ctx, databaseID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(dbRef); err != nil {
			return err
		}

		ref := containersRef(dbRef).Doc(spec.ID)
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			var existing containerDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode container %s: %w", spec.ID, err)
			}
			if existing.PartitionKeyPath != spec.PartitionKeyPath {
				return repositories.NewCatalogError(op, repositories.CatalogErrorPartitionKeyMismatch,
					fmt.Sprintf("container %s already uses partition key %s", spec.ID, existing.PartitionKeyPath))
			}
			return nil
		case codes.NotFound:
			created = true
			return tx.Create(ref, containerDocument{
				ID:               spec.ID,
				PartitionKeyPath: spec.PartitionKeyPath,
				Throughput:       spec.Throughput,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
		default:
			return err
		}
	})
	if err != nil {
		var catalogErr *repositories.CatalogError
		if errors.As(err, &catalogErr) {
			return false, catalogErr
		}
		return false, err
	}
	return created, nil
}

// GetContainer loads the container metadata.
func (r *CatalogRepository) GetContainer(ctx context.Context, databaseID, containerID string) (repositories.ContainerInfo, error) {
	const op = "catalog.get_container"
	ref, err := r.containerRef(ctx, op, databaseID, containerID)
	if err != nil {
		return repositories.ContainerInfo{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return repositories.ContainerInfo{}, pfirestore.WrapError(op, err)
	}
	var doc containerDocument
	if err := snap.DataTo(&doc); err != nil {
		return repositories.ContainerInfo{}, fmt.Errorf("%s: decode %s: %w", op, containerID, err)
	}
	return repositories.ContainerInfo{
		ID:               snap.Ref.ID,
		PartitionKeyPath: doc.PartitionKeyPath,
		Throughput:       doc.Throughput,
		CreatedAt:        doc.CreatedAt,
	}, nil
}

// ReadThroughput returns the provisioned throughput recorded for the container.
func (r *CatalogRepository) ReadThroughput(ctx context.Context, databaseID, containerID string) (int, error) {
	info, err := r.GetContainer(ctx, databaseID, containerID)
	if err != nil {
		return 0, err
	}
	return info.Throughput, nil
}

// ReplaceThroughput records a new provisioned throughput for an existing container.
func (r *CatalogRepository) ReplaceThroughput(ctx context.Context, databaseID, containerID string, throughput int) error {
	const op = "catalog.replace_throughput"
	if throughput <= 0 {
		return repositories.NewCatalogError(op, repositories.CatalogErrorInvalidInput,
			fmt.Sprintf("throughput must be positive, got %d", throughput))
	}
	ref, err := r.containerRef(ctx, op, databaseID, containerID)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "throughput", Value: throughput},
		{Path: "updatedAt", Value: r.now()},
	})
	return pfirestore.WrapError(op, err)
}

// DropDatabase deletes every document below the database, then the database itself. It reports
// whether the database existed.
func (r *CatalogRepository) DropDatabase(ctx context.Context, databaseID string) (bool, error) {
	const op = "catalog.drop_database"
	if err := validateSegment(op, "database id", databaseID); err != nil {
		return false, err
	}
	dbRef, err := r.databases.Doc(ctx, databaseID)
	if err != nil {
		return false, err
	}

	existed := true
	if _, err := dbRef.Get(ctx); err != nil {
		if status.Code(err) != codes.NotFound {
			return false, pfirestore.WrapError(op, err)
		}
		existed = false
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}

	// Items may outlive a missing database document, so subcollections are always swept.
	writer := client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	collections := dbRef.Collections(ctx)
	for {
		coll, err := collections.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			writer.End()
			return false, pfirestore.WrapError(op, err)
		}
		queued, err := enqueueDeletes(ctx, writer, coll)
		jobs = append(jobs, queued...)
		if err != nil {
			writer.End()
			return false, pfirestore.WrapError(op, err)
		}
		if len(queued) > 0 {
			existed = true
		}
	}
	if existed {
		job, err := writer.Delete(dbRef)
		if err != nil {
			writer.End()
			return false, pfirestore.WrapError(op, err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
			return false, pfirestore.WrapError(op, err)
		}
	}
	return existed, nil
}

func enqueueDeletes(ctx context.Context, writer *firestore.BulkWriter, coll *firestore.CollectionRef) ([]*firestore.BulkWriterJob, error) {
	refs := coll.DocumentRefs(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		ref, err := refs.Next()
		if errors.Is(err, iterator.Done) {
			return jobs, nil
		}
		if err != nil {
			return jobs, err
		}
		job, err := writer.Delete(ref)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
}

func (r *CatalogRepository) containerRef(ctx context.Context, op, databaseID, containerID string) (*firestore.DocumentRef, error) {
	if err := validateSegment(op, "database id", databaseID); err != nil {
		return nil, err
	}
	if err := validateSegment(op, "container id", containerID); err != nil {
		return nil, err
	}
	dbRef, err := r.databases.Doc(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return containersRef(dbRef).Doc(containerID), nil
}

func containersRef(dbRef *firestore.DocumentRef) *firestore.CollectionRef {
	return dbRef.Collection(repositories.ReservedContainerID)
}

func validateContainerSpec(op string, spec repositories.ContainerSpec) error {
	if err := validateSegment(op, "container id", spec.ID); err != nil {
		return err
	}
	if spec.ID == repositories.ReservedContainerID {
		return repositories.NewCatalogError(op, repositories.CatalogErrorInvalidInput,
			fmt.Sprintf("container id %q is reserved", spec.ID))
	}
	if !strings.HasPrefix(spec.PartitionKeyPath, "/") || len(spec.PartitionKeyPath) < 2 {
		return repositories.NewCatalogError(op, repositories.CatalogErrorInvalidInput,
			fmt.Sprintf("partition key path %q must start with /", spec.PartitionKeyPath))
	}
	if spec.Throughput <= 0 {
		return repositories.NewCatalogError(op, repositories.CatalogErrorInvalidInput,
			fmt.Sprintf("throughput must be positive, got %d", spec.Throughput))
	}
	return nil
}

func validateSegment(op, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return repositories.NewCatalogError(op, repositories.CatalogErrorInvalidInput, field+" is required")
	}
	if strings.Contains(value, "/") || value == "." || value == ".." || strings.HasPrefix(value, "__") {
		return repositories.NewCatalogError(op, repositories.CatalogErrorInvalidInput,
			fmt.Sprintf("%s %q is not a valid document id", field, value))
	}
	return nil
}
