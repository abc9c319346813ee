package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/car-rental/populate/internal/domain"
	"github.com/car-rental/populate/internal/repositories"
)

type memRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e memRepoError) Error() string       { return e.msg }
func (e memRepoError) IsNotFound() bool    { return e.notFound }
func (e memRepoError) IsConflict() bool    { return e.conflict }
func (e memRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(format string, args ...any) error {
	return memRepoError{msg: fmt.Sprintf(format, args...), notFound: true}
}

// memItems mimics a partitioned container: items are keyed by id and a partition mismatch reads as
// not found.
type memItems[T any] struct {
	mu        sync.Mutex
	items     map[string]T
	key       func(T) (string, string)
	replaceFn func(T) error
	deleteErr error
	calls     []string
}

func newMemItems[T any](key func(T) (string, string)) *memItems[T] {
	return &memItems[T]{items: map[string]T{}, key: key}
}

func (m *memItems[T]) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *memItems[T]) CreateIfAbsent(_ context.Context, item T) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := m.key(item)
	m.record("create:" + id)
	if _, ok := m.items[id]; ok {
		return false, nil
	}
	m.items[id] = item
	return true, nil
}

func (m *memItems[T]) FindByID(_ context.Context, id, partitionKey string) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	item, ok := m.items[id]
	if !ok {
		return zero, notFoundErr("item %s not found", id)
	}
	if _, pk := m.key(item); pk != partitionKey {
		return zero, notFoundErr("item %s not found in partition %s", id, partitionKey)
	}
	return item, nil
}

func (m *memItems[T]) Replace(_ context.Context, item T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, partitionKey := m.key(item)
	m.record("replace:" + id)
	if m.replaceFn != nil {
		if err := m.replaceFn(item); err != nil {
			return err
		}
	}
	existing, ok := m.items[id]
	if !ok {
		return notFoundErr("item %s not found", id)
	}
	if _, pk := m.key(existing); pk != partitionKey {
		return notFoundErr("item %s not found in partition %s", id, partitionKey)
	}
	m.items[id] = item
	return nil
}

func (m *memItems[T]) Delete(_ context.Context, id, partitionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete:" + id)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	existing, ok := m.items[id]
	if !ok {
		return notFoundErr("item %s not found", id)
	}
	if _, pk := m.key(existing); pk != partitionKey {
		return notFoundErr("item %s not found in partition %s", id, partitionKey)
	}
	delete(m.items, id)
	return nil
}

func (m *memItems[T]) ListByPartition(_ context.Context, partitionKey string) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.items))
	for id, item := range m.items {
		if _, pk := m.key(item); pk == partitionKey {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.items[id])
	}
	return out, nil
}

func (m *memItems[T]) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = map[string]T{}
}

type memCars struct {
	*memItems[domain.Car]
	setRentedFn func(id string, rented bool) error
}

type memUsers struct{ *memItems[domain.User] }

type memRentals struct{ *memItems[domain.Rental] }

func newMemCars() *memCars {
	return &memCars{memItems: newMemItems(func(c domain.Car) (string, string) { return c.ID, c.PartitionKey })}
}

func newMemUsers() *memUsers {
	return &memUsers{newMemItems(func(u domain.User) (string, string) { return u.ID, u.PartitionKey })}
}

func newMemRentals() *memRentals {
	return &memRentals{newMemItems(func(r domain.Rental) (string, string) { return r.ID, r.PartitionKey })}
}

func (m *memCars) SetRented(_ context.Context, id, partitionKey string, rented bool) (domain.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(fmt.Sprintf("set_rented:%s:%t", id, rented))
	if m.setRentedFn != nil {
		if err := m.setRentedFn(id, rented); err != nil {
			return domain.Car{}, err
		}
	}
	car, ok := m.items[id]
	if !ok || car.PartitionKey != partitionKey {
		return domain.Car{}, notFoundErr("car %s not found in partition %s", id, partitionKey)
	}
	if car.IsRented == rented {
		return domain.Car{}, memRepoError{msg: fmt.Sprintf("car %s rented=%t already", id, rented), conflict: true}
	}
	car.IsRented = rented
	m.items[id] = car
	return car, nil
}

func (m *memUsers) FindByName(_ context.Context, name, surname string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.NameKey(name, surname)
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m.items[id].NameKey() == key {
			return m.items[id], nil
		}
	}
	return domain.User{}, notFoundErr("user %q not found", key)
}

var (
	_ repositories.CarRepository    = (*memCars)(nil)
	_ repositories.UserRepository   = (*memUsers)(nil)
	_ repositories.RentalRepository = (*memRentals)(nil)
)

type memContainer struct {
	info repositories.ContainerInfo
}

type memCatalog struct {
	mu         sync.Mutex
	databases  map[string]map[string]*memContainer
	onDrop     func(databaseID string)
	readErr    error
	calls      []string
	dropErr    error
	ensureErrs map[string]error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{databases: map[string]map[string]*memContainer{}}
}

func (c *memCatalog) EnsureDatabase(_ context.Context, databaseID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "ensure_database:"+databaseID)
	if _, ok := c.databases[databaseID]; ok {
		return false, nil
	}
	c.databases[databaseID] = map[string]*memContainer{}
	return true, nil
}

func (c *memCatalog) EnsureContainer(_ context.Context, databaseID string, spec repositories.ContainerSpec) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "ensure_container:"+spec.ID)
	if err := c.ensureErrs[spec.ID]; err != nil {
		return false, err
	}
	containers, ok := c.databases[databaseID]
	if !ok {
		return false, notFoundErr("database %s not found", databaseID)
	}
	if _, ok := containers[spec.ID]; ok {
		return false, nil
	}
	containers[spec.ID] = &memContainer{info: repositories.ContainerInfo{
		ID:               spec.ID,
		PartitionKeyPath: spec.PartitionKeyPath,
		Throughput:       spec.Throughput,
		CreatedAt:        time.Unix(0, 0).UTC(),
	}}
	return true, nil
}

func (c *memCatalog) container(databaseID, containerID string) (*memContainer, error) {
	containers, ok := c.databases[databaseID]
	if !ok {
		return nil, notFoundErr("database %s not found", databaseID)
	}
	container, ok := containers[containerID]
	if !ok {
		return nil, notFoundErr("container %s not found", containerID)
	}
	return container, nil
}

func (c *memCatalog) GetContainer(_ context.Context, databaseID, containerID string) (repositories.ContainerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	container, err := c.container(databaseID, containerID)
	if err != nil {
		return repositories.ContainerInfo{}, err
	}
	return container.info, nil
}

func (c *memCatalog) ReadThroughput(_ context.Context, databaseID, containerID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, c.readErr
	}
	container, err := c.container(databaseID, containerID)
	if err != nil {
		return 0, err
	}
	return container.info.Throughput, nil
}

func (c *memCatalog) ReplaceThroughput(_ context.Context, databaseID, containerID string, throughput int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("replace_throughput:%s:%d", containerID, throughput))
	container, err := c.container(databaseID, containerID)
	if err != nil {
		return err
	}
	container.info.Throughput = throughput
	return nil
}

func (c *memCatalog) DropDatabase(_ context.Context, databaseID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "drop_database:"+databaseID)
	if c.dropErr != nil {
		return false, c.dropErr
	}
	_, existed := c.databases[databaseID]
	delete(c.databases, databaseID)
	if c.onDrop != nil {
		c.onDrop(databaseID)
	}
	return existed, nil
}

var _ repositories.CatalogRepository = (*memCatalog)(nil)

type recordingPublisher struct {
	mu     sync.Mutex
	events []RentalEvent
	err    error
}

func (p *recordingPublisher) PublishRentalEvent(_ context.Context, event RentalEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func (p *recordingPublisher) types() []RentalEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RentalEventType, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}
