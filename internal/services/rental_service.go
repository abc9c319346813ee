package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/oklog/ulid/v2"

	domain "github.com/car-rental/populate/internal/domain"
	"github.com/car-rental/populate/internal/repositories"
)

const (
	rentalLoggerEventPublishFailed = "rental.event.publish_failed"
	rentalLoggerEventCarMissing    = "rental.car.missing"
	rentalLoggerEventRollback      = "rental.rollback"
)

var (
	// ErrRentalInvalidInput indicates the caller supplied an invalid rental command.
	ErrRentalInvalidInput = errors.New("rental: invalid input")
	// ErrRentalNotFound indicates the car, user or rental does not exist in the given partition.
	ErrRentalNotFound = errors.New("rental: not found")
	// ErrRentalCarUnavailable indicates the car is already rented.
	ErrRentalCarUnavailable = errors.New("rental: car unavailable")
	// ErrRentalAlreadyReturned indicates the rental has already been closed.
	ErrRentalAlreadyReturned = errors.New("rental: already returned")
)

// RentalServiceDeps bundles collaborators required to construct a rental service.
type RentalServiceDeps struct {
	Cars    repositories.CarRepository
	Users   repositories.UserRepository
	Rentals repositories.RentalRepository
	Pricing *PricingEngine
	// Publisher is optional; events are skipped when nil.
	Publisher   RentalEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type rentalService struct {
	cars      repositories.CarRepository
	users     repositories.UserRepository
	rentals   repositories.RentalRepository
	pricing   *PricingEngine
	publisher RentalEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewRentalService constructs a RentalService backed by the provided repositories.
func NewRentalService(deps RentalServiceDeps) (RentalService, error) {
	if deps.Cars == nil {
		return nil, errors.New("rental service: car repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("rental service: user repository is required")
	}
	if deps.Rentals == nil {
		return nil, errors.New("rental service: rental repository is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		engine, err := NewPricingEngine(nil)
		if err != nil {
			return nil, fmt.Errorf("rental service: %w", err)
		}
		pricing = engine
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &rentalService{
		cars:      deps.Cars,
		users:     deps.Users,
		rentals:   deps.Rentals,
		pricing:   pricing,
		publisher: deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *rentalService) OpenRental(ctx context.Context, cmd OpenRentalCommand) (Rental, error) {
	cmd.CarID = strings.TrimSpace(cmd.CarID)
	cmd.CarPartitionKey = strings.TrimSpace(cmd.CarPartitionKey)
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	cmd.UserPartitionKey = strings.TrimSpace(cmd.UserPartitionKey)
	switch {
	case cmd.CarID == "":
		return Rental{}, fmt.Errorf("%w: car id is required", ErrRentalInvalidInput)
	case cmd.CarPartitionKey == "":
		return Rental{}, fmt.Errorf("%w: car partition key is required", ErrRentalInvalidInput)
	case cmd.UserID == "":
		return Rental{}, fmt.Errorf("%w: user id is required", ErrRentalInvalidInput)
	case cmd.ContractedDays < 1:
		return Rental{}, fmt.Errorf("%w: contracted days must be at least 1, got %d", ErrRentalInvalidInput, cmd.ContractedDays)
	}

	now := s.clock()
	delivery := cmd.DeliveryDate
	if delivery.IsZero() {
		delivery = civil.DateOf(now)
	}
	if !delivery.IsValid() {
		return Rental{}, fmt.Errorf("%w: delivery date %s is invalid", ErrRentalInvalidInput, delivery)
	}

	car, err := s.cars.FindByID(ctx, cmd.CarID, cmd.CarPartitionKey)
	if err != nil {
		return Rental{}, translateRentalRepoError(err, "car "+cmd.CarID)
	}
	if car.IsRented {
		return Rental{}, fmt.Errorf("%w: car %s is already rented", ErrRentalCarUnavailable, car.ID)
	}
	if cmd.UserPartitionKey != "" {
		if _, err := s.users.FindByID(ctx, cmd.UserID, cmd.UserPartitionKey); err != nil {
			return Rental{}, translateRentalRepoError(err, "user "+cmd.UserID)
		}
	}

	quote, err := s.pricing.Quote(domain.RentalTerm{Category: car.Category, ContractedDays: cmd.ContractedDays})
	if err != nil {
		return Rental{}, fmt.Errorf("%w: %w", ErrRentalInvalidInput, err)
	}

	rental := Rental{
		ID:             s.newID(),
		PartitionKey:   car.PartitionKey,
		CarID:          car.ID,
		UserID:         cmd.UserID,
		CarCategory:    car.Category,
		DeliveryDate:   delivery,
		ContractedDays: cmd.ContractedDays,
		Price:          quote,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := s.rentals.CreateIfAbsent(ctx, rental)
	if err != nil {
		return Rental{}, err
	}
	if !created {
		return Rental{}, fmt.Errorf("rental: id %s already exists", rental.ID)
	}

	if _, err := s.cars.SetRented(ctx, car.ID, car.PartitionKey, true); err != nil {
		if rollbackErr := s.rentals.Delete(ctx, rental.ID, rental.PartitionKey); rollbackErr != nil {
			s.logger(ctx, rentalLoggerEventRollback, map[string]any{
				"rentalId": rental.ID,
				"error":    rollbackErr.Error(),
			})
		}
		if repositories.IsConflict(err) {
			return Rental{}, fmt.Errorf("%w: car %s is already rented", ErrRentalCarUnavailable, car.ID)
		}
		return Rental{}, translateRentalRepoError(err, "car "+car.ID)
	}

	s.publish(ctx, RentalEventOpened, rental, now)
	return rental, nil
}

func (s *rentalService) ReturnRental(ctx context.Context, cmd ReturnRentalCommand) (Rental, error) {
	cmd.RentalID = strings.TrimSpace(cmd.RentalID)
	cmd.PartitionKey = strings.TrimSpace(cmd.PartitionKey)
	switch {
	case cmd.RentalID == "":
		return Rental{}, fmt.Errorf("%w: rental id is required", ErrRentalInvalidInput)
	case cmd.PartitionKey == "":
		return Rental{}, fmt.Errorf("%w: partition key is required", ErrRentalInvalidInput)
	case cmd.ActualDaysUsed < 0:
		return Rental{}, fmt.Errorf("%w: actual days used cannot be negative, got %d", ErrRentalInvalidInput, cmd.ActualDaysUsed)
	}

	rental, err := s.rentals.FindByID(ctx, cmd.RentalID, cmd.PartitionKey)
	if err != nil {
		return Rental{}, translateRentalRepoError(err, "rental "+cmd.RentalID)
	}
	if rental.IsCarReturned {
		return Rental{}, fmt.Errorf("%w: rental %s", ErrRentalAlreadyReturned, rental.ID)
	}

	actual := cmd.ActualDaysUsed
	term := rental.Term()
	term.ActualDaysUsed = &actual
	quote, err := s.pricing.Quote(term)
	if err != nil {
		return Rental{}, fmt.Errorf("%w: %w", ErrRentalInvalidInput, err)
	}

	now := s.clock()
	previous := rental
	rental.ActualDaysUsed = &actual
	rental.Price = quote
	rental.IsCarReturned = true
	rental.UpdatedAt = now
	if err := s.rentals.Replace(ctx, rental); err != nil {
		return Rental{}, translateRentalRepoError(err, "rental "+rental.ID)
	}

	// the rental must stay open while its car is still marked rented
	if err := s.releaseCar(ctx, rental); err != nil {
		if restoreErr := s.rentals.Replace(ctx, previous); restoreErr != nil {
			s.logger(ctx, rentalLoggerEventRollback, map[string]any{
				"rentalId": rental.ID,
				"error":    restoreErr.Error(),
			})
		}
		return Rental{}, err
	}

	s.publish(ctx, RentalEventReturned, rental, now)
	return rental, nil
}

func (s *rentalService) CancelRental(ctx context.Context, rentalID, partitionKey string) error {
	rentalID = strings.TrimSpace(rentalID)
	partitionKey = strings.TrimSpace(partitionKey)
	if rentalID == "" || partitionKey == "" {
		return fmt.Errorf("%w: rental id and partition key are required", ErrRentalInvalidInput)
	}

	rental, err := s.rentals.FindByID(ctx, rentalID, partitionKey)
	if err != nil {
		return translateRentalRepoError(err, "rental "+rentalID)
	}
	if !rental.IsCarReturned {
		if err := s.releaseCar(ctx, rental); err != nil {
			return err
		}
	}
	if err := s.rentals.Delete(ctx, rentalID, partitionKey); err != nil {
		if !rental.IsCarReturned {
			if _, restoreErr := s.cars.SetRented(ctx, rental.CarID, rental.PartitionKey, true); restoreErr != nil {
				s.logger(ctx, rentalLoggerEventRollback, map[string]any{
					"rentalId": rental.ID,
					"carId":    rental.CarID,
					"error":    restoreErr.Error(),
				})
			}
		}
		return translateRentalRepoError(err, "rental "+rentalID)
	}

	s.publish(ctx, RentalEventCancelled, rental, s.clock())
	return nil
}

func (s *rentalService) ListRentals(ctx context.Context, partitionKey string) ([]Rental, error) {
	partitionKey = strings.TrimSpace(partitionKey)
	if partitionKey == "" {
		return nil, fmt.Errorf("%w: partition key is required", ErrRentalInvalidInput)
	}
	return s.rentals.ListByPartition(ctx, partitionKey)
}

// releaseCar marks the rented car available again. A car deleted in the meantime is only logged and
// a car that is already available is left alone.
func (s *rentalService) releaseCar(ctx context.Context, rental Rental) error {
	_, err := s.cars.SetRented(ctx, rental.CarID, rental.PartitionKey, false)
	switch {
	case err == nil, repositories.IsConflict(err):
		return nil
	case repositories.IsNotFound(err):
		s.logger(ctx, rentalLoggerEventCarMissing, map[string]any{
			"rentalId": rental.ID,
			"carId":    rental.CarID,
		})
		return nil
	default:
		return translateRentalRepoError(err, "car "+rental.CarID)
	}
}

func (s *rentalService) publish(ctx context.Context, eventType RentalEventType, rental Rental, at time.Time) {
	if s.publisher == nil {
		return
	}
	event := RentalEvent{
		Type:           eventType,
		RentalID:       rental.ID,
		PartitionKey:   rental.PartitionKey,
		CarID:          rental.CarID,
		UserID:         rental.UserID,
		Category:       rental.CarCategory,
		DeliveryDate:   rental.DeliveryDate.String(),
		ContractedDays: rental.ContractedDays,
		ActualDaysUsed: rental.ActualDaysUsed,
		BasePrice:      rental.Price.BasePrice.String(),
		Surcharge:      rental.Price.Surcharge.String(),
		Total:          rental.Price.Total().String(),
		OccurredAt:     at,
	}
	if _, err := s.publisher.PublishRentalEvent(ctx, event); err != nil {
		s.logger(ctx, rentalLoggerEventPublishFailed, map[string]any{
			"rentalId":  rental.ID,
			"eventType": string(eventType),
			"error":     err.Error(),
		})
	}
}

func translateRentalRepoError(err error, subject string) error {
	if err == nil {
		return nil
	}
	if repositories.IsNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrRentalNotFound, subject, err)
	}
	return err
}
