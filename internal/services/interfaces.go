package services

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	domain "github.com/car-rental/populate/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Car         = domain.Car
	User        = domain.User
	Rental      = domain.Rental
	PriceQuote  = domain.PriceQuote
	CarCategory = domain.CarCategory
)

// RentalEventType names a rental lifecycle transition.
type RentalEventType string

const (
	RentalEventOpened    RentalEventType = "rental.opened"
	RentalEventReturned  RentalEventType = "rental.returned"
	RentalEventCancelled RentalEventType = "rental.cancelled"
)

// RentalEvent is the payload published for every rental lifecycle transition. Amounts are decimal
// strings so consumers never see binary floating point.
type RentalEvent struct {
	Type           RentalEventType `json:"type"`
	RentalID       string          `json:"rentalId"`
	PartitionKey   string          `json:"partitionKey"`
	CarID          string          `json:"carId"`
	UserID         string          `json:"userId,omitempty"`
	Category       CarCategory     `json:"category"`
	DeliveryDate   string          `json:"deliveryDate,omitempty"`
	ContractedDays int             `json:"contractedDays"`
	ActualDaysUsed *int            `json:"actualDaysUsed,omitempty"`
	BasePrice      string          `json:"basePrice"`
	Surcharge      string          `json:"surcharge"`
	Total          string          `json:"total"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// RentalEventPublisher accepts rental lifecycle notifications for downstream processing.
type RentalEventPublisher interface {
	PublishRentalEvent(ctx context.Context, event RentalEvent) (string, error)
}

// OpenRentalCommand describes a new rental of a car for a number of whole days.
type OpenRentalCommand struct {
	CarID            string
	CarPartitionKey  string
	UserID           string
	UserPartitionKey string
	DeliveryDate     civil.Date
	ContractedDays   int
}

// ReturnRentalCommand closes a rental after the car has been used ActualDaysUsed days.
type ReturnRentalCommand struct {
	RentalID       string
	PartitionKey   string
	ActualDaysUsed int
}

// RentalService prices and records rentals while keeping the rented flag of cars consistent.
type RentalService interface {
	// OpenRental claims the car through a conditional update, so of two concurrent opens for one
	// car only one succeeds and the other fails with ErrRentalCarUnavailable.
	OpenRental(ctx context.Context, cmd OpenRentalCommand) (Rental, error)
	ReturnRental(ctx context.Context, cmd ReturnRentalCommand) (Rental, error)
	CancelRental(ctx context.Context, rentalID, partitionKey string) error
	ListRentals(ctx context.Context, partitionKey string) ([]Rental, error)
}

// StepTiming records how long a population step took.
type StepTiming struct {
	Name          string `json:"name"`
	ElapsedMillis int64  `json:"elapsedMillis"`
}

// ReportQuote is the priced rental exercised by a population run.
type ReportQuote struct {
	RentalID       string `json:"rentalId"`
	CarID          string `json:"carId"`
	UserID         string `json:"userId"`
	Category       string `json:"category"`
	DeliveryDate   string `json:"deliveryDate"`
	ContractedDays int    `json:"contractedDays"`
	ActualDaysUsed int    `json:"actualDaysUsed"`
	BasePrice      string `json:"basePrice"`
	Surcharge      string `json:"surcharge"`
	Total          string `json:"total"`
}

// PopulationReport summarises a population run.
type PopulationReport struct {
	RunID             string       `json:"runId"`
	DatabaseID        string       `json:"databaseId"`
	StartedAt         time.Time    `json:"startedAt"`
	FinishedAt        time.Time    `json:"finishedAt"`
	DatabaseDropped   bool         `json:"databaseDropped"`
	ContainersCreated []string     `json:"containersCreated"`
	CarsThroughput    int          `json:"carsThroughput"`
	CarsSeeded        int          `json:"carsSeeded"`
	CarsExisting      int          `json:"carsExisting"`
	UsersSeeded       int          `json:"usersSeeded"`
	UsersExisting     int          `json:"usersExisting"`
	QueriedBrand      string       `json:"queriedBrand"`
	CarsInBrand       []string     `json:"carsInBrand"`
	RentalsListed     int          `json:"rentalsListed"`
	Quote             *ReportQuote `json:"quote,omitempty"`
	CarReleased       bool         `json:"carReleased"`
	TornDown          bool         `json:"tornDown"`
	Steps             []StepTiming `json:"steps"`
}

// ReportExporter persists population reports and returns their location.
type ReportExporter interface {
	ExportReport(ctx context.Context, report PopulationReport) (string, error)
}

// PopulationService runs the end-to-end population workflow against the document store.
type PopulationService interface {
	Run(ctx context.Context) (PopulationReport, error)
}
