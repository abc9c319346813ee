package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/car-rental/populate/internal/platform/config"
	"github.com/car-rental/populate/internal/repositories"
	"github.com/car-rental/populate/internal/services"
)

// Services bundles the service-layer contracts the CLI relies upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing    *services.PricingEngine
	Rentals    services.RentalService
	Population services.PopulationService
}

// Container wires repositories, services, and optional integrations for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises the optional integrations of the container.
type Option func(*options)

type options struct {
	publisher services.RentalEventPublisher
	exporter  services.ReportExporter
	logger    *zap.Logger
	clock     func() time.Time
}

// WithRentalEventPublisher publishes rental lifecycle events through publisher.
func WithRentalEventPublisher(publisher services.RentalEventPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithReportExporter exports population reports through exporter.
func WithReportExporter(exporter services.ReportExporter) Option {
	return func(o *options) {
		o.exporter = exporter
	}
}

// WithLogger routes service diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the clock used by services (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, reg, cfg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options) (Services, error) {
	var svc Services

	pricing, err := services.NewPricingEngine(nil)
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	rentalSvc, err := services.NewRentalService(services.RentalServiceDeps{
		Cars:      reg.Cars(),
		Users:     reg.Users(),
		Rentals:   reg.Rentals(),
		Pricing:   pricing,
		Publisher: o.publisher,
		Clock:     o.clock,
		Logger:    eventLogger(o.logger.Named("rentals")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build rental service: %w", err)
	}
	svc.Rentals = rentalSvc

	populationSvc, err := services.NewPopulationService(services.PopulationServiceDeps{
		Catalog:  reg.Catalog(),
		Cars:     reg.Cars(),
		Users:    reg.Users(),
		Rentals:  rentalSvc,
		Health:   reg.Health(),
		Exporter: o.exporter,
		Plan:     populationPlan(cfg),
		Clock:    o.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build population service: %w", err)
	}
	svc.Population = populationSvc

	return svc, nil
}

func populationPlan(cfg config.Config) services.PopulationPlan {
	return services.PopulationPlan{
		ProjectID:           cfg.Firestore.ProjectID,
		DatabaseID:          cfg.Database.ID,
		CarsContainer:       cfg.Database.CarsContainer,
		RentalsContainer:    cfg.Database.RentalsContainer,
		UsersContainer:      cfg.Database.UsersContainer,
		PartitionKeyPath:    cfg.Database.PartitionKeyPath,
		Throughput:          cfg.Database.DefaultThroughput,
		ThroughputIncrement: cfg.Database.ThroughputIncrement,
		QueryBrand:          cfg.Population.QueryBrand,
		RentalCarID:         cfg.Population.RentalCarID,
		RentalCarBrand:      cfg.Population.RentalCarBrand,
		RenterName:          cfg.Population.RenterName,
		RenterSurname:       cfg.Population.RenterSurname,
		ContractedDays:      cfg.Population.ContractedDays,
		ActualDaysUsed:      cfg.Population.ActualDaysUsed,
		DeliveryDate:        cfg.Population.DeliveryDate,
		Teardown:            cfg.Population.Teardown,
	}
}

// eventLogger adapts zap to the event/fields logger contract of the services.
func eventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Warn(event, zapFields...)
	}
}
