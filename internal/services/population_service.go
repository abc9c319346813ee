package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	domain "github.com/car-rental/populate/internal/domain"
	"github.com/car-rental/populate/internal/platform/observability"
	"github.com/car-rental/populate/internal/platform/runctx"
	"github.com/car-rental/populate/internal/repositories"
)

const (
	populationStepPreflight        = "preflight"
	populationStepDropDatabase     = "drop_database"
	populationStepCreateDatabase   = "create_database"
	populationStepCreateContainers = "create_containers"
	populationStepScaleContainer   = "scale_container"
	populationStepSeedItems        = "seed_items"
	populationStepQueryCars        = "query_cars"
	populationStepOpenRental       = "open_rental"
	populationStepReturnRental     = "return_rental"
	populationStepDeleteRental     = "delete_rental"
	populationStepTeardown         = "teardown"
	populationStepExportReport     = "export_report"
)

var (
	// ErrPopulationInvalidPlan indicates the population plan is incomplete.
	ErrPopulationInvalidPlan = errors.New("population: invalid plan")
	// ErrPopulationPreflight indicates a required dependency failed its preflight probe.
	ErrPopulationPreflight = errors.New("population: preflight failed")
)

// PopulationPlan describes what a population run provisions and exercises.
type PopulationPlan struct {
	// ProjectID links step logs to Cloud Trace; optional.
	ProjectID           string
	DatabaseID          string
	CarsContainer       string
	RentalsContainer    string
	UsersContainer      string
	PartitionKeyPath    string
	Throughput          int
	ThroughputIncrement int
	QueryBrand          string
	RentalCarID         string
	RentalCarBrand      string
	RenterName          string
	RenterSurname       string
	ContractedDays      int
	ActualDaysUsed      int
	// DeliveryDate is the zero date when the rental starts on the run date.
	DeliveryDate civil.Date
	Teardown     bool
}

func (p PopulationPlan) validate() error {
	var missing []string
	for field, value := range map[string]string{
		"database id":       p.DatabaseID,
		"cars container":    p.CarsContainer,
		"rentals container": p.RentalsContainer,
		"users container":   p.UsersContainer,
		"partition key":     p.PartitionKeyPath,
		"query brand":       p.QueryBrand,
		"rental car id":     p.RentalCarID,
		"rental car brand":  p.RentalCarBrand,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrPopulationInvalidPlan, strings.Join(missing, ", "))
	}
	if p.Throughput <= 0 || p.ThroughputIncrement < 0 {
		return fmt.Errorf("%w: throughput %d increment %d", ErrPopulationInvalidPlan, p.Throughput, p.ThroughputIncrement)
	}
	if p.ContractedDays < 1 || p.ActualDaysUsed < 0 {
		return fmt.Errorf("%w: contracted days %d actual days %d", ErrPopulationInvalidPlan, p.ContractedDays, p.ActualDaysUsed)
	}
	return nil
}

// PopulationServiceDeps bundles collaborators required to construct a population service.
type PopulationServiceDeps struct {
	Catalog repositories.CatalogRepository
	Cars    repositories.CarRepository
	Users   repositories.UserRepository
	Rentals RentalService
	// Health and Exporter are optional.
	Health         repositories.HealthRepository
	Exporter       ReportExporter
	Plan           PopulationPlan
	SeedCars       []domain.Car
	SeedUsers      []domain.User
	Clock          func() time.Time
	RunIDGenerator func() string
}

type populationService struct {
	catalog   repositories.CatalogRepository
	cars      repositories.CarRepository
	users     repositories.UserRepository
	rentals   RentalService
	health    repositories.HealthRepository
	exporter  ReportExporter
	plan      PopulationPlan
	seedCars  []domain.Car
	seedUsers []domain.User
	clock     func() time.Time
	newRunID  func() string
}

// NewPopulationService constructs the population workflow.
func NewPopulationService(deps PopulationServiceDeps) (PopulationService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("population service: catalog repository is required")
	}
	if deps.Cars == nil || deps.Users == nil {
		return nil, errors.New("population service: car and user repositories are required")
	}
	if deps.Rentals == nil {
		return nil, errors.New("population service: rental service is required")
	}
	if err := deps.Plan.validate(); err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	runID := deps.RunIDGenerator
	if runID == nil {
		runID = func() string { return ulid.Make().String() }
	}
	seedCars := deps.SeedCars
	if seedCars == nil {
		seedCars = SeedCars()
	}
	seedUsers := deps.SeedUsers
	if seedUsers == nil {
		seedUsers = SeedUsers()
	}

	return &populationService{
		catalog:   deps.Catalog,
		cars:      deps.Cars,
		users:     deps.Users,
		rentals:   deps.Rentals,
		health:    deps.Health,
		exporter:  deps.Exporter,
		plan:      deps.Plan,
		seedCars:  append([]domain.Car(nil), seedCars...),
		seedUsers: append([]domain.User(nil), seedUsers...),
		clock: func() time.Time {
			return clock().UTC()
		},
		newRunID: runID,
	}, nil
}

type populationStep struct {
	name string
	fn   func(ctx context.Context, step *observability.Step, report *PopulationReport) error
}

// Run executes the workflow steps in order and stops at the first failure. The partial report is
// returned alongside the error.
func (s *populationService) Run(ctx context.Context) (PopulationReport, error) {
	report := PopulationReport{
		RunID:             s.newRunID(),
		DatabaseID:        s.plan.DatabaseID,
		StartedAt:         s.clock(),
		ContainersCreated: []string{},
		CarsInBrand:       []string{},
		Steps:             []StepTiming{},
	}
	ctx = observability.WithRun(ctx, runctx.RunInfo{RunID: report.RunID, DatabaseID: report.DatabaseID})
	logger := observability.FromContext(ctx)
	logger.Info("population run started")

	steps := []populationStep{
		{populationStepPreflight, s.preflight},
		{populationStepDropDatabase, s.dropDatabase},
		{populationStepCreateDatabase, s.createDatabase},
		{populationStepCreateContainers, s.createContainers},
		{populationStepScaleContainer, s.scaleContainer},
		{populationStepSeedItems, s.seedItems},
		{populationStepQueryCars, s.queryCars},
	}
	var rental Rental
	steps = append(steps,
		populationStep{populationStepOpenRental, func(ctx context.Context, step *observability.Step, report *PopulationReport) error {
			opened, err := s.openRental(ctx, step, report)
			rental = opened
			return err
		}},
		populationStep{populationStepReturnRental, func(ctx context.Context, step *observability.Step, report *PopulationReport) error {
			returned, err := s.returnRental(ctx, step, report, rental)
			if err == nil {
				rental = returned
			}
			return err
		}},
		populationStep{populationStepDeleteRental, func(ctx context.Context, step *observability.Step, report *PopulationReport) error {
			return s.deleteRental(ctx, step, report, rental)
		}},
	)
	if s.plan.Teardown {
		steps = append(steps, populationStep{populationStepTeardown, s.teardown})
	}

	for _, st := range steps {
		if err := s.runStep(ctx, &report, st); err != nil {
			report.FinishedAt = s.clock()
			logger.Error("population run failed", zap.String("step", st.name), zap.Error(err))
			return report, fmt.Errorf("population: step %s: %w", st.name, err)
		}
	}
	report.FinishedAt = s.clock()

	if s.exporter != nil {
		if err := s.runStep(ctx, &report, populationStep{populationStepExportReport, s.exportReport}); err != nil {
			return report, fmt.Errorf("population: step %s: %w", populationStepExportReport, err)
		}
	}

	logger.Info("population run completed",
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int("cars_seeded", report.CarsSeeded),
		zap.Int("users_seeded", report.UsersSeeded),
	)
	return report, nil
}

func (s *populationService) runStep(ctx context.Context, report *PopulationReport, st populationStep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stepCtx, step := observability.StartStep(ctx, s.plan.ProjectID, st.name,
		attribute.String("population.run_id", report.RunID),
		attribute.String("population.database_id", report.DatabaseID),
	)
	started := s.clock()
	err := st.fn(stepCtx, step, report)
	step.End(err)
	report.Steps = append(report.Steps, StepTiming{
		Name:          st.name,
		ElapsedMillis: s.clock().Sub(started).Milliseconds(),
	})
	return err
}

func (s *populationService) preflight(ctx context.Context, step *observability.Step, _ *PopulationReport) error {
	if s.health == nil {
		step.Logger().Debug("no dependency probes configured")
		return nil
	}
	result, err := s.health.Collect(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(result.Checks))
	for name := range result.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		check := result.Checks[name]
		fields := []zap.Field{
			zap.String("dependency", name),
			zap.String("status", string(check.Status)),
			zap.Duration("latency", check.Latency),
		}
		switch check.Status {
		case domain.DependencyStatusOK:
			step.Logger().Debug("dependency ready", fields...)
		case domain.DependencyStatusDegraded:
			step.Logger().Warn("dependency degraded", append(fields, zap.String("detail", check.Detail))...)
		default:
			step.Logger().Error("dependency unavailable", append(fields, zap.String("detail", check.Detail))...)
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrPopulationPreflight, strings.Join(failed, ", "))
	}
	return nil
}

func (s *populationService) dropDatabase(ctx context.Context, step *observability.Step, report *PopulationReport) error {
	existed, err := s.catalog.DropDatabase(ctx, s.plan.DatabaseID)
	if err != nil {
		return err
	}
	report.DatabaseDropped = existed
	if existed {
		step.Logger().Info("deleted existing database")
	}
	return nil
}

func (s *populationService) createDatabase(ctx context.Context, step *observability.Step, _ *PopulationReport) error {
	created, err := s.catalog.EnsureDatabase(ctx, s.plan.DatabaseID)
	if err != nil {
		return err
	}
	step.Logger().Info("database ready", zap.Bool("created", created))
	return nil
}

func (s *populationService) createContainers(ctx context.Context, step *observability.Step, report *PopulationReport) error {
	for _, id := range []string{s.plan.CarsContainer, s.plan.RentalsContainer, s.plan.UsersContainer} {
		created, err := s.catalog.EnsureContainer(ctx, s.plan.DatabaseID, repositories.ContainerSpec{
			ID:               id,
			PartitionKeyPath: s.plan.PartitionKeyPath,
			Throughput:       s.plan.Throughput,
		})
		if err != nil {
			return fmt.Errorf("container %s: %w", id, err)
		}
		if created {
			report.ContainersCreated = append(report.ContainersCreated, id)
		}
		step.Logger().Info("container ready", zap.String("container", id), zap.Bool("created", created))
	}
	return nil
}

// scaleContainer raises the cars throughput. Rejected throughput changes are logged and skipped.
func (s *populationService) scaleContainer(ctx context.Context, step *observability.Step, report *PopulationReport) error {
	current, err := s.catalog.ReadThroughput(ctx, s.plan.DatabaseID, s.plan.CarsContainer)
	if err != nil {
		return skipCatalogRejection(step, err)
	}
	report.CarsThroughput = current
	step.Logger().Info("current provisioned throughput", zap.Int("throughput", current))
	if s.plan.ThroughputIncrement == 0 {
		return nil
	}

	next := current + s.plan.ThroughputIncrement
	if err := s.catalog.ReplaceThroughput(ctx, s.plan.DatabaseID, s.plan.CarsContainer, next); err != nil {
		return skipCatalogRejection(step, err)
	}
	report.CarsThroughput = next
	step.SetAttributes(attribute.Int("population.throughput", next))
	step.Logger().Info("new provisioned throughput", zap.Int("throughput", next))
	return nil
}

func skipCatalogRejection(step *observability.Step, err error) error {
	var catalogErr *repositories.CatalogError
	if errors.As(err, &catalogErr) {
		step.Logger().Warn("cannot scale container throughput", zap.String("code", string(catalogErr.Code)), zap.Error(err))
		return nil
	}
	return err
}

func (s *populationService) seedItems(ctx context.Context, step *observability.Step, report *PopulationReport) error {
	for _, car := range s.seedCars {
		created, err := s.cars.CreateIfAbsent(ctx, car)
		if err != nil {
			return fmt.Errorf("car %s: %w", car.ID, err)
		}
		if created {
			report.CarsSeeded++
			step.Logger().Info("created item", zap.String("container", s.plan.CarsContainer), zap.String("id", car.ID))
		} else {
			report.CarsExisting++
			step.Logger().Info("item already exists", zap.String("container", s.plan.CarsContainer), zap.String("id", car.ID))
		}
	}
	for _, user := range s.seedUsers {
		created, err := s.users.CreateIfAbsent(ctx, user)
		if err != nil {
			return fmt.Errorf("user %s: %w", observability.MaskDNI(user.ID), err)
		}
		masked := observability.MaskDNI(user.ID)
		if created {
			report.UsersSeeded++
			step.Logger().Info("created item", zap.String("container", s.plan.UsersContainer), zap.String("id", masked))
		} else {
			report.UsersExisting++
			step.Logger().Info("item already exists", zap.String("container", s.plan.UsersContainer), zap.String("id", masked))
		}
	}
	step.SetAttributes(
		attribute.Int("population.cars_seeded", report.CarsSeeded),
		attribute.Int("population.users_seeded", report.UsersSeeded),
	)
	return nil
}

func (s *populationService) queryCars(ctx context.Context, step *observability.Step, report *PopulationReport) error {
	cars, err := s.cars.ListByPartition(ctx, s.plan.QueryBrand)
	if err != nil {
		return err
	}
	report.QueriedBrand = s.plan.QueryBrand
	for _, car := range cars {
		report.CarsInBrand = append(report.CarsInBrand, car.ID)
		step.Logger().Info("read item",
			zap.String("id", car.ID),
			zap.String("name", car.Name),
			zap.String("category", string(car.Category)),
			zap.Bool("rented", car.IsRented),
		)
	}
	return nil
}

func (s *populationService) openRental(ctx context.Context, step *observability.Step, report *PopulationReport) (Rental, error) {
	renter, err := s.users.FindByName(ctx, s.plan.RenterName, s.plan.RenterSurname)
	if err != nil {
		return Rental{}, fmt.Errorf("renter %s %s: %w", s.plan.RenterName, s.plan.RenterSurname, err)
	}
	rental, err := s.rentals.OpenRental(ctx, OpenRentalCommand{
		CarID:            s.plan.RentalCarID,
		CarPartitionKey:  s.plan.RentalCarBrand,
		UserID:           renter.ID,
		UserPartitionKey: renter.PartitionKey,
		DeliveryDate:     s.plan.DeliveryDate,
		ContractedDays:   s.plan.ContractedDays,
	})
	if err != nil {
		return Rental{}, err
	}
	step.Logger().Info("opened rental",
		zap.String("rental_id", rental.ID),
		zap.String("car_id", rental.CarID),
		zap.String("user_id", observability.MaskDNI(rental.UserID)),
		zap.String("base_price", rental.Price.BasePrice.String()),
	)

	listed, err := s.rentals.ListRentals(ctx, rental.PartitionKey)
	if err != nil {
		return rental, err
	}
	report.RentalsListed = len(listed)
	for _, item := range listed {
		step.Logger().Info("read item", zap.String("id", item.ID), zap.String("car_id", item.CarID))
	}
	return rental, nil
}

func (s *populationService) returnRental(ctx context.Context, step *observability.Step, report *PopulationReport, rental Rental) (Rental, error) {
	returned, err := s.rentals.ReturnRental(ctx, ReturnRentalCommand{
		RentalID:       rental.ID,
		PartitionKey:   rental.PartitionKey,
		ActualDaysUsed: s.plan.ActualDaysUsed,
	})
	if err != nil {
		return Rental{}, err
	}
	report.Quote = &ReportQuote{
		RentalID:       returned.ID,
		CarID:          returned.CarID,
		UserID:         observability.MaskDNI(returned.UserID),
		Category:       string(returned.CarCategory),
		DeliveryDate:   returned.DeliveryDate.String(),
		ContractedDays: returned.ContractedDays,
		ActualDaysUsed: s.plan.ActualDaysUsed,
		BasePrice:      returned.Price.BasePrice.StringFixed(2),
		Surcharge:      returned.Price.Surcharge.StringFixed(2),
		Total:          returned.Price.Total().StringFixed(2),
	}
	step.SetAttributes(attribute.String("population.rental_total", report.Quote.Total))
	step.Logger().Info("returned rental",
		zap.String("rental_id", returned.ID),
		zap.String("base_price", report.Quote.BasePrice),
		zap.String("surcharge", report.Quote.Surcharge),
		zap.String("total", report.Quote.Total),
	)
	return returned, nil
}

func (s *populationService) deleteRental(ctx context.Context, step *observability.Step, report *PopulationReport, rental Rental) error {
	if err := s.rentals.CancelRental(ctx, rental.ID, rental.PartitionKey); err != nil {
		return err
	}
	step.Logger().Info("deleted rental", zap.String("rental_id", rental.ID), zap.String("partition_key", rental.PartitionKey))

	car, err := s.cars.FindByID(ctx, rental.CarID, rental.PartitionKey)
	if err != nil {
		return err
	}
	if car.IsRented {
		return fmt.Errorf("car %s is still marked rented", car.ID)
	}
	report.CarReleased = true
	return nil
}

func (s *populationService) teardown(ctx context.Context, step *observability.Step, report *PopulationReport) error {
	existed, err := s.catalog.DropDatabase(ctx, s.plan.DatabaseID)
	if err != nil {
		return err
	}
	report.TornDown = existed
	step.Logger().Info("deleted database", zap.Bool("existed", existed))
	return nil
}

func (s *populationService) exportReport(ctx context.Context, step *observability.Step, report *PopulationReport) error {
	location, err := s.exporter.ExportReport(ctx, *report)
	if err != nil {
		return err
	}
	step.Logger().Info("exported report", zap.String("location", location))
	return nil
}
