package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	domain "github.com/car-rental/populate/internal/domain"
)

type rentalFixture struct {
	cars      *memCars
	users     *memUsers
	rentals   *memRentals
	publisher *recordingPublisher
	logged    []string
	svc       RentalService
}

func newRentalFixture(t *testing.T) *rentalFixture {
	t.Helper()
	f := &rentalFixture{
		cars:      newMemCars(),
		users:     newMemUsers(),
		rentals:   newMemRentals(),
		publisher: &recordingPublisher{},
	}
	ctx := context.Background()
	for _, car := range []domain.Car{
		domain.NewCar("0000BBB", "BMW 6", "BMW", domain.CarCategoryPremium),
		domain.NewCar("1111AAA", "Nissan Juke", "Nissan", domain.CarCategorySuv),
		domain.NewCar("2222AAA", "Skoda Fabia", "Skoda", domain.CarCategorySmall),
	} {
		if _, err := f.cars.CreateIfAbsent(ctx, car); err != nil {
			t.Fatalf("seed car: %v", err)
		}
	}
	if _, err := f.users.CreateIfAbsent(ctx, domain.NewUser("Manuel", "Gomez", "5334369R", 33, domain.SexMale)); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	svc, err := NewRentalService(RentalServiceDeps{
		Cars:        f.cars,
		Users:       f.users,
		Rentals:     f.rentals,
		Publisher:   f.publisher,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01HRENTAL" },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			f.logged = append(f.logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewRentalService: %v", err)
	}
	f.svc = svc
	return f
}

func TestNewRentalServiceRequiresRepositories(t *testing.T) {
	if _, err := NewRentalService(RentalServiceDeps{}); err == nil {
		t.Fatal("expected error without repositories")
	}
	if _, err := NewRentalService(RentalServiceDeps{Cars: newMemCars(), Users: newMemUsers()}); err == nil {
		t.Fatal("expected error without rental repository")
	}
}

func TestRentalService_OpenRental(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()

	rental, err := f.svc.OpenRental(ctx, OpenRentalCommand{
		CarID:            "0000BBB",
		CarPartitionKey:  "BMW",
		UserID:           "5334369R",
		UserPartitionKey: "Male",
		ContractedDays:   10,
	})
	if err != nil {
		t.Fatalf("OpenRental: %v", err)
	}
	if rental.ID != "01HRENTAL" || rental.PartitionKey != "BMW" || rental.CarCategory != domain.CarCategoryPremium {
		t.Fatalf("unexpected rental %+v", rental)
	}
	if want := (civil.Date{Year: 2024, Month: time.March, Day: 1}); rental.DeliveryDate != want {
		t.Fatalf("expected delivery date %s, got %s", want, rental.DeliveryDate)
	}
	if !rental.Price.BasePrice.Equal(decimal.NewFromInt(3000)) || !rental.Price.Surcharge.IsZero() {
		t.Fatalf("unexpected price %+v", rental.Price)
	}
	if rental.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamps, got %s", rental.CreatedAt.Location())
	}

	car, err := f.cars.FindByID(ctx, "0000BBB", "BMW")
	if err != nil || !car.IsRented {
		t.Fatalf("expected car to be rented, got %+v err=%v", car, err)
	}
	if _, err := f.rentals.FindByID(ctx, rental.ID, "BMW"); err != nil {
		t.Fatalf("expected rental to be stored: %v", err)
	}
	if types := f.publisher.types(); len(types) != 1 || types[0] != RentalEventOpened {
		t.Fatalf("unexpected events %v", types)
	}
	event := f.publisher.events[0]
	if event.Total != "3000" || event.DeliveryDate != "2024-03-01" || event.UserID != "5334369R" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestRentalService_OpenRentalValidation(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()

	cases := map[string]OpenRentalCommand{
		"missing car":       {CarPartitionKey: "BMW", UserID: "u", ContractedDays: 1},
		"missing partition": {CarID: "0000BBB", UserID: "u", ContractedDays: 1},
		"missing user":      {CarID: "0000BBB", CarPartitionKey: "BMW", ContractedDays: 1},
		"zero days":         {CarID: "0000BBB", CarPartitionKey: "BMW", UserID: "u"},
		"invalid date": {
			CarID: "0000BBB", CarPartitionKey: "BMW", UserID: "u", ContractedDays: 1,
			DeliveryDate: civil.Date{Year: 2024, Month: time.February, Day: 30},
		},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.OpenRental(ctx, cmd); !errors.Is(err, ErrRentalInvalidInput) {
				t.Fatalf("expected ErrRentalInvalidInput, got %v", err)
			}
		})
	}
	if len(f.rentals.items) != 0 {
		t.Fatalf("no rental must be stored on invalid input")
	}
}

func TestRentalService_OpenRentalNotFound(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenRental(ctx, OpenRentalCommand{CarID: "0000BBB", CarPartitionKey: "Skoda", UserID: "5334369R", ContractedDays: 2})
	if !errors.Is(err, ErrRentalNotFound) {
		t.Fatalf("expected ErrRentalNotFound for wrong partition, got %v", err)
	}
	_, err = f.svc.OpenRental(ctx, OpenRentalCommand{CarID: "0000BBB", CarPartitionKey: "BMW", UserID: "5334369R", UserPartitionKey: "Female", ContractedDays: 2})
	if !errors.Is(err, ErrRentalNotFound) {
		t.Fatalf("expected ErrRentalNotFound for user in wrong partition, got %v", err)
	}
}

func TestRentalService_OpenRentalRejectsRentedCar(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()
	cmd := OpenRentalCommand{CarID: "1111AAA", CarPartitionKey: "Nissan", UserID: "5334369R", ContractedDays: 8}
	if _, err := f.svc.OpenRental(ctx, cmd); err != nil {
		t.Fatalf("first OpenRental: %v", err)
	}
	if _, err := f.svc.OpenRental(ctx, cmd); !errors.Is(err, ErrRentalCarUnavailable) {
		t.Fatalf("expected ErrRentalCarUnavailable, got %v", err)
	}
}

func TestRentalService_OpenRentalRollsBackWhenCarUpdateFails(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()
	f.cars.setRentedFn = func(string, bool) error {
		return memRepoError{msg: "backend unavailable", unavailable: true}
	}

	_, err := f.svc.OpenRental(ctx, OpenRentalCommand{CarID: "2222AAA", CarPartitionKey: "Skoda", UserID: "5334369R", ContractedDays: 3})
	if err == nil {
		t.Fatal("expected error when the car cannot be marked rented")
	}
	if len(f.rentals.items) != 0 {
		t.Fatalf("expected rental to be rolled back, got %d stored", len(f.rentals.items))
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("no event must be published for a failed rental")
	}
}

func TestRentalService_ReturnRentalChargesSurcharge(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()

	opened, err := f.svc.OpenRental(ctx, OpenRentalCommand{
		CarID:           "2222AAA",
		CarPartitionKey: "Skoda",
		UserID:          "5334369R",
		DeliveryDate:    civil.Date{Year: 2024, Month: time.February, Day: 25},
		ContractedDays:  7,
	})
	if err != nil {
		t.Fatalf("OpenRental: %v", err)
	}

	returned, err := f.svc.ReturnRental(ctx, ReturnRentalCommand{RentalID: opened.ID, PartitionKey: "Skoda", ActualDaysUsed: 10})
	if err != nil {
		t.Fatalf("ReturnRental: %v", err)
	}
	if !returned.IsCarReturned || returned.ActualDaysUsed == nil || *returned.ActualDaysUsed != 10 {
		t.Fatalf("unexpected returned rental %+v", returned)
	}
	if !returned.Price.BasePrice.Equal(decimal.NewFromInt(350)) || !returned.Price.Surcharge.Equal(decimal.NewFromInt(195)) {
		t.Fatalf("unexpected price %+v", returned.Price)
	}
	if date, ok := returned.ActualReturnDate(); !ok || date != (civil.Date{Year: 2024, Month: time.March, Day: 6}) {
		t.Fatalf("unexpected actual return date %s", date)
	}

	car, err := f.cars.FindByID(ctx, "2222AAA", "Skoda")
	if err != nil || car.IsRented {
		t.Fatalf("expected car to be available, got %+v err=%v", car, err)
	}
	stored, err := f.rentals.FindByID(ctx, opened.ID, "Skoda")
	if err != nil || !stored.IsCarReturned {
		t.Fatalf("expected stored rental to be returned, got %+v err=%v", stored, err)
	}

	if _, err := f.svc.ReturnRental(ctx, ReturnRentalCommand{RentalID: opened.ID, PartitionKey: "Skoda", ActualDaysUsed: 10}); !errors.Is(err, ErrRentalAlreadyReturned) {
		t.Fatalf("expected ErrRentalAlreadyReturned, got %v", err)
	}
	if types := f.publisher.types(); len(types) != 2 || types[1] != RentalEventReturned {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestRentalService_OpenRentalLosesRaceForCar(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()
	// another rental marks the car rented between the availability read and the update
	f.cars.setRentedFn = func(id string, rented bool) error {
		f.cars.setRentedFn = nil
		car := f.cars.items[id]
		car.IsRented = true
		f.cars.items[id] = car
		return nil
	}

	_, err := f.svc.OpenRental(ctx, OpenRentalCommand{CarID: "0000BBB", CarPartitionKey: "BMW", UserID: "5334369R", ContractedDays: 2})
	if !errors.Is(err, ErrRentalCarUnavailable) {
		t.Fatalf("expected ErrRentalCarUnavailable, got %v", err)
	}
	if len(f.rentals.items) != 0 {
		t.Fatalf("expected losing rental to be rolled back, got %d stored", len(f.rentals.items))
	}
}

func TestRentalService_ReturnRentalKeepsRentalOpenWhenCarReleaseFails(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()

	opened, err := f.svc.OpenRental(ctx, OpenRentalCommand{CarID: "2222AAA", CarPartitionKey: "Skoda", UserID: "5334369R", ContractedDays: 7})
	if err != nil {
		t.Fatalf("OpenRental: %v", err)
	}
	f.cars.setRentedFn = func(string, bool) error {
		return memRepoError{msg: "backend unavailable", unavailable: true}
	}

	cmd := ReturnRentalCommand{RentalID: opened.ID, PartitionKey: "Skoda", ActualDaysUsed: 10}
	if _, err := f.svc.ReturnRental(ctx, cmd); err == nil {
		t.Fatal("expected error when the car cannot be released")
	}
	stored, err := f.rentals.FindByID(ctx, opened.ID, "Skoda")
	if err != nil || stored.IsCarReturned || stored.ActualDaysUsed != nil {
		t.Fatalf("expected rental to stay open, got %+v err=%v", stored, err)
	}

	f.cars.setRentedFn = nil
	returned, err := f.svc.ReturnRental(ctx, cmd)
	if err != nil {
		t.Fatalf("retried ReturnRental: %v", err)
	}
	if !returned.IsCarReturned {
		t.Fatalf("expected returned rental, got %+v", returned)
	}
	car, err := f.cars.FindByID(ctx, "2222AAA", "Skoda")
	if err != nil || car.IsRented {
		t.Fatalf("expected car to be available after retry, got %+v err=%v", car, err)
	}
	if types := f.publisher.types(); len(types) != 2 || types[1] != RentalEventReturned {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestRentalService_ReturnRentalLeavesCarRentedWhenRentalUpdateFails(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()

	opened, err := f.svc.OpenRental(ctx, OpenRentalCommand{CarID: "0000BBB", CarPartitionKey: "BMW", UserID: "5334369R", ContractedDays: 4})
	if err != nil {
		t.Fatalf("OpenRental: %v", err)
	}
	f.rentals.replaceFn = func(domain.Rental) error {
		return memRepoError{msg: "backend unavailable", unavailable: true}
	}

	if _, err := f.svc.ReturnRental(ctx, ReturnRentalCommand{RentalID: opened.ID, PartitionKey: "BMW", ActualDaysUsed: 4}); err == nil {
		t.Fatal("expected error when the rental cannot be updated")
	}
	car, err := f.cars.FindByID(ctx, "0000BBB", "BMW")
	if err != nil || !car.IsRented {
		t.Fatalf("expected car to stay rented, got %+v err=%v", car, err)
	}
}

func TestRentalService_CancelRentalKeepsCarRentedWhenDeleteFails(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()

	opened, err := f.svc.OpenRental(ctx, OpenRentalCommand{CarID: "1111AAA", CarPartitionKey: "Nissan", UserID: "5334369R", ContractedDays: 3})
	if err != nil {
		t.Fatalf("OpenRental: %v", err)
	}
	f.rentals.deleteErr = memRepoError{msg: "backend unavailable", unavailable: true}

	if err := f.svc.CancelRental(ctx, opened.ID, "Nissan"); err == nil {
		t.Fatal("expected error when the rental cannot be deleted")
	}
	car, err := f.cars.FindByID(ctx, "1111AAA", "Nissan")
	if err != nil || !car.IsRented {
		t.Fatalf("expected car to stay rented while its rental exists, got %+v err=%v", car, err)
	}

	f.rentals.deleteErr = nil
	if err := f.svc.CancelRental(ctx, opened.ID, "Nissan"); err != nil {
		t.Fatalf("retried CancelRental: %v", err)
	}
	car, err = f.cars.FindByID(ctx, "1111AAA", "Nissan")
	if err != nil || car.IsRented {
		t.Fatalf("expected car to be available, got %+v err=%v", car, err)
	}
}

func TestRentalService_ReturnRentalValidation(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()
	if _, err := f.svc.ReturnRental(ctx, ReturnRentalCommand{PartitionKey: "BMW"}); !errors.Is(err, ErrRentalInvalidInput) {
		t.Fatalf("expected ErrRentalInvalidInput, got %v", err)
	}
	if _, err := f.svc.ReturnRental(ctx, ReturnRentalCommand{RentalID: "r", PartitionKey: "BMW", ActualDaysUsed: -1}); !errors.Is(err, ErrRentalInvalidInput) {
		t.Fatalf("expected ErrRentalInvalidInput for negative days, got %v", err)
	}
	if _, err := f.svc.ReturnRental(ctx, ReturnRentalCommand{RentalID: "missing", PartitionKey: "BMW", ActualDaysUsed: 1}); !errors.Is(err, ErrRentalNotFound) {
		t.Fatalf("expected ErrRentalNotFound, got %v", err)
	}
}

func TestRentalService_CancelRentalReleasesCar(t *testing.T) {
	f := newRentalFixture(t)
	ctx := context.Background()

	opened, err := f.svc.OpenRental(ctx, OpenRentalCommand{CarID: "0000BBB", CarPartitionKey: "BMW", UserID: "5334369R", ContractedDays: 10})
	if err != nil {
		t.Fatalf("OpenRental: %v", err)
	}
	listed, err := f.svc.ListRentals(ctx, "BMW")
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one rental, got %d err=%v", len(listed), err)
	}

	if err := f.svc.CancelRental(ctx, opened.ID, "Nissan"); !errors.Is(err, ErrRentalNotFound) {
		t.Fatalf("expected ErrRentalNotFound for wrong partition, got %v", err)
	}
	if err := f.svc.CancelRental(ctx, opened.ID, "BMW"); err != nil {
		t.Fatalf("CancelRental: %v", err)
	}
	car, err := f.cars.FindByID(ctx, "0000BBB", "BMW")
	if err != nil || car.IsRented {
		t.Fatalf("expected car to be available, got %+v err=%v", car, err)
	}
	if listed, _ := f.svc.ListRentals(ctx, "BMW"); len(listed) != 0 {
		t.Fatalf("expected no rentals after cancel, got %d", len(listed))
	}
	if types := f.publisher.types(); len(types) != 2 || types[1] != RentalEventCancelled {
		t.Fatalf("unexpected events %v", types)
	}
	if _, err := f.svc.ListRentals(ctx, " "); !errors.Is(err, ErrRentalInvalidInput) {
		t.Fatalf("expected ErrRentalInvalidInput for blank partition, got %v", err)
	}
}

func TestRentalService_PublishFailureIsLogged(t *testing.T) {
	f := newRentalFixture(t)
	f.publisher.err = errors.New("topic not found")

	if _, err := f.svc.OpenRental(context.Background(), OpenRentalCommand{CarID: "0000BBB", CarPartitionKey: "BMW", UserID: "5334369R", ContractedDays: 1}); err != nil {
		t.Fatalf("OpenRental should not fail on publish errors: %v", err)
	}
	if len(f.logged) != 1 || f.logged[0] != rentalLoggerEventPublishFailed {
		t.Fatalf("expected publish failure to be logged, got %v", f.logged)
	}
}
