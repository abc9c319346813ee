//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	domain "github.com/car-rental/populate/internal/domain"
	pconfig "github.com/car-rental/populate/internal/platform/config"
	pfirestore "github.com/car-rental/populate/internal/platform/firestore"
	"github.com/car-rental/populate/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestRegistryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "rental-test",
		EmulatorHost: endpoint,
	})
	dbCfg := pconfig.DatabaseConfig{
		ID:               "RentalDB",
		CarsContainer:    "cars",
		RentalsContainer: "rentals",
		UsersContainer:   "users",
		PartitionKeyPath: "/partitionKey",
	}
	reg, err := NewRegistry(provider, dbCfg)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, err := reg.Health().Collect(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !report.Healthy() {
		t.Fatalf("expected healthy emulator, got %+v", report)
	}

	catalog := reg.Catalog()
	created, err := catalog.EnsureDatabase(ctx, dbCfg.ID)
	if err != nil || !created {
		t.Fatalf("ensure database: created=%v err=%v", created, err)
	}
	if created, err = catalog.EnsureDatabase(ctx, dbCfg.ID); err != nil || created {
		t.Fatalf("second ensure database: created=%v err=%v", created, err)
	}

	for _, id := range []string{dbCfg.CarsContainer, dbCfg.RentalsContainer, dbCfg.UsersContainer} {
		created, err := catalog.EnsureContainer(ctx, dbCfg.ID, repositories.ContainerSpec{ID: id, PartitionKeyPath: "/partitionKey", Throughput: 400})
		if err != nil || !created {
			t.Fatalf("ensure container %s: created=%v err=%v", id, created, err)
		}
	}
	_, err = catalog.EnsureContainer(ctx, dbCfg.ID, repositories.ContainerSpec{ID: dbCfg.CarsContainer, PartitionKeyPath: "/brand", Throughput: 400})
	var catalogErr *repositories.CatalogError
	if !errors.As(err, &catalogErr) || catalogErr.Code != repositories.CatalogErrorPartitionKeyMismatch {
		t.Fatalf("expected partition key mismatch, got %v", err)
	}

	if err := catalog.ReplaceThroughput(ctx, dbCfg.ID, dbCfg.CarsContainer, 500); err != nil {
		t.Fatalf("replace throughput: %v", err)
	}
	throughput, err := catalog.ReadThroughput(ctx, dbCfg.ID, dbCfg.CarsContainer)
	if err != nil || throughput != 500 {
		t.Fatalf("read throughput: %d err=%v", throughput, err)
	}

	cars := reg.Cars()
	for _, car := range []domain.Car{
		domain.NewCar("0000AAA", "BMW 7", "BMW", domain.CarCategoryPremium),
		domain.NewCar("0000BBB", "BMW 6", "BMW", domain.CarCategoryPremium),
		domain.NewCar("2222AAA", "Skoda Fabia", "Skoda", domain.CarCategorySmall),
	} {
		if created, err := cars.CreateIfAbsent(ctx, car); err != nil || !created {
			t.Fatalf("create car %s: created=%v err=%v", car.ID, created, err)
		}
	}
	if created, err := cars.CreateIfAbsent(ctx, domain.NewCar("0000AAA", "BMW 7", "BMW", domain.CarCategoryPremium)); err != nil || created {
		t.Fatalf("duplicate car: created=%v err=%v", created, err)
	}

	bmw, err := cars.ListByPartition(ctx, "BMW")
	if err != nil {
		t.Fatalf("list cars: %v", err)
	}
	if len(bmw) != 2 || bmw[0].ID != "0000AAA" || bmw[1].ID != "0000BBB" {
		t.Fatalf("unexpected BMW cars %+v", bmw)
	}

	if _, err := cars.FindByID(ctx, "0000BBB", "Skoda"); !repositories.IsNotFound(err) || !errors.Is(err, pfirestore.ErrPartitionMismatch) {
		t.Fatalf("expected partition mismatch for wrong partition, got %v", err)
	}
	rented, err := cars.SetRented(ctx, "0000AAA", "BMW", true)
	if err != nil || !rented.IsRented {
		t.Fatalf("set rented: %+v err=%v", rented, err)
	}
	if _, err := cars.SetRented(ctx, "0000AAA", "BMW", true); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict renting a rented car, got %v", err)
	}
	if _, err := cars.SetRented(ctx, "0000AAA", "Skoda", false); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found releasing in wrong partition, got %v", err)
	}
	if released, err := cars.SetRented(ctx, "0000AAA", "BMW", false); err != nil || released.IsRented || !released.CreatedAt.Equal(rented.CreatedAt) {
		t.Fatalf("release car: %+v err=%v", released, err)
	}
	car, err := cars.FindByID(ctx, "0000BBB", "BMW")
	if err != nil {
		t.Fatalf("find car: %v", err)
	}
	car.IsRented = true
	if err := cars.Replace(ctx, car); err != nil {
		t.Fatalf("replace car: %v", err)
	}
	if car, err = cars.FindByID(ctx, "0000BBB", "BMW"); err != nil || !car.IsRented {
		t.Fatalf("expected rented car, got %+v err=%v", car, err)
	}
	missing := domain.NewCar("9999ZZZ", "Ghost", "BMW", domain.CarCategorySmall)
	if err := cars.Replace(ctx, missing); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found replacing missing car, got %v", err)
	}

	users := reg.Users()
	if _, err := users.CreateIfAbsent(ctx, domain.NewUser("Josep", "Monrabà", "5314369R", 34, domain.SexMale)); err != nil {
		t.Fatalf("create user: %v", err)
	}
	user, err := users.FindByName(ctx, "josep", "MONRABA")
	if err != nil {
		t.Fatalf("find by name: %v", err)
	}
	if user.DNI != "5314369R" || user.Sex != domain.SexMale {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, err := users.FindByName(ctx, "Nobody", "Here"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found for unknown name, got %v", err)
	}

	rentals := reg.Rentals()
	actual := 12
	rental := domain.Rental{
		ID:             "01HRENTAL",
		PartitionKey:   "BMW",
		CarID:          "0000BBB",
		UserID:         user.ID,
		CarCategory:    domain.CarCategoryPremium,
		DeliveryDate:   civil.Date{Year: 2024, Month: time.March, Day: 1},
		ContractedDays: 10,
		Price:          domain.PriceQuote{BasePrice: decimal.NewFromInt(3000), Surcharge: decimal.Zero},
	}
	if _, err := rentals.CreateIfAbsent(ctx, rental); err != nil {
		t.Fatalf("create rental: %v", err)
	}
	rental.ActualDaysUsed = &actual
	rental.Price.Surcharge = decimal.NewFromInt(720)
	rental.IsCarReturned = true
	if err := rentals.Replace(ctx, rental); err != nil {
		t.Fatalf("replace rental: %v", err)
	}
	stored, err := rentals.FindByID(ctx, rental.ID, "BMW")
	if err != nil {
		t.Fatalf("find rental: %v", err)
	}
	if stored.ActualDaysUsed == nil || *stored.ActualDaysUsed != 12 || !stored.Price.Total().Equal(decimal.NewFromInt(3720)) {
		t.Fatalf("unexpected stored rental %+v", stored)
	}
	if stored.DeliveryDate != rental.DeliveryDate {
		t.Fatalf("expected delivery date %s, got %s", rental.DeliveryDate, stored.DeliveryDate)
	}
	if err := rentals.Delete(ctx, rental.ID, "Skoda"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found deleting in wrong partition, got %v", err)
	}
	if err := rentals.Delete(ctx, rental.ID, "BMW"); err != nil {
		t.Fatalf("delete rental: %v", err)
	}
	if err := rentals.Delete(ctx, rental.ID, "BMW"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	existed, err := catalog.DropDatabase(ctx, dbCfg.ID)
	if err != nil || !existed {
		t.Fatalf("drop database: existed=%v err=%v", existed, err)
	}
	if _, err := cars.FindByID(ctx, "0000AAA", "BMW"); !repositories.IsNotFound(err) {
		t.Fatalf("expected cars to be removed, got %v", err)
	}
	if _, err := catalog.GetContainer(ctx, dbCfg.ID, dbCfg.CarsContainer); !repositories.IsNotFound(err) {
		t.Fatalf("expected container metadata to be removed, got %v", err)
	}
	if existed, err = catalog.DropDatabase(ctx, dbCfg.ID); err != nil || existed {
		t.Fatalf("second drop: existed=%v err=%v", existed, err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
