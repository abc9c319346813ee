package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// ErrUnknownCategory is returned when a car category string does not match a known variant.
var ErrUnknownCategory = errors.New("domain: unknown car category")

// ErrUnknownSex is returned when a sex string does not match a known variant.
var ErrUnknownSex = errors.New("domain: unknown sex")

// CarCategory classifies a rental vehicle and drives its pricing table.
type CarCategory string

const (
	// CarCategoryPremium covers executive cars with a flat daily rate.
	CarCategoryPremium CarCategory = "Premium"
	// CarCategorySuv covers SUVs priced in three duration brackets.
	CarCategorySuv CarCategory = "Suv"
	// CarCategorySmall covers compact cars priced in two duration brackets.
	CarCategorySmall CarCategory = "Small"
)

// CarCategories lists every known category in declaration order.
func CarCategories() []CarCategory {
	return []CarCategory{CarCategoryPremium, CarCategorySuv, CarCategorySmall}
}

// Valid reports whether the category is one of the known variants.
func (c CarCategory) Valid() bool {
	switch c {
	case CarCategoryPremium, CarCategorySuv, CarCategorySmall:
		return true
	}
	return false
}

// ParseCarCategory resolves a category name case-insensitively.
func ParseCarCategory(value string) (CarCategory, error) {
	trimmed := strings.TrimSpace(value)
	for _, category := range CarCategories() {
		if strings.EqualFold(trimmed, string(category)) {
			return category, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, value)
}

// Sex enumerates the values stored on user profiles. It doubles as the user partition key.
type Sex string

const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
	SexOther  Sex = "Other"
)

// ParseSex resolves a sex value case-insensitively.
func ParseSex(value string) (Sex, error) {
	trimmed := strings.TrimSpace(value)
	for _, sex := range []Sex{SexMale, SexFemale, SexOther} {
		if strings.EqualFold(trimmed, string(sex)) {
			return sex, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSex, value)
}

// Car is a vehicle available for rent. Cars are partitioned by brand.
type Car struct {
	ID           string
	PartitionKey string
	Name         string
	Brand        string
	Category     CarCategory
	IsRented     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewCar builds a car that is not rented and is partitioned by its brand.
func NewCar(id, name, brand string, category CarCategory) Car {
	return Car{
		ID:           strings.TrimSpace(id),
		PartitionKey: strings.TrimSpace(brand),
		Name:         strings.TrimSpace(name),
		Brand:        strings.TrimSpace(brand),
		Category:     category,
	}
}

// User is a renter. The DNI is used as the document identifier and the sex as partition key.
type User struct {
	ID            string
	PartitionKey  string
	Name          string
	Surname       string
	DNI           string
	Age           int
	LoyaltyPoints int
	Sex           Sex
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUser builds a user keyed by DNI with no loyalty points.
func NewUser(name, surname, dni string, age int, sex Sex) User {
	dni = strings.TrimSpace(dni)
	return User{
		ID:           dni,
		PartitionKey: string(sex),
		Name:         strings.TrimSpace(name),
		Surname:      strings.TrimSpace(surname),
		DNI:          dni,
		Age:          age,
		Sex:          sex,
	}
}

// FullName joins name and surname.
func (u User) FullName() string {
	return strings.TrimSpace(u.Name + " " + u.Surname)
}

// Rental records a car contracted by a user for a number of whole days starting at DeliveryDate.
// Rentals share the partition key of the rented car.
type Rental struct {
	ID             string
	PartitionKey   string
	CarID          string
	UserID         string
	CarCategory    CarCategory
	DeliveryDate   civil.Date
	ContractedDays int
	ActualDaysUsed *int
	Price          PriceQuote
	IsCarReturned  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ContractReturnDate is the date the car is due back.
func (r Rental) ContractReturnDate() civil.Date {
	return r.DeliveryDate.AddDays(r.ContractedDays)
}

// ActualReturnDate is the date the car came back, when it has been returned.
func (r Rental) ActualReturnDate() (civil.Date, bool) {
	if r.ActualDaysUsed == nil {
		return civil.Date{}, false
	}
	return r.DeliveryDate.AddDays(*r.ActualDaysUsed), true
}

// Term returns the pricing inputs of the rental.
func (r Rental) Term() RentalTerm {
	return RentalTerm{
		Category:       r.CarCategory,
		ContractedDays: r.ContractedDays,
		ActualDaysUsed: r.ActualDaysUsed,
	}
}

// ContractedDaysBetween counts the whole days between delivery and return dates.
func ContractedDaysBetween(delivery, returned civil.Date) (int, error) {
	if !delivery.IsValid() || !returned.IsValid() {
		return 0, errors.New("domain: delivery and return dates must be valid")
	}
	days := returned.DaysSince(delivery)
	if days < 1 {
		return 0, fmt.Errorf("domain: return date %s must be after delivery date %s", returned, delivery)
	}
	return days, nil
}
