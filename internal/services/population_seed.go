package services

import domain "github.com/car-rental/populate/internal/domain"

// SeedCars returns the sample fleet loaded by a population run.
func SeedCars() []domain.Car {
	return []domain.Car{
		domain.NewCar("0000AAA", "BMW 7", "BMW", domain.CarCategoryPremium),
		domain.NewCar("0000BBB", "BMW 6", "BMW", domain.CarCategoryPremium),
		domain.NewCar("1111AAA", "Nissan Juke", "Nissan", domain.CarCategorySuv),
		domain.NewCar("1111BBB", "Nissan Juke 2", "Nissan", domain.CarCategorySuv),
		domain.NewCar("2222AAA", "Skoda Fabia", "Skoda", domain.CarCategorySmall),
		domain.NewCar("3333AAA", "Mercedes Class A", "Mercedes", domain.CarCategoryPremium),
		domain.NewCar("4444AAA", "Dacia Duster", "Dacia", domain.CarCategorySuv),
		domain.NewCar("5555AAA", "Volkswagen Polo", "Volkswagen", domain.CarCategorySmall),
	}
}

// SeedUsers returns the sample renters loaded by a population run.
func SeedUsers() []domain.User {
	return []domain.User{
		domain.NewUser("Manuel", "Gomez", "5334369R", 33, domain.SexMale),
		domain.NewUser("Claudia", "Lafita", "5331369R", 29, domain.SexFemale),
		domain.NewUser("Josep", "Monrabà", "5314369R", 34, domain.SexMale),
		domain.NewUser("Jesus", "Capote", "5313369R", 34, domain.SexMale),
		domain.NewUser("Paca", "Pepa", "5331319R", 21, domain.SexFemale),
		domain.NewUser("Pepa", "Pujol", "5324329R", 40, domain.SexOther),
	}
}
