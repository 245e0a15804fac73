package testutil

import (
	"github.com/google/uuid"
	"github.com/jaswdr/faker"

	"github.com/pkordes/fieldops/internal/domain"
)

var fake = faker.New()

// Point returns a random valid coordinate.
func Point() domain.GeoPoint {
	return domain.GeoPoint{Lat: fake.Address().Latitude(), Lon: fake.Address().Longitude()}
}

// TripFixture returns a trip ready to be started by owner.
func TripFixture(owner uuid.UUID) domain.Trip {
	return domain.Trip{
		OwnerID:       owner,
		StartLocation: Point(),
		Purpose:       fake.Lorem().Sentence(4),
		VehicleLabel:  fake.Lorem().Word(),
		MileageRate:   domain.DefaultMileageRate,
	}
}

// DeliveryFixture returns an unassigned delivery created by creator.
func DeliveryFixture(creator uuid.UUID) domain.Delivery {
	return domain.Delivery{
		OrderRef:   fake.Lorem().Word(),
		CustomerID: uuid.New(),
		Status:     domain.DeliveryCreated,
		Pickup:     domain.Address{Line: fake.Address().StreetAddress() + ", " + fake.Address().City()},
		Dropoff:    domain.Address{Line: fake.Address().StreetAddress() + ", " + fake.Address().City()},
		FeeCents:   int64(fake.IntBetween(300, 2500)),
		CreatedBy:  creator,
	}
}

// PersonName returns a random full name.
func PersonName() string {
	return fake.Person().Name()
}
