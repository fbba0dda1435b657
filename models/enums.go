package models

import "errors"

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "Pending"
	PurchaseStatusCompleted PurchaseStatus = "Completed"
	PurchaseStatusRejected  PurchaseStatus = "Rejected"
	PurchaseStatusCancelled PurchaseStatus = "Cancelled"
)

// IsTerminal reports whether no further status transition is permitted.
func (s PurchaseStatus) IsTerminal() bool {
	switch s {
	case PurchaseStatusCompleted, PurchaseStatusRejected, PurchaseStatusCancelled:
		return true
	}
	return false
}

func (s PurchaseStatus) IsValid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusRejected, PurchaseStatusCancelled:
		return true
	}
	return false
}

type Availability string

const (
	AvailabilityAvailable    Availability = "Available"
	AvailabilityComing       Availability = "Coming"
	AvailabilityDiscontinued Availability = "Discontinued"
)

func ParseAvailability(s string) (Availability, error) {
	switch Availability(s) {
	case AvailabilityAvailable, AvailabilityComing, AvailabilityDiscontinued:
		return Availability(s), nil
	}
	return "", errors.New("invalid availability: " + s)
}

// Entity type names used as lock keys and event payloads.
const (
	EntityTypeProduct  = "product"
	EntityTypeCategory = "category"
	EntityTypePurchase = "purchase"
)

// ParseEntityType rejects lock requests against entity types nothing in
// the system edits.
func ParseEntityType(s string) (string, error) {
	switch s {
	case EntityTypeProduct, EntityTypeCategory, EntityTypePurchase:
		return s, nil
	}
	return "", errors.New("invalid entity type: " + s)
}
