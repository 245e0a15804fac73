// Package policy maps each command and query to the roles allowed to run it.
// Resource ownership (a courier driving only their own delivery, an owner
// reading only their own trip) is enforced by the services.
package policy

import (
	"fmt"

	"github.com/pkordes/fieldops/internal/domain"
)

// Operation names one guarded command or query.
type Operation string

const (
	TripStart       Operation = "trip.start"
	TripCheckpoint  Operation = "trip.checkpoint"
	TripEnd         Operation = "trip.end"
	TripRead        Operation = "trip.read"
	TripList        Operation = "trip.list"
	TripRecover     Operation = "trip.recover"
	TripValidate    Operation = "trip.validate"
	TripReimburse   Operation = "trip.reimburse"
	TripExport      Operation = "trip.export"
	VisitWrite      Operation = "visit.write"
	DeliveryCreate  Operation = "delivery.create"
	DeliveryAssign  Operation = "delivery.assign"
	DeliveryDrive   Operation = "delivery.drive"
	DeliveryCancel  Operation = "delivery.cancel"
	DeliveryNote    Operation = "delivery.note"
	DeliveryRead    Operation = "delivery.read"
	CourierApply    Operation = "courier.apply"
	CourierReview   Operation = "courier.review"
	CourierSuspend  Operation = "courier.suspend"
	CourierReadAll  Operation = "courier.read_all"
	TrackingPublish Operation = "tracking.publish"
	TrackingObserve Operation = "tracking.observe"
)

var (
	fieldStaff = []domain.Role{domain.RoleAdmin, domain.RoleDispatcher, domain.RoleCommercial, domain.RoleDelivery}
	backOffice = []domain.Role{domain.RoleAdmin, domain.RoleDispatcher, domain.RoleAccountant}
)

var capabilities = map[Operation][]domain.Role{
	TripStart:       fieldStaff,
	TripCheckpoint:  fieldStaff,
	TripEnd:         fieldStaff,
	TripRead:        {domain.RoleAdmin, domain.RoleDispatcher, domain.RoleCommercial, domain.RoleDelivery, domain.RoleAccountant},
	TripList:        backOffice,
	TripRecover:     {domain.RoleAdmin},
	TripValidate:    {domain.RoleAdmin, domain.RoleAccountant},
	TripReimburse:   {domain.RoleAdmin, domain.RoleAccountant},
	TripExport:      {domain.RoleAdmin, domain.RoleAccountant},
	VisitWrite:      {domain.RoleAdmin, domain.RoleDispatcher, domain.RoleCommercial},
	DeliveryCreate:  {domain.RoleAdmin, domain.RoleDispatcher},
	DeliveryAssign:  {domain.RoleAdmin, domain.RoleDispatcher},
	DeliveryDrive:   {domain.RoleAdmin, domain.RoleDispatcher, domain.RoleDelivery},
	DeliveryCancel:  {domain.RoleAdmin, domain.RoleDispatcher},
	DeliveryNote:    {domain.RoleAdmin, domain.RoleDispatcher, domain.RoleCommercial, domain.RoleDelivery},
	DeliveryRead:    {domain.RoleAdmin, domain.RoleDispatcher, domain.RoleCommercial, domain.RoleDelivery, domain.RoleAccountant},
	CourierApply:    {domain.RoleDelivery},
	CourierReview:   {domain.RoleAdmin},
	CourierSuspend:  {domain.RoleAdmin},
	CourierReadAll:  {domain.RoleAdmin, domain.RoleDispatcher},
	TrackingPublish: {domain.RoleDelivery, domain.RoleCommercial, domain.RoleDispatcher, domain.RoleAdmin},
	TrackingObserve: {domain.RoleAdmin, domain.RoleDispatcher, domain.RoleCommercial},
}

// Allows reports whether role may run op. Unknown operations are denied.
func Allows(role domain.Role, op Operation) bool {
	for _, r := range capabilities[op] {
		if r == role {
			return true
		}
	}
	return false
}

// Check returns domain.ErrForbidden unless actor may run op. The system actor
// is always allowed.
func Check(actor domain.Actor, op Operation) error {
	if actor.IsSystem() || Allows(actor.Role, op) {
		return nil
	}
	return fmt.Errorf("%s not permitted for role %s: %w", op, actor.Role, domain.ErrForbidden)
}
