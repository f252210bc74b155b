package vehicle

import "time"

// Status of an inventory vehicle. Transitions only move forward; a SOLD
// vehicle never reverts.
type Status string

const (
	StatusNotApproved Status = "NOT_APPROVED"
	StatusInStock     Status = "IN_STOCK"
	StatusInTransit   Status = "IN_TRANSIT"
	StatusSold        Status = "SOLD"
)

// rank orders statuses so transitions never downgrade.
func (s Status) rank() int {
	switch s {
	case StatusNotApproved:
		return 0
	case StatusInStock:
		return 1
	case StatusInTransit:
		return 2
	case StatusSold:
		return 3
	default:
		return -1
	}
}

// Vehicle is one unit of inventory.
type Vehicle struct {
	ID        int64     `json:"id"`
	ModelID   int64     `json:"modelId"`
	ColorID   int64     `json:"colorId"`
	Status    Status    `json:"status"`
	ChassisNo string    `json:"chassisNo,omitempty"`
	MotorNo   string    `json:"motorNo,omitempty"`
	BatteryNo string    `json:"batteryNo,omitempty"`
	EngineNo  string    `json:"engineNo,omitempty"`
	KeyNo     string    `json:"keyNo,omitempty"`
	ChargerNo string    `json:"chargerNo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Numbers carries the identifying numbers backfilled onto a vehicle when it
// is sold.
type Numbers struct {
	ChassisNo string
	MotorNo   string
	BatteryNo string
	EngineNo  string
	KeyNo     string
	ChargerNo string
}

// TargetStatus maps a booking's payment percentage to the status its
// matched vehicle should carry. Returns empty when no threshold applies.
func TargetStatus(paymentPercentage float64) Status {
	switch {
	case paymentPercentage >= 100:
		return StatusSold
	case paymentPercentage >= 50:
		return StatusInTransit
	case paymentPercentage > 0:
		return StatusInStock
	default:
		return ""
	}
}
