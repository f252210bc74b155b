package ledger

import "github.com/google/uuid"

// PaymentAppliedEvent is emitted after an entry becomes effective and the
// booking aggregates are updated. The vehicle module reacts to it by
// deriving inventory status transitions.
type PaymentAppliedEvent struct {
	EntryID           uuid.UUID
	BookingID         int64
	Amount            float64
	Source            SourceKind
	ModelID           int64
	ColorID           int64
	VehicleID         int64
	ChassisNo         string
	MotorNo           string
	BatteryNo         string
	EngineNo          string
	KeyNo             string
	ChargerNo         string
	ReceivedAmount    float64
	DiscountedAmount  float64
	PaymentPercentage float64
}
