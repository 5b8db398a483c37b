package models

import "time"

// ATMStatus is the lifecycle status of a registered ATM.
type ATMStatus string

const (
	ATMActive         ATMStatus = "active"
	ATMMaintenance    ATMStatus = "maintenance"
	ATMDecommissioned ATMStatus = "decommissioned"
)

// ATM represents a registered ATM asset.
type ATM struct {
	ATMID         string    `bson:"atm_id" json:"atm_id"`
	Location      Location  `bson:"location" json:"location"`
	Status        ATMStatus `bson:"status" json:"status"`
	Model         string    `bson:"model" json:"model"`
	InstalledDate string    `bson:"installed_date" json:"installed_date"`
	CashCapacity  int64     `bson:"cash_capacity" json:"cash_capacity"`
	Notes         string    `bson:"notes,omitempty" json:"notes,omitempty"`
	RegisteredAt  time.Time `bson:"registered_at" json:"registered_at"`
}

// IsValidATMStatus checks if an ATM status is valid
func IsValidATMStatus(s ATMStatus) bool {
	switch s {
	case ATMActive, ATMMaintenance, ATMDecommissioned:
		return true
	default:
		return false
	}
}
