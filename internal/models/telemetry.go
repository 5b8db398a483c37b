package models

import (
	"time"
)

// Telemetry is one status snapshot reported by an ATM.
type Telemetry struct {
	ATMID               string     `bson:"atm_id" json:"atm_id" validate:"required"`
	Timestamp           time.Time  `bson:"timestamp" json:"timestamp"`
	ReceivedAt          time.Time  `bson:"received_at" json:"received_at"`
	Status              string     `bson:"status" json:"status" validate:"required,oneof=active error warning"`
	ErrorCode           string     `bson:"error_code,omitempty" json:"error_code,omitempty"`
	ErrorDescription    string     `bson:"error_description,omitempty" json:"error_description,omitempty"`
	CashStatus          string     `bson:"cash_status" json:"cash_status" validate:"required,oneof=normal low out"`
	CardReaderStatus    string     `bson:"card_reader_status" json:"card_reader_status" validate:"required,oneof=operational warning faulty"`
	DispenserStatus     string     `bson:"dispenser_status" json:"dispenser_status" validate:"required,oneof=operational warning faulty"`
	NetworkStatus       string     `bson:"network_status" json:"network_status" validate:"required,oneof=online offline"`
	UptimePercentage    float64    `bson:"uptime_percentage" json:"uptime_percentage" validate:"gte=0,lte=100"`
	Temperature         float64    `bson:"temperature" json:"temperature"`
	TransactionCount    int        `bson:"transaction_count" json:"transaction_count" validate:"gte=0"`
	FailedTransactions  int        `bson:"failed_transactions" json:"failed_transactions" validate:"gte=0"`
	LastTransactionTime *time.Time `bson:"last_transaction_time,omitempty" json:"last_transaction_time,omitempty"`
}
