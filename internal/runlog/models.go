// Package runlog persists every event a run produces to a durable,
// append-only SQLite database: one table per event variant plus a `runs`
// table tracking each run's lifecycle.
package runlog

import "github.com/shopspring/decimal"

// RunStatus is the lifecycle state of one orchestrator run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunRow is the `runs` table: one row per orchestrator invocation.
type RunRow struct {
	RunID       string `gorm:"primaryKey"`
	Name        string
	TsStartNs   int64
	TsEndNs     *int64
	Status      RunStatus
	ConfigJSON  string
	MetadataJSON string
}

func (RunRow) TableName() string { return "runs" }

// BarRow persists a BarReceived.
type BarRow struct {
	ID          uint `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"index"`
	TsEventNs   int64
	TsCreatedNs int64
	Symbol      string
	BarPeriod   int
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      *int64
}

func (BarRow) TableName() string { return "bars" }

// BarProcessedRow persists a BarProcessed, with its indicator map encoded
// as a JSON column (the teacher's driver stack has no native JSON type).
type BarProcessedRow struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"index"`
	TsEventNs     int64
	TsCreatedNs   int64
	Symbol        string
	BarPeriod     int
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        *int64
	IndicatorsJSON string
}

func (BarProcessedRow) TableName() string { return "bars_processed" }

// OrderSubmissionRow persists an OrderSubmissionRequest.
type OrderSubmissionRow struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"index"`
	TsEventNs     int64
	TsCreatedNs   int64
	SystemOrderID string
	Symbol        string
	OrderType     string
	Side          string
	Quantity      float64
	LimitPrice    *float64
	StopPrice     *float64
	Action        *string
	Signal        *string
}

func (OrderSubmissionRow) TableName() string { return "order_submissions" }

// OrderCancellationRow persists an OrderCancellationRequest.
type OrderCancellationRow struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"index"`
	TsEventNs     int64
	TsCreatedNs   int64
	SystemOrderID string
	Symbol        string
}

func (OrderCancellationRow) TableName() string { return "order_cancellations" }

// OrderModificationRow persists an OrderModificationRequest.
type OrderModificationRow struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"index"`
	TsEventNs     int64
	TsCreatedNs   int64
	SystemOrderID string
	Symbol        string
	Quantity      *float64
	LimitPrice    *float64
	StopPrice     *float64
}

func (OrderModificationRow) TableName() string { return "order_modifications" }

// responseRow is the shared shape of the six Accepted/Rejected tables.
type responseRow struct {
	ID                uint `gorm:"primaryKey;autoIncrement"`
	RunID             string `gorm:"index"`
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID string
	BrokerOrderID     *string
}

type rejectionRow struct {
	ID                uint `gorm:"primaryKey;autoIncrement"`
	RunID             string `gorm:"index"`
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID string
	RejectionReason   string
	RejectionMessage  string
}

// OrderAcceptedRow persists an OrderAccepted.
type OrderAcceptedRow struct{ responseRow }

func (OrderAcceptedRow) TableName() string { return "orders_accepted" }

// OrderRejectedRow persists an OrderRejected.
type OrderRejectedRow struct{ rejectionRow }

func (OrderRejectedRow) TableName() string { return "orders_rejected" }

// CancellationAcceptedRow persists a CancellationAccepted.
type CancellationAcceptedRow struct{ responseRow }

func (CancellationAcceptedRow) TableName() string { return "cancellations_accepted" }

// CancellationRejectedRow persists a CancellationRejected.
type CancellationRejectedRow struct{ rejectionRow }

func (CancellationRejectedRow) TableName() string { return "cancellations_rejected" }

// ModificationAcceptedRow persists a ModificationAccepted.
type ModificationAcceptedRow struct{ responseRow }

func (ModificationAcceptedRow) TableName() string { return "modifications_accepted" }

// ModificationRejectedRow persists a ModificationRejected.
type ModificationRejectedRow struct{ rejectionRow }

func (ModificationRejectedRow) TableName() string { return "modifications_rejected" }

// FillRow persists a FillEvent.
type FillRow struct {
	ID                uint `gorm:"primaryKey;autoIncrement"`
	RunID             string `gorm:"index"`
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	FillID            string
	BrokerFillID      *string
	AssociatedOrderID string
	Symbol            string
	Side              string
	QuantityFilled    float64
	FillPrice         float64
	Commission        decimal.Decimal `gorm:"type:numeric"`
	Exchange          string
}

func (FillRow) TableName() string { return "fills" }

// ExpirationRow persists an OrderExpired.
type ExpirationRow struct {
	ID                uint `gorm:"primaryKey;autoIncrement"`
	RunID             string `gorm:"index"`
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID string
	Symbol            string
	BrokerOrderID     *string
}

func (ExpirationRow) TableName() string { return "expirations" }

var allModels = []interface{}{
	&RunRow{},
	&BarRow{},
	&BarProcessedRow{},
	&OrderSubmissionRow{},
	&OrderCancellationRow{},
	&OrderModificationRow{},
	&OrderAcceptedRow{},
	&OrderRejectedRow{},
	&CancellationAcceptedRow{},
	&CancellationRejectedRow{},
	&ModificationAcceptedRow{},
	&ModificationRejectedRow{},
	&FillRow{},
	&ExpirationRow{},
}
