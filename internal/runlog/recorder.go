package runlog

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/subscriber"
)

// DefaultBatchSize is BATCH_SIZE from the source recorder: the number of
// buffered rows of a single type that triggers a flush.
const DefaultBatchSize = 1000

// RunRecorder is a subscriber to every event type produced in a run. It
// buffers rows per event type and flushes each buffer as a single batch
// insert once it reaches BatchSize, guaranteeing that every event the bus
// delivered before shutdown is persisted before Shutdown returns.
type RunRecorder struct {
	*subscriber.Base

	logger    *zap.Logger
	eventBus  *bus.EventBus
	db        *gorm.DB
	batchSize int

	runID string

	bars           []BarRow
	barsProcessed  []BarProcessedRow
	submissions    []OrderSubmissionRow
	cancellations  []OrderCancellationRow
	modifications  []OrderModificationRow
	accepted       []OrderAcceptedRow
	rejected       []OrderRejectedRow
	cancelAccepted []CancellationAcceptedRow
	cancelRejected []CancellationRejectedRow
	modAccepted    []ModificationAcceptedRow
	modRejected    []ModificationRejectedRow
	fills          []FillRow
	expirations    []ExpirationRow
}

// Open opens (and migrates, if new) the SQLite database at path in WAL
// mode, grounded on the source recorder's PRAGMA sequence.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open run log database %q: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("migrate run log schema: %w", err)
	}
	return db, nil
}

// NewRecorder constructs a recorder bound to db for the given run, and
// subscribes it to every event type it persists. It registers a new `runs`
// row with status "running".
func NewRecorder(logger *zap.Logger, eventBus *bus.EventBus, db *gorm.DB, runID, runName string, tsStartNs int64, configJSON, metadataJSON string, batchSize int, inboxCapacity int) (*RunRecorder, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	r := &RunRecorder{logger: logger, eventBus: eventBus, db: db, batchSize: batchSize, runID: runID}
	r.Base = subscriber.New("RunRecorder", logger, inboxCapacity)

	if err := db.Create(&RunRow{
		RunID:        runID,
		Name:         runName,
		TsStartNs:    tsStartNs,
		Status:       RunStatusRunning,
		ConfigJSON:   configJSON,
		MetadataJSON: metadataJSON,
	}).Error; err != nil {
		return nil, fmt.Errorf("register run %q: %w", runID, err)
	}

	eventBus.SubscribeMany(r,
		bus.TypeOf[events.BarReceived](),
		bus.TypeOf[events.BarProcessed](),
		bus.TypeOf[events.OrderSubmissionRequest](),
		bus.TypeOf[events.OrderCancellationRequest](),
		bus.TypeOf[events.OrderModificationRequest](),
		bus.TypeOf[events.OrderAccepted](),
		bus.TypeOf[events.OrderRejected](),
		bus.TypeOf[events.CancellationAccepted](),
		bus.TypeOf[events.CancellationRejected](),
		bus.TypeOf[events.ModificationAccepted](),
		bus.TypeOf[events.ModificationRejected](),
		bus.TypeOf[events.FillEvent](),
		bus.TypeOf[events.OrderExpired](),
	)
	return r, nil
}

// Connect starts the recorder's worker goroutine.
func (r *RunRecorder) Connect() error {
	r.Start(r)
	return nil
}

// Disconnect unsubscribes from the bus, flushes every buffer, and closes
// the recorder down.
func (r *RunRecorder) Disconnect() {
	r.eventBus.Unsubscribe(r)
	r.Shutdown()
}

// UpdateRunStatus sets the run's terminal status and end timestamp.
func (r *RunRecorder) UpdateRunStatus(status RunStatus, tsEndNs int64) error {
	return r.db.Model(&RunRow{}).Where("run_id = ?", r.runID).Updates(map[string]interface{}{
		"status":     status,
		"ts_end_ns":  tsEndNs,
	}).Error
}

// OnEvent implements subscriber.Handler.
func (r *RunRecorder) OnEvent(raw any) {
	switch e := raw.(type) {
	case events.BarReceived:
		r.bars = append(r.bars, BarRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs,
			Symbol: e.Symbol, BarPeriod: int(e.BarPeriod),
			Open: e.Open, High: e.High, Low: e.Low, Close: e.Close, Volume: e.Volume,
		})
		flushIfFull(r.logger, r.db, r.batchSize, &r.bars)

	case events.BarProcessed:
		blob, _ := json.Marshal(e.Indicators)
		r.barsProcessed = append(r.barsProcessed, BarProcessedRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs,
			Symbol: e.Symbol, BarPeriod: int(e.BarPeriod),
			Open: e.Open, High: e.High, Low: e.Low, Close: e.Close, Volume: e.Volume,
			IndicatorsJSON: string(blob),
		})
		flushIfFull(r.logger, r.db, r.batchSize, &r.barsProcessed)

	case events.OrderSubmissionRequest:
		var action *string
		if e.Action != nil {
			s := e.Action.String()
			action = &s
		}
		r.submissions = append(r.submissions, OrderSubmissionRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs,
			SystemOrderID: e.SystemOrderID.String(), Symbol: e.Symbol,
			OrderType: e.OrderType.String(), Side: e.Side.String(), Quantity: e.Quantity,
			LimitPrice: e.LimitPrice, StopPrice: e.StopPrice, Action: action, Signal: e.Signal,
		})
		flushIfFull(r.logger, r.db, r.batchSize, &r.submissions)

	case events.OrderCancellationRequest:
		r.cancellations = append(r.cancellations, OrderCancellationRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs,
			SystemOrderID: e.SystemOrderID.String(), Symbol: e.Symbol,
		})
		flushIfFull(r.logger, r.db, r.batchSize, &r.cancellations)

	case events.OrderModificationRequest:
		r.modifications = append(r.modifications, OrderModificationRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs,
			SystemOrderID: e.SystemOrderID.String(), Symbol: e.Symbol,
			Quantity: e.Quantity, LimitPrice: e.LimitPrice, StopPrice: e.StopPrice,
		})
		flushIfFull(r.logger, r.db, r.batchSize, &r.modifications)

	case events.OrderAccepted:
		r.accepted = append(r.accepted, OrderAcceptedRow{responseRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs, TsBrokerNs: e.TsBrokerNs,
			AssociatedOrderID: e.AssociatedOrderID.String(), BrokerOrderID: e.BrokerOrderID,
		}})
		flushIfFull(r.logger, r.db, r.batchSize, &r.accepted)

	case events.OrderRejected:
		r.rejected = append(r.rejected, OrderRejectedRow{rejectionRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs, TsBrokerNs: e.TsBrokerNs,
			AssociatedOrderID: e.AssociatedOrderID.String(),
			RejectionReason:   e.RejectionReason.String(), RejectionMessage: e.RejectionMessage,
		}})
		flushIfFull(r.logger, r.db, r.batchSize, &r.rejected)

	case events.CancellationAccepted:
		r.cancelAccepted = append(r.cancelAccepted, CancellationAcceptedRow{responseRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs, TsBrokerNs: e.TsBrokerNs,
			AssociatedOrderID: e.AssociatedOrderID.String(), BrokerOrderID: e.BrokerOrderID,
		}})
		flushIfFull(r.logger, r.db, r.batchSize, &r.cancelAccepted)

	case events.CancellationRejected:
		r.cancelRejected = append(r.cancelRejected, CancellationRejectedRow{rejectionRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs, TsBrokerNs: e.TsBrokerNs,
			AssociatedOrderID: e.AssociatedOrderID.String(),
			RejectionReason:   e.RejectionReason.String(), RejectionMessage: e.RejectionMessage,
		}})
		flushIfFull(r.logger, r.db, r.batchSize, &r.cancelRejected)

	case events.ModificationAccepted:
		r.modAccepted = append(r.modAccepted, ModificationAcceptedRow{responseRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs, TsBrokerNs: e.TsBrokerNs,
			AssociatedOrderID: e.AssociatedOrderID.String(), BrokerOrderID: e.BrokerOrderID,
		}})
		flushIfFull(r.logger, r.db, r.batchSize, &r.modAccepted)

	case events.ModificationRejected:
		r.modRejected = append(r.modRejected, ModificationRejectedRow{rejectionRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs, TsBrokerNs: e.TsBrokerNs,
			AssociatedOrderID: e.AssociatedOrderID.String(),
			RejectionReason:   e.RejectionReason.String(), RejectionMessage: e.RejectionMessage,
		}})
		flushIfFull(r.logger, r.db, r.batchSize, &r.modRejected)

	case events.FillEvent:
		r.fills = append(r.fills, FillRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs, TsBrokerNs: e.TsBrokerNs,
			FillID: e.FillID.String(), BrokerFillID: e.BrokerFillID,
			AssociatedOrderID: e.AssociatedOrderID.String(), Symbol: e.Symbol, Side: e.Side.String(),
			QuantityFilled: e.QuantityFilled, FillPrice: e.FillPrice, Commission: e.Commission, Exchange: e.Exchange,
		})
		flushIfFull(r.logger, r.db, r.batchSize, &r.fills)

	case events.OrderExpired:
		r.expirations = append(r.expirations, ExpirationRow{
			RunID: r.runID, TsEventNs: e.TsEventNs, TsCreatedNs: e.TsCreatedNs, TsBrokerNs: e.TsBrokerNs,
			AssociatedOrderID: e.AssociatedOrderID.String(), Symbol: e.Symbol, BrokerOrderID: e.BrokerOrderID,
		})
		flushIfFull(r.logger, r.db, r.batchSize, &r.expirations)
	}
}

// OnException logs and swallows per §7's documented default; a production
// deployment should escalate and mark the run failed instead.
func (r *RunRecorder) OnException(err error) {
	if r.logger != nil {
		r.logger.Error("recorder handler error", zap.Error(err))
	}
}

// OnShutdown flushes every remaining buffer before the worker exits.
func (r *RunRecorder) OnShutdown() {
	r.flushAll()
}

func (r *RunRecorder) flushAll() {
	flush(r.logger, r.db, &r.bars, r.batchSize)
	flush(r.logger, r.db, &r.barsProcessed, r.batchSize)
	flush(r.logger, r.db, &r.submissions, r.batchSize)
	flush(r.logger, r.db, &r.cancellations, r.batchSize)
	flush(r.logger, r.db, &r.modifications, r.batchSize)
	flush(r.logger, r.db, &r.accepted, r.batchSize)
	flush(r.logger, r.db, &r.rejected, r.batchSize)
	flush(r.logger, r.db, &r.cancelAccepted, r.batchSize)
	flush(r.logger, r.db, &r.cancelRejected, r.batchSize)
	flush(r.logger, r.db, &r.modAccepted, r.batchSize)
	flush(r.logger, r.db, &r.modRejected, r.batchSize)
	flush(r.logger, r.db, &r.fills, r.batchSize)
	flush(r.logger, r.db, &r.expirations, r.batchSize)
}

// flushIfFull flushes buf once it has accumulated batchSize rows,
// grounded on the source recorder's len(buffer) >= BATCH_SIZE check.
func flushIfFull[T any](logger *zap.Logger, db *gorm.DB, batchSize int, buf *[]T) {
	if len(*buf) >= batchSize {
		flush(logger, db, buf, batchSize)
	}
}

// flush performs one CreateInBatches insert of buf and clears it. Per
// §7, a flush failure must propagate via the recorder's logger at
// minimum; the buffer is still cleared afterward since the rows are
// already lost and re-appending them would only duplicate the next
// batch on retry.
func flush[T any](logger *zap.Logger, db *gorm.DB, buf *[]T, batchSize int) {
	if len(*buf) == 0 {
		return
	}
	if err := db.CreateInBatches(*buf, batchSize).Error; err != nil && logger != nil {
		logger.Error("recorder flush failed", zap.Int("rows", len(*buf)), zap.Error(err))
	}
	*buf = (*buf)[:0]
}
