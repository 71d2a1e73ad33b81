package datafeed

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/catalog"
	"github.com/nilskujath/onesecondtrader/internal/events"
)

type recorder struct {
	events []any
}

func (r *recorder) Receive(event any) { r.events = append(r.events, event) }
func (r *recorder) WaitUntilIdle()    {}
func (r *recorder) Name() string      { return "recorder" }

// seedCatalog opens the named in-memory catalog database (migrating its
// schema) and seeds it with a single AAPL symbology mapping plus the given
// OHLCV rows, via a second connection to the same shared cache.
func seedCatalog(t *testing.T, dsn string, rows []catalog.OHLCVRow) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Open(dsn)
	if err != nil {
		t.Fatalf("open in-memory catalog: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open seeding connection: %v", err)
	}

	pub := catalog.Publisher{Name: "databento", Dataset: "XNAS.ITCH"}
	if err := db.Create(&pub).Error; err != nil {
		t.Fatalf("seed publisher: %v", err)
	}
	inst := catalog.Instrument{PublisherID: pub.PublisherID, SourceInstrumentID: "1"}
	if err := db.Create(&inst).Error; err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
	sym := catalog.Symbology{
		PublisherID: pub.PublisherID, Symbol: "AAPL", SymbolType: "raw_symbol",
		SourceInstrumentID: "1",
		StartDate:          time.Unix(0, 0), EndDate: time.Unix(0, 1<<40),
	}
	if err := db.Create(&sym).Error; err != nil {
		t.Fatalf("seed symbology: %v", err)
	}

	for i := range rows {
		rows[i].InstrumentID = inst.InstrumentID
	}
	if len(rows) > 0 {
		if err := db.Create(&rows).Error; err != nil {
			t.Fatalf("seed ohlcv rows: %v", err)
		}
	}
	return cat
}

func TestSubscribePublishesBarsInTsOrderAndBlocksOnIdle(t *testing.T) {
	rows := []catalog.OHLCVRow{
		{Rtype: events.BarPeriodDay.Rtype(), TsEvent: 2, Open: 20 * catalog.PriceScale, High: 20 * catalog.PriceScale, Low: 20 * catalog.PriceScale, Close: 20 * catalog.PriceScale},
		{Rtype: events.BarPeriodDay.Rtype(), TsEvent: 1, Open: 10 * catalog.PriceScale, High: 10 * catalog.PriceScale, Low: 10 * catalog.PriceScale, Close: 10 * catalog.PriceScale},
	}
	cat := seedCatalog(t, "file:datafeed1?mode=memory&cache=shared", rows)
	eventBus := bus.New(nil)
	rec := &recorder{}
	eventBus.SubscribeMany(rec, bus.TypeOf[events.BarReceived]())

	d := New(nil, eventBus, cat)
	if err := d.Subscribe([]string{"AAPL"}, events.BarPeriodDay); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	d.WaitUntilComplete()

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 bars published, got %d", len(rec.events))
	}
	first := rec.events[0].(events.BarReceived)
	second := rec.events[1].(events.BarReceived)
	if first.TsEventNs != 1 || second.TsEventNs != 2 {
		t.Fatalf("expected bars published in non-decreasing ts order, got %d then %d", first.TsEventNs, second.TsEventNs)
	}
}

func TestSubscribeTwiceReturnsError(t *testing.T) {
	cat := seedCatalog(t, "file:datafeed2?mode=memory&cache=shared", nil)
	eventBus := bus.New(nil)
	d := New(nil, eventBus, cat)

	if err := d.Subscribe([]string{"AAPL"}, events.BarPeriodDay); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	defer d.WaitUntilComplete()

	if err := d.Subscribe([]string{"AAPL"}, events.BarPeriodDay); err == nil {
		t.Fatal("expected an error subscribing a second time on the same instance")
	}
}

func TestSubscribeRequiresAtLeastOneSymbol(t *testing.T) {
	cat := seedCatalog(t, "file:datafeed3?mode=memory&cache=shared", nil)
	eventBus := bus.New(nil)
	d := New(nil, eventBus, cat)

	if err := d.Subscribe(nil, events.BarPeriodDay); err == nil {
		t.Fatal("expected an error when subscribing with no symbols")
	}
}

func TestDisconnectStopsStreamingBeforeExhaustion(t *testing.T) {
	var rows []catalog.OHLCVRow
	for i := int64(1); i <= 1000; i++ {
		rows = append(rows, catalog.OHLCVRow{
			Rtype: events.BarPeriodDay.Rtype(), TsEvent: i,
			Open: i * catalog.PriceScale, High: i * catalog.PriceScale,
			Low: i * catalog.PriceScale, Close: i * catalog.PriceScale,
		})
	}
	cat := seedCatalog(t, "file:datafeed4?mode=memory&cache=shared", rows)
	eventBus := bus.New(nil)
	rec := &recorder{}
	eventBus.SubscribeMany(rec, bus.TypeOf[events.BarReceived]())

	d := New(nil, eventBus, cat)
	if err := d.Subscribe([]string{"AAPL"}, events.BarPeriodDay); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	d.Disconnect()

	if len(rec.events) >= 1000 {
		t.Fatalf("expected Disconnect to stop the stream before all 1000 bars were published, got %d", len(rec.events))
	}
}
