// Package catalog provides read-only access to the historical bar archive
// the simulated datafeed replays from: publishers, instruments, their
// time-bounded symbol mappings, and scaled OHLCV rows, all backed by a
// SQLite database opened through GORM.
package catalog

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PriceScale is the integer scaling factor catalog prices are stored at;
// the datafeed divides by this before publishing a bar as floats.
const PriceScale = 1_000_000_000

// Publisher identifies a data source/venue pair.
type Publisher struct {
	PublisherID uint `gorm:"primaryKey"`
	Name        string
	Dataset     string
	Venue       *string
}

// Instrument is a vendor-assigned tradable instrument, optionally carrying
// a human symbol. Neither this package nor GORM checks that Symbol or
// SourceInstrumentID is set.
type Instrument struct {
	InstrumentID       uint `gorm:"primaryKey"`
	PublisherID        uint
	SourceInstrumentID string
	Symbol             *string
	SymbolType         *string
}

// Symbology is a time-bounded symbol-to-instrument mapping: the same
// ticker can refer to different instruments across its validity window
// (contract rolls, relisted symbols).
type Symbology struct {
	PublisherID        uint `gorm:"primaryKey"`
	Symbol             string `gorm:"primaryKey"`
	SymbolType         string
	SourceInstrumentID string
	StartDate          time.Time
	EndDate            time.Time
}

// OHLCVRow is one bar, keyed by instrument and vendor rtype. Prices are
// integers scaled by PriceScale; Volume is nullable.
type OHLCVRow struct {
	InstrumentID uint  `gorm:"primaryKey"`
	Rtype        int32 `gorm:"primaryKey"`
	TsEvent      int64 `gorm:"primaryKey"`
	Open         int64
	High         int64
	Low          int64
	Close        int64
	Volume       *int64
}

func (OHLCVRow) TableName() string { return "ohlcv" }

// Catalog wraps a GORM connection to the SQLite-backed catalog database.
type Catalog struct {
	db *gorm.DB
}

// Open opens the SQLite database at path, migrates the catalog schema if
// needed, and returns a ready-to-query Catalog.
func Open(path string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open catalog database %q: %w", path, err)
	}
	if err := db.AutoMigrate(&Publisher{}, &Instrument{}, &Symbology{}, &OHLCVRow{}); err != nil {
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Bar is one scaled-down OHLCV row joined back to its symbol, ready to be
// published as a BarReceived.
type Bar struct {
	Symbol  string
	Rtype   int32
	TsEvent int64
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Volume  *int64
}

// BarRows streams, in non-decreasing ts_event order, every OHLCV row whose
// instrument maps to one of symbols via any symbology entry, for the given
// rtype; the entry's StartDate and EndDate are not checked against the
// bar's ts_event. fn is invoked once per row via a GORM row
// iterator so the full result set is never materialized in memory,
// mirroring the chunked-read style the datafeed replaces.
func (c *Catalog) BarRows(symbols []string, rtype int32, fn func(Bar) error) error {
	type joined struct {
		Symbol  string
		Rtype   int32
		TsEvent int64
		Open    int64
		High    int64
		Low     int64
		Close   int64
		Volume  *int64
	}

	query := c.db.Table("ohlcv").
		Select("symbology.symbol AS symbol, ohlcv.rtype, ohlcv.ts_event, ohlcv.open, ohlcv.high, ohlcv.low, ohlcv.close, ohlcv.volume").
		Joins("JOIN instruments ON instruments.instrument_id = ohlcv.instrument_id").
		Joins("JOIN symbology ON symbology.publisher_id = instruments.publisher_id AND symbology.source_instrument_id = instruments.source_instrument_id").
		Where("symbology.symbol IN ?", symbols).
		Where("ohlcv.rtype = ?", rtype).
		Order("ohlcv.ts_event ASC")

	rows, err := query.Rows()
	if err != nil {
		return fmt.Errorf("query ohlcv rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var j joined
		if err := c.db.ScanRows(rows, &j); err != nil {
			return fmt.Errorf("scan ohlcv row: %w", err)
		}
		bar := Bar{
			Symbol:  j.Symbol,
			Rtype:   j.Rtype,
			TsEvent: j.TsEvent,
			Open:    float64(j.Open) / PriceScale,
			High:    float64(j.High) / PriceScale,
			Low:     float64(j.Low) / PriceScale,
			Close:   float64(j.Close) / PriceScale,
			Volume:  j.Volume,
		}
		if err := fn(bar); err != nil {
			return err
		}
	}
	return rows.Err()
}
