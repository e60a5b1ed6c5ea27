package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"marketpulse/models"
)

// ParquetRecord is the flattened row layout archived for every market event.
// The union variants share one schema; fields that do not apply to the
// event's kind are written as zero.
type ParquetRecord struct {
	Feed      string  `parquet:"name=feed, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind      string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Size      float64 `parquet:"name=size, type=DOUBLE"`
	BidPrice  float64 `parquet:"name=bid_price, type=DOUBLE"`
	BidSize   float64 `parquet:"name=bid_size, type=DOUBLE"`
	AskPrice  float64 `parquet:"name=ask_price, type=DOUBLE"`
	AskSize   float64 `parquet:"name=ask_size, type=DOUBLE"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
}

// memoryFileWriter implements source.ParquetFile over an in-memory buffer so
// files are assembled without touching disk before upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Append-only writing never seeks backwards.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

func toParquetRecord(event models.MarketEvent) ParquetRecord {
	record := ParquetRecord{
		Feed:      event.Feed,
		Symbol:    event.Symbol,
		Kind:      string(event.Kind),
		Timestamp: event.Timestamp,
	}

	switch event.Kind {
	case models.KindTrade:
		record.Price = event.Trade.Price
		record.Size = event.Trade.Size
	case models.KindQuote:
		record.BidPrice = event.Quote.BidPrice
		record.BidSize = event.Quote.BidSize
		record.AskPrice = event.Quote.AskPrice
		record.AskSize = event.Quote.AskSize
	case models.KindAggregate:
		record.Open = event.Aggregate.Open
		record.High = event.Aggregate.High
		record.Low = event.Aggregate.Low
		record.Close = event.Aggregate.Close
		record.Volume = event.Aggregate.Volume
	}
	return record
}

// encodeParquet serializes a batch of events into one parquet file held in
// memory and returns its bytes.
func encodeParquet(entries []models.MarketEvent, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, entry := range entries {
		if err := pw.Write(toParquetRecord(entry)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
