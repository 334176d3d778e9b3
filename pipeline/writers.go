package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/partscout/partscout/models"
	"github.com/shopspring/decimal"
)

// CSVWriter writes listing snapshots to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{
		"platform", "external_id", "title", "price", "currency", "original_price",
		"discount_percentage", "availability", "seller_name", "seller_rating",
		"shipping_cost", "free_shipping", "rating_average", "review_count",
		"source_url", "scraped_at",
	}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends listings to the CSV output.
func (cw *CSVWriter) Write(listings []*models.MarketplaceListing) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, listing := range listings {
		record := []string{
			string(listing.Platform),
			listing.ExternalID,
			listing.Title,
			decimalString(listing.Price),
			listing.Currency,
			decimalString(listing.OriginalPrice),
			decimalString(listing.DiscountPercentage),
			string(listing.Availability),
			listing.SellerName,
			decimalString(listing.SellerRating),
			decimalString(listing.ShippingCost),
			strconv.FormatBool(listing.FreeShipping),
			decimalString(listing.RatingAverage),
			strconv.Itoa(listing.ReviewCount),
			listing.SourceURL,
			listing.ScrapedAt.Format(time.RFC3339),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return cw.file.Close()
}

// JSONWriter writes listing snapshots as a JSON array.
type JSONWriter struct {
	file    *os.File
	buffer  *bufio.Writer
	encoder *json.Encoder
	first   bool
	mu      sync.Mutex
}

// NewJSONWriter initialises a JSON writer and opens the array.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	if _, err := buffer.WriteString("[\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("open json array: %w", err)
	}

	return &JSONWriter{
		file:    f,
		buffer:  buffer,
		encoder: json.NewEncoder(buffer),
		first:   true,
	}, nil
}

// Write appends listings to the JSON output.
func (jw *JSONWriter) Write(listings []*models.MarketplaceListing) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, listing := range listings {
		if !jw.first {
			if _, err := jw.buffer.WriteString(",\n"); err != nil {
				return fmt.Errorf("write json separator: %w", err)
			}
		}
		jw.first = false
		data, err := json.Marshal(listing)
		if err != nil {
			return fmt.Errorf("marshal listing: %w", err)
		}
		if _, err := jw.buffer.Write(data); err != nil {
			return fmt.Errorf("write json record: %w", err)
		}
	}
	return nil
}

// Close terminates the array and closes the file handle.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if _, err := jw.buffer.WriteString("\n]\n"); err != nil {
		jw.file.Close()
		return fmt.Errorf("close json array: %w", err)
	}
	if err := jw.buffer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json: %w", err)
	}
	return jw.file.Close()
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
