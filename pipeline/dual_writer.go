package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/partscout/partscout/models"
)

// DualWriter fans listings out to CSV and JSON simultaneously.
type DualWriter struct {
	csv  *CSVWriter
	json *JSONWriter
}

// NewDualWriter derives sibling .csv and .json paths from the base filename.
func NewDualWriter(baseFilename string) (*DualWriter, error) {
	base := strings.TrimSuffix(baseFilename, ".csv")
	base = strings.TrimSuffix(base, ".json")

	csvWriter, err := NewCSVWriter(base + ".csv")
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(base + ".json")
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{csv: csvWriter, json: jsonWriter}, nil
}

// Write sends the batch to both outputs.
func (dw *DualWriter) Write(listings []*models.MarketplaceListing) error {
	if err := dw.csv.Write(listings); err != nil {
		return err
	}
	return dw.json.Write(listings)
}

// Close closes both outputs, returning the first failure.
func (dw *DualWriter) Close() error {
	return errors.Join(dw.csv.Close(), dw.json.Close())
}

// NewWriter selects an output writer by format name.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "csv":
		return NewCSVWriter(filename)
	case "json":
		return NewJSONWriter(filename)
	case "dual":
		return NewDualWriter(filename)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
