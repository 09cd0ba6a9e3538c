package saver

import (
	"strings"
)

// Codec reads and writes one file of bar rows. Save replaces the file.
type Codec interface {
	Save(rows []Row, path string) error
	Load(path string) ([]Row, error)
	Extension() string
}

// NewCodec creates implementation by format (csv, parquet, json).
// Returns nil if format not supported.
func NewCodec(format string) Codec {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVCodec{}
	case "parquet":
		return ParquetCodec{}
	case "json":
		return JSONCodec{}
	default:
		return nil
	}
}
