package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaterialRecord is one extracted description/quantity/unit triple owned by a
// model file. Records for a processing run are inserted all-or-nothing.
type MaterialRecord struct {
	ID          uuid.UUID       `json:"id"`
	ModelFileID uuid.UUID       `json:"ifc_file_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	CreatedAt   time.Time       `json:"created_at"`
}
