package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// mockCatalog is the fixed element pool the mock draws synthetic materials
// from, shaped like a small warehouse model.
var mockCatalog = []ExtractedMaterial{
	{ElementType: "IFCBEAM", MaterialType: "Steel Beam", Description: "W310x52 Beam - Steel Beam", Unit: "kg", Quantity: decimal.NewFromInt(450)},
	{ElementType: "IFCBEAM", MaterialType: "Steel Beam", Description: "W460x74 Beam - Steel Beam", Unit: "kg", Quantity: decimal.NewFromInt(380)},
	{ElementType: "IFCCOLUMN", MaterialType: "Steel Column", Description: "HP250x62 Column - Steel Column", Unit: "kg", Quantity: decimal.NewFromInt(620)},
	{ElementType: "IFCWALL", MaterialType: "Precast Concrete Panel", Description: "Tilt-up Panel - Precast Concrete Panel", Unit: "m³", Quantity: decimal.RequireFromString("2.5")},
	{ElementType: "IFCSLAB", MaterialType: "Precast Concrete Slab", Description: "Floor Slab - Precast Concrete Slab", Unit: "m³", Quantity: decimal.RequireFromString("12.8")},
}

// Mock is the deterministic processing double. Zero value behaves like a
// fast successful run with no materials; the knobs select the scenario.
type Mock struct {
	// MaterialsCount synthetic entries are returned on success.
	MaterialsCount int
	// FailureMessage, when set, makes Process return a FAILED result.
	FailureMessage string
	// Delay is slept before producing the outcome.
	Delay time.Duration
	// Hang blocks until the context is cancelled, simulating a wedged parse.
	Hang bool
	// Invalid makes Validate report false.
	Invalid bool
}

// NewMock returns a mock with the common success-with-N-materials shape.
func NewMock(materials int, failureMessage string, delay time.Duration) *Mock {
	return &Mock{MaterialsCount: materials, FailureMessage: failureMessage, Delay: delay}
}

// Validate mirrors the real processor's cheap check.
func (m *Mock) Validate(ctx context.Context, locator string) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	return !m.Invalid, nil
}

// Process produces the configured outcome without touching storage.
func (m *Mock) Process(ctx context.Context, locator string, metadata map[string]string) (*Result, error) {
	start := time.Now()
	if m.Hang {
		<-ctx.Done()
		return &Result{
			Status:       StatusFailed,
			ErrorMessage: fmt.Sprintf("processing timed out after %s", time.Since(start).Round(time.Millisecond)),
			Elapsed:      time.Since(start),
		}, nil
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.FailureMessage != "" {
		return &Result{
			Status:       StatusFailed,
			ErrorMessage: m.FailureMessage,
			Elapsed:      time.Since(start),
		}, nil
	}
	materials := make([]ExtractedMaterial, m.MaterialsCount)
	for i := range materials {
		materials[i] = mockCatalog[i%len(mockCatalog)]
		materials[i].ElementID = fmt.Sprintf("mock-element-%03d", i+1)
	}
	return &Result{
		Status:         StatusCompleted,
		MaterialsCount: len(materials),
		Elapsed:        time.Since(start),
		Materials:      materials,
	}, nil
}

func (m *Mock) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
