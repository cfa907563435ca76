package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"takeoff-backend/internal/ifc"
	"takeoff-backend/internal/storage"
)

// elementClasses maps structural element families to their material type and
// fallback quantity. The fallbacks are nominal estimates for models that ship
// without quantity sets; zero-quantity records would be useless downstream.
var elementClasses = []struct {
	types        []string
	materialType string
	defaultQty   float64
	defaultUnit  string
}{
	{[]string{"IFCBEAM"}, "Steel Beam", 100, "kg"},
	{[]string{"IFCCOLUMN"}, "Steel Column", 100, "kg"},
	{[]string{"IFCWALL", "IFCWALLSTANDARDCASE"}, "Precast Concrete Panel", 1.0, "m³"},
	{[]string{"IFCSLAB"}, "Precast Concrete Slab", 1.0, "m³"},
	{[]string{"IFCMEMBER", "IFCPLATE", "IFCBUILDINGELEMENTPROXY"}, "Product", 1.0, "item"},
}

// IFCProcessorConfig bounds each phase of a run independently. The innermost
// deadline always wins because every phase derives its own context.
type IFCProcessorConfig struct {
	DownloadTimeout time.Duration
	ValidateTimeout time.Duration
	ExtractTimeout  time.Duration
	ParsePool       int
}

func (c IFCProcessorConfig) withDefaults() IFCProcessorConfig {
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 60 * time.Second
	}
	if c.ValidateTimeout <= 0 {
		c.ValidateTimeout = 30 * time.Second
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 5 * time.Minute
	}
	if c.ParsePool <= 0 {
		c.ParsePool = 2
	}
	return c
}

// IFCProcessor downloads stored models to a temp file and extracts material
// quantities with the STEP reader. Parsing is CPU and memory heavy, so the
// parse phases acquire a weighted semaphore before touching the file; the
// pool stays small on purpose.
type IFCProcessor struct {
	store storage.Downloader
	cfg   IFCProcessorConfig
	sem   *semaphore.Weighted
}

// NewIFCProcessor builds the real processor over a storage backend that can
// hand bytes back.
func NewIFCProcessor(store storage.Downloader, cfg IFCProcessorConfig) *IFCProcessor {
	cfg = cfg.withDefaults()
	return &IFCProcessor{
		store: store,
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(cfg.ParsePool)),
	}
}

// Validate downloads the file and checks it parses as a supported model.
// Returns (false, nil) for content that is simply not a model; errors are
// reserved for storage faults.
func (p *IFCProcessor) Validate(ctx context.Context, locator string) (bool, error) {
	tmp, err := p.download(ctx, locator)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp)

	ok, err := p.validateFile(ctx, tmp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, fmt.Errorf("validation: %w", ErrTimeout)
		}
		return false, err
	}
	return ok, nil
}

// Process runs the full download/validate/extract sequence. The temp file is
// removed on every path, including timeouts.
func (p *IFCProcessor) Process(ctx context.Context, locator string, metadata map[string]string) (*Result, error) {
	start := time.Now()
	slog.Info("processing model file", "locator", locator)

	tmp, err := p.download(ctx, locator)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return p.failed(start, "download timed out"), nil
		}
		return nil, fmt.Errorf("download %s: %w", locator, err)
	}
	defer os.Remove(tmp)

	ok, err := p.validateFile(ctx, tmp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return p.failed(start, "validation timed out"), nil
		}
		return nil, err
	}
	if !ok {
		return p.failed(start, ErrInvalidFormat.Error()), nil
	}

	materials, err := p.extract(ctx, tmp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return p.failed(start, fmt.Sprintf("extraction timed out after %s", time.Since(start).Round(time.Millisecond))), nil
		}
		return p.failed(start, err.Error()), nil
	}

	elapsed := time.Since(start)
	slog.Info("model processed", "locator", locator, "materials", len(materials), "elapsed", elapsed)
	return &Result{
		Status:         StatusCompleted,
		MaterialsCount: len(materials),
		Elapsed:        elapsed,
		Materials:      materials,
	}, nil
}

func (p *IFCProcessor) failed(start time.Time, msg string) *Result {
	return &Result{
		Status:       StatusFailed,
		ErrorMessage: msg,
		Elapsed:      time.Since(start),
	}
}

// download copies the object to a temp file under its own deadline.
func (p *IFCProcessor) download(ctx context.Context, locator string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()

	rc, err := p.store.Download(ctx, resolveKey(locator))
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "takeoff-*.ifc")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("copy object to temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// validateFile parses the header and checks for a supported schema and an
// IfcProject root, off the calling goroutine and under its own deadline.
func (p *IFCProcessor) validateFile(ctx context.Context, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ValidateTimeout)
	defer cancel()

	ok, err := runParse(ctx, p.sem, func() (bool, error) {
		f, err := parsePath(path)
		if err != nil {
			slog.Warn("model validation failed", "path", path, "error", err)
			return false, nil
		}
		if !f.SupportedSchema() {
			slog.Warn("unsupported model schema", "schema", f.Schema)
			return false, nil
		}
		return len(f.ByType("IFCPROJECT")) > 0, nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// extract walks the structural element families and derives one material
// entry per element.
func (p *IFCProcessor) extract(ctx context.Context, path string) ([]ExtractedMaterial, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	defer cancel()

	return runParse(ctx, p.sem, func() ([]ExtractedMaterial, error) {
		f, err := parsePath(path)
		if err != nil {
			return nil, fmt.Errorf("parse model: %w", err)
		}
		var materials []ExtractedMaterial
		for _, class := range elementClasses {
			for _, typ := range class.types {
				for _, el := range f.ByType(typ) {
					materials = append(materials, extractElement(f, el, class.materialType, class.defaultQty, class.defaultUnit))
				}
			}
		}
		return materials, nil
	})
}

func extractElement(f *ifc.File, el *ifc.Entity, materialType string, defaultQty float64, defaultUnit string) ExtractedMaterial {
	elementID, ok := el.Str(0)
	if !ok {
		elementID = fmt.Sprintf("#%d", el.ID)
	}
	name, ok := el.Str(2)
	if !ok {
		name = el.Type
	}
	quantity, unit := defaultQty, defaultUnit
	if q, ok := f.ElementQuantity(el); ok && q.Value > 0 {
		quantity, unit = q.Value, q.Unit
	}
	return ExtractedMaterial{
		ElementID:    elementID,
		ElementType:  el.Type,
		MaterialType: materialType,
		Description:  fmt.Sprintf("%s - %s", name, materialType),
		Quantity:     decimal.NewFromFloat(quantity),
		Unit:         unit,
	}
}

// runParse acquires a parse permit and runs fn on its own goroutine so a
// hung parse cannot wedge the caller past the phase deadline. The permit is
// held until fn actually returns, not until the caller gives up: the pool
// bounds concurrent parses including abandoned ones, so a parse that never
// finishes consumes a permit for good.
func runParse[T any](ctx context.Context, sem *semaphore.Weighted, fn func() (T, error)) (T, error) {
	var zero T
	if err := sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer sem.Release(1)
		v, err := fn()
		done <- outcome{v, err}
	}()
	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func parsePath(path string) (*ifc.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	defer f.Close()
	return ifc.Parse(f)
}

// resolveKey recovers the storage key from any locator shape a backend hands
// out: s3://bucket/key, a base-URL link from local storage, or a bare key.
func resolveKey(locator string) string {
	switch {
	case strings.HasPrefix(locator, "s3://"):
		rest := strings.TrimPrefix(locator, "s3://")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return rest[i+1:]
		}
		return rest
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		u, err := url.Parse(locator)
		if err != nil {
			return locator
		}
		path := strings.TrimPrefix(u.Path, "/")
		// Keys are generated under ifc-files/; anything before that is the
		// static mount prefix of the serving base URL.
		if i := strings.Index(path, "ifc-files/"); i >= 0 {
			return path[i:]
		}
		return path
	default:
		return locator
	}
}
