package imaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"exifquarter/ledger/pkg/quota"
	"exifquarter/ledger/pkg/quota/abuse"
)

// ErrBlocked is returned when the abuse guard denies the request.
var ErrBlocked = errors.New("identity blocked by abuse guard")

// GeoTags holds the location written into an image's EXIF block.
type GeoTags struct {
	// Latitude in decimal degrees, south negative.
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees, west negative.
	Longitude float64 `json:"longitude"`

	// Altitude in meters above sea level. Optional.
	Altitude float64 `json:"altitude,omitempty"`
}

// Validate checks the tags are within WGS84 bounds.
func (g GeoTags) Validate() error {
	if g.Latitude < -90 || g.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", g.Latitude)
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", g.Longitude)
	}
	return nil
}

// Transcoder converts an image between formats.
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader, srcFormat, dstFormat string, dst io.Writer) error
}

// GeoTagWriter embeds location tags into an image.
type GeoTagWriter interface {
	WriteTags(ctx context.Context, src io.Reader, tags GeoTags, dst io.Writer) error
}

// CostTable maps operation types to their credit cost.
type CostTable map[quota.OperationType]int64

// DefaultCostTable returns the standard pricing: single-image operations
// cost one credit, a bulk archive download costs five.
func DefaultCostTable() CostTable {
	return CostTable{
		quota.OpConvert:      1,
		quota.OpGeotag:       1,
		quota.OpBulkDownload: 5,
	}
}

// Cost returns the credit cost for the operation, defaulting to 1 for
// unknown types.
func (t CostTable) Cost(op quota.OperationType) int64 {
	if cost, ok := t[op]; ok {
		return cost
	}
	return 1
}

// Request identifies the caller of a pipeline operation.
type Request struct {
	// Identity is the caller's identity key.
	Identity string

	// Registered selects the caller's baseline tier.
	Registered bool
}

// Config holds the collaborators and tunables for a Pipeline.
type Config struct {
	// Transcoder performs format conversion. Required for Convert.
	Transcoder Transcoder

	// GeoTagWriter embeds location tags. Required for Geotag.
	GeoTagWriter GeoTagWriter

	// Guard screens request volume before credits are touched.
	// Optional; nil disables abuse screening.
	Guard *abuse.Guard

	// Costs prices each operation. Defaults to DefaultCostTable.
	Costs CostTable

	// Logger receives pipeline events. Defaults to slog.Default.
	Logger *slog.Logger
}

// Pipeline gates image work behind the abuse guard and the credit
// ledger.
type Pipeline struct {
	ledger *quota.Ledger
	cfg    Config
}

// NewPipeline creates a pipeline over the given ledger.
func NewPipeline(ledger *quota.Ledger, cfg Config) *Pipeline {
	if cfg.Costs == nil {
		cfg.Costs = DefaultCostTable()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "imaging")

	return &Pipeline{ledger: ledger, cfg: cfg}
}

// Convert transcodes src into dstFormat, charging the caller one convert
// credit first. The returned balance reflects the deduction even when
// the transcoder subsequently fails.
func (p *Pipeline) Convert(ctx context.Context, req Request, src io.Reader, srcFormat, dstFormat string, dst io.Writer) (*quota.Balance, error) {
	if p.cfg.Transcoder == nil {
		return nil, fmt.Errorf("no transcoder configured")
	}

	balance, err := p.charge(ctx, req, quota.OpConvert)
	if err != nil {
		return balance, err
	}

	if err := p.cfg.Transcoder.Transcode(ctx, src, srcFormat, dstFormat, dst); err != nil {
		p.cfg.Logger.Error("conversion failed after deduction",
			"identity", req.Identity,
			"src_format", srcFormat,
			"dst_format", dstFormat,
			"error", err)
		return balance, fmt.Errorf("convert %s to %s: %w", srcFormat, dstFormat, err)
	}

	return balance, nil
}

// Geotag embeds tags into src, charging the caller one geotag credit
// first.
func (p *Pipeline) Geotag(ctx context.Context, req Request, src io.Reader, tags GeoTags, dst io.Writer) (*quota.Balance, error) {
	if p.cfg.GeoTagWriter == nil {
		return nil, fmt.Errorf("no geotag writer configured")
	}
	if err := tags.Validate(); err != nil {
		return nil, err
	}

	balance, err := p.charge(ctx, req, quota.OpGeotag)
	if err != nil {
		return balance, err
	}

	if err := p.cfg.GeoTagWriter.WriteTags(ctx, src, tags, dst); err != nil {
		p.cfg.Logger.Error("geotagging failed after deduction",
			"identity", req.Identity,
			"error", err)
		return balance, fmt.Errorf("write geotags: %w", err)
	}

	return balance, nil
}

// ChargeBulkDownload charges the caller for a bulk archive download. The
// archive itself is assembled by the caller, so this only spends the
// credits.
func (p *Pipeline) ChargeBulkDownload(ctx context.Context, req Request) (*quota.Balance, error) {
	return p.charge(ctx, req, quota.OpBulkDownload)
}

// Balance returns the caller's balance without charging anything.
func (p *Pipeline) Balance(ctx context.Context, req Request) (*quota.Balance, error) {
	return p.ledger.Balance(ctx, req.Identity, req.Registered)
}

func (p *Pipeline) charge(ctx context.Context, req Request, op quota.OperationType) (*quota.Balance, error) {
	if p.cfg.Guard != nil {
		if decision := p.cfg.Guard.CheckAndRecord(ctx, req.Identity); !decision.Allowed {
			return nil, fmt.Errorf("%w until %s", ErrBlocked, decision.Reset.Format("15:04:05"))
		}
	}
	return p.ledger.Deduct(ctx, req.Identity, req.Registered, p.cfg.Costs.Cost(op), op)
}
