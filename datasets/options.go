package datasets

import "go.uber.org/zap"

// IndexMode controls how the per-redshift flat index handed to Stack is
// treated when it falls outside [0, SamplesPerRedshift()).
type IndexMode int

const (
	// IndexWrap reduces the index modulo the per-redshift sample count, so
	// per-redshift indexing is cyclic. This matches the legacy behavior.
	IndexWrap IndexMode = iota
	// IndexStrict rejects out-of-range per-redshift indices with
	// ErrIndexRange.
	IndexStrict
)

// Option configures dataset construction.
type Option func(*config)

type config struct {
	rootPath         string
	redshifts        []float64
	inputField       string
	labelFields      []string
	nTile            int
	boxSize          float64
	transform        TransformFunc
	inverseTransform TransformFunc
	nFeaturePerField int
	indexMode        IndexMode
	log              *zap.Logger
}

func defaultConfig() *config {
	return &config{
		inputField:       "dm",
		nTile:            4,
		boxSize:          400,
		transform:        Identity,
		inverseTransform: Identity,
		nFeaturePerField: 1,
		indexMode:        IndexWrap,
		log:              zap.NewNop(),
	}
}

// WithRootPath resolves the stack file names in the records relative to path.
func WithRootPath(path string) Option {
	return func(c *config) { c.rootPath = path }
}

// WithRedshifts restricts the dataset to the given redshifts. Every requested
// redshift must be present in the records or construction fails.
func WithRedshifts(zs ...float64) Option {
	return func(c *config) { c.redshifts = zs }
}

// WithInputField names the field served as the input sample. Default "dm".
func WithInputField(field string) Option {
	return func(c *config) { c.inputField = field }
}

// WithLabelFields restricts the label fields. Every requested field must be
// present in the records or construction fails. Without this option all
// available fields except the input field become labels.
func WithLabelFields(fields ...string) Option {
	return func(c *config) { c.labelFields = fields }
}

// WithTileCount sets the number of tiles per stack axis (default 4). The grid
// side length must divide evenly by it.
func WithTileCount(n int) Option {
	return func(c *config) { c.nTile = n }
}

// WithBoxSize sets the physical box size L (default 400 Mpc/h).
func WithBoxSize(l float64) Option {
	return func(c *config) { c.boxSize = l }
}

// WithTransform sets the forward per-sample transform (default Identity).
func WithTransform(fn TransformFunc) Option {
	return func(c *config) { c.transform = fn }
}

// WithInverseTransform sets the inverse per-sample transform (default
// Identity).
func WithInverseTransform(fn TransformFunc) Option {
	return func(c *config) { c.inverseTransform = fn }
}

// WithFeatureChannels sets the number of feature channels per field (default
// 1). Carried as metadata for consumers assembling multi-channel models.
func WithFeatureChannels(n int) Option {
	return func(c *config) { c.nFeaturePerField = n }
}

// WithIndexMode selects wrapping or strict per-redshift index handling
// (default IndexWrap).
func WithIndexMode(m IndexMode) Option {
	return func(c *config) { c.indexMode = m }
}

// WithLogger sets the construction and access logger (default a nop logger).
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}
