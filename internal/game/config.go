package game

import "math"

const (
	DefaultWidth        = 800.0
	DefaultHeight       = 600.0
	DefaultPlayerRadius = 10.0
	DefaultEnemyRadius  = 10.0
	DefaultBulletRadius = 5.0
	DefaultEnemySpeed   = 200.0
	DefaultBulletSpeed  = 200.0
	DefaultEnemyCount   = 50

	// bodyMass is shared by every entity kind.
	bodyMass = 1.0
)

// Config holds the static arena rules for one engine.
type Config struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	PlayerRadius float64 `json:"playerRadius"`
	EnemyRadius  float64 `json:"enemyRadius"`
	BulletRadius float64 `json:"bulletRadius"`
	EnemySpeed   float64 `json:"enemySpeed"`
	BulletSpeed  float64 `json:"bulletSpeed"`
	EnemyCount   int     `json:"enemyCount"`
}

// DefaultConfig returns the stock 800x600 arena with fifty enemies.
func DefaultConfig() Config {
	return Config{
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		PlayerRadius: DefaultPlayerRadius,
		EnemyRadius:  DefaultEnemyRadius,
		BulletRadius: DefaultBulletRadius,
		EnemySpeed:   DefaultEnemySpeed,
		BulletSpeed:  DefaultBulletSpeed,
		EnemyCount:   DefaultEnemyCount,
	}
}

// Normalized replaces unusable values with defaults. A zero enemy count is
// allowed.
func (cfg Config) Normalized() Config {
	normalized := cfg
	if !positive(normalized.Width) {
		normalized.Width = DefaultWidth
	}
	if !positive(normalized.Height) {
		normalized.Height = DefaultHeight
	}
	if !positive(normalized.PlayerRadius) {
		normalized.PlayerRadius = DefaultPlayerRadius
	}
	if !positive(normalized.EnemyRadius) {
		normalized.EnemyRadius = DefaultEnemyRadius
	}
	if !positive(normalized.BulletRadius) {
		normalized.BulletRadius = DefaultBulletRadius
	}
	if normalized.EnemySpeed < 0 || math.IsNaN(normalized.EnemySpeed) {
		normalized.EnemySpeed = DefaultEnemySpeed
	}
	if normalized.BulletSpeed < 0 || math.IsNaN(normalized.BulletSpeed) {
		normalized.BulletSpeed = DefaultBulletSpeed
	}
	if normalized.EnemyCount < 0 {
		normalized.EnemyCount = 0
	}
	return normalized
}

// Bounds returns the arena rectangle centred on the origin.
func (cfg Config) Bounds() Bounds {
	halfW := cfg.Width / 2
	halfH := cfg.Height / 2
	return Bounds{MinX: -halfW, MaxX: halfW, MinY: -halfH, MaxY: halfH}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
