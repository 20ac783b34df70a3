// Package achievement maintains the tiered achievement ledger derived from the match history.
package achievement

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/pable/racquet-metrics/internal/model"
)

// ErrInvalidCatalog is returned when a catalog breaks the tier ordering rules.
var ErrInvalidCatalog = errors.New("invalid achievement catalog")

// Catalog is a versioned set of achievement definitions. It is immutable once loaded.
type Catalog struct {
	Version      string                        `toml:"version"`
	Achievements []model.AchievementDefinition `toml:"achievement"`
}

// Supplier returns the catalog in effect.
type Supplier interface {
	Catalog() (Catalog, error)
}

// Lookup finds a definition by type.
func (c Catalog) Lookup(typ string) (model.AchievementDefinition, bool) {
	for _, d := range c.Achievements {
		if d.Type == typ {
			return d, true
		}
	}
	return model.AchievementDefinition{}, false
}

// Validate checks that types are unique and that every definition has tiers with strictly
// increasing levels and thresholds.
func (c Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Achievements))
	for _, d := range c.Achievements {
		if d.Type == "" {
			return fmt.Errorf("%w: definition without type", ErrInvalidCatalog)
		}
		if seen[d.Type] {
			return fmt.Errorf("%w: duplicate type %q", ErrInvalidCatalog, d.Type)
		}
		seen[d.Type] = true
		if !knownMetric(d.Metric) {
			return fmt.Errorf("%w: %s: unknown metric %q", ErrInvalidCatalog, d.Type, d.Metric)
		}
		if len(d.Tiers) == 0 {
			return fmt.Errorf("%w: %s: no tiers", ErrInvalidCatalog, d.Type)
		}
		for i := 1; i < len(d.Tiers); i++ {
			prev, cur := d.Tiers[i-1], d.Tiers[i]
			if cur.Threshold <= prev.Threshold {
				return fmt.Errorf("%w: %s: tier %d threshold %g not above %g", ErrInvalidCatalog, d.Type, cur.Level, cur.Threshold, prev.Threshold)
			}
			if cur.Level <= prev.Level {
				return fmt.Errorf("%w: %s: tier levels not increasing", ErrInvalidCatalog, d.Type)
			}
		}
		if d.Tiers[0].Level < 1 {
			return fmt.Errorf("%w: %s: tier levels start at 1", ErrInvalidCatalog, d.Type)
		}
	}
	return nil
}

// LoadCatalog reads and validates a TOML catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// FileSupplier loads the catalog from a TOML file on first use and then serves it.
type FileSupplier struct {
	Path string

	once sync.Once
	cat  Catalog
	err  error
}

func (s *FileSupplier) Catalog() (Catalog, error) {
	s.once.Do(func() { s.cat, s.err = LoadCatalog(s.Path) })
	return s.cat, s.err
}

// StaticSupplier serves a fixed catalog.
type StaticSupplier Catalog

func (s StaticSupplier) Catalog() (Catalog, error) { return Catalog(s), nil }

// ---- Builtin catalog ----

var tierNames = [...]string{"Bronze", "Silver", "Gold", "Platinum"}
var tierPoints = [...]int{10, 25, 50, 100}

func tiers(unit string, thresholds ...float64) []model.Tier {
	out := make([]model.Tier, len(thresholds))
	for i, th := range thresholds {
		out[i] = model.Tier{
			Level:       i + 1,
			Name:        tierNames[i],
			Threshold:   th,
			Points:      tierPoints[i],
			Description: fmt.Sprintf("%g %s", th, unit),
		}
	}
	return out
}

// BuiltinVersion tags the catalog compiled into the binary.
const BuiltinVersion = "builtin/1"

// Builtin returns the default catalog.
func Builtin() Catalog {
	return Catalog{
		Version: BuiltinVersion,
		Achievements: []model.AchievementDefinition{
			{Type: "regular", Name: "Regular", Description: "Matches played", Category: "volume",
				Metric: model.MetricMatchesPlayed, Tiers: tiers("matches", 10, 50, 100, 250)},
			{Type: "winner", Name: "Winner", Description: "Matches won", Category: "results",
				Metric: model.MetricWins, Tiers: tiers("wins", 5, 10, 25, 100)},
			{Type: "hot_streak", Name: "Hot Streak", Description: "Longest run of consecutive wins", Category: "results",
				Metric: model.MetricWinStreak, Tiers: tiers("wins in a row", 3, 5, 10, 15)},
			{Type: "consistent", Name: "Consistent", Description: "Win rate over all decided matches", Category: "results",
				Metric: model.MetricWinRate, MinMatches: 10, Tiers: tiers("% wins", 50, 60, 70, 80)},
			{Type: "comeback_kid", Name: "Comeback Kid", Description: "Wins after trailing by 5 or more", Category: "drama",
				Metric: model.MetricComebackWins, Tiers: tiers("comeback wins", 1, 5, 10, 25)},
			{Type: "marathon", Name: "Marathon", Description: "Minutes on court", Category: "volume",
				Metric: model.MetricMinutesPlayed, Tiers: tiers("minutes", 300, 1500, 6000, 15000)},
			{Type: "ace_machine", Name: "Ace Machine", Description: "Points won directly off serve", Category: "skill",
				Metric: model.MetricAces, Tiers: tiers("aces", 10, 50, 200, 500)},
			{Type: "on_a_roll", Name: "On a Roll", Description: "Longest run of consecutive points in a match", Category: "skill",
				Metric: model.MetricLongestRun, Tiers: tiers("points in a row", 5, 8, 11, 15)},
			{Type: "all_rounder", Name: "All-Rounder", Description: "Different sports played", Category: "variety",
				Metric: model.MetricSportsPlayed, Tiers: tiers("sports", 2, 3, 4, 6)},
			{Type: "burner", Name: "Burner", Description: "Calories burned", Category: "fitness",
				Metric: model.MetricCalories, Tiers: tiers("kcal", 2000, 10000, 50000, 100000)},
			{Type: "dink_master", Name: "Dink Master", Description: "Pickleball matches played", Category: "volume",
				Metric: model.MetricMatchesPlayed, Sport: model.SportPickleball, Tiers: tiers("pickleball matches", 5, 25, 100, 250)},
		},
	}
}

// BuiltinSupplier serves Builtin().
type BuiltinSupplier struct{}

func (BuiltinSupplier) Catalog() (Catalog, error) { return Builtin(), nil }
