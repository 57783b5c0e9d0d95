package reconcile

import (
	"fmt"
)

// Thresholds bound the discordance tiers. A deviation up to Minor is
// tolerated, up to Moderate is MODERATE, anything above is GRAVE.
type Thresholds struct {
	Minor    float64 `yaml:"minor" json:"minor"`
	Moderate float64 `yaml:"moderate" json:"moderate"`
}

// SynonymTable maps a canonical label to the spellings accepted for it.
type SynonymTable map[string][]string

// Config is the matching and classification configuration. The engine
// copies it at construction, later edits to the caller's value have no effect.
type Config struct {
	Thresholds Thresholds   `yaml:"thresholds" json:"thresholds"`
	Subjects   SynonymTable `yaml:"subjects" json:"subjects"`
	Levels     SynonymTable `yaml:"levels" json:"levels"`
	Ordinals   SynonymTable `yaml:"ordinals" json:"ordinals"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Minor: 0.5, Moderate: 1.0}
}

// DefaultConfig returns fresh tables on every call.
func DefaultConfig() Config {
	return Config{
		Thresholds: DefaultThresholds(),
		Subjects: SynonymTable{
			"francais":    {"français", "fran", "fr", "lettres"},
			"anglais":     {"ang", "angl", "english", "lv1", "lve1"},
			"maths":       {"mathématiques", "mathematiques", "math", "mathematique"},
			"histoire":    {"hist", "histoire-geo", "histoire-géo", "histoire-géographie", "hg"},
			"svt":         {"sciences", "biologie", "sciences-vie-terre", "sc-vie-terre"},
			"physique":    {"physique-chimie", "phys", "pc", "sciences-physiques"},
			"chimie":      {"physique-chimie", "chim", "pc"},
			"philosophie": {"philo", "phil"},
			"eps":         {"sport", "education-physique", "éducation-physique"},
			"espagnol":    {"esp", "lv2", "lve2"},
			"allemand":    {"all", "lv2", "lve2"},
		},
		Levels: SynonymTable{
			"2nde":      {"seconde", "2nd", "seconde générale"},
			"1ere":      {"1ère", "premiere", "première", "première générale"},
			"terminale": {"tle", "term", "terminale générale"},
		},
		Ordinals: SynonymTable{
			"1": {"premier", "première", "1er", "1st", "first"},
			"2": {"deuxième", "2ème", "second", "2e", "2nd"},
			"3": {"troisième", "3ème", "third", "3e", "3rd"},
		},
	}
}

func (c Config) Validate() error {
	t := c.Thresholds
	if t.Minor < 0 {
		return fmt.Errorf("minor threshold %.2f must not be negative", t.Minor)
	}
	if t.Moderate <= t.Minor {
		return fmt.Errorf("moderate threshold %.2f must exceed minor threshold %.2f", t.Moderate, t.Minor)
	}
	for base := range c.Ordinals {
		if _, ok := firstNumeral(base); !ok {
			return fmt.Errorf("ordinal base %q must contain a numeral", base)
		}
	}
	return nil
}
