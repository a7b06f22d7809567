package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"f1standings/notionsync/internal/models"
)

// Season is the calendar and roster data of one championship year
type Season struct {
	Year   string         `yaml:"season"`
	Rounds []models.Round `yaml:"rounds"`
	Seed   struct {
		Drivers      []string `yaml:"drivers"`
		Constructors []string `yaml:"constructors"`
	} `yaml:"seed"`
	Colors map[string]string `yaml:"colors"` // Entity name to chart colour
}

// SeedFor returns the seed roster for kind
func (s *Season) SeedFor(kind models.EntityKind) []string {
	if kind == models.Drivers {
		return s.Seed.Drivers
	}
	return s.Seed.Constructors
}

// RoundByNumber returns the round numbered n
func (s *Season) RoundByNumber(n int) (models.Round, bool) {
	if n < 1 || n > len(s.Rounds) {
		return models.Round{}, false
	}
	return s.Rounds[n-1], true
}

// LoadSeason reads a season calendar from a YAML file
func LoadSeason(path string) (*Season, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read season file: %w", err)
	}
	return ParseSeason(data)
}

// ParseSeason decodes and validates a season calendar
func ParseSeason(data []byte) (*Season, error) {
	var s Season
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse season file: %w", err)
	}
	if err := models.ValidateRounds(s.Rounds); err != nil {
		return nil, fmt.Errorf("invalid season calendar: %w", err)
	}
	if s.Colors == nil {
		s.Colors = make(map[string]string)
	}
	return &s, nil
}

// SeasonFromSchedule builds rounds from the API calendar, naming each round
// by the default calendar when it is the same season
func SeasonFromSchedule(year string, races []models.RaceInput) (*Season, error) {
	def := DefaultSeason()
	s := &Season{Year: year, Colors: def.Colors}
	s.Seed = def.Seed

	for i := range races {
		n, err := races[i].RoundNumber()
		if err != nil {
			return nil, err
		}
		name := ""
		if known, ok := def.RoundByNumber(n); ok && year == def.Year && len(races) == len(def.Rounds) {
			name = known.Name
		}
		round, err := races[i].ToRound(name)
		if err != nil {
			return nil, err
		}
		s.Rounds = append(s.Rounds, round)
	}

	if err := models.ValidateRounds(s.Rounds); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	return s, nil
}

// DefaultSeason is the built-in 2025 calendar
func DefaultSeason() *Season {
	names := []string{
		"Australia", "China", "Japan", "Bahrain", "Saudi Arabia", "Miami", "Emilia-Romagna", "Monaco",
		"Spain", "Canada", "Austria", "Great Britain", "Belgium", "Hungary", "Netherlands",
		"Italy", "Azerbaijan", "Singapore", "United States", "Mexico", "Brazil", "Las Vegas", "Qatar", "Abu Dhabi",
	}

	s := &Season{Year: "2025"}
	for i, name := range names {
		s.Rounds = append(s.Rounds, models.Round{Number: i + 1, Name: name})
	}

	s.Seed.Constructors = []string{
		"McLaren", "Red Bull", "Mercedes", "Williams", "Aston Martin",
		"Sauber", "Ferrari", "Alpine F1 Team", "RB F1 Team", "Haas F1 Team",
	}
	s.Seed.Drivers = []string{
		"Max Verstappen", "Yuki Tsunoda", "George Russell", "Andrea Kimi Antonelli",
		"Charles Leclerc", "Lewis Hamilton", "Lando Norris", "Oscar Piastri",
		"Fernando Alonso", "Lance Stroll", "Alexander Albon", "Carlos Sainz",
		"Pierre Gasly", "Jack Doohan", "Liam Lawson", "Isack Hadjar",
		"Esteban Ocon", "Oliver Bearman", "Nico Hülkenberg", "Gabriel Bortoleto",
	}

	s.Colors = map[string]string{
		"Max Verstappen":        "#0600EF",
		"Yuki Tsunoda":          "#0600EF",
		"George Russell":        "#00D2BE",
		"Andrea Kimi Antonelli": "#00D2BE",
		"Charles Leclerc":       "#DC0000",
		"Lewis Hamilton":        "#DC0000",
		"Lando Norris":          "#FF8700",
		"Oscar Piastri":         "#FF8700",
		"Fernando Alonso":       "#006F62",
		"Lance Stroll":          "#006F62",
		"Alexander Albon":       "#005AFF",
		"Carlos Sainz":          "#005AFF",
		"Pierre Gasly":          "#0090FF",
		"Jack Doohan":           "#0090FF",
		"Liam Lawson":           "#0131D1",
		"Isack Hadjar":          "#0131D1",
		"Esteban Ocon":          "#FFFFFF",
		"Oliver Bearman":        "#FFFFFF",
		"Nico Hülkenberg":       "#00E701",
		"Gabriel Bortoleto":     "#00E701",
		"Red Bull":              "#0600EF",
		"Mercedes":              "#00D2BE",
		"Ferrari":               "#DC0000",
		"McLaren":               "#FF8700",
		"Aston Martin":          "#006F62",
		"Williams":              "#005AFF",
		"Alpine F1 Team":        "#0090FF",
		"RB F1 Team":            "#0131D1",
		"Haas F1 Team":          "#FFFFFF",
		"Sauber":                "#00E701",
	}

	return s
}
