package resize

import (
	"fmt"
	"strings"
)

// Strategy is one of the supported resize modes.
type Strategy int

const (
	OrSmaller Strategy = iota
	ShrinkOnly
	Stretch
	OrBigger
	Cover
	Exact
)

var strategyNames = map[Strategy]string{
	OrSmaller:  "or_smaller",
	ShrinkOnly: "shrink_only",
	Stretch:    "stretch",
	OrBigger:   "or_bigger",
	Cover:      "cover",
	Exact:      "exact",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy accepts the snake case name of a strategy. Dashes and
// letter case are ignored, so "Or-Smaller" parses as OrSmaller.
func ParseStrategy(name string) (Strategy, error) {
	normalized := strings.ReplaceAll(
		strings.ToLower(strings.TrimSpace(name)),
		"-",
		"_",
	)
	for s, n := range strategyNames {
		if n == normalized {
			return s, nil
		}
	}

	return 0, fmt.Errorf("unknown resize strategy %q", name)
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Strategies is an unordered set of strategies requested together.
// Exact is exclusive: when present, every other member is ignored.
type Strategies []Strategy

// ParseStrategies parses a comma separated list, e.g. "shrink_only,cover".
func ParseStrategies(list string) (Strategies, error) {
	var out Strategies
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseStrategy(part)
		if err != nil {
			return nil, err
		}
		out = out.With(s)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("empty resize strategy list")
	}
	return out, nil
}

func (ss Strategies) Has(s Strategy) bool {
	for _, member := range ss {
		if member == s {
			return true
		}
	}
	return false
}

// With returns the set extended by s. Duplicates are dropped.
func (ss Strategies) With(s Strategy) Strategies {
	if ss.Has(s) {
		return ss
	}
	out := make(Strategies, 0, len(ss)+1)
	out = append(out, ss...)
	return append(out, s)
}

// IsExact reports whether the padding path must be used.
func (ss Strategies) IsExact() bool {
	return ss.Has(Exact)
}

func (ss Strategies) String() string {
	names := make([]string, 0, len(ss))
	for _, s := range ss {
		names = append(names, s.String())
	}
	return strings.Join(names, ",")
}
