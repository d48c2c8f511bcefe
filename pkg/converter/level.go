package converter

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Level selects how aggressively the runtime rewrites the graph before it is
// serialized.
type Level int

const (
	LevelDisable Level = iota
	LevelBasic
	LevelExtended
	LevelAll
)

var levelNames = [...]string{
	LevelDisable:  "disable",
	LevelBasic:    "basic",
	LevelExtended: "extended",
	LevelAll:      "all",
}

// ErrUnknownLevel is returned by ParseLevel for names outside the four tiers.
var ErrUnknownLevel = errors.New("unknown optimization level")

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
	return levelNames[l]
}

// ParseLevel accepts the short tier names ("basic") as well as the runtime's
// enum spellings ("ORT_ENABLE_BASIC", "enable_basic", "disable_all").
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "ort_")
	name = strings.TrimPrefix(name, "enable_")
	if name == "disable_all" {
		name = "disable"
	}
	for l, n := range levelNames {
		if n == name {
			return Level(l), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownLevel, "%q (want disable, basic, extended or all)", s)
}

// Set implements pflag.Value.
func (l *Level) Set(s string) error {
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Type implements pflag.Value.
func (l *Level) Type() string { return "level" }
