package plan

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"trafficwarden/internal/domain/entity"
)

// DefaultMaxRules is the directive ceiling applied when none is configured.
const DefaultMaxRules = 200

const directiveKeyword = "USED"

// directive grammar:
//
//	USED <bytes>[K|M|G] IN <seconds>[s|m|h|d] = LIMIT|LOG|JAIL|BLOCK [<cap>[k|m]]
//
// The cap suffix also accepts K and M.
var directiveRe = regexp.MustCompile(
	`^USED\s+([0-9]+)([KMG]?)\s+IN\s+([0-9]+)([smhd]?)\s*=\s*(LIMIT|LOG|JAIL|BLOCK)\s*(?:([0-9]+)([kKmM]?))?\s*$`,
)

var sizeMultipliers = map[string]int64{
	"":  1,
	"K": 1_000,
	"M": 1_000_000,
	"G": 1_000_000_000,
}

var timeMultipliers = map[string]int64{
	"":  1,
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 24 * 3600,
}

// ParseOptions controls directive parsing.
type ParseOptions struct {
	// Name labels diagnostics, usually the file path.
	Name string
	// MaxRules is the directive ceiling; zero means DefaultMaxRules.
	MaxRules int
	// Logger receives skipped-line warnings; nil means slog.Default().
	Logger *slog.Logger
}

// Parse reads directives from r.
//
// Blank and comment-only lines are ignored. Lines that are not USED
// directives are logged and skipped. A USED line that does not match the
// grammar, or that describes an invalid rule, is a *SyntaxError.
func Parse(r io.Reader, opts ParseOptions) ([]entity.RateRule, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRules := opts.MaxRules
	if maxRules <= 0 {
		maxRules = DefaultMaxRules
	}

	rules := make([]entity.RateRule, 0, 16)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if fields := strings.Fields(line); fields[0] != directiveKeyword {
			logger.Warn("unknown configuration directive, skipping",
				slog.String("file", opts.Name),
				slog.Int("line", lineno),
				slog.String("text", line))
			continue
		}

		rule, err := parseDirective(line)
		if err != nil {
			return nil, &SyntaxError{File: opts.Name, Line: lineno, Text: line, Err: err}
		}

		if len(rules) >= maxRules {
			return nil, fmt.Errorf("%w: at most %d directives are allowed", ErrTooManyRules, maxRules)
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, opts.Name, err)
	}

	return rules, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func parseDirective(line string) (entity.RateRule, error) {
	m := directiveRe.FindStringSubmatch(line)
	if m == nil {
		return entity.RateRule{}, fmt.Errorf("directive does not match grammar")
	}

	used, err := scaled(m[1], sizeMultipliers[m[2]])
	if err != nil {
		return entity.RateRule{}, fmt.Errorf("bytes: %w", err)
	}
	window, err := scaled(m[3], timeMultipliers[m[4]])
	if err != nil {
		return entity.RateRule{}, fmt.Errorf("window: %w", err)
	}
	action, err := entity.ParseActionKind(m[5])
	if err != nil {
		return entity.RateRule{}, err
	}

	rule := entity.RateRule{
		WindowSeconds:  int(window),
		ThresholdBytes: used,
		Action:         action,
	}
	if m[6] != "" {
		c, err := scaled(m[6], sizeMultipliers[strings.ToUpper(m[7])])
		if err != nil {
			return entity.RateRule{}, fmt.Errorf("rate: %w", err)
		}
		rule.CapBytesPerSec = int(c)
	}

	if err := rule.Validate(); err != nil {
		return entity.RateRule{}, err
	}
	return rule, nil
}

func scaled(digits string, multiplier int64) (int64, error) {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, err
	}
	if n > 0 && n > (1<<62)/multiplier {
		return 0, fmt.Errorf("%s overflows", digits)
	}
	return n * multiplier, nil
}
