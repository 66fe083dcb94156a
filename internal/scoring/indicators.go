package scoring

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Flag marks a notable property of a derived answer risk. Flags are surfaced
// to data-quality reporting; they never change the number after the fact.
type Flag string

const (
	FlagMappingMissing Flag = "mappingMissing"
	FlagEmpty          Flag = "empty"
	FlagHasControls    Flag = "has_controls"
	FlagHasEvidence    Flag = "has_evidence"
	FlagHasGaps        Flag = "has_gaps"
)

// Flags is a sorted, duplicate-free flag set.
type Flags []Flag

func newFlags(fs ...Flag) Flags {
	if len(fs) == 0 {
		return Flags{}
	}
	seen := make(map[Flag]bool, len(fs))
	out := make(Flags, 0, len(fs))
	for _, f := range fs {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether f is in the set.
func (fs Flags) Has(f Flag) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

// Indicator is one keyword family of the free-text heuristic. When any of
// Terms occurs in the answer, Delta is added to the baseline once and Flag
// is raised. Terms match case-insensitively at the start of a word, so
// "monitor" also matches "monitoring". Occurrences of a family with a
// negative Delta that follow a negation cue ("no logging") deny the
// safeguard: they count toward FlagHasGaps instead.
type Indicator struct {
	Name  string   `yaml:"name" json:"name"`
	Flag  Flag     `yaml:"flag" json:"flag"`
	Delta float64  `yaml:"delta" json:"delta"`
	Terms []string `yaml:"terms" json:"terms"`
}

// DefaultIndicators returns the stock control, evidence and gap families.
// Deployments are expected to tune the term lists through configuration.
func DefaultIndicators() []Indicator {
	return []Indicator{
		{
			Name:  "control",
			Flag:  FlagHasControls,
			Delta: -1,
			Terms: []string{
				"monitor", "logging", "logged", "audit", "oversight", "human review",
				"access control", "review board", "incident response", "encrypt",
			},
		},
		{
			Name:  "evidence",
			Flag:  FlagHasEvidence,
			Delta: -1,
			Terms: []string{
				"policy", "policies", "test report", "tested", "validation report",
				"documentation", "certified", "certification", "dpia", "model card", "datasheet",
			},
		},
		{
			Name:  "gap",
			Flag:  FlagHasGaps,
			Delta: 1,
			Terms: []string{
				"unknown", "missing", "not sure", "unsure", "unclear", "lack",
				"not implemented", "no safeguard", "don't know", "do not know", "tbd", "not yet",
			},
		},
	}
}

// DefaultNegations returns the stock cues that deny a safeguard when they
// appear shortly before a control or evidence term.
func DefaultNegations() []string {
	return []string{
		"no", "not", "never", "none", "without", "lack of", "lacks", "lacking",
		"absence of", "absent", "cannot", "don't", "doesn't", "haven't", "hasn't", "isn't", "aren't",
	}
}

// DefaultNegationWindow is how many words before a term are searched for a
// negation cue.
const DefaultNegationWindow = 5

// clauseBreak ends the reach of a negation cue.
var clauseBreak = regexp.MustCompile(`(?i)[.;:!?]|\b(?:but|however|although|though|whereas)\b`)

type compiledIndicator struct {
	Indicator
	re *regexp.Regexp
}

func compileTerms(terms []string) (*regexp.Regexp, error) {
	var alts []string
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term != "" {
			alts = append(alts, regexp.QuoteMeta(strings.ToLower(term)))
		}
	}
	if len(alts) == 0 {
		return nil, nil
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(alts, "|") + `)`)
}

func compileIndicators(indicators []Indicator) ([]compiledIndicator, error) {
	out := make([]compiledIndicator, 0, len(indicators))
	for _, ind := range indicators {
		if ind.Flag == "" {
			return nil, fmt.Errorf("indicator %q: flag required", ind.Name)
		}
		re, err := compileTerms(ind.Terms)
		if err != nil {
			return nil, fmt.Errorf("indicator %q: %w", ind.Name, err)
		}
		if re == nil {
			return nil, fmt.Errorf("indicator %q: at least one term required", ind.Name)
		}
		out = append(out, compiledIndicator{Indicator: ind, re: re})
	}
	return out, nil
}

func (c compiledIndicator) matches(text string) bool {
	return c.re.MatchString(text)
}

// negator decides whether a term occurrence is denied by a preceding cue.
// A nil negator denies nothing.
type negator struct {
	cues   *regexp.Regexp
	window int
}

func newNegator(cues []string, window int) (*negator, error) {
	if window < 0 {
		return nil, fmt.Errorf("negation_window %d must not be negative", window)
	}
	re, err := compileTerms(cues)
	if err != nil {
		return nil, fmt.Errorf("negations: %w", err)
	}
	if re == nil {
		return nil, nil
	}
	// Cues are whole words; "no" must not fire on "notes".
	re, err = regexp.Compile(re.String() + `\b`)
	if err != nil {
		return nil, fmt.Errorf("negations: %w", err)
	}
	if window == 0 {
		window = DefaultNegationWindow
	}
	return &negator{cues: re, window: window}, nil
}

// negated reports whether a cue sits within the window of words before
// start, inside the same clause.
func (n *negator) negated(text string, start int) bool {
	if n == nil {
		return false
	}
	before := text[:start]
	if breaks := clauseBreak.FindAllStringIndex(before, -1); len(breaks) > 0 {
		before = before[breaks[len(breaks)-1][1]:]
	}
	words := strings.Fields(before)
	if len(words) > n.window {
		words = words[len(words)-n.window:]
	}
	return n.cues.MatchString(strings.Join(words, " "))
}

// scan splits the occurrences of c's terms into affirmed and negated ones.
func (c compiledIndicator) scan(text string, n *negator) (affirmed, negated bool) {
	for _, loc := range c.re.FindAllStringIndex(text, -1) {
		if n.negated(text, loc[0]) {
			negated = true
		} else {
			affirmed = true
		}
	}
	return affirmed, negated
}
