// Package signal turns behavioral evidence into risk scores: five
// weighted categories, social-need detection, trend tracking and an
// outreach recommendation.
//
// Keyword tables are data, not code. A default lexicon ships embedded;
// deployments can override it with a YAML file and edit it live, with
// changes picked up by the watcher. Swapping the keyword heuristic for
// a real classifier later only touches the lexicon provider.
package signal

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/haven-health/keepsake/internal/observability/logging"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

// Lexicon holds the keyword tables driving sentiment and need
// detection. All terms are matched lowercase; single words on word
// boundaries, phrases as substrings.
type Lexicon struct {
	Negative       []string            `yaml:"negative"`
	Positive       []string            `yaml:"positive"`
	Social         []string            `yaml:"social"`
	SystemNegative []string            `yaml:"system_negative"`
	SDOH           map[string][]string `yaml:"sdoh"`
}

func (l *Lexicon) validate() error {
	if len(l.Negative) == 0 || len(l.Positive) == 0 {
		return fmt.Errorf("lexicon must define negative and positive terms")
	}
	if len(l.Social) == 0 {
		return fmt.Errorf("lexicon must define social terms")
	}
	if len(l.SDOH) == 0 {
		return fmt.Errorf("lexicon must define sdoh categories")
	}
	for category, terms := range l.SDOH {
		if len(terms) == 0 {
			return fmt.Errorf("sdoh category %q has no terms", category)
		}
	}
	return nil
}

func (l *Lexicon) normalize() {
	l.Negative = lowerAll(l.Negative)
	l.Positive = lowerAll(l.Positive)
	l.Social = lowerAll(l.Social)
	l.SystemNegative = lowerAll(l.SystemNegative)
	for category, terms := range l.SDOH {
		l.SDOH[category] = lowerAll(terms)
	}
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	if err := lex.validate(); err != nil {
		return nil, err
	}
	lex.normalize()
	return &lex, nil
}

// DefaultLexicon returns the embedded keyword tables.
func DefaultLexicon() *Lexicon {
	lex, err := parseLexicon(defaultLexiconYAML)
	if err != nil {
		// The embedded file is validated by tests; reaching this means
		// a broken build.
		panic(fmt.Sprintf("embedded lexicon invalid: %v", err))
	}
	return lex
}

// LexiconProvider serves the current lexicon and supports atomic
// reloads from an override file.
type LexiconProvider struct {
	path string

	mu  sync.RWMutex
	lex *Lexicon
}

// NewLexiconProvider loads the lexicon. With an empty path only the
// embedded default is used; otherwise the file at path overrides it.
// A missing or invalid override file falls back to the default with a
// warning rather than failing startup.
func NewLexiconProvider(path string) *LexiconProvider {
	p := &LexiconProvider{path: path, lex: DefaultLexicon()}
	if path != "" {
		if err := p.Reload(); err != nil {
			logging.Warnf("Lexicon override %s not loaded, using embedded default: %v", path, err)
		}
	}
	return p
}

// Current returns the active lexicon. The returned value is shared and
// must not be mutated.
func (p *LexiconProvider) Current() *Lexicon {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lex
}

// Reload re-reads the override file and swaps it in atomically. The
// previous lexicon stays active on any error.
func (p *LexiconProvider) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read lexicon file: %w", err)
	}
	lex, err := parseLexicon(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.lex = lex
	p.mu.Unlock()
	logging.Infof("Lexicon reloaded from %s", p.path)
	return nil
}

// matcher indexes one moment's content for keyword lookups.
type matcher struct {
	lower string
	words map[string]struct{}
}

func newMatcher(content string) *matcher {
	lower := strings.ToLower(content)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, isWordBreak) {
		words[w] = struct{}{}
	}
	return &matcher{lower: lower, words: words}
}

// Apostrophes stay inside words so contractions like "can't" survive
// tokenization.
func isWordBreak(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
}

// hits counts how many distinct terms occur in the content. Phrases
// match as substrings, single words on word boundaries so short terms
// do not fire inside unrelated words.
func (m *matcher) hits(terms []string) int {
	n := 0
	for _, term := range terms {
		if strings.ContainsRune(term, ' ') {
			if strings.Contains(m.lower, term) {
				n++
			}
		} else if _, ok := m.words[term]; ok {
			n++
		}
	}
	return n
}
