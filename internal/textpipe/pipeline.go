// Package textpipe defines the one analysis pipeline shared by indexing and querying.
//
// Raw text flows through: substitutions (hyphen to space), unicode tokenization,
// dropping tokens longer than MaxTokenLength runes, lowercasing, stopword removal
// and language stemming. The pipeline is registered on the index mapping under
// AnalyzerName and every text field and every text query refers to it by that name.
package textpipe

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	regexpchar "github.com/blevesearch/bleve/v2/analysis/char/regexp"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/ru"
	"github.com/blevesearch/bleve/v2/analysis/token/length"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/analysis/tokenmap"
	"github.com/blevesearch/bleve/v2/mapping"
)

// AnalyzerName is the registered name of the text analyzer.
const AnalyzerName = "tsearch_text"

const (
	lengthFilterName = "tsearch_length"
	stopMapName      = "tsearch_stopwords"
	stopFilterName   = "tsearch_stop"
	charFilterPrefix = "tsearch_subst_"
)

// DefaultMaxTokenLength is the longest token (in runes) kept by the pipeline.
const DefaultMaxTokenLength = 40

// ErrUnsupportedLanguage is returned for a language with no stemmer wired in.
var ErrUnsupportedLanguage = errors.New("unsupported analysis language")

// Config holds the analysis configuration.
type Config struct {
	Language         string            `yaml:"language"`
	MaxTokenLength   int               `yaml:"max_token_length"`
	DisableStopwords bool              `yaml:"disable_stopwords"`
	Substitutions    map[string]string `yaml:"substitutions"`
}

// DefaultConfig returns the Russian pipeline with the hyphen substitution.
func DefaultConfig() Config {
	return Config{
		Language:       "ru",
		MaxTokenLength: DefaultMaxTokenLength,
		Substitutions:  map[string]string{"-": " "},
	}
}

type language struct {
	stemmer string
	// stopFilter names a ready-made stop filter; when empty, stopwords are
	// registered from the inline list.
	stopFilter string
	stopwords  []string
}

var languages = map[string]language{
	"ru": {stemmer: ru.SnowballStemmerName, stopwords: russianStopwords},
	"en": {stemmer: en.SnowballStemmerName, stopFilter: en.StopName},
}

// Pipeline is the configured text pipeline.
type Pipeline struct {
	cfg      Config
	lang     language
	keys     []string
	replacer *strings.Replacer
}

// New validates cfg and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Language == "" {
		cfg.Language = "ru"
	}
	if cfg.MaxTokenLength <= 0 {
		cfg.MaxTokenLength = DefaultMaxTokenLength
	}
	lang, ok := languages[cfg.Language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, cfg.Language)
	}

	keys := make([]string, 0, len(cfg.Substitutions))
	for k := range cfg.Substitutions {
		if k == "" {
			return nil, errors.New("empty substitution key")
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, cfg.Substitutions[k])
	}

	return &Pipeline{
		cfg:      cfg,
		lang:     lang,
		keys:     keys,
		replacer: strings.NewReplacer(pairs...),
	}, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Normalize applies the substitutions to raw text. The query parser runs
// every free-text word and phrase through it.
func (p *Pipeline) Normalize(raw string) string {
	if len(p.keys) == 0 {
		return raw
	}
	return p.replacer.Replace(raw)
}

// Signature is a stable description of the pipeline, part of the schema fingerprint.
func (p *Pipeline) Signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "lang=%s;max=%d;stop=%t", p.cfg.Language, p.cfg.MaxTokenLength, !p.cfg.DisableStopwords)
	for _, k := range p.keys {
		fmt.Fprintf(&b, ";subst=%q>%q", k, p.cfg.Substitutions[k])
	}
	return b.String()
}

// Register adds the analyzer and its components to im under AnalyzerName.
func (p *Pipeline) Register(im *mapping.IndexMappingImpl) error {
	charFilters := make([]string, 0, len(p.keys))
	for i, k := range p.keys {
		name := fmt.Sprintf("%s%d", charFilterPrefix, i)
		err := im.AddCustomCharFilter(name, map[string]interface{}{
			"type":    regexpchar.Name,
			"regexp":  regexp.QuoteMeta(k),
			"replace": p.cfg.Substitutions[k],
		})
		if err != nil {
			return fmt.Errorf("register char filter %q: %w", k, err)
		}
		charFilters = append(charFilters, name)
	}

	if err := im.AddCustomTokenFilter(lengthFilterName, map[string]interface{}{
		"type": length.Name,
		"max":  float64(p.cfg.MaxTokenLength),
	}); err != nil {
		return fmt.Errorf("register length filter: %w", err)
	}

	tokenFilters := []string{lengthFilterName, lowercase.Name}
	if !p.cfg.DisableStopwords {
		stopFilter, err := p.registerStopwords(im)
		if err != nil {
			return err
		}
		tokenFilters = append(tokenFilters, stopFilter)
	}
	tokenFilters = append(tokenFilters, p.lang.stemmer)

	if err := im.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"char_filters":  charFilters,
		"tokenizer":     unicode.Name,
		"token_filters": tokenFilters,
	}); err != nil {
		return fmt.Errorf("register analyzer: %w", err)
	}
	return nil
}

func (p *Pipeline) registerStopwords(im *mapping.IndexMappingImpl) (string, error) {
	if p.lang.stopFilter != "" {
		return p.lang.stopFilter, nil
	}
	tokens := make([]interface{}, len(p.lang.stopwords))
	for i, w := range p.lang.stopwords {
		tokens[i] = w
	}
	if err := im.AddCustomTokenMap(stopMapName, map[string]interface{}{
		"type":   tokenmap.Name,
		"tokens": tokens,
	}); err != nil {
		return "", fmt.Errorf("register stopwords: %w", err)
	}
	if err := im.AddCustomTokenFilter(stopFilterName, map[string]interface{}{
		"type":           stop.Name,
		"stop_token_map": stopMapName,
	}); err != nil {
		return "", fmt.Errorf("register stop filter: %w", err)
	}
	return stopFilterName, nil
}

// Analyze runs the registered analyzer over text and returns the resulting terms.
func Analyze(im *mapping.IndexMappingImpl, text string) ([]string, error) {
	tokens, err := im.AnalyzeText(AnalyzerName, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = string(tok.Term)
	}
	return terms, nil
}
