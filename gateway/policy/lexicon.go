package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// lexiconFile is the on-disk shape of a custom pattern file.
//
//	heuristics:
//	  - name: my_pattern
//	    regex: "(?i)ignore .* instructions"
//	lexicon:
//	  - name: my_term
//	    regex: "(?i)grandma exploit"
type lexiconFile struct {
	Heuristics []patternSpec `yaml:"heuristics"`
	Lexicon    []patternSpec `yaml:"lexicon"`
}

type patternSpec struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// LoadLexicon reads extra admission patterns from a YAML file and merges
// them with the defaults. Deployments extend the gate without a rebuild.
func LoadLexicon(path string) (heuristics, lexicon *PatternSet, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading lexicon file: %w", err)
	}

	var file lexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parsing lexicon file: %w", err)
	}

	heuristics = DefaultHeuristicPatterns()
	if err := appendSpecs(heuristics, file.Heuristics); err != nil {
		return nil, nil, err
	}

	lexicon = DefaultLexiconPatterns()
	if err := appendSpecs(lexicon, file.Lexicon); err != nil {
		return nil, nil, err
	}

	return heuristics, lexicon, nil
}

func appendSpecs(ps *PatternSet, specs []patternSpec) error {
	for _, s := range specs {
		re, err := regexp.Compile(s.Regex)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", s.Name, err)
		}
		ps.patterns = append(ps.patterns, &Pattern{Name: s.Name, Regex: re})
	}
	return nil
}
