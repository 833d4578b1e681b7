package faq

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"frontdesk/internal/domain"
)

// Item is one curated question/answer pair.
type Item struct {
	ID       string   `yaml:"id" json:"id"`
	Question string   `yaml:"question" json:"question"`
	Answer   string   `yaml:"answer" json:"answer"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

type corpusFile struct {
	Items []Item `yaml:"items"`
}

// LoadFile reads a corpus from YAML or JSON. The file holds either a bare
// list of items or a mapping with an "items" list.
func LoadFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read faq file: %w", err)
	}
	items, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse faq file %s: %w", path, err)
	}
	return items, nil
}

func Parse(data []byte) ([]Item, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var items []Item
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&items); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var f corpusFile
		if err := root.Decode(&f); err != nil {
			return nil, err
		}
		items = f.Items
	default:
		return nil, fmt.Errorf("faq corpus must be a list or a mapping with items")
	}
	return items, validate(items)
}

func validate(items []Item) error {
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("item %d: missing id", i)
		}
		if seen[it.ID] {
			return fmt.Errorf("item %d: duplicate id %q", i, it.ID)
		}
		if strings.TrimSpace(it.Answer) == "" {
			return fmt.Errorf("item %q: empty answer", it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

func (it Item) candidate(score float64) domain.Candidate {
	return domain.Candidate{
		ID:       it.ID,
		Question: it.Question,
		Answer:   it.Answer,
		Tags:     append([]string(nil), it.Tags...),
		Score:    score,
	}
}
