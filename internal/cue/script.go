package cue

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Script is a titled, ordered set of cards.
type Script struct {
	Title string
	Cards []Card
}

// scriptFile is the on-disk script layout shared by YAML and TOML.
type scriptFile struct {
	Title string     `yaml:"title" toml:"title"`
	Cards []cardFile `yaml:"cards" toml:"cards"`
}

type cardFile struct {
	Text    string `yaml:"text" toml:"text"`
	Anchor  string `yaml:"anchor" toml:"anchor"`
	Exit    string `yaml:"exit" toml:"exit"`
	Enabled *bool  `yaml:"enabled" toml:"enabled"`
}

// LoadScript reads a script from a .yaml, .yml or .toml file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cue: read script %q: %w", path, err)
	}
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	case ".toml":
		format = "toml"
	default:
		return nil, fmt.Errorf("cue: script %q: unsupported extension", path)
	}
	s, err := ParseScript(data, format)
	if err != nil {
		return nil, fmt.Errorf("cue: script %q: %w", path, err)
	}
	return s, nil
}

// ParseScript decodes a script in the given format ("yaml" or "toml"). Cards
// keep file order, disabled cards are dropped and cards without text are
// rejected.
func ParseScript(data []byte, format string) (*Script, error) {
	var f scriptFile
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case "toml":
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode toml: unknown key %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	cards := make([]Card, 0, len(f.Cards))
	for i, cf := range f.Cards {
		if strings.TrimSpace(cf.Text) == "" {
			return nil, fmt.Errorf("card %d: text is required", i+1)
		}
		c := NewCard(i, cf.Text, cf.Anchor, cf.Exit)
		if cf.Enabled != nil {
			c.Enabled = *cf.Enabled
		}
		cards = append(cards, c)
	}
	deck := NewDeck(cards)
	if len(deck) == 0 {
		return nil, fmt.Errorf("script has no enabled cards")
	}
	return &Script{Title: f.Title, Cards: deck}, nil
}
