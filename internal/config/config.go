// Package config loads MaskBoard settings from a YAML or TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"MaskBoard/internal/mask"
)

type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Editor EditorConfig `yaml:"editor" toml:"editor"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	ImagePath string `yaml:"image_path" toml:"image_path"`
	// Store is "file" (mask.<image>.png beside the image) or "sqlite".
	Store      string `yaml:"store" toml:"store"`
	DBPath     string `yaml:"db_path" toml:"db_path"`
	KeepRevs   int    `yaml:"keep_revisions" toml:"keep_revisions"`
	StaticDir  string `yaml:"static_dir" toml:"static_dir"`
	MDNS       bool   `yaml:"mdns" toml:"mdns"`
	Gzip       bool   `yaml:"gzip" toml:"gzip"`
	FillColour string `yaml:"fill_colour" toml:"fill_colour"`
}

type EditorConfig struct {
	ServerURL     string  `yaml:"server_url" toml:"server_url"`
	LineThickness float64 `yaml:"line_thickness" toml:"line_thickness"`
	Colour        string  `yaml:"colour" toml:"colour"`
	AnchorOnPress bool    `yaml:"anchor_on_press" toml:"anchor_on_press"`
	Discover      bool    `yaml:"discover" toml:"discover"`
	Watch         bool    `yaml:"watch" toml:"watch"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:       ":8080",
			Store:      "file",
			KeepRevs:   50,
			MDNS:       true,
			Gzip:       true,
			FillColour: "black",
		},
		Editor: EditorConfig{
			ServerURL:     "http://localhost:8080",
			LineThickness: 20,
			Colour:        "black",
			AnchorOnPress: true,
			Watch:         true,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Files ending in .toml are TOML; everything else is YAML.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	name := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", name, err)
		}
	} else if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Server.Store = strings.ToLower(strings.TrimSpace(c.Server.Store))
	if c.Server.Store == "" {
		c.Server.Store = "file"
	}
	if c.Server.Store == "sqlite" && c.Server.DBPath == "" && c.Server.ImagePath != "" {
		c.Server.DBPath = c.Server.ImagePath + ".masks.db"
	}
	if c.Server.FillColour == "" {
		c.Server.FillColour = "black"
	}
	c.Editor.ServerURL = strings.TrimRight(strings.TrimSpace(c.Editor.ServerURL), "/")
	if c.Editor.Colour == "" {
		c.Editor.Colour = "black"
	}
}

func (c Config) Validate() error {
	switch c.Server.Store {
	case "file", "sqlite":
	default:
		return fmt.Errorf("server.store: unknown store %q", c.Server.Store)
	}
	if c.Server.KeepRevs < 0 {
		return fmt.Errorf("server.keep_revisions must be >= 0")
	}
	if _, err := mask.ParseColour(c.Server.FillColour); err != nil {
		return fmt.Errorf("server.fill_colour: %w", err)
	}
	if c.Editor.LineThickness <= 0 {
		return fmt.Errorf("editor.line_thickness must be > 0")
	}
	col, err := mask.ParseColour(c.Editor.Colour)
	if err != nil {
		return fmt.Errorf("editor.colour: %w", err)
	}
	// Reset must leave every pixel fully masked.
	if _, _, _, a := col.RGBA(); a != 0xffff {
		return fmt.Errorf("editor.colour: %q must be opaque", c.Editor.Colour)
	}
	return nil
}
