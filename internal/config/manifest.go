package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest lists what gets pre-populated at install time. It is produced by deploy
// tooling and only ever consumed here.
type Manifest struct {
	Release          string   `yaml:"release"`
	StaticFiles      []string `yaml:"static_files"`
	DataFiles        []string `yaml:"data_files"`
	CrossOriginHosts []string `yaml:"cross_origin_hosts"`
}

// DefaultManifest returns the shell assets and data files of the job board
func DefaultManifest() Manifest {
	return Manifest{
		StaticFiles: []string{
			"/",
			"/index.html",
			"/css/style.css",
			"/js/main.js",
			"/js/data-manager.js",
			"/js/advanced-search.js",
			"/js/data-visualization.js",
			"/manifest.json",
			"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.0.0/css/all.min.css",
			"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700&display=swap",
			"https://cdn.jsdelivr.net/npm/chart.js",
		},
		DataFiles: []string{
			"/data/jobs.json",
			"/data/statistics.json",
		},
		CrossOriginHosts: []string{
			"cdnjs.cloudflare.com",
			"fonts.googleapis.com",
			"cdn.jsdelivr.net",
		},
	}
}

// LoadManifest reads a YAML manifest. An empty path yields the default manifest; lists
// missing from the file keep their defaults.
func LoadManifest(path string) (Manifest, error) {
	m := DefaultManifest()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var fromFile Manifest
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	m.Release = fromFile.Release
	if len(fromFile.StaticFiles) > 0 {
		m.StaticFiles = fromFile.StaticFiles
	}
	if len(fromFile.DataFiles) > 0 {
		m.DataFiles = fromFile.DataFiles
	}
	if len(fromFile.CrossOriginHosts) > 0 {
		m.CrossOriginHosts = fromFile.CrossOriginHosts
	}
	return m, nil
}

// Resolve turns manifest entries into absolute URLs against the hosting origin
func Resolve(origin *url.URL, entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		ref, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		out = append(out, origin.ResolveReference(ref).String())
	}
	return out, nil
}

// Settings is the resolved, explicit configuration handed to the worker components
type Settings struct {
	Origin           *url.URL
	Generations      Generations
	StaticURLs       []string
	DataURLs         []string
	CrossOriginHosts []string
}

// NewSettings combines process config and manifest. A release in the manifest wins over
// the environment so that a redeploy only has to rewrite the manifest.
func NewSettings(cfg Config, m Manifest) (Settings, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return Settings{}, err
	}

	release := cfg.Release
	if m.Release != "" {
		release = m.Release
	}

	static, err := Resolve(origin, m.StaticFiles)
	if err != nil {
		return Settings{}, err
	}
	data, err := Resolve(origin, m.DataFiles)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		Origin:           origin,
		Generations:      GenerationsFor(release),
		StaticURLs:       static,
		DataURLs:         data,
		CrossOriginHosts: append([]string(nil), m.CrossOriginHosts...),
	}, nil
}
