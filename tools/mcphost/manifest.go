package mcphost

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists the MCP servers whose tools are offered to the model.
//
//	servers:
//	  - name: workspace
//	    command: workspace-mcp
//	    args: ["--root", "/srv/repo"]
//	  - name: search
//	    url: http://127.0.0.1:7070/mcp
//	    headers:
//	      Authorization: Bearer abc
type Manifest struct {
	Servers []ServerConfig `yaml:"servers"`
}

type ServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

func LoadManifest(path string) (Manifest, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Manifest{}, fmt.Errorf("manifest path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(raw)
}

func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	seen := make(map[string]bool, len(m.Servers))
	for i := range m.Servers {
		s := &m.Servers[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Command = strings.TrimSpace(s.Command)
		s.URL = strings.TrimSpace(s.URL)
		if s.Name == "" {
			return Manifest{}, fmt.Errorf("server #%d: name is required", i+1)
		}
		if seen[s.Name] {
			return Manifest{}, fmt.Errorf("server %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		switch {
		case s.Command == "" && s.URL == "":
			return Manifest{}, fmt.Errorf("server %q: command or url is required", s.Name)
		case s.Command != "" && s.URL != "":
			return Manifest{}, fmt.Errorf("server %q: command and url are mutually exclusive", s.Name)
		}
	}
	return m, nil
}

func (s ServerConfig) envList() []string {
	if len(s.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	return out
}
