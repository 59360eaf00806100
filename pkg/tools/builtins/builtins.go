// Package builtins assembles the fixed tool catalog: execute_code,
// file_operations, web_search and data_analysis, in that order.
package builtins

import (
	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/tools/builtins/codeexec"
	"github.com/rhuss/codeact/pkg/tools/builtins/dataanalysis"
	"github.com/rhuss/codeact/pkg/tools/builtins/fileops"
	"github.com/rhuss/codeact/pkg/tools/builtins/websearch"
	"github.com/rhuss/codeact/pkg/tools/registry"
)

// Config carries the per-tool settings.
type Config struct {
	// Execution is applied to every execute_code run.
	Execution sandbox.Options

	WebSearch websearch.Config
}

// Set is the built catalog plus the stateful tools behind it.
type Set struct {
	Catalog *registry.Catalog

	// Files owns the shared file workspace.
	Files *fileops.Tool
}

// New builds the catalog on top of sb.
func New(sb *sandbox.Sandbox, cfg Config) (*Set, error) {
	search, err := websearch.New(cfg.WebSearch)
	if err != nil {
		return nil, err
	}
	files := fileops.New(sb)

	catalog, err := registry.New(
		codeexec.New(sb, cfg.Execution).Descriptor(),
		files.Descriptor(),
		search.Descriptor(),
		dataanalysis.Descriptor(),
	)
	if err != nil {
		return nil, err
	}
	return &Set{Catalog: catalog, Files: files}, nil
}

// Close releases the file workspace.
func (s *Set) Close() error {
	return s.Files.Close()
}
