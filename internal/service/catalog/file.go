package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"voice-invoice-service/internal/models"
)

// fileCatalog is the on-disk layout of a catalog file.
type fileCatalog struct {
	Clients  []models.ClientCandidate  `yaml:"clients"`
	Products []models.ProductCandidate `yaml:"products"`
}

// FileProvider reads both catalogs from a YAML file. The file is re-read on
// every call so edits are picked up by Store.Refresh.
type FileProvider struct {
	Path string
}

// NewFileProvider returns a provider for path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

func (p *FileProvider) read() (*fileCatalog, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %q: %w", p.Path, err)
	}
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse catalog file %q: %w", p.Path, err)
	}
	return &fc, nil
}

// Clients implements Provider.
func (p *FileProvider) Clients(_ context.Context) ([]models.ClientCandidate, error) {
	fc, err := p.read()
	if err != nil {
		return nil, err
	}
	return fc.Clients, nil
}

// Products implements Provider.
func (p *FileProvider) Products(_ context.Context) ([]models.ProductCandidate, error) {
	fc, err := p.read()
	if err != nil {
		return nil, err
	}
	return fc.Products, nil
}
