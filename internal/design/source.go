// Package design loads the diagram sets that generation jobs start from.
package design

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/narvanalabs/forge/internal/models"
	"gopkg.in/yaml.v3"
)

// Source is the design-artifact collaborator. LoadRole may return an empty
// diagram set; the planner handles that without erroring.
type Source interface {
	LoadRole(ctx context.Context, projectID string, role models.FileRole) (*models.DiagramSet, error)
}

// FileSource reads diagram sets from YAML files laid out as
// <root>/<projectID>/<role>.yaml.
type FileSource struct {
	root   string
	logger *slog.Logger
}

// NewFileSource creates a file-backed design source.
func NewFileSource(root string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{root: root, logger: logger}
}

// LoadRole reads the project's diagram set for the given role. A missing
// file yields an empty set, not an error.
func (s *FileSource) LoadRole(ctx context.Context, projectID string, role models.FileRole) (*models.DiagramSet, error) {
	path := filepath.Join(s.root, projectID, string(role)+".yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("no design artifact, using empty set",
				"project_id", projectID,
				"role", role,
			)
			return &models.DiagramSet{}, nil
		}
		return nil, fmt.Errorf("reading design artifact %s: %w", path, err)
	}

	var set models.DiagramSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing design artifact %s: %w", path, err)
	}
	return &set, nil
}
