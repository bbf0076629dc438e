package models

import "sort"

// FileRole identifies which application half a file belongs to.
type FileRole string

const (
	FileRoleBackend  FileRole = "backend"
	FileRoleFrontend FileRole = "frontend"
)

// FileSpec describes one file the generator must produce. Content is empty
// until the generation stage fills it in; once a build-fix cycle accepts the
// file (success or exhausted attempts) the spec is treated as immutable.
type FileSpec struct {
	Path        string   `json:"path"`
	Role        FileRole `json:"role"`
	Description string   `json:"description"`
	// DependsOn lists paths of files this file references. Never contains
	// the file's own path.
	DependsOn []string `json:"depends_on,omitempty"`
	Content   string   `json:"content,omitempty"`
}

// Component is a named element extracted from the design diagrams, with its
// structural members and the components it calls.
type Component struct {
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
	Calls   []string `json:"calls,omitempty"`
}

// Interaction is one call edge from a sequence diagram.
type Interaction struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Operation string `json:"operation"`
}

// DiagramSet is the design artifact a job starts from. Either half may be
// empty; the planner produces a default skeleton in that case.
type DiagramSet struct {
	Components   []Component   `json:"components,omitempty" yaml:"components"`
	Interactions []Interaction `json:"interactions,omitempty" yaml:"interactions"`
}

// Empty reports whether the diagram set carries no usable content.
func (d *DiagramSet) Empty() bool {
	return d == nil || (len(d.Components) == 0 && len(d.Interactions) == 0)
}

// Endpoint is one operation the backend exposes to the frontend.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// APIContract is the set of endpoints the generated backend exposes. The
// frontend plan consumes it as read-only dependency metadata.
type APIContract struct {
	Endpoints []Endpoint `json:"endpoints"`
}

// CodePlan is the set of file specifications and their dependency graph for
// one application half.
type CodePlan struct {
	Role       FileRole     `json:"role"`
	Files      []*FileSpec  `json:"files"`
	Components []Component  `json:"components,omitempty"`
	Contract   *APIContract `json:"contract,omitempty"`
}

// File returns the FileSpec with the given path, or nil.
func (p *CodePlan) File(path string) *FileSpec {
	for _, f := range p.Files {
		if f.Path == path {
			return f
		}
	}
	return nil
}

// Paths returns the plan's file paths in ascending order.
func (p *CodePlan) Paths() []string {
	paths := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}
