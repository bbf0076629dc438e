// Package planner converts a design artifact into a code plan: one file
// specification per component-role pairing plus the dependency edges
// between them.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/narvanalabs/forge/internal/models"
)

// Planner builds code plans from diagram sets.
type Planner struct{}

// New creates a Planner.
func New() *Planner {
	return &Planner{}
}

// Build converts a diagram set into a CodePlan for one application half.
//
// Absent or empty diagrams produce the fixed default skeleton and never an
// error. For the frontend role, upstream is the backend's API contract and
// is merged in as read-only metadata, not as generatable files.
func (p *Planner) Build(diagrams *models.DiagramSet, role models.FileRole, upstream *models.APIContract) *models.CodePlan {
	if diagrams.Empty() {
		return defaultPlan(role, upstream)
	}

	components := mergeInteractions(diagrams)

	plan := &models.CodePlan{
		Role:       role,
		Components: components,
	}

	switch role {
	case models.FileRoleFrontend:
		plan.Files = frontendFiles(components)
		plan.Contract = upstream
	default:
		plan.Files = backendFiles(components)
		plan.Contract = deriveContract(components)
	}

	sort.Slice(plan.Files, func(i, j int) bool {
		return plan.Files[i].Path < plan.Files[j].Path
	})
	return plan
}

// mergeInteractions folds sequence-diagram call edges into the component
// list, so callers only declared in interactions still get call edges.
//
// Components are identified by their normalized name: "User Cart" and
// "user-cart" are the same component, keeping the derived file paths unique.
// The first spelling seen becomes the canonical display name, and call edges
// are rewritten to canonical names.
func mergeInteractions(diagrams *models.DiagramSet) []models.Component {
	byKey := make(map[string]*models.Component)
	order := []string{}

	add := func(name string) *models.Component {
		key := fileName(name)
		if c, ok := byKey[key]; ok {
			return c
		}
		c := &models.Component{Name: name}
		byKey[key] = c
		order = append(order, key)
		return c
	}

	for _, c := range diagrams.Components {
		merged := add(c.Name)
		merged.Members = append(merged.Members, c.Members...)
		// A callee only named in a call relationship is still a component.
		for _, callee := range c.Calls {
			merged.Calls = append(merged.Calls, add(callee).Name)
		}
	}
	for _, edge := range diagrams.Interactions {
		caller := add(edge.From)
		caller.Calls = append(caller.Calls, add(edge.To).Name)
	}

	out := make([]models.Component, 0, len(order))
	for _, key := range order {
		c := byKey[key]
		c.Calls = dedupe(c.Calls, c.Name)
		c.Members = dedupe(c.Members, "")
		out = append(out, *c)
	}
	return out
}

// backendFiles derives the backend file set: per component a data-holder
// model, a behavior service, and a route entry point.
func backendFiles(components []models.Component) []*models.FileSpec {
	var files []*models.FileSpec
	var routePaths []string

	for _, c := range components {
		name := fileName(c.Name)
		modelPath := fmt.Sprintf("backend/models/%s.js", name)
		servicePath := fmt.Sprintf("backend/services/%s.js", name)
		routePath := fmt.Sprintf("backend/routes/%s.js", name)

		serviceDeps := []string{modelPath}
		for _, callee := range c.Calls {
			// The caller's behavior references the callee's type and
			// behavior, which is where dependency edges come from.
			serviceDeps = append(serviceDeps,
				fmt.Sprintf("backend/models/%s.js", fileName(callee)),
				fmt.Sprintf("backend/services/%s.js", fileName(callee)),
			)
		}

		files = append(files,
			&models.FileSpec{
				Path:        modelPath,
				Role:        models.FileRoleBackend,
				Description: fmt.Sprintf("Data model for %s with fields: %s", c.Name, strings.Join(c.Members, ", ")),
			},
			&models.FileSpec{
				Path:        servicePath,
				Role:        models.FileRoleBackend,
				Description: fmt.Sprintf("Business logic for %s", c.Name),
				DependsOn:   dedupe(serviceDeps, servicePath),
			},
			&models.FileSpec{
				Path:        routePath,
				Role:        models.FileRoleBackend,
				Description: fmt.Sprintf("HTTP route handlers exposing %s operations", c.Name),
				DependsOn:   []string{servicePath},
			},
		)
		routePaths = append(routePaths, routePath)
	}

	sort.Strings(routePaths)
	files = append(files, &models.FileSpec{
		Path:        "backend/app.js",
		Role:        models.FileRoleBackend,
		Description: "Application entry point wiring all routes",
		DependsOn:   routePaths,
	})
	return files
}

// frontendFiles derives the frontend file set: per component an API client,
// a view component, and a page, plus the app shell.
func frontendFiles(components []models.Component) []*models.FileSpec {
	var files []*models.FileSpec
	var pagePaths []string

	for _, c := range components {
		name := fileName(c.Name)
		clientPath := fmt.Sprintf("frontend/src/api/%s.js", name)
		viewPath := fmt.Sprintf("frontend/src/components/%s.jsx", c.Name)
		pagePath := fmt.Sprintf("frontend/src/pages/%sPage.jsx", c.Name)

		viewDeps := []string{clientPath}
		for _, callee := range c.Calls {
			viewDeps = append(viewDeps, fmt.Sprintf("frontend/src/components/%s.jsx", callee))
		}

		files = append(files,
			&models.FileSpec{
				Path:        clientPath,
				Role:        models.FileRoleFrontend,
				Description: fmt.Sprintf("API client for %s backend endpoints", c.Name),
			},
			&models.FileSpec{
				Path:        viewPath,
				Role:        models.FileRoleFrontend,
				Description: fmt.Sprintf("View component rendering %s data", c.Name),
				DependsOn:   dedupe(viewDeps, viewPath),
			},
			&models.FileSpec{
				Path:        pagePath,
				Role:        models.FileRoleFrontend,
				Description: fmt.Sprintf("Page composing the %s view", c.Name),
				DependsOn:   []string{viewPath},
			},
		)
		pagePaths = append(pagePaths, pagePath)
	}

	sort.Strings(pagePaths)
	files = append(files, &models.FileSpec{
		Path:        "frontend/src/App.jsx",
		Role:        models.FileRoleFrontend,
		Description: "Application shell with routing across all pages",
		DependsOn:   pagePaths,
	})
	return files
}

// deriveContract derives the endpoint set a backend plan will expose.
func deriveContract(components []models.Component) *models.APIContract {
	contract := &models.APIContract{}
	for _, c := range components {
		resource := fileName(c.Name)
		contract.Endpoints = append(contract.Endpoints,
			models.Endpoint{Method: "GET", Path: "/api/" + resource, Description: fmt.Sprintf("List %s records", c.Name)},
			models.Endpoint{Method: "POST", Path: "/api/" + resource, Description: fmt.Sprintf("Create a %s record", c.Name)},
			models.Endpoint{Method: "GET", Path: "/api/" + resource + "/{id}", Description: fmt.Sprintf("Fetch one %s record", c.Name)},
		)
	}
	sort.Slice(contract.Endpoints, func(i, j int) bool {
		if contract.Endpoints[i].Path != contract.Endpoints[j].Path {
			return contract.Endpoints[i].Path < contract.Endpoints[j].Path
		}
		return contract.Endpoints[i].Method < contract.Endpoints[j].Method
	})
	return contract
}

// defaultPlan returns the fixed skeleton used when no diagrams exist.
// The skeleton has no inter-dependencies, so it schedules as a single wave.
func defaultPlan(role models.FileRole, upstream *models.APIContract) *models.CodePlan {
	plan := &models.CodePlan{Role: role}

	switch role {
	case models.FileRoleFrontend:
		plan.Contract = upstream
		plan.Files = []*models.FileSpec{
			{Path: "frontend/package.json", Role: role, Description: "Frontend package manifest"},
			{Path: "frontend/src/App.jsx", Role: role, Description: "Minimal application shell"},
			{Path: "frontend/src/index.js", Role: role, Description: "Frontend bootstrap"},
		}
	default:
		plan.Files = []*models.FileSpec{
			{Path: "backend/package.json", Role: role, Description: "Backend package manifest"},
			{Path: "backend/app.js", Role: role, Description: "Minimal HTTP server with a health endpoint"},
			{Path: "backend/routes/health.js", Role: role, Description: "Health check route"},
		}
		plan.Contract = &models.APIContract{Endpoints: []models.Endpoint{
			{Method: "GET", Path: "/health", Description: "Service health"},
		}}
	}
	return plan
}

// fileName normalizes a component name into a file-friendly identifier.
func fileName(name string) string {
	out := strings.ToLower(strings.TrimSpace(name))
	out = strings.ReplaceAll(out, " ", "_")
	out = strings.ReplaceAll(out, "-", "_")
	return out
}

// dedupe removes duplicates and the excluded value, preserving first-seen
// order.
func dedupe(values []string, exclude string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if v == "" || v == exclude || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
