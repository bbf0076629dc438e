package planner

import (
	"testing"

	"github.com/narvanalabs/forge/internal/models"
	"github.com/narvanalabs/forge/internal/scheduler"
)

func TestEmptyDiagramsProduceDefaultSkeleton(t *testing.T) {
	p := New()

	plan := p.Build(&models.DiagramSet{}, models.FileRoleBackend, nil)
	if len(plan.Files) == 0 {
		t.Fatal("default plan has no files")
	}
	if plan.Contract == nil || len(plan.Contract.Endpoints) == 0 {
		t.Fatal("default backend plan has no contract")
	}

	// The skeleton must carry no dependencies: it schedules in one wave.
	waves, err := scheduler.Waves(plan)
	if err != nil {
		t.Fatalf("Waves returned error: %v", err)
	}
	if len(waves) != 1 {
		t.Errorf("default plan takes %d waves, want 1", len(waves))
	}
}

func TestBackendPlanPerComponentFiles(t *testing.T) {
	p := New()
	diagrams := &models.DiagramSet{
		Components: []models.Component{
			{Name: "User", Members: []string{"id", "email"}},
			{Name: "Order", Calls: []string{"User"}},
		},
	}

	plan := p.Build(diagrams, models.FileRoleBackend, nil)

	// Two components, three files each, plus app.js.
	if len(plan.Files) != 7 {
		t.Fatalf("len(Files) = %d, want 7", len(plan.Files))
	}

	order := plan.File("backend/services/order.js")
	if order == nil {
		t.Fatal("missing order service")
	}
	wantDeps := map[string]bool{
		"backend/models/order.js":  true,
		"backend/models/user.js":   true,
		"backend/services/user.js": true,
	}
	if len(order.DependsOn) != len(wantDeps) {
		t.Fatalf("order service deps = %v", order.DependsOn)
	}
	for _, dep := range order.DependsOn {
		if !wantDeps[dep] {
			t.Errorf("unexpected dependency %s", dep)
		}
	}

	app := plan.File("backend/app.js")
	if app == nil {
		t.Fatal("missing app.js")
	}
	if len(app.DependsOn) != 2 {
		t.Errorf("app.js deps = %v, want both route files", app.DependsOn)
	}
}

func TestPlanIsAlwaysSchedulable(t *testing.T) {
	p := New()
	diagrams := &models.DiagramSet{
		Components: []models.Component{
			{Name: "Cart", Calls: []string{"Product", "Cart"}},
			{Name: "Product"},
		},
		Interactions: []models.Interaction{
			{From: "Checkout", To: "Cart", Operation: "submit"},
		},
	}

	plan := p.Build(diagrams, models.FileRoleBackend, nil)
	if _, err := scheduler.Waves(plan); err != nil {
		t.Fatalf("generated plan is not schedulable: %v", err)
	}

	// A self-call must not become a self-dependency.
	cart := plan.File("backend/services/cart.js")
	for _, dep := range cart.DependsOn {
		if dep == cart.Path {
			t.Error("cart service depends on itself")
		}
	}

	// Checkout only appears in an interaction edge but still gets files.
	if plan.File("backend/services/checkout.js") == nil {
		t.Error("interaction-only component got no files")
	}
}

func TestEquivalentComponentNamesMerge(t *testing.T) {
	p := New()
	// "User Cart" and "user-cart" normalize to the same file name, so they
	// are one component; separate FileSpecs would share a path and make the
	// plan unschedulable.
	diagrams := &models.DiagramSet{
		Components: []models.Component{
			{Name: "User Cart", Members: []string{"id"}},
			{Name: "user-cart", Members: []string{"quantity"}},
		},
		Interactions: []models.Interaction{
			{From: "Checkout", To: "USER CART", Operation: "read"},
		},
	}

	plan := p.Build(diagrams, models.FileRoleBackend, nil)
	if _, err := scheduler.Waves(plan); err != nil {
		t.Fatalf("merged plan is not schedulable: %v", err)
	}

	if len(plan.Components) != 2 {
		t.Fatalf("len(Components) = %d, want 2 (merged cart + checkout)", len(plan.Components))
	}

	cart := plan.Components[0]
	if cart.Name != "User Cart" {
		t.Errorf("canonical name = %q, want first spelling %q", cart.Name, "User Cart")
	}
	if len(cart.Members) != 2 {
		t.Errorf("merged members = %v, want both spellings' members", cart.Members)
	}

	// One file set for the merged component, referenced by the interaction.
	seen := make(map[string]int)
	for _, f := range plan.Files {
		seen[f.Path]++
	}
	for path, n := range seen {
		if n > 1 {
			t.Errorf("path %s appears %d times", path, n)
		}
	}
	checkout := plan.File("backend/services/checkout.js")
	if checkout == nil {
		t.Fatal("checkout component got no files")
	}
	wantDep := "backend/services/user_cart.js"
	found := false
	for _, dep := range checkout.DependsOn {
		if dep == wantDep {
			found = true
		}
	}
	if !found {
		t.Errorf("checkout deps %v missing %s", checkout.DependsOn, wantDep)
	}
}

func TestFrontendPlanUsesUpstreamContract(t *testing.T) {
	p := New()
	contract := &models.APIContract{Endpoints: []models.Endpoint{
		{Method: "GET", Path: "/api/user"},
	}}
	diagrams := &models.DiagramSet{
		Components: []models.Component{{Name: "User"}},
	}

	plan := p.Build(diagrams, models.FileRoleFrontend, contract)
	if plan.Contract != contract {
		t.Error("frontend plan should carry the upstream contract")
	}
	if plan.File("frontend/src/App.jsx") == nil {
		t.Error("missing app shell")
	}
	if plan.File("frontend/src/pages/UserPage.jsx") == nil {
		t.Error("missing user page")
	}
}

func TestDeriveContractEndpoints(t *testing.T) {
	p := New()
	diagrams := &models.DiagramSet{
		Components: []models.Component{{Name: "Order Item"}},
	}

	plan := p.Build(diagrams, models.FileRoleBackend, nil)
	if plan.Contract == nil {
		t.Fatal("no contract derived")
	}

	paths := make(map[string]int)
	for _, e := range plan.Contract.Endpoints {
		paths[e.Path]++
	}
	if paths["/api/order_item"] != 2 {
		t.Errorf("expected GET and POST on /api/order_item, got %d endpoints", paths["/api/order_item"])
	}
	if paths["/api/order_item/{id}"] != 1 {
		t.Errorf("expected single-record endpoint, got %d", paths["/api/order_item/{id}"])
	}
}
