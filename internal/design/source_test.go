package design

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/narvanalabs/forge/internal/models"
)

func TestLoadRoleParsesYAML(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proj-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	artifact := `components:
  - name: User
    members: [id, email]
    calls: [Order]
  - name: Order
interactions:
  - from: Checkout
    to: Order
    operation: submit
`
	if err := os.WriteFile(filepath.Join(dir, "backend.yaml"), []byte(artifact), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(root, nil)
	set, err := src.LoadRole(context.Background(), "proj-1", models.FileRoleBackend)
	if err != nil {
		t.Fatalf("LoadRole returned error: %v", err)
	}

	if len(set.Components) != 2 {
		t.Fatalf("len(Components) = %d, want 2", len(set.Components))
	}
	if set.Components[0].Name != "User" || len(set.Components[0].Members) != 2 {
		t.Errorf("Components[0] = %+v", set.Components[0])
	}
	if len(set.Interactions) != 1 || set.Interactions[0].To != "Order" {
		t.Errorf("Interactions = %+v", set.Interactions)
	}
}

func TestLoadRoleMissingFileYieldsEmptySet(t *testing.T) {
	src := NewFileSource(t.TempDir(), nil)

	set, err := src.LoadRole(context.Background(), "nope", models.FileRoleFrontend)
	if err != nil {
		t.Fatalf("LoadRole returned error: %v", err)
	}
	if !set.Empty() {
		t.Error("expected an empty diagram set")
	}
}

func TestLoadRoleRejectsMalformedYAML(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proj-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "backend.yaml"), []byte("components: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(root, nil)
	if _, err := src.LoadRole(context.Background(), "proj-1", models.FileRoleBackend); err == nil {
		t.Fatal("expected parse error")
	}
}
