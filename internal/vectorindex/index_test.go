package vectorindex

import "testing"

func TestPointIDIsDeterministic(t *testing.T) {
	a := PointID("SKU-100")
	b := PointID("SKU-100")
	if a != b {
		t.Fatalf("same sku produced different ids: %s vs %s", a, b)
	}
	if a == PointID("SKU-101") {
		t.Fatal("different skus must not collide")
	}
	if len(a) != 36 {
		t.Fatalf("expected canonical uuid form, got %q", a)
	}
}
