package core

import "testing"

func TestAppContext_RegisterAndLookupService(t *testing.T) {
	ctx := NewAppContext(nil, "/data", "/ws")

	if _, ok := ctx.Service("breaker.registry"); ok {
		t.Fatal("expected no service registered yet")
	}

	ctx.RegisterService("breaker.registry", 42)

	v, ok := ctx.Service("breaker.registry")
	if !ok {
		t.Fatal("expected service to be found")
	}
	if v.(int) != 42 {
		t.Fatalf("Service() = %v, want 42", v)
	}
}

func TestAppContext_ServiceVisibleFromForModule(t *testing.T) {
	ctx := NewAppContext(nil, "/data", "/ws")
	ctx.RegisterService("shared", "value")

	child := ctx.ForModule("some.module")
	v, ok := child.Service("shared")
	if !ok || v.(string) != "value" {
		t.Fatalf("expected child context to see parent-registered service, got %v, %v", v, ok)
	}

	// Registration from a child is visible to the parent and siblings too,
	// since services are shared app-wide.
	child.RegisterService("from-child", 1)
	if _, ok := ctx.Service("from-child"); !ok {
		t.Fatal("expected service registered by child to be visible from parent")
	}
}

func TestAppContext_RegisterServiceOverwrites(t *testing.T) {
	ctx := NewAppContext(nil, "/data", "/ws")
	ctx.RegisterService("k", 1)
	ctx.RegisterService("k", 2)

	v, _ := ctx.Service("k")
	if v.(int) != 2 {
		t.Fatalf("Service() = %v, want 2 after overwrite", v)
	}
}
