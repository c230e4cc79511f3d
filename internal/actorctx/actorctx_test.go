package actorctx

import (
	"context"
	"testing"
)

func TestUserIDRoundTrip(t *testing.T) {
	ctx := WithRole(WithUserID(context.Background(), "u1"), "admin")

	id, ok := UserIDFrom(ctx)
	if !ok || id != "u1" {
		t.Fatalf("expected u1, got %q (%v)", id, ok)
	}

	role, ok := RoleFrom(ctx)
	if !ok || role != "admin" {
		t.Fatalf("expected admin, got %q (%v)", role, ok)
	}

	if _, ok := UserIDFrom(WithUserID(context.Background(), "")); ok {
		t.Fatalf("empty user id should not be reported as present")
	}
}
