package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionAdmin, true},
		{RoleAdmin, ActionClaim, true},
		{RoleExpert, ActionClaim, true},
		{RoleExpert, ActionAdmin, false},
		{RoleAgent, ActionWrite, true},
		{RoleAgent, ActionClaim, false},
		{RoleUser, ActionRead, true},
		{RoleUser, ActionClaim, false},
		{Role("ghost"), ActionRead, false},
	}
	for _, c := range cases {
		if got := Can(c.role, c.action); got != c.want {
			t.Fatalf("Can(%s, %s) = %v, want %v", c.role, c.action, got, c.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("expert") != RoleExpert {
		t.Fatalf("expected expert to normalize to itself")
	}
	if Normalize("superuser") != RoleUser {
		t.Fatalf("expected unknown role to normalize to user")
	}
	if Normalize("") != RoleUser {
		t.Fatalf("expected empty role to normalize to user")
	}
}
