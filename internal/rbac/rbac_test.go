package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer record", role: RoleViewer, action: ActionRecord, allow: false},
		{name: "viewer compile", role: RoleViewer, action: ActionCompile, allow: false},
		{name: "analyst record", role: RoleAnalyst, action: ActionRecord, allow: true},
		{name: "analyst finalize", role: RoleAnalyst, action: ActionFinalize, allow: true},
		{name: "analyst close", role: RoleAnalyst, action: ActionClose, allow: false},
		{name: "pm close", role: RolePM, action: ActionClose, allow: true},
		{name: "pm admin", role: RolePM, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalizeFallsBackToViewer(t *testing.T) {
	if got := Normalize("superuser"); got != RoleViewer {
		t.Fatalf("Normalize(superuser) = %q, want viewer", got)
	}
	if got := Normalize("pm"); got != RolePM {
		t.Fatalf("Normalize(pm) = %q, want pm", got)
	}
}
