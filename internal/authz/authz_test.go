package authz

import (
	"errors"
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"admin", RoleAdmin, false},
		{"Admin", RoleAdmin, false},
		{"  DOCTOR ", RoleDoctor, false},
		{"staff", RoleStaff, false},
		{"patient", RolePatient, false},
		{"superuser", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Lookup(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRoleReference) {
					t.Fatalf("Lookup(%q) err = %v, want ErrInvalidRoleReference", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Lookup(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRoles(t *testing.T) {
	tests := []struct {
		raw  string
		want []Role
	}{
		{"admin", []Role{RoleAdmin}},
		{"doctor,admin", []Role{RoleDoctor, RoleAdmin}},
		{"Doctor, ADMIN ,doctor", []Role{RoleDoctor, RoleAdmin}},
		{"", []Role{RolePatient}},
		{"root,wizard", []Role{RolePatient}},
		{"root,staff", []Role{RoleStaff}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseRoles(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseRoles(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ParseRoles(%q) = %v, want %v", tt.raw, got, tt.want)
				}
			}
		})
	}
}

func TestJoinRolesRoundTrip(t *testing.T) {
	roles := []Role{RoleAdmin, RoleDoctor}
	joined := JoinRoles(roles)
	if joined != "admin,doctor" {
		t.Fatalf("JoinRoles = %q", joined)
	}
	back := ParseRoles(joined)
	if len(back) != 2 || back[0] != RoleAdmin || back[1] != RoleDoctor {
		t.Errorf("ParseRoles(JoinRoles) = %v", back)
	}
}

func TestHasRoleName_CaseInsensitive(t *testing.T) {
	if !HasRoleName([]string{"Admin"}, "admin") {
		t.Error(`HasRoleName(["Admin"], "admin") = false`)
	}
	if !HasRoleName([]string{"doctor", "ADMIN"}, "Admin") {
		t.Error("expected multi-role match")
	}
	if HasRoleName([]string{"doctor"}, "admin") {
		t.Error("doctor must not match admin")
	}
	if HasRoleName([]string{"admin"}, "root") {
		t.Error("unknown candidate must never match")
	}
}

func TestHasRole_InvalidCandidate(t *testing.T) {
	if HasRole([]Role{RoleAdmin}, Role(0)) {
		t.Error("zero role must not match")
	}
	if HasRole([]Role{Role(42)}, Role(42)) {
		t.Error("out-of-range role must not match")
	}
}

func TestPrimary(t *testing.T) {
	if got := Primary([]Role{RoleDoctor, RoleAdmin}); got != RoleAdmin {
		t.Errorf("Primary = %v, want admin", got)
	}
	if got := Primary([]Role{RoleStaff, RolePatient}); got != RoleStaff {
		t.Errorf("Primary = %v, want staff", got)
	}
	if got := Primary(nil); got != DefaultRole {
		t.Errorf("Primary(nil) = %v, want %v", got, DefaultRole)
	}
}

func TestRoleText(t *testing.T) {
	b, err := RoleDoctor.MarshalText()
	if err != nil || string(b) != "doctor" {
		t.Fatalf("MarshalText = %q, %v", b, err)
	}
	var r Role
	if err := r.UnmarshalText([]byte("STAFF")); err != nil || r != RoleStaff {
		t.Fatalf("UnmarshalText = %v, %v", r, err)
	}
	if err := r.UnmarshalText([]byte("owner")); !errors.Is(err, ErrInvalidRoleReference) {
		t.Fatalf("UnmarshalText(owner) err = %v", err)
	}
	if _, err := Role(9).MarshalText(); err == nil {
		t.Fatal("expected error marshaling invalid role")
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name  string
		roles []Role
		stmt  Statement
		want  bool
	}{
		{"patient reads own record", []Role{RolePatient}, S("record", "read-own"), true},
		{"patient cannot list patients", []Role{RolePatient}, S("patient", "list"), false},
		{"doctor creates record", []Role{RoleDoctor}, S("record", "create"), true},
		{"doctor cannot ban", []Role{RoleDoctor}, S("user", "ban"), false},
		{"staff creates billing", []Role{RoleStaff}, S("billing", "create"), true},
		{"admin bans", []Role{RoleAdmin}, S("user", "ban"), true},
		{"multi-role is additive", []Role{RolePatient, RoleDoctor}, S("record", "create"), true},
		{"empty set grants nothing", nil, S("patient", "read-own"), false},
		{"invalid role grants nothing", []Role{Role(77)}, S("patient", "read-own"), false},
		{"unknown statement", []Role{RoleAdmin}, S("spaceship", "launch"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.roles, tt.stmt); got != tt.want {
				t.Errorf("HasPermission(%v, %s) = %v, want %v", tt.roles, tt.stmt, got, tt.want)
			}
		})
	}
}

func TestHasPermission_Monotonic(t *testing.T) {
	for _, base := range All() {
		for _, extra := range All() {
			for _, s := range Catalogue() {
				if HasPermission([]Role{base}, s) && !HasPermission([]Role{base, extra}, s) {
					t.Fatalf("adding %s to %s revoked %s", extra, base, s)
				}
			}
		}
	}
}

func TestHasPermissionNames(t *testing.T) {
	if !HasPermissionNames([]string{"bogus", "Doctor"}, S("record", "create")) {
		t.Error("expected doctor to grant record:create")
	}
	if HasPermissionNames([]string{"bogus"}, S("patient", "read-own")) {
		t.Error("unknown role names must resolve to no permissions")
	}
}

func TestParseStatement(t *testing.T) {
	s, err := ParseStatement("Patient:Read-Own")
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	if s != S("patient", "read-own") {
		t.Errorf("got %v", s)
	}
	for _, raw := range []string{"patient", ":read", "patient:", "patient:fly"} {
		if _, err := ParseStatement(raw); !errors.Is(err, ErrInvalidStatement) {
			t.Errorf("ParseStatement(%q) err = %v, want ErrInvalidStatement", raw, err)
		}
	}
}

func TestGrantsAreCatalogued(t *testing.T) {
	for _, r := range All() {
		gs := Grants(r)
		if len(gs) == 0 {
			t.Errorf("role %s has no grants", r)
		}
		for _, s := range gs {
			if !Known(s) {
				t.Errorf("role %s grants uncatalogued %s", r, s)
			}
		}
	}
}

func TestMerged(t *testing.T) {
	merged := Merged([]Role{RolePatient, RoleStaff})
	want := len(Grants(RoleStaff))
	if len(merged) < want {
		t.Fatalf("Merged has %d statements, want at least %d", len(merged), want)
	}
	seen := map[Statement]bool{}
	for _, s := range merged {
		if seen[s] {
			t.Fatalf("duplicate statement %s", s)
		}
		seen[s] = true
	}
	if !seen[S("dashboard", "patient")] || !seen[S("dashboard", "staff")] {
		t.Error("expected both dashboards in merged set")
	}
}
