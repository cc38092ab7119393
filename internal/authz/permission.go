package authz

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Statement is a resource-action pair such as "patient:read-own".
type Statement struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// S builds a statement. It does not validate; see ValidateStatement.
func S(resource, action string) Statement {
	return Statement{Resource: resource, Action: action}
}

func (s Statement) String() string {
	return s.Resource + ":" + s.Action
}

// ParseStatement parses "resource:action" and checks it against the
// catalogue.
func ParseStatement(raw string) (Statement, error) {
	res, act, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || res == "" || act == "" {
		return Statement{}, fmt.Errorf("%w: %q", ErrInvalidStatement, raw)
	}
	s := Statement{Resource: strings.ToLower(res), Action: strings.ToLower(act)}
	if err := ValidateStatement(s); err != nil {
		return Statement{}, err
	}
	return s, nil
}

// catalogue lists every action each resource supports.
var catalogue = map[string][]string{
	"user":        {"create", "list", "set-role", "ban", "impersonate", "delete", "set-password"},
	"session":     {"list", "revoke", "delete"},
	"patient":     {"create", "read", "read-own", "list", "update", "update-own", "delete"},
	"doctor":      {"create", "read", "read-own", "list", "update", "update-own", "delete"},
	"staff":       {"create", "read", "read-own", "list", "update", "update-own", "delete"},
	"appointment": {"create", "read", "read-own", "list", "update", "delete"},
	"record":      {"create", "read", "read-own", "list", "update", "delete"},
	"vitals":      {"create", "read", "read-own", "list", "update", "delete"},
	"billing":     {"create", "read", "read-own", "list", "update", "delete"},
	"payment":     {"create", "read", "read-own", "list", "update", "delete"},
	"dashboard":   {"admin", "doctor", "staff", "patient"},
}

// Known reports whether s is part of the statement catalogue.
func Known(s Statement) bool {
	return slices.Contains(catalogue[s.Resource], s.Action)
}

// ValidateStatement returns ErrInvalidStatement when s is not in the
// catalogue.
func ValidateStatement(s Statement) error {
	if !Known(s) {
		return fmt.Errorf("%w: %q", ErrInvalidStatement, s.String())
	}
	return nil
}

// Catalogue returns every known statement sorted by resource then action.
func Catalogue() []Statement {
	var out []Statement
	for res, acts := range catalogue {
		for _, a := range acts {
			out = append(out, Statement{Resource: res, Action: a})
		}
	}
	sortStatements(out)
	return out
}

type grantSet map[Statement]struct{}

func grant(resource string, actions ...string) []Statement {
	out := make([]Statement, 0, len(actions))
	for _, a := range actions {
		out = append(out, Statement{Resource: resource, Action: a})
	}
	return out
}

func buildGrants(groups ...[]Statement) grantSet {
	gs := make(grantSet)
	for _, g := range groups {
		for _, s := range g {
			if !Known(s) {
				panic(fmt.Sprintf("authz: role table grants unknown statement %q", s))
			}
			gs[s] = struct{}{}
		}
	}
	return gs
}

// table is built once at package init and never mutated.
var table = map[Role]grantSet{
	RoleAdmin: buildGrants(
		grant("user", catalogue["user"]...),
		grant("session", catalogue["session"]...),
		grant("patient", catalogue["patient"]...),
		grant("doctor", catalogue["doctor"]...),
		grant("staff", catalogue["staff"]...),
		grant("appointment", catalogue["appointment"]...),
		grant("record", catalogue["record"]...),
		grant("vitals", catalogue["vitals"]...),
		grant("billing", catalogue["billing"]...),
		grant("payment", catalogue["payment"]...),
		grant("dashboard", "admin"),
	),
	RoleDoctor: buildGrants(
		grant("patient", "read", "list", "update"),
		grant("appointment", "read", "list", "update"),
		grant("record", "create", "read", "update", "list"),
		grant("vitals", "create", "read", "update", "list"),
		grant("doctor", "read-own", "update-own"),
		grant("billing", "read"),
		grant("dashboard", "doctor"),
	),
	RoleStaff: buildGrants(
		grant("patient", "create", "read", "list", "update"),
		grant("appointment", "create", "read", "update", "list"),
		grant("vitals", "create", "read", "update", "list"),
		grant("billing", "create", "read", "update", "list"),
		grant("payment", "create", "read", "list"),
		grant("staff", "read-own"),
		grant("dashboard", "staff"),
	),
	RolePatient: buildGrants(
		grant("patient", "read-own", "update-own"),
		grant("appointment", "create", "read-own"),
		grant("record", "read-own"),
		grant("vitals", "read-own"),
		grant("billing", "read-own"),
		grant("payment", "create", "read-own"),
		grant("dashboard", "patient"),
	),
}

// HasPermission reports whether any role in roles authorizes s. Invalid roles
// and unknown statements grant nothing.
func HasPermission(roles []Role, s Statement) bool {
	for _, r := range roles {
		if _, ok := table[r][s]; ok {
			return true
		}
	}
	return false
}

// HasPermissionNames is HasPermission for raw role names. Unknown names are
// skipped rather than defaulted, so a set of only unknown names grants nothing.
func HasPermissionNames(names []string, s Statement) bool {
	for _, n := range names {
		r, err := Lookup(n)
		if err != nil {
			continue
		}
		if HasPermission([]Role{r}, s) {
			return true
		}
	}
	return false
}

// Grants returns the statements a single role authorizes, sorted.
func Grants(r Role) []Statement {
	gs := table[r]
	out := make([]Statement, 0, len(gs))
	for s := range gs {
		out = append(out, s)
	}
	sortStatements(out)
	return out
}

// Merged returns the union of statements authorized by roles, sorted.
func Merged(roles []Role) []Statement {
	seen := make(grantSet)
	for _, r := range roles {
		for s := range table[r] {
			seen[s] = struct{}{}
		}
	}
	out := make([]Statement, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sortStatements(out)
	return out
}

func sortStatements(ss []Statement) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Resource != ss[j].Resource {
			return ss[i].Resource < ss[j].Resource
		}
		return ss[i].Action < ss[j].Action
	})
}
