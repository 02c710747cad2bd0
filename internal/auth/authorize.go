package auth

import "sort"

// Decision is an authorize/deny outcome plus the permissions the caller
// lacked. Missing is always non-nil so it serializes as a list.
type Decision struct {
	Authorized bool     `json:"authorized"`
	Missing    []string `json:"missing_permissions"`
}

// Decide computes required − granted. An empty required set authorizes
// vacuously. Required names are treated as opaque strings; there is no
// catalog validation here, by contract.
func Decide(granted, required []string) Decision {
	have := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		have[p] = struct{}{}
	}
	missing := make([]string, 0)
	seen := make(map[string]struct{}, len(required))
	for _, p := range required {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return Decision{Authorized: len(missing) == 0, Missing: missing}
}

// HasPermissions reports whether the claim set covers every required name.
func (c *Claims) HasPermissions(required ...string) bool {
	return Decide(c.Permissions, required).Authorized
}
