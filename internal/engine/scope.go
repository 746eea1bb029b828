package engine

// Scope is the unit over which consistency is evaluated: one owner's files
// or the entire catalog. It is a tagged value rather than a magic string so
// an aggregate query can never be misread as a request for an owner whose id
// happens to collide with a sentinel.
type Scope struct {
	owner string
	all   bool
}

// OwnerScope scopes an analysis to a single owner's files.
func OwnerScope(ownerID string) Scope {
	return Scope{owner: ownerID}
}

// AllScopes covers every owner in the catalog.
func AllScopes() Scope {
	return Scope{all: true}
}

// All reports whether the scope covers the whole catalog.
func (s Scope) All() bool {
	return s.all
}

// Owner returns the owner id and true when the scope targets a single owner.
func (s Scope) Owner() (string, bool) {
	if s.all {
		return "", false
	}
	return s.owner, true
}

// Key is a stable identifier used for cache entries and in-flight
// deduplication. Distinct scopes always produce distinct keys.
func (s Scope) Key() string {
	if s.all {
		return "all"
	}
	return "owner:" + s.owner
}

func (s Scope) String() string {
	return s.Key()
}
