package validation

import (
	"regexp"
	"strings"
)

// Nombres de scope: minúsculas, empiezan y terminan en [a-z0-9], en el medio
// se permite [a-z0-9:_.-], largo 1..64. Ej: attendance:scan, member:token.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidScopeName returns true if the provided scope name matches the allowed pattern.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// ParseScopes separa una lista de scopes por espacios o comas y descarta los inválidos.
func ParseScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if !ValidScopeName(f) {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
