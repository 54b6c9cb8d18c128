// Package alias derives short, collision-free table aliases for generated SQL.
package alias

import (
	"fmt"
	"strings"
	"unicode"
)

// prefixLength is the number of leading letters of a table's simple name used as its alias stem.
const prefixLength = 3

// reservedAliases are short tokens that would read as SQL keywords when used as an alias.
var reservedAliases = map[string]bool{
	"add": true, "all": true, "and": true, "any": true, "as": true, "asc": true,
	"by": true, "end": true, "for": true, "if": true, "in": true, "is": true,
	"key": true, "not": true, "on": true, "or": true, "set": true, "top": true,
	"use": true,
}

// Stem returns the alias stem for a table id: the lowercased first three
// alphanumeric characters of its simple name (the segment after the last dot).
func Stem(tableID string) string {
	name := SimpleName(tableID)

	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if b.Len() >= prefixLength {
			break
		}
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		if b.Len() == 0 && unicode.IsDigit(r) {
			b.WriteByte('t')
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "t"
	}
	return b.String()
}

// SimpleName strips schema qualification and identifier quoting from a table id.
// Example: "[sales].[Customers]" -> "Customers"
func SimpleName(tableID string) string {
	name := tableID
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.Trim(name, "`[]\" ")
}

// Allocate returns an alias for tableID that is not present in existing.
// The result is deterministic for the same inputs: "cli", then "cli2", "cli3", ...
func Allocate(tableID string, existing map[string]struct{}) string {
	stem := Stem(tableID)
	if !taken(stem, existing) {
		return stem
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s%d", stem, i)
		if !taken(candidate, existing) {
			return candidate
		}
	}
}

func taken(candidate string, existing map[string]struct{}) bool {
	if reservedAliases[candidate] {
		return true
	}
	_, ok := existing[strings.ToLower(candidate)]
	if ok {
		return true
	}
	_, ok = existing[candidate]
	return ok
}

// Allocator tracks aliases issued within one query scope.
type Allocator struct {
	seen map[string]struct{}
}

// NewAllocator creates an allocator seeded with aliases already in use.
func NewAllocator(inUse ...string) *Allocator {
	a := &Allocator{seen: make(map[string]struct{}, len(inUse))}
	for _, name := range inUse {
		a.Reserve(name)
	}
	return a
}

// Reserve marks an alias as used without allocating it.
func (a *Allocator) Reserve(name string) {
	if name == "" {
		return
	}
	a.seen[strings.ToLower(name)] = struct{}{}
}

// Next allocates and reserves a fresh alias for tableID.
func (a *Allocator) Next(tableID string) string {
	name := Allocate(tableID, a.seen)
	a.Reserve(name)
	return name
}

// InUse reports whether an alias has already been issued or reserved.
func (a *Allocator) InUse(name string) bool {
	_, ok := a.seen[strings.ToLower(name)]
	return ok
}
