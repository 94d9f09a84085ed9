package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Scope namespaces derived keys so equal params in different scopes never collide
type Scope string

const (
	// ScopeOutcome keys the messages published for a reconciled event
	ScopeOutcome Scope = "outcome"
)

// Generator derives deterministic keys from a scope and a set of params
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey hashes scope and params into "<scope>-<16 hex chars>". Param
// order does not matter.
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	keys := lo.Keys(params)
	sort.Strings(keys)

	parts := lo.Map(keys, func(k string, _ int) string {
		return fmt.Sprintf("%s=%v", k, params[k])
	})
	input := string(scope) + ":" + strings.Join(parts, ":")

	sum := sha256.Sum256([]byte(input))
	return string(scope) + "-" + hex.EncodeToString(sum[:8])
}
