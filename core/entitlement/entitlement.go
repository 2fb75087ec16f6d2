// Package entitlement decides whether a tenant's plan allows writing a kind of sheet.
package entitlement

import (
	"context"
	"strings"

	"github.com/trezcool/sheets/core"
)

// Capability names a write permission: "<sheet kind>:write".
type Capability string

const (
	AttendanceWrite Capability = "attendance:write"
	MarksWrite      Capability = "marks:write"
)

// WriteCapability returns the capability needed to write sheets of kind.
func WriteCapability(kind string) Capability {
	return Capability(core.CleanString(kind, true /* lower */) + ":write")
}

// Gate is consulted before any mutating sheet operation.
type Gate interface {
	CanWrite(ctx context.Context, tenantID string, capability Capability) (bool, error)
}

// ConfigGate denies the tenants listed in the configuration.
// An entry is either a tenant id, which denies every capability,
// or "<tenant id>:<capability>", eg: "school-a:marks:write".
type ConfigGate struct {
	denied map[string]map[Capability]bool // nil map: everything denied
}

var _ Gate = (*ConfigGate)(nil)

func NewConfigGate(conf core.EntitlementConfig) *ConfigGate {
	gate := &ConfigGate{denied: make(map[string]map[Capability]bool)}
	for _, entry := range conf.ReadOnlyTenants {
		parts := strings.SplitN(entry, ":", 2)
		tenantID := core.CleanString(parts[0])
		if len(parts) == 1 {
			gate.denied[tenantID] = nil
			continue
		}
		caps, ok := gate.denied[tenantID]
		if ok && caps == nil {
			continue // already read-only
		}
		if caps == nil {
			caps = make(map[Capability]bool)
			gate.denied[tenantID] = caps
		}
		caps[Capability(core.CleanString(parts[1], true /* lower */))] = true
	}
	return gate
}

func (gate *ConfigGate) CanWrite(_ context.Context, tenantID string, capability Capability) (bool, error) {
	caps, listed := gate.denied[tenantID]
	if !listed {
		return true, nil
	}
	if caps == nil {
		return false, nil
	}
	return !caps[capability], nil
}
