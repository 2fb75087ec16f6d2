package entitlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/sheets/core"
)

func TestWriteCapability(t *testing.T) {
	assert.Equal(t, AttendanceWrite, WriteCapability("attendance"))
	assert.Equal(t, MarksWrite, WriteCapability(" Marks "))
}

func TestConfigGate_CanWrite(t *testing.T) {
	gate := NewConfigGate(core.EntitlementConfig{
		ReadOnlyTenants: []string{"school-b", "school-c:marks:write", "school-d:marks:write", "school-d"},
	})

	tests := []struct {
		name       string
		tenantID   string
		capability Capability
		want       bool
	}{
		{name: "not listed", tenantID: "school-a", capability: AttendanceWrite, want: true},
		{name: "read only", tenantID: "school-b", capability: AttendanceWrite, want: false},
		{name: "read only marks", tenantID: "school-b", capability: MarksWrite, want: false},
		{name: "capability denied", tenantID: "school-c", capability: MarksWrite, want: false},
		{name: "other capability", tenantID: "school-c", capability: AttendanceWrite, want: true},
		{name: "tenant entry wins", tenantID: "school-d", capability: AttendanceWrite, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gate.CanWrite(context.Background(), tt.tenantID, tt.capability)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
