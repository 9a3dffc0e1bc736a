package dm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceFilterString(t *testing.T) {
	tests := []struct {
		name   string
		filter ServiceFilter
		want   string
	}{
		{"empty", ServiceFilter{}, "(objectClass=*)"},
		{"name only", ServiceFilter{Name: "example.Logger"}, "(objectClass=example.Logger)"},
		{
			name:   "name and properties",
			filter: ServiceFilter{Name: "example.Logger", Properties: map[string]string{"z": "1", "a": "2"}},
			want:   "(&(objectClass=example.Logger)(a=2)(z=1))",
		},
		{
			name:   "properties only",
			filter: ServiceFilter{Properties: map[string]string{"env": "prod"}},
			want:   "(env=prod)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.String())
		})
	}
}

func TestSetVersionRange(t *testing.T) {
	d := NewServiceDependency()
	require.NoError(t, d.SetVersionRange(">= 1.0, < 2.0"))
	assert.Equal(t, ">= 1.0, < 2.0", d.Filter().VersionRange)

	assert.Error(t, d.SetVersionRange("not a range"))
	assert.Equal(t, ">= 1.0, < 2.0", d.Filter().VersionRange)

	require.NoError(t, d.SetVersionRange(""))
	assert.Empty(t, d.Filter().VersionRange)
}

func TestSetServiceCopiesProperties(t *testing.T) {
	props := map[string]string{"env": "prod"}
	d := NewServiceDependency()
	require.NoError(t, d.SetService("example.Logger", props))
	props["env"] = "dev"

	assert.Equal(t, "prod", d.Filter().Properties["env"])
}

func TestAutoConfigured(t *testing.T) {
	type logger interface{ Log(string) }
	slot := &AutoConfig{}

	_, ok := AutoConfigured[logger](slot)
	assert.False(t, ok)

	slot.set(&Event{ServiceID: 3, Service: "not a logger"})
	_, ok = AutoConfigured[logger](slot)
	assert.False(t, ok)

	s, ok := AutoConfigured[string](slot)
	assert.True(t, ok)
	assert.Equal(t, "not a logger", s)
	assert.Equal(t, int64(3), slot.ServiceID())
}

func TestDetachClearsAutoConfig(t *testing.T) {
	c := NewComponent(newFakeContext(nil), "detach")
	slot := &AutoConfig{}
	d := NewServiceDependency()
	require.NoError(t, d.SetAutoConfig(slot))
	require.NoError(t, c.AddServiceDependency(d))
	require.NoError(t, c.HandleEvent(d, EventAdded, svc(1, 0, "x")))
	assert.Equal(t, "x", slot.Get())

	require.NoError(t, c.RemoveServiceDependency(d))
	assert.Nil(t, slot.Get())
	assert.False(t, d.IsAvailable())
}
