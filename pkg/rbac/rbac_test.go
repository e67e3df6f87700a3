package rbac

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/simpleadmin/pkg/model"
)

func TestMapFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags string
		want  []model.Capability
	}{
		{"kick and slay with space", "c f", []model.Capability{CapKick, CapSlay}},
		{"root", "z", []model.Capability{CapRoot}},
		{"unknown only", "eiklnopqrst", []model.Capability{}},
		{"duplicates", "ccbc", []model.Capability{CapKick, CapGeneric}},
		{"empty", "", []model.Capability{}},
		{"full table", "abcdfghjmz", []model.Capability{
			CapVIP, CapGeneric, CapKick, CapPermBan, CapSlay,
			CapChangeMap, CapCvar, CapChat, CapRcon, CapRoot,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapFlags(tt.flags)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MapFlags(%q) mismatch (-want +got):\n%s", tt.flags, diff)
			}
		})
	}
}

func TestHasCapability(t *testing.T) {
	tests := []struct {
		name string
		caps []model.Capability
		want model.Capability
		ok   bool
	}{
		{"direct", []model.Capability{CapKick}, CapKick, true},
		{"missing", []model.Capability{CapKick}, CapRcon, false},
		{"root implies all", []model.Capability{CapRoot}, CapRcon, true},
		{"none", nil, CapKick, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCapability(tt.caps, tt.want); got != tt.ok {
				t.Errorf("HasCapability = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestCapability(t *testing.T) {
	if c, ok := Capability('m'); !ok || c != CapRcon {
		t.Errorf("Capability('m') = %q, %v", c, ok)
	}
	if _, ok := Capability('x'); ok {
		t.Errorf("Capability('x') should be unmapped")
	}
}

func TestCanTarget(t *testing.T) {
	if !CanTarget(50, 20) || !CanTarget(20, 20) || CanTarget(10, 20) {
		t.Errorf("CanTarget comparison broken")
	}
}
