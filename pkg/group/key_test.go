package group_test

import (
	"testing"

	"github.com/ECGOPS/NMSECG-sub008/pkg/group"
)

func TestCanonicalFormatting(t *testing.T) {
	cases := []struct {
		name string
		key  group.Key
		want string
	}{
		{"global", group.Global(), "global"},
		{"chat region", group.ChatRegion("ASHANTI"), "chat:ASHANTI"},
		{"chat district", group.ChatDistrict("GREATER ACCRA", "ACCRA EAST"), "chat:GREATER ACCRA:ACCRA EAST"},
		{"broadcast region", group.BroadcastRegion("ASHANTI"), "broadcast:ASHANTI"},
		{"broadcast district", group.BroadcastDistrict("ACCRA EAST"), "broadcast:ACCRA EAST"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.key.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

// The broadcast district group is keyed by district alone while the chat
// district group carries the region too. That asymmetry is deliberate
// production behavior; this test pins it.
func TestBroadcastDistrictIgnoresRegion(t *testing.T) {
	key := group.BroadcastDistrict("ACCRA EAST")
	if key.Region != "" {
		t.Errorf("BroadcastDistrict should not carry a region, got %q", key.Region)
	}
	if key.String() != "broadcast:ACCRA EAST" {
		t.Errorf("unexpected key %q", key.String())
	}
}

func TestForScope(t *testing.T) {
	cases := []struct {
		name     string
		region   string
		district string
		want     []string
	}{
		{"no scope", "", "", []string{"global"}},
		{"region only", "ASHANTI", "", []string{"global", "chat:ASHANTI", "broadcast:ASHANTI"}},
		{"district without region", "", "KUMASI EAST", []string{"global"}},
		{
			"region and district", "ASHANTI", "KUMASI EAST",
			[]string{"global", "chat:ASHANTI", "broadcast:ASHANTI", "chat:ASHANTI:KUMASI EAST", "broadcast:KUMASI EAST"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keys := group.ForScope(tc.region, tc.district)
			if len(keys) != len(tc.want) {
				t.Fatalf("got %d keys, want %d", len(keys), len(tc.want))
			}
			for i, key := range keys {
				if key.String() != tc.want[i] {
					t.Errorf("key[%d] = %q, want %q", i, key.String(), tc.want[i])
				}
			}
		})
	}
}
