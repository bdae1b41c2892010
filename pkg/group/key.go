// Package group defines the audience-group keys used for message fan-out.
// A connection's organizational scope (region/district) determines which
// groups it belongs to; all key formatting goes through one canonical
// function so key construction cannot drift between call sites.
package group

import "fmt"

type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeChatRegion
	ScopeChatDistrict
	ScopeBroadcastRegion
	ScopeBroadcastDistrict
)

// Key identifies a single audience group.
type Key struct {
	Scope    Scope
	Region   string
	District string
}

func Global() Key {
	return Key{Scope: ScopeGlobal}
}

func ChatRegion(region string) Key {
	return Key{Scope: ScopeChatRegion, Region: region}
}

func ChatDistrict(region, district string) Key {
	return Key{Scope: ScopeChatDistrict, Region: region, District: district}
}

func BroadcastRegion(region string) Key {
	return Key{Scope: ScopeBroadcastRegion, Region: region}
}

// BroadcastDistrict is keyed by district alone, unlike ChatDistrict which
// carries the region as well. The asymmetry matches the observed production
// behavior; see DESIGN.md before changing it.
func BroadcastDistrict(district string) Key {
	return Key{Scope: ScopeBroadcastDistrict, District: district}
}

// String renders the canonical wire form of the key.
func (k Key) String() string {
	switch k.Scope {
	case ScopeChatRegion:
		return fmt.Sprintf("chat:%s", k.Region)
	case ScopeChatDistrict:
		return fmt.Sprintf("chat:%s:%s", k.Region, k.District)
	case ScopeBroadcastRegion:
		return fmt.Sprintf("broadcast:%s", k.Region)
	case ScopeBroadcastDistrict:
		return fmt.Sprintf("broadcast:%s", k.District)
	default:
		return "global"
	}
}

// ForScope derives the full membership set for a connection's declared
// region/district. Every connection belongs to the global group; regional
// and district groups are added only when the corresponding scope fields
// are present.
func ForScope(region, district string) []Key {
	keys := []Key{Global()}
	if region == "" {
		return keys
	}
	keys = append(keys, ChatRegion(region), BroadcastRegion(region))
	if district != "" {
		keys = append(keys, ChatDistrict(region, district), BroadcastDistrict(district))
	}
	return keys
}
