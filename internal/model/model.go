// Package model defines the in-memory representation of a Pi-hole gravity configuration.
package model

import (
	"cmp"
	"slices"
)

// DefaultGroupID is the identifier Pi-hole reserves for the group every
// adlist, domain and client belongs to unless configured otherwise.
const DefaultGroupID int64 = 0

// DefaultGroupName is the name Pi-hole gives the default group.
const DefaultGroupName = "Default"

// Group binds clients to adlists and domains.
type Group struct {
	ID          int64
	Name        string
	Enabled     bool
	Description string
}

// Adlist is a subscription to an externally maintained list of domains.
type Adlist struct {
	ID      int64
	URL     string
	Enabled bool
	Comment string
}

// DomainType tags a domain entry as an exact or regex allow/block rule.
type DomainType string

// Supported domain types.
const (
	DomainExactAllow DomainType = "exact-allow"
	DomainExactBlock DomainType = "exact-block"
	DomainRegexAllow DomainType = "regex-allow"
	DomainRegexBlock DomainType = "regex-block"
)

// IsRegex reports whether patterns of this type are regular expressions.
func (t DomainType) IsRegex() bool {
	return t == DomainRegexAllow || t == DomainRegexBlock
}

// Valid reports whether t is one of the supported domain types.
func (t DomainType) Valid() bool {
	switch t {
	case DomainExactAllow, DomainExactBlock, DomainRegexAllow, DomainRegexBlock:
		return true
	}
	return false
}

// Domain is a single allow or block rule.
type Domain struct {
	ID      int64
	Pattern string
	Type    DomainType
	Enabled bool
	Comment string
}

// Client identifies a device by IP, CIDR, MAC, hostname or interface.
type Client struct {
	ID      int64
	Address string
	Comment string
}

// Membership assigns a member (adlist, domain or client) to a group.
// A disabled membership is equivalent to no membership at all.
type Membership struct {
	GroupID  int64
	MemberID int64
	Enabled  bool
}

// Model is a complete gravity configuration.
type Model struct {
	Groups       []Group
	Adlists      []Adlist
	Domains      []Domain
	Clients      []Client
	AdlistGroups []Membership
	DomainGroups []Membership
	ClientGroups []Membership
}

// Normalize sorts every collection into its canonical order: entities by ID,
// memberships by group and then member. It returns m for chaining.
func (m *Model) Normalize() *Model {
	slices.SortFunc(m.Groups, func(a, b Group) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(m.Adlists, func(a, b Adlist) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(m.Domains, func(a, b Domain) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(m.Clients, func(a, b Client) int { return cmp.Compare(a.ID, b.ID) })
	SortMemberships(m.AdlistGroups)
	SortMemberships(m.DomainGroups)
	SortMemberships(m.ClientGroups)
	return m
}

// HasGroup reports whether the model declares a group with the given ID.
func (m *Model) HasGroup(id int64) bool {
	return slices.ContainsFunc(m.Groups, func(g Group) bool { return g.ID == id })
}

// SortMemberships orders ms by group and then member.
func SortMemberships(ms []Membership) {
	slices.SortFunc(ms, func(a, b Membership) int {
		if c := cmp.Compare(a.GroupID, b.GroupID); c != 0 {
			return c
		}
		return cmp.Compare(a.MemberID, b.MemberID)
	})
}
