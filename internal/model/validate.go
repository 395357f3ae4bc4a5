package model

import (
	"fmt"
	"net"
	"regexp"
	"slices"
	"strings"

	"github.com/miekg/dns"
)

// Section names shared by validation paths and the document format.
const (
	SectionGroups       = "groups"
	SectionAdlists      = "adlists"
	SectionDomains      = "domains"
	SectionClients      = "clients"
	SectionAdlistGroups = "adlist_by_group"
	SectionDomainGroups = "domainlist_by_group"
	SectionClientGroups = "client_by_group"
)

// Violation is a single broken invariant, located by a document-style path.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	return v.Path + ": " + v.Message
}

// Violations is the full list of problems found in a model.
type Violations []Violation

// Strings renders every violation.
func (vs Violations) Strings() []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

type validator struct {
	vs Violations
}

func (v *validator) addf(path, format string, args ...any) {
	v.vs = append(v.vs, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks uniqueness, required attributes, pattern syntax and
// referential integrity. The default group is assumed to exist even when m
// does not declare it, so a document may reference it without listing it.
func Validate(m *Model) Violations {
	v := &validator{}

	groups := v.groups(m.Groups)
	groups[DefaultGroupID] = true
	adlists := v.adlists(m.Adlists)
	domains := v.domains(m.Domains)
	clients := v.clients(m.Clients)

	v.memberships(SectionAdlistGroups, "adlist_id", m.AdlistGroups, groups, adlists)
	v.memberships(SectionDomainGroups, "domain_id", m.DomainGroups, groups, domains)
	v.memberships(SectionClientGroups, "client_id", m.ClientGroups, groups, clients)

	return v.vs
}

// ValidateComplete is Validate plus the requirement that the default group is
// declared. It applies to models loaded from a store.
func ValidateComplete(m *Model) Violations {
	vs := Validate(m)
	if !m.HasGroup(DefaultGroupID) {
		vs = append(vs, Violation{Path: SectionGroups, Message: fmt.Sprintf("default group (id %d) is missing", DefaultGroupID)})
	}
	return vs
}

func (v *validator) groups(gs []Group) map[int64]bool {
	ids := make(map[int64]bool, len(gs))
	names := make(map[string]int64, len(gs))
	// Without group 0 in the model the stored default group keeps its name.
	if !slices.ContainsFunc(gs, func(g Group) bool { return g.ID == DefaultGroupID }) {
		names[DefaultGroupName] = DefaultGroupID
	}
	for i, g := range gs {
		p := fmt.Sprintf("%s[%d]", SectionGroups, i)
		if g.ID < 0 {
			v.addf(p+".id", "must not be negative, got %d", g.ID)
		}
		if ids[g.ID] {
			v.addf(p+".id", "duplicate group id %d", g.ID)
		}
		ids[g.ID] = true

		name := strings.TrimSpace(g.Name)
		if name == "" {
			v.addf(p+".name", "must not be empty")
			continue
		}
		if other, ok := names[name]; ok {
			v.addf(p+".name", "name %q already used by group %d", name, other)
		}
		names[name] = g.ID
	}
	return ids
}

func (v *validator) adlists(as []Adlist) map[int64]bool {
	ids := make(map[int64]bool, len(as))
	urls := make(map[string]int64, len(as))
	for i, a := range as {
		p := fmt.Sprintf("%s[%d]", SectionAdlists, i)
		v.checkID(p, "adlist", a.ID, ids)

		url := strings.TrimSpace(a.URL)
		if url == "" {
			v.addf(p+".url", "must not be empty")
			continue
		}
		if other, ok := urls[url]; ok {
			v.addf(p+".url", "url %q already used by adlist %d", url, other)
		}
		urls[url] = a.ID
	}
	return ids
}

func (v *validator) domains(ds []Domain) map[int64]bool {
	ids := make(map[int64]bool, len(ds))
	keys := make(map[string]int64, len(ds))
	for i, d := range ds {
		p := fmt.Sprintf("%s[%d]", SectionDomains, i)
		v.checkID(p, "domain", d.ID, ids)

		validType := d.Type.Valid()
		if !validType {
			v.addf(p+".type", "unknown domain type %q", d.Type)
		}
		if strings.TrimSpace(d.Pattern) == "" {
			v.addf(p+".pattern", "must not be empty")
			continue
		}
		if validType {
			if err := checkPattern(d.Pattern, d.Type); err != nil {
				v.addf(p+".pattern", "%v", err)
			}
		}

		key := string(d.Type) + "\x00" + d.Pattern
		if other, ok := keys[key]; ok {
			v.addf(p+".pattern", "%s pattern %q already used by domain %d", d.Type, d.Pattern, other)
		}
		keys[key] = d.ID
	}
	return ids
}

func (v *validator) clients(cs []Client) map[int64]bool {
	ids := make(map[int64]bool, len(cs))
	addrs := make(map[string]int64, len(cs))
	for i, c := range cs {
		p := fmt.Sprintf("%s[%d]", SectionClients, i)
		v.checkID(p, "client", c.ID, ids)

		if strings.TrimSpace(c.Address) == "" {
			v.addf(p+".address", "must not be empty")
			continue
		}
		if !validClientAddress(c.Address) {
			v.addf(p+".address", "%q is not an IP, subnet, MAC address, hostname or interface", c.Address)
		}
		if other, ok := addrs[c.Address]; ok {
			v.addf(p+".address", "address %q already used by client %d", c.Address, other)
		}
		addrs[c.Address] = c.ID
	}
	return ids
}

func (v *validator) checkID(path, entity string, id int64, seen map[int64]bool) {
	if id <= 0 {
		v.addf(path+".id", "must be positive, got %d", id)
	}
	if seen[id] {
		v.addf(path+".id", "duplicate %s id %d", entity, id)
	}
	seen[id] = true
}

func (v *validator) memberships(section, memberKey string, ms []Membership, groups, members map[int64]bool) {
	type pair struct{ group, member int64 }
	seen := make(map[pair]bool, len(ms))
	for i, m := range ms {
		p := fmt.Sprintf("%s[%d]", section, i)
		if !groups[m.GroupID] {
			v.addf(p+".group_id", "references unknown group %d", m.GroupID)
		}
		if !members[m.MemberID] {
			v.addf(p+"."+memberKey, "references unknown %s %d", strings.TrimSuffix(memberKey, "_id"), m.MemberID)
		}
		k := pair{m.GroupID, m.MemberID}
		if seen[k] {
			v.addf(p, "duplicate membership of %s %d in group %d", strings.TrimSuffix(memberKey, "_id"), m.MemberID, m.GroupID)
		}
		seen[k] = true
	}
}

// regexOptions are the Pi-hole extensions that may follow a regex after ';'.
var regexOptions = []string{"querytype=", "invert", "reply="}

func checkPattern(pattern string, t DomainType) error {
	if t.IsRegex() {
		if _, err := regexp.Compile(stripRegexOptions(pattern)); err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
		return nil
	}
	if strings.ContainsAny(pattern, " \t\r\n") {
		return fmt.Errorf("domain %q contains whitespace", pattern)
	}
	if _, ok := dns.IsDomainName(pattern); !ok {
		return fmt.Errorf("%q is not a valid domain name", pattern)
	}
	return nil
}

func stripRegexOptions(pattern string) string {
	for i := strings.IndexByte(pattern, ';'); i >= 0; {
		rest := pattern[i+1:]
		for _, opt := range regexOptions {
			if strings.HasPrefix(rest, opt) {
				return pattern[:i]
			}
		}
		j := strings.IndexByte(rest, ';')
		if j < 0 {
			break
		}
		i += j + 1
	}
	return pattern
}

func validClientAddress(addr string) bool {
	if strings.HasPrefix(addr, ":") {
		return len(addr) > 1
	}
	if net.ParseIP(addr) != nil {
		return true
	}
	if _, _, err := net.ParseCIDR(addr); err == nil {
		return true
	}
	if _, err := net.ParseMAC(addr); err == nil {
		return true
	}
	if strings.ContainsAny(addr, " \t\r\n/") {
		return false
	}
	_, ok := dns.IsDomainName(addr)
	return ok
}
