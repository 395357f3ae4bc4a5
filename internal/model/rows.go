package model

import (
	"database/sql"
	"fmt"
)

// GroupRow mirrors a row of the "group" table.
type GroupRow struct {
	ID          int64
	Enabled     int64
	Name        string
	Description sql.NullString
}

// AdlistRow mirrors a row of the adlist table.
type AdlistRow struct {
	ID      int64
	Address string
	Enabled int64
	Comment sql.NullString
}

// DomainRow mirrors a row of the domainlist table.
type DomainRow struct {
	ID      int64
	Type    int64
	Domain  string
	Enabled int64
	Comment sql.NullString
}

// ClientRow mirrors a row of the client table.
type ClientRow struct {
	ID      int64
	IP      string
	Comment sql.NullString
}

// MembershipRow mirrors a row of one of the *_by_group join tables.
type MembershipRow struct {
	MemberID int64
	GroupID  int64
}

// Rows holds the contents of every gravity table the tool manages.
type Rows struct {
	Groups       []GroupRow
	Adlists      []AdlistRow
	Domains      []DomainRow
	Clients      []ClientRow
	AdlistGroups []MembershipRow
	DomainGroups []MembershipRow
	ClientGroups []MembershipRow
}

var domainTypeCodes = map[DomainType]int64{
	DomainExactAllow: 0,
	DomainExactBlock: 1,
	DomainRegexAllow: 2,
	DomainRegexBlock: 3,
}

// DomainTypeFromCode maps a domainlist.type value to its DomainType.
func DomainTypeFromCode(code int64) (DomainType, error) {
	for t, c := range domainTypeCodes {
		if c == code {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown domain type code %d", code)
}

// Code returns the domainlist.type value for t.
func (t DomainType) Code() (int64, error) {
	c, ok := domainTypeCodes[t]
	if !ok {
		return 0, fmt.Errorf("unknown domain type %q", t)
	}
	return c, nil
}

// GroupFromRow converts a "group" row.
func GroupFromRow(r GroupRow) Group {
	return Group{ID: r.ID, Name: r.Name, Enabled: r.Enabled != 0, Description: r.Description.String}
}

// GroupToRow converts g to a "group" row.
func GroupToRow(g Group) GroupRow {
	return GroupRow{ID: g.ID, Enabled: boolToInt(g.Enabled), Name: g.Name, Description: nullString(g.Description)}
}

// AdlistFromRow converts an adlist row.
func AdlistFromRow(r AdlistRow) Adlist {
	return Adlist{ID: r.ID, URL: r.Address, Enabled: r.Enabled != 0, Comment: r.Comment.String}
}

// AdlistToRow converts a to an adlist row.
func AdlistToRow(a Adlist) AdlistRow {
	return AdlistRow{ID: a.ID, Address: a.URL, Enabled: boolToInt(a.Enabled), Comment: nullString(a.Comment)}
}

// DomainFromRow converts a domainlist row. It fails on a type code this
// tool does not know, which usually means a newer Pi-hole schema.
func DomainFromRow(r DomainRow) (Domain, error) {
	t, err := DomainTypeFromCode(r.Type)
	if err != nil {
		return Domain{}, fmt.Errorf("domain %d: %w", r.ID, err)
	}
	return Domain{ID: r.ID, Pattern: r.Domain, Type: t, Enabled: r.Enabled != 0, Comment: r.Comment.String}, nil
}

// DomainToRow converts d to a domainlist row.
func DomainToRow(d Domain) (DomainRow, error) {
	code, err := d.Type.Code()
	if err != nil {
		return DomainRow{}, fmt.Errorf("domain %d: %w", d.ID, err)
	}
	return DomainRow{ID: d.ID, Type: code, Domain: d.Pattern, Enabled: boolToInt(d.Enabled), Comment: nullString(d.Comment)}, nil
}

// ClientFromRow converts a client row.
func ClientFromRow(r ClientRow) Client {
	return Client{ID: r.ID, Address: r.IP, Comment: r.Comment.String}
}

// ClientToRow converts c to a client row.
func ClientToRow(c Client) ClientRow {
	return ClientRow{ID: c.ID, IP: c.Address, Comment: nullString(c.Comment)}
}

// MembershipsFromRows converts join table rows. Stored memberships are always enabled.
func MembershipsFromRows(rows []MembershipRow) []Membership {
	out := make([]Membership, 0, len(rows))
	for _, r := range rows {
		out = append(out, Membership{GroupID: r.GroupID, MemberID: r.MemberID, Enabled: true})
	}
	return out
}

// MembershipsToRows converts memberships to join table rows, dropping disabled ones.
func MembershipsToRows(ms []Membership) []MembershipRow {
	out := make([]MembershipRow, 0, len(ms))
	for _, m := range ms {
		if !m.Enabled {
			continue
		}
		out = append(out, MembershipRow{MemberID: m.MemberID, GroupID: m.GroupID})
	}
	return out
}

// FromRows assembles a normalized Model from table rows.
func FromRows(r Rows) (*Model, error) {
	m := &Model{
		Groups:       make([]Group, 0, len(r.Groups)),
		Adlists:      make([]Adlist, 0, len(r.Adlists)),
		Domains:      make([]Domain, 0, len(r.Domains)),
		Clients:      make([]Client, 0, len(r.Clients)),
		AdlistGroups: MembershipsFromRows(r.AdlistGroups),
		DomainGroups: MembershipsFromRows(r.DomainGroups),
		ClientGroups: MembershipsFromRows(r.ClientGroups),
	}
	for _, g := range r.Groups {
		m.Groups = append(m.Groups, GroupFromRow(g))
	}
	for _, a := range r.Adlists {
		m.Adlists = append(m.Adlists, AdlistFromRow(a))
	}
	for _, d := range r.Domains {
		dom, err := DomainFromRow(d)
		if err != nil {
			return nil, err
		}
		m.Domains = append(m.Domains, dom)
	}
	for _, c := range r.Clients {
		m.Clients = append(m.Clients, ClientFromRow(c))
	}
	return m.Normalize(), nil
}

// ToRows flattens m into table rows.
func ToRows(m *Model) (Rows, error) {
	r := Rows{
		Groups:       make([]GroupRow, 0, len(m.Groups)),
		Adlists:      make([]AdlistRow, 0, len(m.Adlists)),
		Domains:      make([]DomainRow, 0, len(m.Domains)),
		Clients:      make([]ClientRow, 0, len(m.Clients)),
		AdlistGroups: MembershipsToRows(m.AdlistGroups),
		DomainGroups: MembershipsToRows(m.DomainGroups),
		ClientGroups: MembershipsToRows(m.ClientGroups),
	}
	for _, g := range m.Groups {
		r.Groups = append(r.Groups, GroupToRow(g))
	}
	for _, a := range m.Adlists {
		r.Adlists = append(r.Adlists, AdlistToRow(a))
	}
	for _, d := range m.Domains {
		row, err := DomainToRow(d)
		if err != nil {
			return Rows{}, err
		}
		r.Domains = append(r.Domains, row)
	}
	for _, c := range m.Clients {
		r.Clients = append(r.Clients, ClientToRow(c))
	}
	return r, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
