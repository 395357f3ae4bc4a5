// Package document converts a gravity model to and from its YAML document form.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"

	"gravityyaml/internal/model"
)

type yamlDocument struct {
	Groups       []yamlGroup      `yaml:"groups"`
	Adlists      []yamlAdlist     `yaml:"adlists"`
	Domains      []yamlDomain     `yaml:"domains"`
	Clients      []yamlClient     `yaml:"clients"`
	AdlistGroups []yamlAdlistLink `yaml:"adlist_by_group"`
	DomainGroups []yamlDomainLink `yaml:"domainlist_by_group"`
	ClientGroups []yamlClientLink `yaml:"client_by_group"`
}

type yamlGroup struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description,omitempty"`
}

type yamlAdlist struct {
	ID      int64  `yaml:"id"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
	Comment string `yaml:"comment,omitempty"`
}

type yamlDomain struct {
	ID      int64  `yaml:"id"`
	Pattern string `yaml:"pattern"`
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`
	Comment string `yaml:"comment,omitempty"`
}

type yamlClient struct {
	ID      int64  `yaml:"id"`
	Address string `yaml:"address"`
	Comment string `yaml:"comment,omitempty"`
}

// Membership links only record enabled when it is false; true is the default.
type yamlAdlistLink struct {
	GroupID  int64 `yaml:"group_id"`
	AdlistID int64 `yaml:"adlist_id"`
	Enabled  *bool `yaml:"enabled,omitempty"`
}

type yamlDomainLink struct {
	GroupID  int64 `yaml:"group_id"`
	DomainID int64 `yaml:"domain_id"`
	Enabled  *bool `yaml:"enabled,omitempty"`
}

type yamlClientLink struct {
	GroupID  int64 `yaml:"group_id"`
	ClientID int64 `yaml:"client_id"`
	Enabled  *bool `yaml:"enabled,omitempty"`
}

// Dump renders m as YAML. Sections appear in a fixed order and records are
// sorted by ID, so dumping the same model always yields identical bytes.
// m is not modified.
func Dump(m *model.Model) ([]byte, error) {
	sorted := clone(m).Normalize()

	var doc yamlDocument
	for _, g := range sorted.Groups {
		doc.Groups = append(doc.Groups, yamlGroup{ID: g.ID, Name: g.Name, Enabled: g.Enabled, Description: g.Description})
	}
	for _, a := range sorted.Adlists {
		doc.Adlists = append(doc.Adlists, yamlAdlist{ID: a.ID, URL: a.URL, Enabled: a.Enabled, Comment: a.Comment})
	}
	for _, d := range sorted.Domains {
		doc.Domains = append(doc.Domains, yamlDomain{ID: d.ID, Pattern: d.Pattern, Type: string(d.Type), Enabled: d.Enabled, Comment: d.Comment})
	}
	for _, c := range sorted.Clients {
		doc.Clients = append(doc.Clients, yamlClient{ID: c.ID, Address: c.Address, Comment: c.Comment})
	}
	for _, l := range sorted.AdlistGroups {
		doc.AdlistGroups = append(doc.AdlistGroups, yamlAdlistLink{GroupID: l.GroupID, AdlistID: l.MemberID, Enabled: disabledFlag(l.Enabled)})
	}
	for _, l := range sorted.DomainGroups {
		doc.DomainGroups = append(doc.DomainGroups, yamlDomainLink{GroupID: l.GroupID, DomainID: l.MemberID, Enabled: disabledFlag(l.Enabled)})
	}
	for _, l := range sorted.ClientGroups {
		doc.ClientGroups = append(doc.ClientGroups, yamlClientLink{GroupID: l.GroupID, ClientID: l.MemberID, Enabled: disabledFlag(l.Enabled)})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadFile reads and parses the document at path.
func ReadFile(path string) (*model.Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	m, err := Parse(b)
	if err != nil {
		var e *model.Error
		if errors.As(err, &e) {
			e.Path = path
		}
		return nil, err
	}
	return m, nil
}

// WriteFile dumps m to path, replacing any existing file atomically.
func WriteFile(path string, m *model.Model) error {
	b, err := Dump(m)
	if err != nil {
		return err
	}
	if err := atomicwriter.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func disabledFlag(enabled bool) *bool {
	if enabled {
		return nil
	}
	f := false
	return &f
}

func clone(m *model.Model) *model.Model {
	return &model.Model{
		Groups:       append([]model.Group(nil), m.Groups...),
		Adlists:      append([]model.Adlist(nil), m.Adlists...),
		Domains:      append([]model.Domain(nil), m.Domains...),
		Clients:      append([]model.Client(nil), m.Clients...),
		AdlistGroups: append([]model.Membership(nil), m.AdlistGroups...),
		DomainGroups: append([]model.Membership(nil), m.DomainGroups...),
		ClientGroups: append([]model.Membership(nil), m.ClientGroups...),
	}
}
