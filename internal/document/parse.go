package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"gravityyaml/internal/model"
)

// sections lists the accepted top-level keys in document order.
var sections = []string{
	model.SectionGroups,
	model.SectionAdlists,
	model.SectionDomains,
	model.SectionClients,
	model.SectionAdlistGroups,
	model.SectionDomainGroups,
	model.SectionClientGroups,
}

type recordLayout struct {
	required []string
	optional []string
}

var layouts = map[string]recordLayout{
	model.SectionGroups:       {required: []string{"name"}, optional: []string{"id", "enabled", "description"}},
	model.SectionAdlists:      {required: []string{"url"}, optional: []string{"id", "enabled", "comment", "description", "groups"}},
	model.SectionDomains:      {required: []string{"id", "pattern", "type"}, optional: []string{"enabled", "comment"}},
	model.SectionClients:      {required: []string{"id", "address"}, optional: []string{"comment"}},
	model.SectionAdlistGroups: {required: []string{"group_id", "adlist_id"}, optional: []string{"enabled"}},
	model.SectionDomainGroups: {required: []string{"group_id", "domain_id"}, optional: []string{"enabled"}},
	model.SectionClientGroups: {required: []string{"group_id", "client_id"}, optional: []string{"enabled"}},
}

// Parse reads a YAML document into a normalized model. Every structural or
// type problem is collected with its path; if there is any, Parse returns a
// malformed_document *model.Error and no model.
//
// Groups and adlists may also be written in the older layout without ids,
// where an adlist names its groups in a "groups" list and carries its
// comment as "description". Such records get the next free id in document
// order.
func Parse(data []byte) (*model.Model, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var root yaml.Node
	if err := dec.Decode(&root); err != nil && !errors.Is(err, io.EOF) {
		return nil, &model.Error{Op: "document.parse", Kind: model.KindMalformedDocument, Err: err}
	}

	p := &parser{}
	m := p.document(&root)

	var extra yaml.Node
	switch err := dec.Decode(&extra); {
	case err == nil:
		p.addf("", "expected a single YAML document, found more")
	case !errors.Is(err, io.EOF):
		return nil, &model.Error{Op: "document.parse", Kind: model.KindMalformedDocument, Err: err}
	}

	if len(p.problems) > 0 {
		return nil, &model.Error{Op: "document.parse", Kind: model.KindMalformedDocument, Problems: p.problems}
	}
	return m.Normalize(), nil
}

type parser struct {
	problems []string

	// Indexes into the model of groups and adlists written without an id.
	unnumberedGroups  []int
	unnumberedAdlists []int
	groupRefs         []groupRef
}

// groupRef is the "groups" list of an adlist in the older layout.
type groupRef struct {
	adlist int
	path   string
	names  *yaml.Node
}

func (p *parser) addf(path, format string, args ...any) {
	if path == "" {
		path = "$"
	}
	p.problems = append(p.problems, path+": "+fmt.Sprintf(format, args...))
}

func (p *parser) document(root *yaml.Node) *model.Model {
	m := &model.Model{}
	if root.Kind == 0 || len(root.Content) == 0 {
		p.addf("", "document is empty")
		return m
	}

	top := resolve(root.Content[0])
	if top.Kind != yaml.MappingNode {
		p.addf("", "expected a mapping of sections, got %s", kindName(top))
		return m
	}

	seen := make(map[string]bool)
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i].Value, resolve(top.Content[i+1])
		if !slices.Contains(sections, key) {
			p.addf(key, "unknown top-level key (expected one of %s)", strings.Join(sections, ", "))
			continue
		}
		if seen[key] {
			p.addf(key, "section defined more than once")
			continue
		}
		seen[key] = true

		for j, rec := range p.records(key, val) {
			path := fmt.Sprintf("%s[%d]", key, j)
			p.entry(m, key, path, rec)
		}
	}

	p.number(m)
	p.resolveGroupRefs(m)
	return m
}

// number gives records without an id the ids following the largest one in use.
func (p *parser) number(m *model.Model) {
	var next int64
	for _, g := range m.Groups {
		next = max(next, g.ID)
	}
	for _, i := range p.unnumberedGroups {
		next++
		m.Groups[i].ID = next
	}

	next = 0
	for _, a := range m.Adlists {
		next = max(next, a.ID)
	}
	for _, i := range p.unnumberedAdlists {
		next++
		m.Adlists[i].ID = next
	}
}

// resolveGroupRefs turns adlist group names into adlist_by_group memberships.
// "Default" always names the default group.
func (p *parser) resolveGroupRefs(m *model.Model) {
	if len(p.groupRefs) == 0 {
		return
	}
	ids := map[string]int64{model.DefaultGroupName: model.DefaultGroupID}
	for _, g := range m.Groups {
		ids[g.Name] = g.ID
	}

	for _, ref := range p.groupRefs {
		if isNull(ref.names) {
			continue
		}
		if ref.names.Kind != yaml.SequenceNode {
			p.addf(ref.path, "expected a sequence of group names, got %s", kindName(ref.names))
			continue
		}
		for j, n := range ref.names.Content {
			n = resolve(n)
			path := fmt.Sprintf("%s[%d]", ref.path, j)
			if n.Kind != yaml.ScalarNode || isNull(n) {
				p.addf(path, "expected a group name, got %s", kindName(n))
				continue
			}
			id, ok := ids[n.Value]
			if !ok {
				p.addf(path, "unknown group %q", n.Value)
				continue
			}
			m.AdlistGroups = append(m.AdlistGroups, model.Membership{
				GroupID:  id,
				MemberID: m.Adlists[ref.adlist].ID,
				Enabled:  true,
			})
		}
	}
}

// records returns the fields of each record in a section, or nil for a null section.
func (p *parser) records(section string, n *yaml.Node) []map[string]*yaml.Node {
	if isNull(n) {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		p.addf(section, "expected a sequence, got %s", kindName(n))
		return nil
	}

	layout := layouts[section]
	out := make([]map[string]*yaml.Node, 0, len(n.Content))
	for i, item := range n.Content {
		path := fmt.Sprintf("%s[%d]", section, i)
		item = resolve(item)
		if item.Kind != yaml.MappingNode {
			p.addf(path, "expected a mapping, got %s", kindName(item))
			out = append(out, nil)
			continue
		}

		fields := make(map[string]*yaml.Node, len(item.Content)/2)
		for k := 0; k+1 < len(item.Content); k += 2 {
			name := item.Content[k].Value
			if !slices.Contains(layout.required, name) && !slices.Contains(layout.optional, name) {
				p.addf(path+"."+name, "unknown key")
				continue
			}
			if _, dup := fields[name]; dup {
				p.addf(path+"."+name, "key defined more than once")
				continue
			}
			fields[name] = resolve(item.Content[k+1])
		}
		for _, name := range layout.required {
			if n, ok := fields[name]; !ok || isNull(n) {
				p.addf(path+"."+name, "missing required key %q", name)
				delete(fields, name)
			}
		}
		out = append(out, fields)
	}
	return out
}

func (p *parser) entry(m *model.Model, section, path string, f map[string]*yaml.Node) {
	if f == nil {
		return
	}
	switch section {
	case model.SectionGroups:
		if !has(f, "id") {
			p.unnumberedGroups = append(p.unnumberedGroups, len(m.Groups))
		}
		m.Groups = append(m.Groups, model.Group{
			ID:          p.integer(path, "id", f),
			Name:        p.text(path, "name", f),
			Enabled:     p.boolean(path, "enabled", f, true),
			Description: p.text(path, "description", f),
		})
	case model.SectionAdlists:
		if !has(f, "id") {
			p.unnumberedAdlists = append(p.unnumberedAdlists, len(m.Adlists))
		}
		if names, ok := f["groups"]; ok {
			p.groupRefs = append(p.groupRefs, groupRef{adlist: len(m.Adlists), path: path + ".groups", names: names})
		}
		comment := p.text(path, "comment", f)
		if has(f, "description") {
			if has(f, "comment") {
				p.addf(path+".description", "cannot be combined with comment")
			} else {
				comment = p.text(path, "description", f)
			}
		}
		m.Adlists = append(m.Adlists, model.Adlist{
			ID:      p.integer(path, "id", f),
			URL:     p.text(path, "url", f),
			Enabled: p.boolean(path, "enabled", f, true),
			Comment: comment,
		})
	case model.SectionDomains:
		m.Domains = append(m.Domains, model.Domain{
			ID:      p.integer(path, "id", f),
			Pattern: p.text(path, "pattern", f),
			Type:    p.domainType(path, "type", f),
			Enabled: p.boolean(path, "enabled", f, true),
			Comment: p.text(path, "comment", f),
		})
	case model.SectionClients:
		m.Clients = append(m.Clients, model.Client{
			ID:      p.integer(path, "id", f),
			Address: p.text(path, "address", f),
			Comment: p.text(path, "comment", f),
		})
	case model.SectionAdlistGroups:
		m.AdlistGroups = append(m.AdlistGroups, p.membership(path, "adlist_id", f))
	case model.SectionDomainGroups:
		m.DomainGroups = append(m.DomainGroups, p.membership(path, "domain_id", f))
	case model.SectionClientGroups:
		m.ClientGroups = append(m.ClientGroups, p.membership(path, "client_id", f))
	}
}

func (p *parser) membership(path, memberKey string, f map[string]*yaml.Node) model.Membership {
	return model.Membership{
		GroupID:  p.integer(path, "group_id", f),
		MemberID: p.integer(path, memberKey, f),
		Enabled:  p.boolean(path, "enabled", f, true),
	}
}

func (p *parser) integer(path, key string, f map[string]*yaml.Node) int64 {
	n, ok := f[key]
	if !ok || isNull(n) {
		return 0
	}
	if n.Kind == yaml.ScalarNode {
		switch n.Tag {
		case "!!int":
			var v int64
			if err := n.Decode(&v); err == nil {
				return v
			}
		case "!!str":
			if v, err := strconv.ParseInt(strings.TrimSpace(n.Value), 10, 64); err == nil {
				return v
			}
		}
	}
	p.addf(path+"."+key, "expected an integer, got %s", describe(n))
	return 0
}

func (p *parser) text(path, key string, f map[string]*yaml.Node) string {
	n, ok := f[key]
	if !ok || isNull(n) {
		return ""
	}
	if n.Kind != yaml.ScalarNode {
		p.addf(path+"."+key, "expected a string, got %s", kindName(n))
		return ""
	}
	if n.ShortTag() == "!!binary" {
		// Text that is not valid UTF-8 is written as base64.
		var v string
		if err := n.Decode(&v); err != nil {
			p.addf(path+"."+key, "invalid binary value: %v", err)
			return ""
		}
		return v
	}
	return n.Value
}

func (p *parser) boolean(path, key string, f map[string]*yaml.Node, def bool) bool {
	n, ok := f[key]
	if !ok || isNull(n) {
		return def
	}
	if n.Kind == yaml.ScalarNode {
		switch n.Tag {
		case "!!bool":
			var v bool
			if err := n.Decode(&v); err == nil {
				return v
			}
		case "!!int", "!!str":
			switch strings.ToLower(strings.TrimSpace(n.Value)) {
			case "1", "true", "yes", "on":
				return true
			case "0", "false", "no", "off":
				return false
			}
		}
	}
	p.addf(path+"."+key, "expected a boolean, got %s", describe(n))
	return def
}

func (p *parser) domainType(path, key string, f map[string]*yaml.Node) model.DomainType {
	n, ok := f[key]
	if !ok {
		return ""
	}
	if n.Kind == yaml.ScalarNode {
		if n.Tag == "!!int" {
			if code, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
				if t, err := model.DomainTypeFromCode(code); err == nil {
					return t
				}
			}
		}
		if t := model.DomainType(strings.ToLower(strings.TrimSpace(n.Value))); t.Valid() {
			return t
		}
	}
	p.addf(path+"."+key, "expected one of %s, %s, %s, %s, got %s",
		model.DomainExactAllow, model.DomainExactBlock, model.DomainRegexAllow, model.DomainRegexBlock, describe(n))
	return ""
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// has reports whether key is set to something other than null.
func has(f map[string]*yaml.Node, key string) bool {
	n, ok := f[key]
	return ok && !isNull(n)
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	default:
		return "nothing"
	}
}

func describe(n *yaml.Node) string {
	if n.Kind == yaml.ScalarNode {
		return strconv.Quote(n.Value)
	}
	return kindName(n)
}
