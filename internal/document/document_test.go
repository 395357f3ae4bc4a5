package document

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"gravityyaml/internal/model"
)

var equateEmpty = cmpopts.EquateEmpty()

func sampleModel() *model.Model {
	return &model.Model{
		Groups: []model.Group{
			{ID: 1, Name: "kids", Enabled: false},
			{ID: 0, Name: "Default", Enabled: true, Description: "The default group"},
		},
		Adlists: []model.Adlist{
			{ID: 1, URL: "https://a.example/hosts", Enabled: true, Comment: "main list"},
		},
		Domains: []model.Domain{
			{ID: 1, Pattern: "ads.example.com", Type: model.DomainExactBlock, Enabled: true},
		},
		Clients: []model.Client{
			{ID: 1, Address: "192.168.1.20"},
		},
		AdlistGroups: []model.Membership{{GroupID: 1, MemberID: 1, Enabled: true}},
		ClientGroups: []model.Membership{{GroupID: 1, MemberID: 1, Enabled: false}},
	}
}

const sampleYAML = `groups:
  - id: 0
    name: Default
    enabled: true
    description: The default group
  - id: 1
    name: kids
    enabled: false
adlists:
  - id: 1
    url: https://a.example/hosts
    enabled: true
    comment: main list
domains:
  - id: 1
    pattern: ads.example.com
    type: exact-block
    enabled: true
clients:
  - id: 1
    address: 192.168.1.20
adlist_by_group:
  - group_id: 1
    adlist_id: 1
domainlist_by_group: []
client_by_group:
  - group_id: 1
    client_id: 1
    enabled: false
`

func TestDump(t *testing.T) {
	m := sampleModel()
	got, err := Dump(m)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if diff := cmp.Diff(sampleYAML, string(got)); diff != "" {
		t.Errorf("Dump mismatch (-want +got):\n%s", diff)
	}

	again, err := Dump(m)
	if err != nil {
		t.Fatalf("second Dump: %v", err)
	}
	if string(got) != string(again) {
		t.Error("repeated Dump produced different output")
	}

	if m.Groups[0].ID != 1 {
		t.Error("Dump reordered the caller's model")
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		m    *model.Model
	}{
		{name: "empty", m: &model.Model{}},
		{name: "sample", m: sampleModel()},
		{
			name: "awkward strings",
			m: &model.Model{
				Groups: []model.Group{{ID: 3, Name: "yes", Enabled: true, Description: "# not a comment: really"}},
				Domains: []model.Domain{
					{ID: 2, Pattern: `(\.|^)tracker\.net$`, Type: model.DomainRegexBlock, Enabled: false, Comment: "multi\nline"},
					{ID: 5, Pattern: "123", Type: model.DomainRegexAllow, Enabled: true},
				},
				Clients:      []model.Client{{ID: 9, Address: ":eth0", Comment: "- dash"}},
				DomainGroups: []model.Membership{{GroupID: 3, MemberID: 5, Enabled: true}, {GroupID: 0, MemberID: 2, Enabled: true}},
			},
		},
		{
			name: "invalid utf-8",
			m: &model.Model{
				Groups:  []model.Group{{ID: 1, Name: "g\xff\xfe", Enabled: true, Description: "\xff\xfe"}},
				Adlists: []model.Adlist{{ID: 1, URL: "https://a.example/\xff", Enabled: true, Comment: "\xff\xfe"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Dump(tt.m)
			if err != nil {
				t.Fatalf("Dump: %v", err)
			}
			got, err := Parse(b)
			if err != nil {
				t.Fatalf("Parse: %v\n%s", err, b)
			}
			want := clone(tt.m).Normalize()
			if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCoercion(t *testing.T) {
	in := `
groups:
  - id: "2"
    name: 404
    enabled: "no"
adlists:
  - id: 7
    url: https://b.example/list
    enabled: 0
  - id: 8
    url: https://c.example/list
domains:
  - id: 1
    pattern: ads.example
    type: 1
  - id: 2
    pattern: ^x
    type: Regex-Allow
    enabled: on
clients: ~
client_by_group:
  - {group_id: 2, client_id: 4, enabled: yes}
`
	got, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &model.Model{
		Groups: []model.Group{{ID: 2, Name: "404", Enabled: false}},
		Adlists: []model.Adlist{
			{ID: 7, URL: "https://b.example/list", Enabled: false},
			{ID: 8, URL: "https://c.example/list", Enabled: true},
		},
		Domains: []model.Domain{
			{ID: 1, Pattern: "ads.example", Type: model.DomainExactBlock, Enabled: true},
			{ID: 2, Pattern: "^x", Type: model.DomainRegexAllow, Enabled: true},
		},
		ClientGroups: []model.Membership{{GroupID: 2, MemberID: 4, Enabled: true}},
	}
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLegacyLayout(t *testing.T) {
	in := `
groups:
  - name: kids
    description: Children's devices
  - name: iot
    enabled: false
adlists:
  - url: https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts
    description: StevenBlack
    groups:
      - Default
      - kids
  - url: https://v.firebog.net/hosts/AdguardDNS.txt
    groups: [iot]
  - url: https://a.example/hosts
`
	got, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &model.Model{
		Groups: []model.Group{
			{ID: 1, Name: "kids", Enabled: true, Description: "Children's devices"},
			{ID: 2, Name: "iot", Enabled: false},
		},
		Adlists: []model.Adlist{
			{ID: 1, URL: "https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts", Enabled: true, Comment: "StevenBlack"},
			{ID: 2, URL: "https://v.firebog.net/hosts/AdguardDNS.txt", Enabled: true},
			{ID: 3, URL: "https://a.example/hosts", Enabled: true},
		},
		AdlistGroups: []model.Membership{
			{GroupID: 0, MemberID: 1, Enabled: true},
			{GroupID: 1, MemberID: 1, Enabled: true},
			{GroupID: 2, MemberID: 2, Enabled: true},
		},
	}
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
	if vs := model.Validate(got); len(vs) > 0 {
		t.Errorf("legacy document does not validate: %v", vs.Strings())
	}
}

func TestParseMixedIDs(t *testing.T) {
	in := `
groups:
  - name: guests
  - id: 5
    name: kids
adlists:
  - id: 3
    url: https://a.example/hosts
  - url: https://b.example/hosts
    groups: [kids]
`
	got, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &model.Model{
		Groups: []model.Group{
			{ID: 5, Name: "kids", Enabled: true},
			{ID: 6, Name: "guests", Enabled: true},
		},
		Adlists: []model.Adlist{
			{ID: 3, URL: "https://a.example/hosts", Enabled: true},
			{ID: 4, URL: "https://b.example/hosts", Enabled: true},
		},
		AdlistGroups: []model.Membership{{GroupID: 5, MemberID: 4, Enabled: true}},
	}
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "empty document",
			in:   "",
			want: []string{"$: document is empty"},
		},
		{
			name: "not a mapping",
			in:   "- a\n- b\n",
			want: []string{"$: expected a mapping of sections, got a sequence"},
		},
		{
			name: "unknown top-level key",
			in:   "groups: []\nwhitelist: []\n",
			want: []string{"whitelist: unknown top-level key (expected one of groups, adlists, domains, clients, adlist_by_group, domainlist_by_group, client_by_group)"},
		},
		{
			name: "missing pattern",
			in:   "domains:\n  - id: 1\n    type: exact-block\n  - id: 2\n    pattern: ok.example\n    type: exact-block\n",
			want: []string{`domains[0].pattern: missing required key "pattern"`},
		},
		{
			name: "section is not a sequence",
			in:   "adlists:\n  url: https://a.example\n",
			want: []string{"adlists: expected a sequence, got a mapping"},
		},
		{
			name: "record is not a mapping",
			in:   "clients:\n  - 192.168.1.1\n",
			want: []string{`clients[0]: expected a mapping, got a scalar`},
		},
		{
			name: "bad scalars are all reported",
			in: `groups:
  - id: one
    name: g
    enabled: maybe
domains:
  - id: 1
    pattern: x.example
    type: wildcard
adlist_by_group:
  - group_id: 0
    adlist_id: [1]
`,
			want: []string{
				`groups[0].id: expected an integer, got "one"`,
				`groups[0].enabled: expected a boolean, got "maybe"`,
				`domains[0].type: expected one of exact-allow, exact-block, regex-allow, regex-block, got "wildcard"`,
				`adlist_by_group[0].adlist_id: expected an integer, got a sequence`,
			},
		},
		{
			name: "unknown record key",
			in:   "groups:\n  - id: 1\n    name: a\n    color: red\n",
			want: []string{"groups[0].color: unknown key"},
		},
		{
			name: "second document",
			in:   "groups: []\n---\nbogus: 1\n",
			want: []string{"$: expected a single YAML document, found more"},
		},
		{
			name: "unknown group in adlist groups",
			in:   "groups:\n  - name: kids\nadlists:\n  - url: https://a.example/hosts\n    groups: [kids, guests]\n",
			want: []string{`adlists[0].groups[1]: unknown group "guests"`},
		},
		{
			name: "adlist groups is not a sequence",
			in:   "adlists:\n  - url: https://a.example/hosts\n    groups: kids\n",
			want: []string{"adlists[0].groups: expected a sequence of group names, got a scalar"},
		},
		{
			name: "adlist description and comment",
			in:   "adlists:\n  - url: https://a.example/hosts\n    comment: a\n    description: b\n",
			want: []string{"adlists[0].description: cannot be combined with comment"},
		},
		{
			name: "null required key",
			in:   "adlists:\n  - id: 1\n    url: ~\n",
			want: []string{`adlists[0].url: missing required key "url"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.in))
			if err == nil {
				t.Fatalf("expected error, got model %+v", m)
			}
			if m != nil {
				t.Error("expected no model on failure")
			}
			var e *model.Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *model.Error, got %T: %v", err, err)
			}
			if e.Kind != model.KindMalformedDocument {
				t.Errorf("kind = %s, want %s", e.Kind, model.KindMalformedDocument)
			}
			if diff := cmp.Diff(tt.want, e.Problems); diff != "" {
				t.Errorf("problems mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("groups: [\n"))
	if !model.IsKind(err, model.KindMalformedDocument) {
		t.Fatalf("expected malformed document, got %v", err)
	}
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gravity.yaml")

	if err := WriteFile(path, sampleModel()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if diff := cmp.Diff(sampleModel().Normalize(), got, equateEmpty); diff != "" {
		t.Errorf("ReadFile mismatch (-want +got):\n%s", diff)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("groups: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = ReadFile(bad)
	var e *model.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *model.Error, got %v", err)
	}
	if e.Path != bad {
		t.Errorf("Path = %q, want %q", e.Path, bad)
	}

	if _, err := ReadFile(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
