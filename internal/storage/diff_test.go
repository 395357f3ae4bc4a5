package storage

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"gravityyaml/internal/model"
)

func TestDiffEntities(t *testing.T) {
	current := []model.Adlist{
		{ID: 1, URL: "https://a.example", Enabled: true},
		{ID: 2, URL: "https://b.example", Enabled: true},
		{ID: 4, URL: "https://d.example", Enabled: true},
	}
	desired := []model.Adlist{
		{ID: 5, URL: "https://e.example", Enabled: true},
		{ID: 2, URL: "https://b.example", Enabled: false},
		{ID: 1, URL: "https://a.example", Enabled: true},
		{ID: 3, URL: "https://c.example", Enabled: true},
	}

	got := diffEntities(current, desired, func(a model.Adlist) int64 { return a.ID })
	want := entityPlan[model.Adlist]{
		Insert: []model.Adlist{
			{ID: 3, URL: "https://c.example", Enabled: true},
			{ID: 5, URL: "https://e.example", Enabled: true},
		},
		Update: []model.Adlist{{ID: 2, URL: "https://b.example", Enabled: false}},
		Delete: []int64{4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diffEntities mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffGroupsKeepsDefault(t *testing.T) {
	current := []model.Group{
		{ID: 0, Name: "Default", Enabled: true},
		{ID: 1, Name: "kids", Enabled: true},
	}
	got := diffGroups(current, nil)
	if diff := cmp.Diff([]int64{1}, got.Delete); diff != "" {
		t.Errorf("deletes mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffMemberships(t *testing.T) {
	current := []model.Membership{
		{GroupID: 0, MemberID: 1, Enabled: true},
		{GroupID: 0, MemberID: 2, Enabled: true},
		{GroupID: 1, MemberID: 1, Enabled: true},
	}
	desired := []model.Membership{
		{GroupID: 2, MemberID: 1, Enabled: true},
		{GroupID: 1, MemberID: 1, Enabled: false},
		{GroupID: 0, MemberID: 1, Enabled: true},
		{GroupID: 2, MemberID: 1, Enabled: true},
	}

	tests := []struct {
		name        string
		keepDefault bool
		want        linkPlan
	}{
		{
			name: "default group declared",
			want: linkPlan{
				Insert: []model.Membership{{GroupID: 2, MemberID: 1, Enabled: true}},
				Delete: []model.Membership{
					{GroupID: 0, MemberID: 2, Enabled: true},
					{GroupID: 1, MemberID: 1, Enabled: true},
				},
			},
		},
		{
			name:        "default group omitted",
			keepDefault: true,
			want: linkPlan{
				Insert: []model.Membership{{GroupID: 2, MemberID: 1, Enabled: true}},
				Delete: []model.Membership{{GroupID: 1, MemberID: 1, Enabled: true}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffMemberships(current, desired, tt.keepDefault)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("diffMemberships mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReportChanged(t *testing.T) {
	r := &ReconcileReport{Tables: []TableChanges{{Table: "group"}, {Table: "adlist"}}}
	if r.Changed() {
		t.Error("expected no changes")
	}
	r.Tables[1].Deleted = 1
	if !r.Changed() {
		t.Error("expected changes")
	}
	if diff := cmp.Diff(TableChanges{Table: "client"}, r.Table("client")); diff != "" {
		t.Errorf("Table() mismatch (-want +got):\n%s", diff)
	}
}

func TestMovedKeys(t *testing.T) {
	current := []model.Group{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}
	updates := []model.Group{{ID: 1, Name: "b", Enabled: true}, {ID: 2, Name: "a"}, {ID: 3, Name: "c", Description: "same name"}, {ID: 4, Name: "new"}}

	got := movedKeys(current, updates,
		func(g model.Group) int64 { return g.ID },
		func(g model.Group) string { return g.Name })
	if diff := cmp.Diff([]int64{1, 2}, got); diff != "" {
		t.Errorf("movedKeys mismatch (-want +got):\n%s", diff)
	}
}
