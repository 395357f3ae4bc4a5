package storage

import (
	"context"
	"fmt"
	"slices"
)

type tableSchema struct {
	name    string
	columns []string
}

// expectedSchema lists the tables and columns this tool reads or writes.
// Other columns Pi-hole keeps (date_added, number, status, ...) are left to
// their defaults and triggers.
var expectedSchema = []tableSchema{
	{name: "group", columns: []string{"id", "enabled", "name", "description"}},
	{name: "adlist", columns: []string{"id", "address", "enabled", "comment"}},
	{name: "domainlist", columns: []string{"id", "type", "domain", "enabled", "comment"}},
	{name: "client", columns: []string{"id", "ip", "comment"}},
	{name: adlistLinks.table, columns: []string{adlistLinks.memberColumn, "group_id"}},
	{name: domainLinks.table, columns: []string{domainLinks.memberColumn, "group_id"}},
	{name: clientLinks.table, columns: []string{clientLinks.memberColumn, "group_id"}},
}

// checkSchema returns one problem per missing table or column.
func checkSchema(ctx context.Context, q querier) ([]string, error) {
	var problems []string
	for _, t := range expectedSchema {
		cols, err := tableColumns(ctx, q, t.name)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			problems = append(problems, fmt.Sprintf("table %q is missing", t.name))
			continue
		}
		for _, c := range t.columns {
			if !slices.Contains(cols, c) {
				problems = append(problems, fmt.Sprintf("table %q: column %q is missing", t.name, c))
			}
		}
	}
	return problems, nil
}

func tableColumns(ctx context.Context, q querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
