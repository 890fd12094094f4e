package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"

	mbp "go.seqlite.dev/core/mainboilerplate"
)

type cmdTables struct {
	Format string `long:"format" short:"o" choice:"table" choice:"json" choice:"yaml" default:"table" description:"Output format"`
}

func init() {
	mustAddCmd("tables", "List tables of the database", `
List every table of the database, with its column names and record count.
`, &cmdTables{})
}

type tableInfo struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
	Records int64    `json:"records" yaml:"records"`
}

func (cmd *cmdTables) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var m = openDatabase(ctx)
	defer func() { mbp.Must(registry.Shutdown(), "failed to stop database manager") }()

	var cur, err = m.Query(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	mbp.Must(err, "failed to list tables")

	rows, err := cur.FetchAll(ctx)
	mbp.Must(err, "failed to list tables")

	var infos []tableInfo
	for _, row := range rows {
		var info = tableInfo{Name: formatValue(row[0])}

		columns, err := m.Query(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, info.Name)
		mbp.Must(err, "failed to inspect table", "table", info.Name)
		colRows, err := columns.FetchAll(ctx)
		mbp.Must(err, "failed to inspect table", "table", info.Name)
		for _, c := range colRows {
			info.Columns = append(info.Columns, formatValue(c[0]))
		}

		count, err := m.Query(ctx, `SELECT COUNT(*) FROM "`+info.Name+`"`)
		mbp.Must(err, "failed to count records", "table", info.Name)
		countRow, err := count.FetchOne(ctx)
		mbp.Must(err, "failed to count records", "table", info.Name)
		info.Records = countRow[0].(int64)

		infos = append(infos, info)
	}

	switch cmd.Format {
	case "table":
		var tw = tablewriter.NewTable(os.Stdout)
		tw.Header("Name", "Columns", "Records")
		for _, info := range infos {
			mbp.Must(tw.Append([]string{
				info.Name,
				strings.Join(info.Columns, ", "),
				formatValue(info.Records),
			}), "failed to write output")
		}
		mbp.Must(tw.Render(), "failed to write output")
	case "json":
		mbp.Must(json.NewEncoder(os.Stdout).Encode(infos), "failed to encode to json")
	case "yaml":
		b, err := yaml.Marshal(infos)
		mbp.Must(err, "failed to encode to yaml")
		_, _ = os.Stdout.Write(b)
	}
	return nil
}
