package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"

	mbp "go.seqlite.dev/core/mainboilerplate"
	"go.seqlite.dev/core/table"
)

type cmdDump struct {
	Table  string `long:"table" short:"t" required:"true" description:"Name of the table to dump"`
	Format string `long:"format" short:"o" choice:"table" choice:"json" choice:"yaml" default:"table" description:"Output format"`
	Limit  int    `long:"limit" short:"n" default:"0" description:"Maximum number of records to write. If 0, every record is written"`
}

func init() {
	mustAddCmd("dump", "Dump records of a table", `
Dump the records of a table, reconstructing its column definition from the
stored schema. JSON output streams one object per record; table and yaml
output buffer the selection.
`, &cmdDump{})
}

func (cmd *cmdDump) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var m = openDatabase(ctx)
	defer func() { mbp.Must(registry.Shutdown(), "failed to stop database manager") }()

	var tbl, err = table.FromDatabase(ctx, cmd.Table, m, table.Options{})
	mbp.Must(err, "failed to load table definition", "table", cmd.Table)

	var names = tbl.Shape().Names()
	var tw *tablewriter.Table
	var docs []map[string]interface{}

	if cmd.Format == "table" {
		tw = tablewriter.NewTable(os.Stdout)
		tw.Header(cells(names)...)
	}

	var it = tbl.Select(nil)
	defer it.Close()

	for n := 0; cmd.Limit <= 0 || n < cmd.Limit; n++ {
		var record, ok, err = it.Next(ctx)
		mbp.Must(err, "failed to read record", "table", cmd.Table)
		if !ok {
			break
		}

		switch cmd.Format {
		case "table":
			var row = make([]string, len(names))
			for i := range names {
				row[i] = formatValue(record.At(i))
			}
			mbp.Must(tw.Append(row), "failed to write output")
		case "json":
			mbp.Must(json.NewEncoder(os.Stdout).Encode(record.Map()), "failed to encode to json")
		case "yaml":
			docs = append(docs, record.Map())
		}
	}

	switch cmd.Format {
	case "table":
		mbp.Must(tw.Render(), "failed to write output")
	case "yaml":
		b, err := yaml.Marshal(docs)
		mbp.Must(err, "failed to encode to yaml")
		_, _ = os.Stdout.Write(b)
	}
	return nil
}
