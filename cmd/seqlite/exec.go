package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"

	mbp "go.seqlite.dev/core/mainboilerplate"
	"go.seqlite.dev/core/sqlite"
)

type cmdExec struct {
	Script bool   `long:"script" description:"Execute the statement as a multi-statement script"`
	Format string `long:"format" short:"o" choice:"table" choice:"json" choice:"yaml" default:"table" description:"Output format"`

	Args struct {
		Statement string   `positional-arg-name:"statement" description:"SQL statement to execute"`
		Params    []string `positional-arg-name:"params" description:"Positional statement parameters"`
	} `positional-args:"yes" required:"1"`
}

func init() {
	mustAddCmd("exec", "Execute a SQL statement", `
Execute a SQL statement against the database. Statements which produce
result rows are streamed; other statements report their last insert ID and
affected row count. Writes commit when the manager stops, unless
--db.autocommit is set.
`, &cmdExec{})
}

type execResult struct {
	LastInsertID int64 `json:"last_insert_id" yaml:"last_insert_id"`
	RowsAffected int64 `json:"rows_affected" yaml:"rows_affected"`
}

func (cmd *cmdExec) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var m = openDatabase(ctx)
	defer func() { mbp.Must(registry.Shutdown(), "failed to stop database manager") }()

	var params = make([]interface{}, len(cmd.Args.Params))
	for i, p := range cmd.Args.Params {
		params[i] = p
	}

	var cur *sqlite.Cursor
	var err error

	switch {
	case cmd.Script:
		cur, err = m.ExecuteScript(ctx, cmd.Args.Statement)
	case expectsRows(cmd.Args.Statement):
		cur, err = m.Query(ctx, cmd.Args.Statement, params...)
	default:
		cur, err = m.Execute(ctx, cmd.Args.Statement, params...)
	}
	mbp.Must(err, "failed to execute statement")

	if columns := cur.Columns(); columns != nil {
		cmd.outputRows(ctx, cur, columns)
	} else {
		cmd.outputResult(execResult{
			LastInsertID: cur.LastInsertID(),
			RowsAffected: cur.RowsAffected(),
		})
	}
	return nil
}

func (cmd *cmdExec) outputRows(ctx context.Context, cur *sqlite.Cursor, columns []string) {
	var tw *tablewriter.Table
	var docs []map[string]interface{}

	if cmd.Format == "table" {
		tw = tablewriter.NewTable(os.Stdout)
		tw.Header(cells(columns)...)
	}

	for {
		var row, ok, err = cur.Next(ctx)
		mbp.Must(err, "failed to fetch row")
		if !ok {
			break
		}

		switch cmd.Format {
		case "table":
			var out = make([]string, len(row))
			for i, v := range row {
				out[i] = formatValue(v)
			}
			mbp.Must(tw.Append(out), "failed to write output")
		case "json":
			mbp.Must(json.NewEncoder(os.Stdout).Encode(rowMap(columns, row)), "failed to encode to json")
		case "yaml":
			docs = append(docs, rowMap(columns, row))
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
}

func (cmd *cmdExec) outputResult(result execResult) {
	switch cmd.Format {
	case "table":
		var tw = tablewriter.NewTable(os.Stdout)
		tw.Header("Last Insert ID", "Rows Affected")
		mbp.Must(tw.Append([]string{
			formatValue(result.LastInsertID),
			formatValue(result.RowsAffected),
		}), "failed to write output")
		mbp.Must(tw.Render(), "failed to write output")
	case "json":
		mbp.Must(json.NewEncoder(os.Stdout).Encode(result), "failed to encode to json")
	case "yaml":
		b, err := yaml.Marshal(result)
		mbp.Must(err, "failed to encode to yaml")
		_, _ = os.Stdout.Write(b)
	}
}

func rowMap(columns []string, row sqlite.Row) map[string]interface{} {
	var out = make(map[string]interface{}, len(columns))
	for i, c := range columns {
		out[c] = row[i]
	}
	return out
}

// expectsRows guesses whether |statement| produces result rows, selecting
// between the Query and Execute paths.
func expectsRows(statement string) bool {
	var fields = strings.Fields(strings.ToUpper(statement))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "SELECT", "VALUES", "WITH", "PRAGMA", "EXPLAIN":
		return true
	}
	for _, f := range fields {
		if f == "RETURNING" {
			return true
		}
	}
	return false
}
