package main

import (
	"context"
	"fmt"

	"github.com/jessevdk/go-flags"

	"go.seqlite.dev/core/codecs"
	mbp "go.seqlite.dev/core/mainboilerplate"
	"go.seqlite.dev/core/sqlite"
)

const iniFilename = "seqlite.ini"

var (
	baseCfg = new(struct {
		Log mbp.LogConfig    `group:"Logging" namespace:"log" env-namespace:"LOG"`
		DB  sqlite.Connector `group:"Database" namespace:"db" env-namespace:"DB"`
	})

	parser   = flags.NewParser(baseCfg, flags.Default)
	registry = sqlite.NewRegistry()
)

// startup initializes logging from the parsed configuration.
func startup() {
	mbp.InitLog(baseCfg.Log)
}

// openDatabase opens and starts the Manager of the configured database.
// Commands pair it with a deferred registry.Shutdown.
func openDatabase(ctx context.Context) *sqlite.Manager {
	registry.Codecs = codecs.Builtin()

	var m, err = registry.Open(baseCfg.DB)
	mbp.Must(err, "failed to open database", "path", baseCfg.DB.Path)
	mbp.Must(m.Start(ctx), "failed to start database manager")
	return m
}

func mustAddCmd(name, short, long string, cfg interface{}) *flags.Command {
	var cmd, err = parser.Command.AddCommand(name, short, long, cfg)
	mbp.Must(err, "failed to add command")
	return cmd
}

// cells widens |row| for the variadic tablewriter surface.
func cells(row []string) []interface{} {
	var out = make([]interface{}, len(row))
	for i, c := range row {
		out[i] = c
	}
	return out
}

// formatValue renders |v| as a table output cell.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func init() {
	mbp.AddPrintConfigCmd(parser, iniFilename)
}

func main() {
	mbp.MustParseConfig(parser, iniFilename)
}
