package table

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// GeneratedPrefix marks a column default literal as naming a value
// generator rather than a static value. It round-trips through the
// database schema, so a table definition read back with FromDatabase
// re-binds the generators of the definition which created it.
const GeneratedPrefix = "$Generated:"

// Column describes one column of a table.
type Column struct {
	// Name of the column. It must be a bare SQL identifier.
	Name string
	// Type is the declared column type, such as INTEGER or JSON. Codecs
	// and value generators are keyed by declared type and generator name,
	// never by SQLite's storage classes.
	Type string
	// Default is the static value of the column when an inserted record
	// omits it and no Generator is named.
	Default interface{}
	// Generator names a registered value generator producing the column's
	// value when an inserted record omits it. A Generator takes precedence
	// over Default.
	Generator string
	// Primary marks the column PRIMARY KEY.
	Primary bool
	// Unique marks the column UNIQUE.
	Unique bool
	// NotNull forbids NULL values. Inserting a record which resolves the
	// column to NULL fails at record construction.
	NotNull bool
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c Column) validate() error {
	if !identifierRE.MatchString(c.Name) {
		return errors.Errorf("invalid column name %q", c.Name)
	} else if c.Type == "" {
		return errors.Errorf("column %q has no declared type", c.Name)
	}
	return nil
}

// Nonrepeating returns whether the column participates in record identity.
func (c Column) Nonrepeating() bool { return c.Primary || c.Unique }

// DDL returns the SQL fragment declaring the column within CREATE TABLE.
// A column with a Generator is declared with the sentinel default
// '$Generated:<name>', preserving the binding in the schema itself.
func (c Column) DDL() string {
	var b strings.Builder
	b.WriteString(`"` + c.Name + `" `)
	b.WriteString(c.Type)

	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Primary {
		b.WriteString(" PRIMARY KEY")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.Generator != "" {
		b.WriteString(" DEFAULT '" + GeneratedPrefix + c.Generator + "'")
	} else if c.Default != nil {
		b.WriteString(" DEFAULT " + sqliteLiteral(c.Default))
	}
	return b.String()
}

// sqliteLiteral renders |v| as an SQL literal for use within DDL.
func sqliteLiteral(v interface{}) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case []byte:
		return "X'" + hex.EncodeToString(t) + "'"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return "'" + t.UTC().Format(time.RFC3339Nano) + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(t), "'", "''") + "'"
	}
}

// parseColumnDDL builds a Column from one column declaration of a CREATE
// TABLE statement, recognizing the constraints written by Column.DDL.
// Defaults are not parsed here; they come from pragma_table_info.
func parseColumnDDL(decl string) (Column, error) {
	var fields = strings.Fields(decl)
	if len(fields) < 2 {
		return Column{}, errors.Errorf("invalid column declaration %q", decl)
	}
	var upper = strings.ToUpper(decl)
	var c = Column{
		Name:    strings.Trim(fields[0], "\"'`"),
		Type:    fields[1],
		Primary: strings.Contains(upper, "PRIMARY KEY"),
		Unique:  strings.Contains(upper, "UNIQUE"),
		NotNull: strings.Contains(upper, "NOT NULL"),
	}
	return c, c.validate()
}

// splitColumnDDLs splits the parenthesized body of a CREATE TABLE
// statement into individual column declarations, respecting quoting and
// nested parentheses.
func splitColumnDDLs(body string) []string {
	var out []string
	var depth, start int
	var quote byte

	for i := 0; i < len(body); i++ {
		var ch = body[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case ch == ',' && depth == 0:
			out = append(out, strings.TrimSpace(body[start:i]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(body[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
