package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// configSearchPath returns the directories searched for an INI
// configuration file, in precedence order: the working directory first,
// then the user's ~/.config/seqlite.
func configSearchPath() []string {
	var home = os.Getenv("HOME")
	if home == "" {
		home = os.Getenv("UserProfile")
	}
	return []string{".", filepath.Join(home, ".config", "seqlite")}
}

// MustParseConfig parses the layered configuration of |parser|: an
// optional INI file named |configName| found on the search path, then
// environment bindings, then command-line flags. Later layers override
// earlier ones. Parse failures exit the program.
func MustParseConfig(parser *flags.Parser, configName string) {
	// Unknown keys are tolerated within the INI file only: a shared file
	// may configure several binaries.
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown

	var iniParser = flags.NewIniParser(parser)
	for _, dir := range configSearchPath() {
		var err = iniParser.ParseFile(filepath.Join(dir, configName))
		if err == nil {
			break
		} else if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	parser.Options = origOptions

	MustParseArgs(parser)
}

// MustParseArgs parses command-line arguments with |parser|, exiting the
// program on error.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		// The configuration struct itself is malformed, which no input
		// can remedy.
		panic(err)

	case flags.ErrCommandRequired, flags.ErrHelp:
		// Follow go-flags' own message with the full usage and build
		// version, unless it already printed the help text.
		if flagErr.Type == flags.ErrCommandRequired || parser.Options&flags.PrintErrors == 0 {
			os.Stderr.WriteString("\n")
			parser.WriteHelp(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
		os.Exit(1)

	default:
		// go-flags already reported the input problem.
		os.Exit(1)
	}
}

// AddPrintConfigCmd registers a "print-config" command on |parser| which
// writes the fully layered configuration to stdout as INI, so users can
// verify what a binary will actually run with.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config writes the configuration resolved from `+configName+`,
environment variables, and flags to stdout in INI format.
`, &printConfig{parser})
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	var ini = flags.NewIniParser(p.Parser)
	ini.Write(os.Stdout, flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
