// Package mainboilerplate contains shared boilerplate for programs built
// around seqlite databases. It provides a selection of narrowly scoped
// helpers so callers do not have to buy in to an all-or-nothing approach.
package mainboilerplate

import (
	log "github.com/sirupsen/logrus"
)

var (
	// Version of this build, populated at build time.
	Version = "development"
	// BuildDate of this build, populated at build time.
	BuildDate = "unknown"
)

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}
