package mainboilerplate

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfigSearchPathOrdersWorkingDirFirst(t *testing.T) {
	t.Setenv("HOME", "/home/test")

	require.Equal(t, []string{".", "/home/test/.config/seqlite"}, configSearchPath())
}

func TestInitLogAppliesLevel(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	InitLog(LogConfig{Level: "debug", Format: "json"})
	require.Equal(t, log.DebugLevel, log.GetLevel())

	InitLog(LogConfig{Level: "info", Format: "text"})
	require.Equal(t, log.InfoLevel, log.GetLevel())
}
