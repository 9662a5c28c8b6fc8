package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevelRoundTrip(t *testing.T) {
	for _, lvl := range []int{TraceLevel, DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel} {
		require.Equal(t, lvl, ParseLevel(LogLevelToString(lvl)))
	}
	require.Equal(t, WarnLevel, ParseLevel(" warning "))
	require.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WarnLevel)
	l.Info("hidden")
	l.WithField("split", "train").Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), "split=train")
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
	l := Nop()
	require.Equal(t, l, OrNop(l))
}
