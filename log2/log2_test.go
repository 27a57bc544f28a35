package log2

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFilter(t *testing.T) {
	t.Parallel()

	sb := strings.Builder{}
	l := NewWriter(&sb, LInfo)
	l.SetFlags(0)
	l.Debugf("should be hidden")
	l.Infof("info-visible")
	l.Warningf("warning-visible")
	l.Errorf("error-visible")
	out := sb.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "info-visible")
	assert.Contains(t, out, "warning: warning-visible")
	assert.Contains(t, out, "error: error-visible")
}

func TestNilSafe(t *testing.T) {
	t.Parallel()

	var l *Log
	l.SetLevel(LAll)
	l.Errorf("do not crash")
	assert.False(t, l.Enabled(LError))
	assert.Nil(t, l.Clone(LDebug))
}

func TestSetLevel(t *testing.T) {
	t.Parallel()

	sb := strings.Builder{}
	l := NewWriter(&sb, LError)
	l.SetFlags(0)
	l.Debugf("hidden-1")
	l.SetLevel(LDebug)
	l.Debugf("shown-2")
	assert.NotContains(t, sb.String(), "hidden-1")
	assert.Contains(t, sb.String(), "shown-2")
}
