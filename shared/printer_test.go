package shared

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufHook struct {
	sb     strings.Builder
	closed bool
}

func (b *bufHook) WriteString(s string) (int, error) { return b.sb.WriteString(s) }
func (b *bufHook) Close() error                      { b.closed = true; return nil }

func TestPrinterRequiresHooks(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)

	_, err = NewPrinter("  ", nil)
	assert.Error(t, err)
}

func TestPrinterIndentsEveryLine(t *testing.T) {
	hook := &bufHook{}
	p, err := NewPrinter("> ", hook)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("first\nsecond", 1))
	assert.Equal(t, "> first\n> second\n", hook.sb.String())
}

func TestPrinterFansOutToAllHooks(t *testing.T) {
	first, second := &bufHook{}, &bufHook{}
	p, err := NewPrinter("", first, second)
	require.NoError(t, err)

	require.NoError(t, p.Write("hello", 0))
	assert.Equal(t, "hello", first.sb.String())
	assert.Equal(t, "hello", second.sb.String())

	require.NoError(t, p.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}
