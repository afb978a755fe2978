package sis8300

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

// pflag (not unreasonably) assumes it only ever gets called once; to
// run the command entry point repeatedly in tests the flag set has to
// be re-created each time.
func setup_pflag(args []string) {
	os.Args = args
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
}

func TestC109DryRunFixedTable(t *testing.T) {
	t.Setenv("RACC_DEV", "")
	t.Setenv("RACC_CLK_CONFIGS", "")

	setup_pflag([]string{"c109", "-T", "W", "-f", "109000000"})
	assert.Equal(t, 0, C109Main())
}

func TestC109DryRunSolver(t *testing.T) {
	t.Setenv("RACC_DEV", "")
	t.Setenv("RACC_CLK_CONFIGS", "")

	setup_pflag([]string{"c109", "-T", "W", "-I", "-f", "178000000"})
	assert.Equal(t, 0, C109Main())

	setup_pflag([]string{"c109", "-T", "N", "-I", "-f", "109000000"})
	assert.Equal(t, 0, C109Main())
}

func TestC109DryRunUnsolvable(t *testing.T) {
	t.Setenv("RACC_DEV", "")
	t.Setenv("RACC_CLK_CONFIGS", "")

	setup_pflag([]string{"c109", "-T", "W", "-I", "-f", "3000000000"})
	assert.Equal(t, 1, C109Main())
}

func TestC109DryRunNeedsFreq(t *testing.T) {
	t.Setenv("RACC_DEV", "")

	setup_pflag([]string{"c109", "-T", "W"})
	assert.Equal(t, 1, C109Main())
}

func TestC109BadModeArgument(t *testing.T) {
	t.Setenv("RACC_DEV", "")

	setup_pflag([]string{"c109", "-T", "X", "-f", "109000000"})
	assert.Equal(t, 1, C109Main())
}

func TestC109NoDevice(t *testing.T) {
	t.Setenv("RACC_DEV", "")

	setup_pflag([]string{"c109"})
	assert.Equal(t, 1, C109Main())
}

func TestC109ConfigConflicts(t *testing.T) {
	t.Setenv("RACC_DEV", "")

	setup_pflag([]string{"c109", "-C", "-T", "W", "10", "1", "218", "5", "10", "1"})
	assert.Equal(t, 1, C109Main())

	setup_pflag([]string{"c109", "-C", "-f", "109000000", "10", "1", "218", "5", "10", "1"})
	assert.Equal(t, 1, C109Main())

	/* -C wants all six coefficients */
	setup_pflag([]string{"c109", "-C", "10", "1", "218"})
	assert.Equal(t, 1, C109Main())
}
