package sis8300

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every shipped configuration must satisfy the device limits of its
// variant.
func TestFixedConfigsAreLegal(t *testing.T) {
	for _, cfg := range si5326Configs_wb {
		assert.NoError(t, si53xx_limits(true).validate(&cfg.Parms), "wb %dHz", cfg.Fout)
	}
	for _, cfg := range si5326Configs_nb {
		assert.NoError(t, si53xx_limits(false).validate(&cfg.Parms), "nb %dHz", cfg.Fout)
	}
}

func TestFindFixedConfig(t *testing.T) {
	var cfgs, err = si5326_fixed_configs(Si5326_WidebandMode, "")
	require.NoError(t, err)

	// Direct hit bypasses the AD9510 divider.
	var p, clkhl = si5326_find_fixed(cfgs, 109000000)
	require.NotNil(t, p)
	assert.Equal(t, uint64(10), p.N3)
	assert.Equal(t, uint32(SIS8300_BYPASS_9510_DIVIDER), clkhl)

	// Half of a table frequency engages the divide-by-two.
	p, clkhl = si5326_find_fixed(cfgs, 250000000)
	require.NotNil(t, p)
	assert.Equal(t, uint64(500000000), p.Fin*p.N2h*p.N2l/(p.N3*p.N1h*p.Nc))
	assert.Equal(t, uint32(0), clkhl)

	p, _ = si5326_find_fixed(cfgs, 123456789)
	assert.Nil(t, p)
}

func TestFixedConfigsYAMLOverride(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "clocks.yaml")

	var doc = `
wideband:
  - fout: 88000000
    parms:
      fin: 250000000
      n3: 5
      n2h: 1
      n2l: 100
      n1h: 8
      nc: 2
      bwsel: 2
      wb: true
narrowband: []
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	var cfgs, err = si5326_fixed_configs(Si5326_WidebandMode, path)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, uint64(88000000), cfgs[0].Fout)
	assert.Equal(t, uint64(100), cfgs[0].Parms.N2l)
	assert.True(t, cfgs[0].Parms.Wb)

	var nb, err2 = si5326_fixed_configs(Si5326_NarrowbandMode, path)
	require.NoError(t, err2)
	assert.Empty(t, nb)

	_, err = si5326_fixed_configs(Si5326_WidebandMode, filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalidParam)
}
