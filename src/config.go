package sis8300

/*------------------------------------------------------------------
 *
 * Purpose:   	Hand-tuned Si5326 divider configurations.
 *
 * Description:	A few output frequencies have known-good settings that
 *		were verified on hardware (and in dspllsim); those are
 *		preferred over the solver's output unless the user asks
 *		to ignore them. A YAML file named by the
 *		RACC_CLK_CONFIGS environment variable can replace the
 *		built-in tables.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Si5326Config struct {
	Fout  uint64      `yaml:"fout"`
	Parms Si5326Parms `yaml:"parms"`
}

var si5326Configs_wb = []Si5326Config{
	{ /* 109MHz wideband */
		Fout: 109000000,
		Parms: Si5326Parms{
			Fin: 250000000,
			N3:  10,
			/* f3 = 25Mhz */
			N2h: 1,
			N2l: 109 * 2,
			/* fo = 50*109 MHz */
			N1h:   5,
			Nc:    10,
			Bwsel: 1,
			Wb:    true,
		},
	},

	{ /* 500MHz wideband */
		Fout: 500000000,
		Parms: Si5326Parms{
			Fin: 250000000,
			N3:  2,
			/* f3 = 125Mhz */
			N2h: 1,
			N2l: 44,
			/* fo = 44*125 MHz */
			N1h:   11,
			Nc:    1,
			Bwsel: 2,
			Wb:    true,
		},
	},
}

var si5326Configs_nb = []Si5326Config{
	{ /* 109MHz narrow-band (218MHz, AD9510 divides by two) */
		Fout: 218000000,
		Parms: Si5326Parms{
			Fin: 250000000,
			N3:  125,
			/* f3 = 2Mhz */
			N2h: 4,
			N2l: 654,
			/* fo = 48*109 MHz; fout = 2*109 MHz */
			N1h:   6,
			Nc:    4,
			Bwsel: 5,
			Wb:    false,
		},
	},
}

type si5326_config_file struct {
	Wideband   []Si5326Config `yaml:"wideband"`
	Narrowband []Si5326Config `yaml:"narrowband"`
}

/*
 * Load fixed configurations for the given operating mode. The
 * built-in tables are used unless 'path' (usually from
 * RACC_CLK_CONFIGS) names a YAML override file.
 */
func si5326_fixed_configs(mode Si5326Mode, path string) ([]Si5326Config, error) {
	var wb = si5326Configs_wb
	var nb = si5326Configs_nb

	if path != "" {
		var data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: clock configs: %v", ErrInvalidParam, err)
		}
		var f si5326_config_file
		if err = yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: clock configs %s: %v", ErrInvalidParam, path, err)
		}
		wb = f.Wideband
		nb = f.Narrowband
	}

	if mode == Si5326_WidebandMode {
		return wb, nil
	}
	return nb, nil
}

/*
 * Look up a fixed configuration for the requested output frequency.
 * A table entry matches directly (AD9510 divider bypassed) or at
 * twice the frequency (AD9510 divides by two).
 *
 * RETURNS: the matching parameters and the clkhl value to use, or nil
 *          when the frequency has no fixed entry.
 */
func si5326_find_fixed(cfgs []Si5326Config, freq uint64) (*Si5326Parms, uint32) {
	for i := range cfgs {
		if cfgs[i].Fout == 0 {
			break
		}
		if freq == cfgs[i].Fout {
			return &cfgs[i].Parms, SIS8300_BYPASS_9510_DIVIDER
		}
		if 2*freq == cfgs[i].Fout {
			return &cfgs[i].Parms, 0
		}
	}
	return nil, 0
}
