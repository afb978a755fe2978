package sis8300

/*------------------------------------------------------------------
 *
 * Purpose:   	Clock configuration utility for the SIS8300 digitizer
 *		("c109": configure the 109MHz et al. sampling clocks).
 *
 * Description:	Detects the Si5326 operating mode, computes or looks up
 *		divider settings for a requested output frequency and
 *		programs the whole clock distribution chain. Can also
 *		run dry (-T) to just print divider settings for a
 *		frequency without touching any hardware.
 *
 * Usage:	c109 [ options ]
 *
 *		The device node comes from -d or the RACC_DEV
 *		environment variable.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

func c109_usage() {
	var nm = os.Args[0]
	fmt.Fprintf(os.Stderr, "Usage: %s [-d device] [-f freq] [-L loop_bandwidth] [-qh] [-S] [-b] [-B] [-N nblks] [-4] [-T W|N] [-C] <config>\n\n", nm)
	fmt.Fprintf(os.Stderr, "           -h         : print this message\n")
	fmt.Fprintf(os.Stderr, "           -q         : query Si5326 operating mode only\n")
	fmt.Fprintf(os.Stderr, "           -d device  : use 'device' (path to dev-node)\n")
	fmt.Fprintf(os.Stderr, "           -S         : set muxes to use si5326 clock\n")
	fmt.Fprintf(os.Stderr, "           -b         : do not bypass 9510 dividers (only if -S in wide-band mode)\n")
	fmt.Fprintf(os.Stderr, "           -B         : enforce bypass of 9510 dividers\n")
	fmt.Fprintf(os.Stderr, "           -e         : disable external trigger (enabled by default)\n")
	fmt.Fprintf(os.Stderr, "           -N nblks   : number of sample blocks (16 samples) per channel\n")
	fmt.Fprintf(os.Stderr, "                        - defaults to 2.\n")
	fmt.Fprintf(os.Stderr, "           -4         : use channels 2,4,6,8 only\n")
	fmt.Fprintf(os.Stderr, "           -f freq    : program Si5326 for output frequency 'freq'\n")
	fmt.Fprintf(os.Stderr, "                        (implies -S)\n")
	fmt.Fprintf(os.Stderr, "           -T W|N     : only compute divider settings w/o accessing the device.\n")
	fmt.Fprintf(os.Stderr, "                        Requires '-f'. The user must specify the device mode\n")
	fmt.Fprintf(os.Stderr, "                        ('W'ide- or 'N'arrow-band).\n")
	fmt.Fprintf(os.Stderr, "           -L bw      : Set PLL loop bandwidth\n")
	fmt.Fprintf(os.Stderr, "           -C         : read config parameters <n3> <n2h> <n2l> <n1h> <nc> <bwsel>\n")
	fmt.Fprintf(os.Stderr, "           -I         : ignore fixed, hard-configured configurations\n")
	fmt.Fprintf(os.Stderr, "           -v         : be verbose\n")
}

func C109Main() int {
	var help = pflag.BoolP("help", "h", false, "print this message")
	var query = pflag.BoolP("query", "q", false, "query Si5326 operating mode only")
	var dev_path = pflag.StringP("device", "d", os.Getenv("RACC_DEV"), "path to dev-node")
	var use_si5326 = pflag.BoolP("si5326", "S", false, "set muxes to use si5326 clock")
	var no_bypass = pflag.BoolP("no-bypass", "b", false, "do not bypass 9510 dividers")
	var force_bypass = pflag.BoolP("bypass", "B", false, "enforce bypass of 9510 dividers")
	var no_exttrig = pflag.BoolP("no-exttrig", "e", false, "disable external trigger")
	var nblks = pflag.IntP("nblks", "N", 2, "number of sample blocks (16 samples) per channel")
	var four = pflag.BoolP("four", "4", false, "use channels 2,4,6,8 only")
	var freq = pflag.Uint64P("freq", "f", 0, "program Si5326 for this output frequency (Hz)")
	var do_config = pflag.BoolP("config", "C", false, "read raw config parameters")
	var dry_mode = pflag.StringP("dry-run", "T", "", "compute only; device mode W or N")
	var ignore_fixed = pflag.BoolP("ignore-fixed", "I", false, "ignore fixed, hard-configured configurations")
	var verbose = pflag.BoolP("verbose", "v", false, "be verbose")
	var bw = pflag.Uint64P("bandwidth", "L", 0, "PLL loop bandwidth (Hz)")

	pflag.Parse()

	if *help {
		c109_usage()
		return 0
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	var sel = Sis8300ChannelSel(0xa987654321)
	if *four {
		sel = 0x8642
	}

	var fout_req = *freq
	if *use_si5326 && fout_req == 0 {
		fout_req = 109000000
	}

	var mode = Si5326_Error
	switch strings.ToUpper(*dry_mode) {
	case "":
	case "W":
		mode = Si5326_WidebandMode
	case "N":
		mode = Si5326_NarrowbandMode
	default:
		fmt.Fprintf(os.Stderr, "Option -T needs 'W' or 'N' argument\n")
		return 1
	}

	var parms Si5326Parms
	parms.Bw = *bw

	if *do_config {
		if mode != Si5326_Error {
			fmt.Fprintf(os.Stderr, "Cannot use both: -C and -T\n")
			return 1
		}
		if fout_req > 0 {
			fmt.Fprintf(os.Stderr, "Cannot use both: -C and -f\n")
			return 1
		}
		var args = pflag.Args()
		if len(args) < 6 {
			fmt.Fprintf(os.Stderr, "Option -C needs 6 configuration parameters\n")
			return 1
		}
		var pp = []*uint64{&parms.N3, &parms.N2h, &parms.N2l, &parms.N1h, &parms.Nc}
		for i := range pp {
			var v, err = strconv.ParseUint(args[i], 0, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Option -C: unable to scan parameter %d\n", i+1)
				return 1
			}
			*pp[i] = v
		}
		var bwsel, err = strconv.ParseInt(args[5], 0, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Option -C: unable to scan parameter 6\n")
			return 1
		}
		parms.Bwsel = int(bwsel)
		parms.Fin = 250000000
		parms.Wb = false
	}

	/* Unlike the old getopt tool, precedence here is independent of
	 * where the flags sit on the command line: -B always beats -b
	 * (getopt honoured whichever came last), and -S only fills in the
	 * 109MHz default instead of stomping an earlier -f.
	 */
	var div_clkhl uint32 = SIS8300_BYPASS_9510_DIVIDER
	if fout_req == 0 {
		div_clkhl = 0
	}
	if *no_bypass {
		div_clkhl = 0
	}
	if *force_bypass {
		div_clkhl = SIS8300_BYPASS_9510_DIVIDER
	}

	var device *Device
	var err error

	if mode == Si5326_Error {
		if *dev_path == "" {
			fmt.Fprintf(os.Stderr, "No device - use '-d <device>' or set RACC_DEV env_var\n")
			return 1
		}
		if device, err = Open(*dev_path); err != nil {
			return 1
		}
		defer device.Close()
	} else {
		if fout_req == 0 {
			fmt.Fprintf(os.Stderr, "if you use -T you must also use -f\n")
			return 1
		}
		*query = false
	}

	var si5326_clk *Si5326Parms

	if fout_req > 0 || *do_config || *query {
		if mode == Si5326_Error {
			if mode, err = Sis8300ClkDetect(device); err != nil {
				log.Error("clock detection failed", "err", err)
				return 1
			}
		}

		switch mode {
		case Si5326_NoReference:
			fmt.Println("Si5326 - no reference detected")
			return 1
		case Si5326_NarrowbandMode:
			if device != nil {
				fmt.Println("Si5326 - operating in narrow-band mode")
			}
		case Si5326_WidebandMode:
			if device != nil {
				fmt.Println("Si5326 - operating in wide-band mode")
			}
			parms.Wb = true
		default:
			fmt.Fprintf(os.Stderr, "Sis8300ClkDetect - unknown result %d\n", mode)
			return 1
		}

		if *query {
			/* query operating mode only */
			return 0
		}

		var cfgs []Si5326Config
		if !*ignore_fixed {
			if cfgs, err = si5326_fixed_configs(mode, os.Getenv("RACC_CLK_CONFIGS")); err != nil {
				log.Error("loading clock configurations failed", "err", err)
				return 1
			}
		}

		if fout_req > 0 {
			var fixed, clkhl = si5326_find_fixed(cfgs, fout_req)
			if fixed != nil {
				si5326_clk = fixed
				div_clkhl = clkhl
			} else {
				parms.Fin = 250000000
				parms.Wb = mode == Si5326_WidebandMode
				if err = si53xx_calcParms(fout_req, &parms, *verbose); err != nil {
					fmt.Fprintf(os.Stderr, "Sorry, no configuration for output frequency %dHz found\n", fout_req)
					return 1
				}
				si5326_clk = &parms
			}
		}

		if *do_config {
			si5326_clk = &parms
		}
	}

	if device != nil {
		var opts = DigiSetupOpts{
			ExtTrig:          !*no_exttrig,
			SiteTriggerProbe: true,
		}
		if err = Sis8300DigiSetup(device, si5326_clk, div_clkhl, opts); err != nil {
			log.Error("digitizer setup failed", "err", err)
			return 1
		}
		if err = Sis8300DigiSetCount(device, sel, uint32(*nblks)*16); err != nil {
			log.Error("setting sample count failed", "err", err)
		}
	}

	if *verbose || device == nil {
		var fout uint64
		if si5326_clk != nil {
			fout = si5326_clk.Fin * si5326_clk.N2h * si5326_clk.N2l
			fout /= si5326_clk.N3 * si5326_clk.N1h * si5326_clk.Nc
			fmt.Printf("PLL Input  Frequency:  %9dHz\n\n", si5326_clk.Fin)
			fmt.Printf("                fin  %-4d*%4d\n", si5326_clk.N2h, si5326_clk.N2l)
			fmt.Printf("Divider: fout = ---  ---------\n")
			fmt.Printf("                %3d  %-4d*%4d\n\n", si5326_clk.N3, si5326_clk.N1h, si5326_clk.Nc)
			fmt.Printf("PLL Bandwidth:         %9dHz\n", si5326_clk.Bw)
			fmt.Printf("PLL Output Frequency:  %9dHz\n", fout)
		} else {
			fout = 250000000
			fmt.Printf("PLL Bypassed; Output Frequency %9dHz\n", fout)
		}
		var rat uint64 = 1
		if div_clkhl <= 0xff {
			rat = uint64(div_clkhl&0xf) + uint64(div_clkhl>>4&0xf) + 2
		}
		fmt.Printf("AD9510 divider ratio:  %9d\n", rat)
		fmt.Printf("Digitizer clock:       %9dHz\n", fout/rat)
	}

	return 0
}
