package sis8300

/*------------------------------------------------------------------
 *
 * Purpose:   	Digitizer setup: clock synthesis chain programming and
 *		acquisition configuration.
 *
 * Description:	Three SPI-like transaction machines hang off dedicated
 *		register windows:
 *
 *		  - the ADC chips (AD9268 or AD9643, two channels each),
 *		  - the two AD9510 clock distribution dividers,
 *		  - the Si5326 jitter-cleaning PLL.
 *
 *		Transactions are strictly sequential; concurrent access
 *		is undefined. All routines are written against the
 *		register_io port so they also run against a simulated
 *		card.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"

	"github.com/charmbracelet/log"
)

type Si5326Mode int

const (
	/* Error / not-yet-probed */
	Si5326_Error          Si5326Mode = -1
	Si5326_NoReference    Si5326Mode = 0
	Si5326_NarrowbandMode Si5326Mode = 1
	Si5326_WidebandMode   Si5326Mode = 2
)

func (m Si5326Mode) String() string {
	switch m {
	case Si5326_NoReference:
		return "no reference"
	case Si5326_NarrowbandMode:
		return "narrow-band"
	case Si5326_WidebandMode:
		return "wide-band"
	}
	return fmt.Sprintf("Si5326Mode(%d)", int(m))
}

/*
 * Channel selector: a packed nibble list of channel numbers 1..10 in
 * output-memory order; a zero nibble terminates the list. E.g., to
 * have channels 4, 1, 8, 9 in this order in memory use
 * Sis8300ChannelSel(0x9814).
 */
type Sis8300ChannelSel uint64

/* clkhl value to bypass the AD9510 divider; the divider is
 * automatically engaged (divide by two) if no Si5326 parameters are
 * given.
 */
const SIS8300_BYPASS_9510_DIVIDER = 0xffffffff

/* 4 chars to a little-endian 32-bit int */
func chto32(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

/* ADC access primitives */

func adc_xfer(rio register_io, cmd uint32) error {
	if err := rio.reg_write(SIS8300_ADC_SPI_REG, cmd); err != nil {
		return err
	}
	/* wait for the SPI state machine to drain */
	for retries := 0; retries < 100; retries++ {
		var v, err = rio.reg_read(SIS8300_ADC_SPI_REG)
		if err != nil {
			return err
		}
		if v&SIS8300_ADC_SPI_BUSY == 0 {
			return nil
		}
		us_sleep(10)
	}
	log.Error("adc_xfer: SPI state machine stuck busy")
	return fmt.Errorf("%w: ADC SPI", ErrTimeout)
}

func adc_wr(rio register_io, inst uint32, a, v uint32) error {
	if inst > 4 {
		/* not a valid chip index */
		return nil
	}
	var cmd = inst<<24 | (a&0xff)<<8 | v&0xff
	return adc_xfer(rio, cmd)
}

func adc_rd(rio register_io, inst uint32, a uint32) (uint32, error) {
	if inst > 4 {
		return 0, fmt.Errorf("%w: ADC instance %d", ErrInvalidParam, inst)
	}
	var cmd = SIS8300_ADC_SPI_READ_CMD | inst<<24 | (a&0xff)<<8
	if err := adc_xfer(rio, cmd); err != nil {
		return 0, err
	}
	var v, err = rio.reg_read(SIS8300_ADC_SPI_REG)
	if err != nil {
		return 0, err
	}
	return v & 0xff, nil
}

/* AD9510 access primitives */

func ad9510_wr(rio register_io, inst uint32, a, v uint32) error {
	var cmd uint32 = AD9510_GENERATE_SPI_RW_CMD

	if inst != 0 {
		cmd |= AD9510_SPI_SELECT_NO2
	}

	cmd |= (a&0xff)<<8 | v&0xff

	if err := rio.reg_write(SIS8300_AD9510_SPI_REG, cmd); err != nil {
		return err
	}
	us_sleep(1)
	return nil
}

/* Si5326 access primitives */

/* Busy-wait until the Si5326 SPI state machine is idle. */
func si5326_wait(rio register_io) error {
	for retries := 0; retries < 10; retries++ {
		var v, err = rio.reg_read(SIS8300_CLOCK_MULTIPLIER_SPI_REG)
		if err != nil {
			return err
		}
		if v&SIS8300_SI5326_SPI_BUSY == 0 {
			return nil
		}
		us_sleep(10)
	}
	log.Error("si5326: too many retries -- unable to program the Si5326")
	return fmt.Errorf("%w: Si5326 SPI", ErrTimeout)
}

func si5326_xact_wr(rio register_io, v uint32) error {
	if err := si5326_wait(rio); err != nil {
		return err
	}
	return rio.reg_write(SIS8300_CLOCK_MULTIPLIER_SPI_REG, v)
}

func si5326_rd(rio register_io, addr uint32) (uint32, error) {
	/* write address */
	if err := si5326_xact_wr(rio, addr); err != nil {
		return 0, err
	}
	if err := si5326_xact_wr(rio, SI5326_SPI_READ_CMD); err != nil {
		return 0, err
	}
	/* The read operation must be repeated; something in the struck
	 * firmware doesn't behave right. Maybe fixed in later firmware?
	 */
	if err := si5326_xact_wr(rio, SI5326_SPI_READ_CMD); err != nil {
		return 0, err
	}
	if err := si5326_wait(rio); err != nil {
		return 0, err
	}
	var v, err = rio.reg_read(SIS8300_CLOCK_MULTIPLIER_SPI_REG)
	if err != nil {
		return 0, err
	}
	return v & 0xff, nil
}

func si5326_wr(rio register_io, addr uint32, val uint32) error {
	/* write address */
	if err := si5326_xact_wr(rio, addr); err != nil {
		return err
	}
	/* write register command */
	return si5326_xact_wr(rio, SI5326_SPI_WRITE_CMD|val&0xff)
}

/* Setup of one ADC chip */

func adc_setup(rio register_io, inst uint32) error {
	/* output type LVDS; two-s complement */
	if err := adc_wr(rio, inst, 0x14, 0x41); err != nil {
		return err
	}
	if err := adc_wr(rio, inst, 0x16, 0x00); err != nil {
		return err
	}
	if err := adc_wr(rio, inst, 0x17, 0x00); err != nil {
		return err
	}

	/* update cmd */
	return adc_wr(rio, inst, 0xff, 0x01)
}

/*
 * Setup of one AD9510; 'clkhl' holds the divider 'high' and 'low'
 * clock counts. The divider ratio is (high + 1) + (low + 1); a clkhl
 * above 0xff engages the divider bypass.
 */
func ad9510_setup(rio register_io, inst uint32, clkhl uint32) error {
	var bypss uint32

	if clkhl > 0xff {
		bypss = 0x80
		clkhl = 0x00
	}

	var seq = []struct{ a, v uint32 }{
		/* soft reset; bidirectional SPI mode */
		{0x00, 0xb0},
		/* clear reset */
		{0x00, 0x90},
		/* should be default anyways: asynchr. power down, no prescaler */
		{0xa0, 0x01},
		/* power-down outputs 0..3 */
		{0x3c, 0x0b},
		{0x3d, 0x0b},
		{0x3e, 0x0b},
		{0x3f, 0x0b},
		/* lvds@3.5mA outputs 4..7 */
		{0x40, 0x02},
		{0x41, 0x02},
		{0x42, 0x02},
		{0x43, 0x02},
		/* power down refin, clock-pll-prescaler, clk2 */
		{0x45, 0x1d},
	}

	for _, s := range seq {
		if err := ad9510_wr(rio, inst, s.a, s.v); err != nil {
			return err
		}
	}

	/* Clock divider for outputs 4..7.
	 * Out4 of chip #2 is the FPGA CLK69; the 0xc0 value is undocumented
	 * but matches the vendor demo software.
	 */
	var div = []struct{ a, v uint32 }{
		{0x50, clkhl},
		{0x51, bypss},
		{0x52, clkhl},
		{0x53, bypss},
		{0x54, clkhl},
		{0x55, bypss},
		{0x56, clkhl},
		{0x57, bypss},
	}
	if inst != 0 {
		div[0].v = 0x00
		div[1].v = 0xc0
	}

	for _, s := range div {
		if err := ad9510_wr(rio, inst, s.a, s.v); err != nil {
			return err
		}
	}

	/* Function select: SYNCB */
	if err := ad9510_wr(rio, inst, 0x58, 0x22); err != nil {
		return err
	}

	/* UPDATE */
	return ad9510_wr(rio, inst, 0x5a, 0x01)
}

/*
 * Program the Si5326 dividers and verify lock.
 *
 * RETURNS: the realised output frequency fo/(n1h*nc) in Hz.
 */
func si5326_setup(rio register_io, p *Si5326Parms) (uint64, error) {
	var l = si53xx_limits(p.Wb)

	if err := l.validate(p); err != nil {
		return 0, err
	}

	var f3 = p.Fin / p.N3
	var fo = f3 * p.N2h * p.N2l
	var fout = fo / (p.N1h * p.Nc)

	/* Reset */
	if err := si5326_wr(rio, 136, 0x80); err != nil {
		return 0, err
	}
	us_sleep(20000)

	if err := si5326_wr(rio, 2, uint32(p.Bwsel&0xf)<<4|0x2); err != nil {
		return 0, err
	}

	if err := si5326_wr(rio, 4, 0x92); err != nil { /* autosel */
		return 0, err
	}

	var v = uint32(p.N1h - l.n1hmin)
	if err := si5326_wr(rio, 25, v<<5); err != nil { /* N1_HS */
		return 0, err
	}

	v = uint32(p.Nc - 1)
	var ncls = []struct {
		addr uint32
		val  uint32
	}{
		{31, v >> 16 & 0xf}, /* NC1_LS */
		{32, v >> 8 & 0xff},
		{33, v >> 0 & 0xff},
		{34, v >> 16 & 0xf}, /* NC2_LS */
		{35, v >> 8 & 0xff},
		{36, v >> 0 & 0xff},
	}
	for _, s := range ncls {
		if err := si5326_wr(rio, s.addr, s.val); err != nil {
			return 0, err
		}
	}

	if p.Wb {
		/* wideband device needs N2 (even); dspllsim puts 0xc0 there */
		v = 0xc00000 | uint32(p.N2l)
	} else {
		/* narrowband mode needs N2-1 */
		v = uint32(p.N2h-l.n2hmin)<<21 | uint32(p.N2l-1)
	}
	for i, addr := range []uint32{40, 41, 42} { /* N2 */
		if err := si5326_wr(rio, addr, v>>(16-8*i)&0xff); err != nil {
			return 0, err
		}
	}

	v = uint32(p.N3 - 1)
	for i, addr := range []uint32{43, 44, 45} { /* N31 */
		if err := si5326_wr(rio, addr, v>>(16-8*i)&0xff); err != nil {
			return 0, err
		}
	}
	for i, addr := range []uint32{46, 47, 48} { /* N32 */
		if err := si5326_wr(rio, addr, v>>(16-8*i)&0xff); err != nil {
			return 0, err
		}
	}

	if err := si5326_wr(rio, 136, 0x40); err != nil { /* ICAL */
		return 0, err
	}

	us_sleep(500000)

	/* Missing reference? */
	var st, err = si5326_rd(rio, 129)
	if err != nil {
		return 0, err
	}
	if st&1 != 0 {
		log.Error("si5326_setup: missing reference")
		return 0, ErrNoReference
	}

	/* Wait for lock; internal calibration can take a while. */
	var locked = false
	for retries := 0; retries < 10; retries++ {
		st, err = si5326_rd(rio, 130)
		if err != nil {
			return 0, err
		}
		if st&1 == 0 {
			locked = true
			break
		}
		us_sleep(500000)
	}
	if !locked {
		log.Error("si5326_setup: Si5326 won't lock")
		return 0, ErrNotLocked
	}

	return fout, nil
}

/*
 * Probe the Si5326 to find out whether it has a usable narrow-band
 * reference, is strapped for wide-band mode, or has no valid
 * reference at all (the original SIS8300 module had the Si5326
 * strapped for an external reference but none loaded).
 *
 * NOTE: this routine SOFT-RESETS the Si5326.
 */
func clk_detect(rio register_io) (Si5326Mode, error) {
	/* Reset */
	if err := si5326_wr(rio, 136, 0x80); err != nil {
		return Si5326_NoReference, err
	}

	/* Measurements show the reference needs at least ~102ms to be
	 * detected after reset.
	 */
	us_sleep(200000)

	/* No reference at all: the device is probably not strapped right */
	var v1, err = si5326_rd(rio, 129)
	if err != nil {
		return Si5326_NoReference, err
	}
	if v1&1 != 0 {
		return Si5326_NoReference, nil
	}

	/* If we can switch to free-run mode and still see a clock on
	 * CLKIN2 then we have a proper reference.
	 */
	var old_0 uint32
	if old_0, err = si5326_rd(rio, 0); err != nil {
		return Si5326_NoReference, err
	}
	if err = si5326_wr(rio, 0, old_0|0x40); err != nil {
		return Si5326_NoReference, err
	}

	us_sleep(200000)

	var v2 uint32
	if v2, err = si5326_rd(rio, 129); err != nil {
		return Si5326_NoReference, err
	}

	var rval = Si5326_NarrowbandMode
	if v2&0x4 != 0 {
		rval = Si5326_WidebandMode
	}

	if err = si5326_wr(rio, 0, old_0); err != nil {
		return Si5326_NoReference, err
	}
	us_sleep(200000)

	return rval, nil
}

func Sis8300ClkDetect(dev *Device) (Si5326Mode, error) {
	return clk_detect(dev)
}

/* Per-grade maximum sample clock (Hz), from the chip id and speed
 * grade registers.
 */
func adc_max_clock(chip_id, grade uint32) uint64 {
	switch chip_id {
	case 0x32: /* AD9268 */
		switch grade {
		case 1:
			return 125000000
		case 2:
			return 105000000
		case 3:
			return 80000000
		}
	case 0x82: /* AD9643 */
		switch grade {
		case 0:
			return 250000000
		case 1:
			return 210000000
		case 3:
			return 170000000
		}
	}
	return 0
}

type DigiSetupOpts struct {
	ExtTrig bool

	/* Probe the 0x4FC/0x4FD site marker ("StripBPM") and enable the
	 * RTM trigger when it matches. Site-specific; off by default for
	 * library users.
	 */
	SiteTriggerProbe bool
}

/*
 * Top-level digitizer setup.
 *
 * Routes the clock distribution muxes, optionally programs the Si5326
 * for the given divider settings (a nil 'parms' selects the raw
 * 250 MHz on-board clock), programs the AD9510 dividers and the ADC
 * output format, and leaves acquisition idle with all channels
 * disabled.
 */
func Sis8300DigiSetup(dev *Device, parms *Si5326Parms, clkhl uint32, opts DigiSetupOpts) error {
	return digi_setup(dev, parms, clkhl, opts)
}

func digi_setup(rio register_io, parms *Si5326Parms, clkhl uint32, opts DigiSetupOpts) error {
	/* cannot bypass the divider when we use the raw 250MHz clock */
	if parms == nil && clkhl > 0xffff {
		clkhl = 0 /* use divide-by-two */
	}

	/* Assume single-channel buffer logic */
	var fwopt, err = rio.reg_read(SIS8300_FIRMWARE_OPTIONS_REG)
	if err != nil {
		return err
	}
	if fwopt&SIS8300_DUAL_CHANNEL_SAMPLING != 0 {
		log.Error("firmware does not support single-channel mode")
		return fmt.Errorf("%w: dual-channel sampling firmware", ErrBadFirmware)
	}

	var version uint32
	if version, err = rio.reg_read(SIS8300_IDENTIFIER_VERSION_REG); err != nil {
		return err
	}
	var caps = firmware_fingerprint(version)

	/* Start both AD9510s on the maximum divider so nothing downstream
	 * sees a transient over-clock while the PLL is being programmed.
	 */
	if err = ad9510_setup(rio, 0, 0xff); err != nil {
		return err
	}
	if err = ad9510_setup(rio, 1, 0xff); err != nil {
		return err
	}

	/* MUX A + B: 3 to select on-board quartz     */
	/* MUX C: 2 or 3 to pass A or B out to SI532x */
	/* MUX D/E: 0 - external quartz / 1 - SI532x  */

	/* Layout: 00 00 ee dd 00 cc bb aa            */
	if err = rio.reg_write(SIS8300_CLOCK_DISTRIBUTION_MUX_REG, 0x03f); err != nil {
		return err
	}

	var fout uint64
	if parms != nil {
		if fout, err = si5326_setup(rio, parms); err != nil {
			log.Error("si5326_setup failed", "err", err)
			return err
		}
		log.Info("Si5326 clock in use", "fout", fout)
	} else {
		fout = 250000000
		log.Info("on-board clock in use", "fout", fout)
	}

	var rat uint64 = 1
	if clkhl <= 0xff {
		rat = uint64(clkhl&0xf) + uint64(clkhl>>4&0xf) + 2
	}
	var dclk = fout / rat

	log.Info("AD9510 divider", "ratio", rat, "digitizer_clock", dclk)

	/* The ADC tells us how fast it may be clocked. */
	var chip_id, grade uint32
	if chip_id, err = adc_rd(rio, 0, 0x01); err != nil {
		return err
	}
	if grade, err = adc_rd(rio, 0, 0x02); err != nil {
		return err
	}
	var maxclk = adc_max_clock(chip_id, grade)
	if maxclk == 0 {
		log.Warn("unknown ADC chip/grade; skipping clock check",
			"chip_id", fmt.Sprintf("%#x", chip_id), "grade", grade)
	} else if dclk > maxclk {
		log.Error("digitizer clock too high for ADC", "dclk", dclk, "max", maxclk)
		return fmt.Errorf("%w: %dHz > %dHz", ErrOverClocked, dclk, maxclk)
	}

	/* Input tap delay; high sample clocks need the capture clock
	 * phase-shifted.
	 */
	var tap uint32
	if dclk > 130000000 {
		tap = 11
	}
	if err = rio.reg_write(SIS8300_ADC_INPUT_TAP_DELAY_REG, tap|caps.tapmask); err != nil {
		return err
	}
	var settled = false
	for retries := 0; retries < 10000; retries++ {
		var v uint32
		if v, err = rio.reg_read(SIS8300_ADC_INPUT_TAP_DELAY_REG); err != nil {
			return err
		}
		if v&SIS8300_TAP_DELAY_BUSY == 0 {
			settled = true
			break
		}
	}
	if !settled {
		return fmt.Errorf("%w: tap delay", ErrTimeout)
	}

	for i := uint32(0); i < uint32(caps.nadc); i++ {
		if err = adc_setup(rio, i); err != nil {
			return err
		}
	}

	/* Left-adjust the 14-bit AD9643 samples to 16 bits where the
	 * firmware can.
	 */
	if caps.bits_shift && chip_id == 0x82 {
		var uc uint32
		if uc, err = rio.reg_read(SIS8300_USER_CONTROL_STATUS_REG); err != nil {
			return err
		}
		if err = rio.reg_write(SIS8300_USER_CONTROL_STATUS_REG, uc|0x100); err != nil {
			return err
		}
	}

	/* Now route the Si5326 output to the distribution dividers. */
	if parms != nil {
		if err = rio.reg_write(SIS8300_CLOCK_DISTRIBUTION_MUX_REG, 0x03f|0x500); err != nil {
			return err
		}
	}

	/* 9510 setup with the requested divider */
	if err = ad9510_setup(rio, 0, clkhl); err != nil {
		return err
	}
	if err = ad9510_setup(rio, 1, clkhl); err != nil {
		return err
	}

	/* 9510 'sync' command as per demo software */
	if err = rio.reg_write(SIS8300_AD9510_SPI_REG, AD9510_SPI_SET_FUNCTION_SYNCH_FPGA_CLK69); err != nil {
		return err
	}
	us_sleep(1)
	if err = rio.reg_write(SIS8300_AD9510_SPI_REG,
		AD9510_GENERATE_FUNCTION_PULSE_CMD|AD9510_SPI_SET_FUNCTION_SYNCH_FPGA_CLK69); err != nil {
		return err
	}
	us_sleep(1)

	if err = rio.reg_write(SIS8300_PRETRIGGER_DELAY_REG, 0); err != nil {
		return err
	}

	/* Disable all channels; enable the external trigger if requested */
	var cmd uint32 = 0x3ff
	if opts.ExtTrig {
		cmd |= 0x800
		if err = rio.reg_write(SIS8300_HARLINK_IN_OUT_CONTROL_REG, 0x100); err != nil {
			return err
		}
	}
	if err = rio.reg_write(SIS8300_SAMPLE_CONTROL_REG, cmd); err != nil {
		return err
	}

	if err = rio.reg_write(SIS8300_ACQUISITION_CONTROL_STATUS_REG, 4); err != nil {
		return err
	}

	if opts.SiteTriggerProbe {
		var hi, lo uint32
		if hi, err = rio.reg_read(SIS8300_AFE_MARKER_HI_REG); err != nil {
			return err
		}
		if lo, err = rio.reg_read(SIS8300_AFE_MARKER_LO_REG); err != nil {
			return err
		}
		if hi == chto32('S', 't', 'r', 'i') && lo == chto32('p', 'B', 'P', 'M') {
			log.Info("SLAC AFE firmware found; enabling RTM trigger")
			if err = rio.reg_write(SIS8300_RTM_TRIGGER_ENA_REG, 0x10); err != nil {
				return err
			}
		}
	}

	return nil
}

/*
 * Check a channel selector: nibbles hold channel numbers 1..10, a zero
 * nibble ends the list, and no channel may appear twice.
 */
func Sis8300DigiValidateSel(sel Sis8300ChannelSel) error {
	var i int
	var s = sel

	for ; s&0xf != 0; i, s = i+1, s>>4 {
		var n = s & 0xf
		if n > 10 {
			return fmt.Errorf("%w: channel %d in selector pos %d too big (1..10)", ErrInvalidParam, n, i)
		}
		var j = i + 1
		for t := s >> 4; t&0xf != 0; j, t = j+1, t>>4 {
			if t&0xf == n {
				return fmt.Errorf("%w: channel %d duplicated in selector pos %d", ErrInvalidParam, n, j)
			}
		}
	}

	return nil
}

/*
 * Configure which channels are captured and how many samples each
 * channel records. The selector defines the order (and number) of
 * channels in memory; 'nsmpl' is samples per channel and MUST be a
 * multiple of 16.
 */
func Sis8300DigiSetCount(dev *Device, channel_selector Sis8300ChannelSel, nsmpl uint32) error {
	return digi_set_count(dev, channel_selector, nsmpl)
}

func digi_set_count(rio register_io, channel_selector Sis8300ChannelSel, nsmpl uint32) error {
	if nsmpl&0xf != 0 {
		return fmt.Errorf("%w: %d samples per channel not a multiple of 16", ErrInvalidParam, nsmpl)
	}

	if err := Sis8300DigiValidateSel(channel_selector); err != nil {
		return err
	}

	var nblks = nsmpl >> 4

	if err := rio.reg_write(SIS8300_SAMPLE_LENGTH_REG, nblks-1); err != nil {
		return err
	}

	var cmd, err = rio.reg_read(SIS8300_SAMPLE_CONTROL_REG)
	if err != nil {
		return err
	}
	cmd |= 0x3ff

	/* Sample to a contiguous memory area */
	var n uint32
	for sel := channel_selector; sel&0xf != 0; n, sel = n+nblks, sel>>4 {
		var ch = uint32(sel&0xf) - 1
		if err = rio.reg_write(SIS8300_SAMPLE_START_ADDRESS_CH1_REG+ch, n); err != nil {
			return err
		}
		cmd &^= 1 << ch
	}

	return rio.reg_write(SIS8300_SAMPLE_CONTROL_REG, cmd)
}
