package sis8300

/*------------------------------------------------------------------
 *
 * Purpose:   	Compute Si5326 divider settings for a requested output
 *		frequency.
 *
 * Description:	The Si5326 synthesizes
 *
 *		                fin   n2h * n2l
 *		        fout =  --- * ---------
 *		                n3    n1h * nc
 *
 *		with the VCO frequency fo = (fin/n3) * n2h * n2l confined
 *		to a narrow window and a family of range and parity
 *		constraints on the individual dividers. The solver scans
 *		the feasible n1 = n1h*nc range and uses the rational
 *		approximation engine to propose (n2, n3) pairs for each
 *		candidate, keeping the combination with the smallest
 *		frequency error.
 *
 *		The loop bandwidth selector is derived afterwards by
 *		inverting the manufacturer's bandwidth equations.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"
)

type Si5326Parms struct {
	Fin uint64 `yaml:"fin"` /* PLL input frequency (Hz); 250000000 on the SIS8300 */

	N3  uint64 `yaml:"n3"`  /* input divider */
	N2h uint64 `yaml:"n2h"` /* feedback dividers; n2 = n2h * n2l */
	N2l uint64 `yaml:"n2l"`
	N1h uint64 `yaml:"n1h"` /* output dividers; n1 = n1h * nc */
	Nc  uint64 `yaml:"nc"`

	Bwsel int    `yaml:"bwsel"` /* loop bandwidth selector (register 2) */
	Bw    uint64 `yaml:"bw"`    /* loop bandwidth (Hz); target on input to the solver, realised on output */

	Wb bool `yaml:"wb"` /* wide-band vs. narrow-band device variant */
}

/*
 * Device limits plus the manufacturer's loop-bandwidth equations for
 * one silicon variant.
 */
type si53xx_lim struct {
	wb bool

	f3min, f3max uint64
	fomin, fomax uint64

	n1hmin, n1hmax uint64
	ncmin, ncmax   uint64
	n2hmin, n2hmax uint64
	n2lmin, n2lmax uint64
	n3min, n3max   uint64

	bwselmin, bwselmax int
	bwmin, bwmax       float64
}

var si5326_lim_wb = si53xx_lim{
	wb:       true,
	f3min:    10000000,
	f3max:    157500000,
	fomin:    4850000000,
	fomax:    5670000000,
	n1hmin:   4,
	n1hmax:   11,
	ncmin:    1, /* Nc must be even or 1 */
	ncmax:    1 << 20,
	n2hmin:   1,
	n2hmax:   1,
	n2lmin:   32,  /* N2 must be even */
	n2lmax:   566, /* in principle 1<<9 but fomax/f3min => 566 */
	n3min:    1,
	n3max:    1 << 19,
	bwselmin: 0,
	bwselmax: 15,
	bwmin:    100e3,
	bwmax:    2e6,
}

var si5326_lim_nb = si53xx_lim{
	wb:       false,
	f3min:    2000,
	f3max:    2000000,
	fomin:    4850000000,
	fomax:    5670000000,
	n1hmin:   4,
	n1hmax:   11,
	ncmin:    1,
	ncmax:    1 << 20,
	n2hmin:   4,
	n2hmax:   11,
	n2lmin:   2, /* N2 must be even */
	n2lmax:   1 << 20,
	n3min:    1,
	n3max:    1 << 19,
	bwselmin: 0,
	bwselmax: 15,
	bwmin:    60,
	bwmax:    8400,
}

func si53xx_limits(wb bool) *si53xx_lim {
	if wb {
		return &si5326_lim_wb
	}
	return &si5326_lim_nb
}

/*
 * Forward loop-bandwidth equation: realised bandwidth (Hz) for a given
 * phase-detector frequency f3, feedback divider n2 = n2h*n2l and
 * selector value.
 */
func (l *si53xx_lim) fbw(f3 float64, n2 uint64, bwsel int) float64 {
	if l.wb {
		var p = float64(bwsel + 1)
		var g = 6.5e9 / (f3 * float64(n2))
		return f3 * 1.235 / 101.235 / p * g * g / math.Sqrt(1.0-0.095/p)
	}

	var x = math.Exp2(float64(-bwsel))
	var u = 1.0 - x/3.35
	var v = 1.0 - (4276.0/float64(n2))*x
	return (f3 / 16.84) * x / math.Sqrt(u*v)
}

/*
 * Inverse loop-bandwidth equation: selector for a target bandwidth.
 * The target is clamped into [bwmin, bwmax] first; the closed-form
 * solution is then refined by +-1 steps until the forward value falls
 * back into the window.
 *
 * RETURNS: the selector, or -1 if no selector in [bwselmin, bwselmax]
 *          places the forward value inside the window.
 */
func (l *si53xx_lim) bws(f3 float64, n2 uint64, bw float64) int {
	if bw < l.bwmin {
		bw = l.bwmin
	}
	if bw > l.bwmax {
		bw = l.bwmax
	}

	var sel int

	if l.wb {
		/* bw = K/p / sqrt(1 - 0.095/p)  =>  p^2 - 0.095p - (K/bw)^2 = 0 */
		var g = 6.5e9 / (f3 * float64(n2))
		var kq = f3 * 1.235 / 101.235 * g * g / bw
		var p = (0.095 + math.Sqrt(0.095*0.095+4.0*kq*kq)) / 2.0
		sel = int(math.Round(p - 1.0))
	} else {
		/* With x = 2^-bwsel, a = 1/3.35, b = 4276/n2, c = f3/16.84:
		 *
		 *    (bw^2*a*b - c^2) x^2 - bw^2(a+b) x + bw^2 = 0
		 *
		 * Smaller positive root in both sign branches of the leading
		 * coefficient; linear fallback when it vanishes.
		 */
		var a = 1.0 / 3.35
		var b = 4276.0 / float64(n2)
		var c = f3 / 16.84
		var qa = bw*bw*a*b - c*c
		var qb = -bw * bw * (a + b)
		var qc = bw * bw

		var x float64
		if qa == 0.0 {
			x = -qc / qb
		} else {
			var disc = qb*qb - 4.0*qa*qc
			if disc < 0.0 {
				return -1
			}
			x = (-qb - math.Sqrt(disc)) / (2.0 * qa)
		}
		if x <= 0.0 {
			return -1
		}
		sel = int(math.Round(-math.Log2(x)))
	}

	if sel < l.bwselmin {
		sel = l.bwselmin
	}
	if sel > l.bwselmax {
		sel = l.bwselmax
	}

	/* Larger selector -> smaller bandwidth, for both variants. */
	for sel < l.bwselmax && l.fbw(f3, n2, sel) > l.bwmax {
		sel++
	}
	for sel > l.bwselmin && l.fbw(f3, n2, sel) < l.bwmin {
		sel--
	}

	var got = l.fbw(f3, n2, sel)
	if got < l.bwmin || got > l.bwmax {
		return -1
	}

	return sel
}

/* Validate divider settings against the device limits. */
func (l *si53xx_lim) validate(p *Si5326Parms) error {
	if p.Nc < l.ncmin || p.Nc > l.ncmax {
		return fmt.Errorf("%w: NC divider out of range", ErrInvalidParam)
	}
	if p.Nc > 1 && p.Nc&1 != 0 {
		return fmt.Errorf("%w: NC divider must be 1 or even", ErrInvalidParam)
	}
	if p.N1h < l.n1hmin || p.N1h > l.n1hmax {
		return fmt.Errorf("%w: N1H divider out of range", ErrInvalidParam)
	}
	if p.N2l < l.n2lmin || p.N2l > l.n2lmax {
		return fmt.Errorf("%w: N2L divider out of range", ErrInvalidParam)
	}
	if p.N2l&1 != 0 {
		return fmt.Errorf("%w: N2L divider must be even", ErrInvalidParam)
	}
	if p.N2h < l.n2hmin || p.N2h > l.n2hmax {
		return fmt.Errorf("%w: N2H divider out of range", ErrInvalidParam)
	}
	if p.N3 < l.n3min || p.N3 > l.n3max {
		return fmt.Errorf("%w: N3 divider out of range", ErrInvalidParam)
	}

	var f3 = p.Fin / p.N3
	if f3 < l.f3min || f3 > l.f3max {
		return fmt.Errorf("%w: F3 (%d) out of range", ErrInvalidParam, f3)
	}
	var fo = f3 * p.N2h * p.N2l
	if fo < l.fomin || fo > l.fomax {
		return fmt.Errorf("%w: Fo (%d) out of range", ErrInvalidParam, fo)
	}

	if p.Bwsel < l.bwselmin || p.Bwsel > l.bwselmax {
		return fmt.Errorf("%w: BWSEL out of range", ErrInvalidParam)
	}

	return nil
}

/*
 * Factor the proposed feedback numerator rn = n2h * (n2l/2) into a
 * legal (n2h, n2l) pair.
 */
func (l *si53xx_lim) factor_n2(rn RatNum) (n2h, n2l uint64, ok bool) {
	if rn == 0 {
		return 0, 0, false
	}
	for n2h = l.n2hmin; n2h <= l.n2hmax; n2h++ {
		if rn%n2h == 0 {
			n2l = 2 * (rn / n2h)
			if n2l <= l.n2lmax {
				return n2h, n2l, true
			}
		}
	}
	return 0, 0, false
}

/*
 * Factor n1 = n1h * nc with the largest feasible n1h. nc must be 1 or
 * even, which (with n1 even) means n1h == n1 or n1h dividing n1/2.
 */
func (l *si53xx_lim) factor_n1(n1 uint64) (n1h, nc uint64, ok bool) {
	for n1h = l.n1hmax; n1h >= l.n1hmin; n1h-- {
		if n1%n1h != 0 {
			continue
		}
		nc = n1 / n1h
		if nc != 1 && nc&1 != 0 {
			continue
		}
		if nc < l.ncmin || nc > l.ncmax {
			continue
		}
		return n1h, nc, true
	}
	return 0, 0, false
}

/*
 * Try to compute a divider configuration for output frequency 'fout'
 * (Hz). The caller must pre-populate p.Fin, p.Bw (target loop
 * bandwidth) and p.Wb; on success N3, N2h, N2l, N1h, Nc, Bwsel are
 * filled in and Bw is replaced by the realised loop bandwidth.
 *
 * Note that 'fout' is the Si53xx output frequency which may be further
 * divided by the AD9510.
 */
func si53xx_calcParms(fout uint64, p *Si5326Parms, verbose bool) error {
	var l = si53xx_limits(p.Wb)

	if fout == 0 || p.Fin == 0 {
		return fmt.Errorf("%w: fin and fout must be nonzero", ErrInvalidParam)
	}

	/* Feasible output divider range from the VCO window... */
	var n1min = (l.fomin + fout - 1) / fout
	var n1max = l.fomax / fout

	/* ...further constrained by what n1h*nc can express. */
	if n1min < l.n1hmin*l.ncmin {
		n1min = l.n1hmin * l.ncmin
	}
	if n1max > l.n1hmax*l.ncmax {
		n1max = l.n1hmax * l.ncmax
	}

	/* Work on n1/2 so that the proposed feedback numerator comes out
	 * as n2/2, which keeps n2 even.
	 */
	if n1min&1 != 0 {
		n1min++
	}
	if n1min > n1max {
		return fmt.Errorf("%w: no feasible N1 for %dHz", ErrNotSolvable, fout)
	}

	var r_max = Rational{
		n: l.n2hmax * l.n2lmax / 2,
		d: p.Fin / l.f3min,
	}
	if r_max.d > l.n3max {
		r_max.d = l.n3max
	}

	var best Rational
	var best_n1h, best_nc uint64
	var eps_best float64
	var have_best = false

	for h := n1min / 2; h <= n1max/2; h++ {
		var n1 = 2 * h

		var n1h, nc, ok = l.factor_n1(n1)
		if !ok {
			continue
		}

		var r_arg = Rational{n: h * fout, d: p.Fin}

		var est = ratapp_estimate_terms(&r_arg, &r_max)
		if est < 1 {
			continue
		}
		var c = make([]Convergent, est+1)
		var k = ratapp_find_convergents(c, &r_arg, &r_max)
		if k < 1 {
			continue
		}

		/* c[k] is the last convergent which meets r_max; walk the list
		 * from there back down, trying all intermediate fractions.
		 * The error only grows as we move down the list, so bail out
		 * as soon as a level's best candidate is worse than what we
		 * already have.
		 */
		var worse = false
		for kk := k - 1; kk >= 0 && !worse; kk-- {
			var c1 = &c[(kk+1)%len(c)]
			var c2 = &c[kk%len(c)]

			var lc = c1.a
			for {
				lc--
				var r Rational
				lc = ratapp_intermediate(&r, lc, c1, c2, &r_arg)

				var e = math.Abs(float64(p.Fin)*float64(r.n)/float64(r.d)/float64(h) - float64(fout))
				if have_best && e > eps_best {
					worse = true
					break
				}

				/* Semi-convergents above the last convergent can leave
				 * the divider bounds; those are never acceptable. For
				 * inexact candidates the VCO window must hold, too.
				 */
				var in_bounds = r.n <= r_max.n && r.d <= r_max.d
				if in_bounds && r.d > 0 {
					var fo = p.Fin / r.d * 2 * r.n
					in_bounds = fo >= l.fomin && fo <= l.fomax
				}

				if _, _, ok := l.factor_n2(r.n); ok && in_bounds {
					if !have_best || e < eps_best || (e == eps_best && n1h > best_n1h) {
						best = r
						best_n1h = n1h
						best_nc = nc
						eps_best = e
						have_best = true
						if verbose {
							log.Info("solver candidate",
								"n1h", n1h, "nc", nc, "n2/2", r.n, "n3", r.d, "err", e)
						}
					}
				}

				if lc == 0 {
					break
				}
			}
		}
	}

	if !have_best {
		return fmt.Errorf("%w: %dHz", ErrNotSolvable, fout)
	}

	var n2h, n2l, _ = l.factor_n2(best.n)
	var n3 = best.d

	/* The proposal may leave f3 too high or n2l/n3 too small; scaling
	 * n3 and n2l by the same even factor leaves fo and fout untouched.
	 */
	if p.Fin/n3 > l.f3max || n3 < l.n3min || n2l < l.n2lmin {
		var m uint64
		for m = 2; ; m += 2 {
			if n3*m > l.n3max || n2l*m > l.n2lmax || p.Fin/(n3*m) < l.f3min {
				return fmt.Errorf("%w: cannot rescale N3/N2L for %dHz", ErrNotSolvable, fout)
			}
			if p.Fin/(n3*m) <= l.f3max && n3*m >= l.n3min && n2l*m >= l.n2lmin {
				break
			}
		}
		n3 *= m
		n2l *= m
	}

	p.N3 = n3
	p.N2h = n2h
	p.N2l = n2l
	p.N1h = best_n1h
	p.Nc = best_nc

	var f3 = float64(p.Fin) / float64(n3)
	var n2 = n2h * n2l

	p.Bwsel = l.bws(f3, n2, float64(p.Bw))
	if p.Bwsel < 0 {
		return fmt.Errorf("%w: no legal loop bandwidth selector", ErrNotSolvable)
	}
	p.Bw = uint64(math.Round(l.fbw(f3, n2, p.Bwsel)))

	if err := l.validate(p); err != nil {
		return err
	}
	var bw = l.fbw(f3, n2, p.Bwsel)
	if bw < l.bwmin || bw > l.bwmax {
		return fmt.Errorf("%w: realised bandwidth %.0fHz out of range", ErrNotSolvable, bw)
	}

	if verbose {
		log.Info("solver result",
			"n3", p.N3, "n2h", p.N2h, "n2l", p.N2l, "n1h", p.N1h, "nc", p.Nc,
			"bwsel", p.Bwsel, "bw", p.Bw)
	}

	return nil
}
