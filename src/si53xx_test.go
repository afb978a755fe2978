package sis8300

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSi53xxCalcParms109MHzWideband(t *testing.T) {
	var p = Si5326Parms{Fin: 250000000, Bw: 1, Wb: true}

	require.NoError(t, si53xx_calcParms(109000000, &p, false))

	// 109 MHz divides out exactly: fout = 250MHz/10 * 218 / (5*10).
	assert.Equal(t, uint64(10), p.N3)
	assert.Equal(t, uint64(1), p.N2h)
	assert.Equal(t, uint64(218), p.N2l)
	assert.Equal(t, uint64(5), p.N1h)
	assert.Equal(t, uint64(10), p.Nc)

	var fout = p.Fin * p.N2h * p.N2l / (p.N3 * p.N1h * p.Nc)
	assert.Equal(t, uint64(109000000), fout)

	var l = si53xx_limits(true)
	assert.NoError(t, l.validate(&p))
	assert.GreaterOrEqual(t, float64(p.Bw), l.bwmin)
	assert.LessOrEqual(t, float64(p.Bw), l.bwmax)
}

func TestSi53xxCalcParms500MHzWideband(t *testing.T) {
	var p = Si5326Parms{Fin: 250000000, Bw: 0, Wb: true}

	require.NoError(t, si53xx_calcParms(500000000, &p, false))

	var l = si53xx_limits(true)
	assert.NoError(t, l.validate(&p))

	var fout = p.Fin * p.N2h * p.N2l / (p.N3 * p.N1h * p.Nc)
	assert.Equal(t, uint64(500000000), fout)
}

func TestSi53xxCalcParms109MHzNarrowband(t *testing.T) {
	var p = Si5326Parms{Fin: 250000000, Bw: 1000, Wb: false}

	require.NoError(t, si53xx_calcParms(109000000, &p, false))

	var l = si53xx_limits(false)
	assert.NoError(t, l.validate(&p))

	var fout = p.Fin * p.N2h * p.N2l / (p.N3 * p.N1h * p.Nc)
	assert.Equal(t, uint64(109000000), fout)
}

func TestSi53xxCalcParmsNotSolvable(t *testing.T) {
	// Beyond the VCO window: even n1 = 4 puts fo above fomax.
	var p = Si5326Parms{Fin: 250000000, Wb: true}
	assert.ErrorIs(t, si53xx_calcParms(3000000000, &p, false), ErrNotSolvable)

	p = Si5326Parms{Fin: 250000000, Wb: true}
	assert.ErrorIs(t, si53xx_calcParms(0, &p, false), ErrInvalidParam)
}

func TestSi53xxCalcParmsIdempotent(t *testing.T) {
	var p1 = Si5326Parms{Fin: 250000000, Bw: 500000, Wb: true}
	var p2 = Si5326Parms{Fin: 250000000, Bw: 500000, Wb: true}

	require.NoError(t, si53xx_calcParms(178000000, &p1, false))
	require.NoError(t, si53xx_calcParms(178000000, &p2, false))

	assert.Equal(t, p1, p2)
}

// Anything the solver accepts satisfies every device limit.
func TestSi53xxCalcParmsInvariantClosure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var fout = rapid.Uint64Range(20000000, 1400000000).Draw(t, "fout")
		var wb = rapid.Bool().Draw(t, "wb")
		var bw = rapid.Uint64Range(0, 10000000).Draw(t, "bw")

		var p = Si5326Parms{Fin: 250000000, Bw: bw, Wb: wb}
		var err = si53xx_calcParms(fout, &p, false)
		if err != nil {
			// Unsolvable targets are fine; anything else is a bug.
			require.ErrorIs(t, err, ErrNotSolvable)
			return
		}

		var l = si53xx_limits(wb)
		require.NoError(t, l.validate(&p))

		var f3 = float64(p.Fin) / float64(p.N3)
		var realised = l.fbw(f3, p.N2h*p.N2l, p.Bwsel)
		require.GreaterOrEqual(t, realised, l.bwmin)
		require.LessOrEqual(t, realised, l.bwmax)
	})
}

func TestSi53xxForwardBandwidth(t *testing.T) {
	var l = si53xx_limits(true)

	// f3 = 25 MHz, n2 = 218 (the 109 MHz configuration).
	assert.InDelta(t, 109.8e3, l.fbw(25e6, 218, 3), 0.5e3)

	l = si53xx_limits(false)

	// f3 = 2 MHz, n2 = 2616 (the hand-tuned narrow-band table entry).
	assert.InDelta(t, 3.83e3, l.fbw(2e6, 2616, 5), 0.05e3)
}

// The inverse bandwidth function recovers the selector from its own
// forward value whenever that value lies inside the window.
func TestSi53xxBandwidthInverseRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var wb = rapid.Bool().Draw(t, "wb")
		var l = si53xx_limits(wb)

		// Pick n2 so that f3 * n2 lands near the VCO window, as any
		// real configuration would.
		var f3 = float64(rapid.Uint64Range(l.f3min, l.f3max).Draw(t, "f3"))
		var n2i = 2 * (uint64(5.2e9/f3) / 2)
		if n2i < 2 {
			n2i = 2
		}

		var sel = rapid.IntRange(l.bwselmin, l.bwselmax).Draw(t, "sel")
		var bw = l.fbw(f3, n2i, sel)
		if bw <= l.bwmin || bw >= l.bwmax {
			t.Skip()
		}

		assert.Equal(t, sel, l.bws(f3, n2i, bw))
	})
}

func TestSi53xxBandwidthInverseClamps(t *testing.T) {
	var l = si53xx_limits(true)

	// A target far below the window must still land inside it, if any
	// selector can.
	var sel = l.bws(25e6, 218, 1.0)
	require.GreaterOrEqual(t, sel, l.bwselmin)
	var got = l.fbw(25e6, 218, sel)
	assert.GreaterOrEqual(t, got, l.bwmin)
	assert.LessOrEqual(t, got, l.bwmax)
}

func TestSi53xxValidate(t *testing.T) {
	var l = si53xx_limits(true)

	var good = Si5326Parms{
		Fin: 250000000, N3: 10, N2h: 1, N2l: 218, N1h: 5, Nc: 10, Bwsel: 3, Wb: true,
	}
	assert.NoError(t, l.validate(&good))

	var p = good
	p.Nc = 3 /* odd and > 1 */
	assert.ErrorIs(t, l.validate(&p), ErrInvalidParam)

	p = good
	p.N2l = 217 /* odd */
	assert.ErrorIs(t, l.validate(&p), ErrInvalidParam)

	p = good
	p.N1h = 12
	assert.ErrorIs(t, l.validate(&p), ErrInvalidParam)

	p = good
	p.N3 = 100 /* f3 = 2.5 MHz, below the wide-band window */
	assert.ErrorIs(t, l.validate(&p), ErrInvalidParam)

	p = good
	p.N2l = 300 /* fo = 7.5 GHz, above the VCO window */
	assert.ErrorIs(t, l.validate(&p), ErrInvalidParam)
}
