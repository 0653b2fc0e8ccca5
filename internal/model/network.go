package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// lstmStep caches one timestep of the forward pass for backpropagation.
type lstmStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	c, tc, h        []float64
}

type trace struct {
	l1    []lstmStep
	m1    [][]float64 // nil without dropout
	h1d   [][]float64
	l2    []lstmStep
	m2    []float64
	h2d   []float64
	a     []float64 // dense pre-activation
	r     []float64
	probs []float64
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func lstmForward(w, u *mat.Dense, b *mat.VecDense, hidden int, xs [][]float64) []lstmStep {
	steps := make([]lstmStep, len(xs))
	hPrev := make([]float64, hidden)
	cPrev := make([]float64, hidden)
	z := mat.NewVecDense(4*hidden, nil)
	rec := mat.NewVecDense(4*hidden, nil)

	for t, x := range xs {
		z.MulVec(w, mat.NewVecDense(len(x), x))
		rec.MulVec(u, mat.NewVecDense(hidden, hPrev))
		z.AddVec(z, rec)
		z.AddVec(z, b)
		zd := z.RawVector().Data

		s := lstmStep{
			x: x, hPrev: hPrev, cPrev: cPrev,
			i: make([]float64, hidden), f: make([]float64, hidden),
			g: make([]float64, hidden), o: make([]float64, hidden),
			c: make([]float64, hidden), tc: make([]float64, hidden),
			h: make([]float64, hidden),
		}
		for j := 0; j < hidden; j++ {
			s.i[j] = sigmoid(zd[j])
			s.f[j] = sigmoid(zd[hidden+j])
			s.g[j] = math.Tanh(zd[2*hidden+j])
			s.o[j] = sigmoid(zd[3*hidden+j])
			s.c[j] = s.f[j]*cPrev[j] + s.i[j]*s.g[j]
			s.tc[j] = math.Tanh(s.c[j])
			s.h[j] = s.o[j] * s.tc[j]
		}
		steps[t] = s
		hPrev, cPrev = s.h, s.c
	}
	return steps
}

// lstmBackward runs BPTT over steps, accumulating into gw, gu and gb.
// dhOut[t] is the loss gradient arriving at h_t from above (nil for none).
// The returned slice holds dL/dx_t when wantDx is set.
func lstmBackward(w, u *mat.Dense, hidden int, steps []lstmStep, dhOut [][]float64,
	gw, gu *mat.Dense, gb *mat.VecDense, wantDx bool) [][]float64 {

	dhNext := make([]float64, hidden)
	dcNext := make([]float64, hidden)
	dz := mat.NewVecDense(4*hidden, nil)
	dhPrev := mat.NewVecDense(hidden, nil)
	var dxs [][]float64
	if wantDx {
		dxs = make([][]float64, len(steps))
	}

	for t := len(steps) - 1; t >= 0; t-- {
		s := steps[t]
		dzd := dz.RawVector().Data
		for j := 0; j < hidden; j++ {
			dh := dhNext[j]
			if dhOut[t] != nil {
				dh += dhOut[t][j]
			}
			dc := dcNext[j] + dh*s.o[j]*(1-s.tc[j]*s.tc[j])
			dzd[j] = dc * s.g[j] * s.i[j] * (1 - s.i[j])
			dzd[hidden+j] = dc * s.cPrev[j] * s.f[j] * (1 - s.f[j])
			dzd[2*hidden+j] = dc * s.i[j] * (1 - s.g[j]*s.g[j])
			dzd[3*hidden+j] = dh * s.tc[j] * s.o[j] * (1 - s.o[j])
			dcNext[j] = dc * s.f[j]
		}

		gw.RankOne(gw, 1, dz, mat.NewVecDense(len(s.x), s.x))
		gu.RankOne(gu, 1, dz, mat.NewVecDense(hidden, s.hPrev))
		gb.AddVec(gb, dz)

		dhPrev.MulVec(u.T(), dz)
		copy(dhNext, dhPrev.RawVector().Data)

		if wantDx {
			dx := mat.NewVecDense(len(s.x), nil)
			dx.MulVec(w.T(), dz)
			dxs[t] = dx.RawVector().Data
		}
	}
	return dxs
}

// dropoutMask returns an inverted-dropout mask, or nil when rng is nil.
func dropoutMask(n int, rate float64, rng *rand.Rand) []float64 {
	if rng == nil || rate <= 0 {
		return nil
	}
	keep := 1 - rate
	m := make([]float64, n)
	for i := range m {
		if rng.Float64() >= rate {
			m[i] = 1 / keep
		}
	}
	return m
}

func applyMask(v, mask []float64) []float64 {
	if mask == nil {
		return v
	}
	out := make([]float64, len(v))
	floats.MulTo(out, v, mask)
	return out
}

// forward evaluates the network on one window. Dropout is active only when
// rng is non-nil.
func forward(p Profile, t *tensors, steps [][]float64, rng *rand.Rand) *trace {
	tr := &trace{}

	tr.l1 = lstmForward(t.w1, t.u1, t.b1, p.Hidden1, steps)
	tr.h1d = make([][]float64, len(tr.l1))
	if rng != nil && p.Dropout > 0 {
		tr.m1 = make([][]float64, len(tr.l1))
	}
	for i, s := range tr.l1 {
		var mask []float64
		if tr.m1 != nil {
			mask = dropoutMask(p.Hidden1, p.Dropout, rng)
			tr.m1[i] = mask
		}
		tr.h1d[i] = applyMask(s.h, mask)
	}

	tr.l2 = lstmForward(t.w2, t.u2, t.b2, p.Hidden2, tr.h1d)
	last := tr.l2[len(tr.l2)-1].h
	tr.m2 = dropoutMask(p.Hidden2, p.Dropout, rng)
	tr.h2d = applyMask(last, tr.m2)

	a := mat.NewVecDense(p.Dense, nil)
	a.MulVec(t.wd, mat.NewVecDense(p.Hidden2, tr.h2d))
	a.AddVec(a, t.bd)
	tr.a = a.RawVector().Data
	tr.r = make([]float64, p.Dense)
	for i, v := range tr.a {
		if v > 0 {
			tr.r[i] = v
		}
	}

	logits := mat.NewVecDense(p.Classes, nil)
	logits.MulVec(t.wo, mat.NewVecDense(p.Dense, tr.r))
	logits.AddVec(logits, t.bo)
	tr.probs = softmax(logits.RawVector().Data)
	return tr
}

func softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	peak := floats.Max(logits)
	for i, v := range logits {
		out[i] = math.Exp(v - peak)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

const probFloor = 1e-12

// backward accumulates scale * dLoss/dParams for one sample into g and
// returns the sample's cross-entropy loss.
func backward(p Profile, t, g *tensors, tr *trace, class int, scale float64) float64 {
	loss := -math.Log(math.Max(tr.probs[class], probFloor))

	dlog := mat.NewVecDense(p.Classes, nil)
	for i, pr := range tr.probs {
		d := pr
		if i == class {
			d -= 1
		}
		dlog.SetVec(i, d*scale)
	}
	g.wo.RankOne(g.wo, 1, dlog, mat.NewVecDense(p.Dense, tr.r))
	g.bo.AddVec(g.bo, dlog)

	da := mat.NewVecDense(p.Dense, nil)
	da.MulVec(t.wo.T(), dlog)
	for i, v := range tr.a {
		if v <= 0 {
			da.SetVec(i, 0)
		}
	}
	g.wd.RankOne(g.wd, 1, da, mat.NewVecDense(p.Hidden2, tr.h2d))
	g.bd.AddVec(g.bd, da)

	dh2 := mat.NewVecDense(p.Hidden2, nil)
	dh2.MulVec(t.wd.T(), da)
	dhOut2 := make([][]float64, len(tr.l2))
	dhOut2[len(dhOut2)-1] = applyMask(dh2.RawVector().Data, tr.m2)

	dh1d := lstmBackward(t.w2, t.u2, p.Hidden2, tr.l2, dhOut2, g.w2, g.u2, g.b2, true)
	dhOut1 := make([][]float64, len(dh1d))
	for i, d := range dh1d {
		var mask []float64
		if tr.m1 != nil {
			mask = tr.m1[i]
		}
		dhOut1[i] = applyMask(d, mask)
	}
	lstmBackward(t.w1, t.u1, p.Hidden1, tr.l1, dhOut1, g.w1, g.u1, g.b1, false)

	return loss
}
