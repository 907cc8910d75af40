package ratecontrol

import "math"

// qp2qscale maps QP to a linear quantizer step that doubles every eight QP.
func qp2qscale(qp float64) float64 {
	return 0.85 * math.Exp2((qp-12)/8)
}

func qscale2qp(qscale float64) float64 {
	return 12 + 8*math.Log2(qscale/0.85)
}

// predictor estimates frame size from qscale with bits = coeff / qscale.
// The coefficient is a decaying average of bits*qscale over coded frames.
type predictor struct {
	coeff float64
	count float64
	decay float64
}

func newPredictor(decay float64) predictor {
	return predictor{decay: decay}
}

func (p *predictor) update(bits, qscale float64) {
	p.coeff = p.coeff*p.decay + bits*qscale
	p.count = p.count*p.decay + 1
}

func (p *predictor) valid() bool {
	return p.count > 0 && p.coeff > 0
}

// complexity is the average bits*qscale product.
func (p *predictor) complexity() float64 {
	return p.coeff / p.count
}

func (p *predictor) predict(qscale float64) float64 {
	return p.complexity() / qscale
}
