package track

import "gonum.org/v1/gonum/mat"

// KalmanParams holds the tunable noise/covariance scalars from spec §4.4.
// Defaults are sigma0^2 = sigmaP^2 = sigmaM^2 = 1.0.
type KalmanParams struct {
	Sigma0Sq float64
	SigmaPSq float64
	SigmaMSq float64
}

// DefaultKalmanParams returns the spec's defaults.
func DefaultKalmanParams() KalmanParams {
	return KalmanParams{Sigma0Sq: 1.0, SigmaPSq: 1.0, SigmaMSq: 1.0}
}

// KalmanState is the 6-state (cx, cy, vx, vy, ax, ay) constant-velocity
// filter used by each Track. The transition matrix A has both acceleration
// rows zeroed — "constant velocity with immediately-forgotten
// acceleration" — preserved exactly as the spec's first Open Question
// directs, not the textbook constant-acceleration model.
type KalmanState struct {
	X *mat.VecDense // 6x1: cx, cy, vx, vy, ax, ay
	P *mat.Dense    // 6x6 error covariance

	a *mat.Dense // 6x6 state transition
	h *mat.Dense // 2x6 measurement
	q *mat.Dense // 6x6 process noise
	r *mat.Dense // 2x2 measurement noise
}

// newTransitionMatrix builds the constant-velocity A matrix with both
// acceleration rows zeroed:
//
//	cx' = cx + vx
//	cy' = cy + vy
//	vx' = vx + ax
//	vy' = vy + ay
//	ax' = 0
//	ay' = 0
func newTransitionMatrix() *mat.Dense {
	a := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		a.Set(i, i, 1)
	}
	a.Set(0, 2, 1) // cx += vx
	a.Set(1, 3, 1) // cy += vy
	a.Set(2, 4, 1) // vx += ax
	a.Set(3, 5, 1) // vy += ay
	// Acceleration rows (4, 5) are left as identity-only: ax' = ax, ay' =
	// ay would be constant acceleration. The spec's matrix instead zeroes
	// them so acceleration decays to zero immediately each tick.
	a.Set(4, 4, 0)
	a.Set(5, 5, 0)
	return a
}

func newMeasurementMatrix() *mat.Dense {
	h := mat.NewDense(2, 6, nil)
	h.Set(0, 0, 1) // extracts cx
	h.Set(1, 1, 1) // extracts cy
	return h
}

// NewKalmanState builds a filter seeded at (cx, cy) with zero velocity and
// acceleration, and initial covariance P = sigma0^2 * I6.
func NewKalmanState(cx, cy float64, p KalmanParams) *KalmanState {
	x := mat.NewVecDense(6, []float64{cx, cy, 0, 0, 0, 0})

	cov := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		cov.Set(i, i, p.Sigma0Sq)
	}

	q := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		q.Set(i, i, p.SigmaPSq)
	}

	r := mat.NewDense(2, 2, nil)
	r.Set(0, 0, p.SigmaMSq)
	r.Set(1, 1, p.SigmaMSq)

	return &KalmanState{
		X: x,
		P: cov,
		a: newTransitionMatrix(),
		h: newMeasurementMatrix(),
		q: q,
		r: r,
	}
}

// CX and CY read the filter's current position estimate.
func (k *KalmanState) CX() float64 { return k.X.AtVec(0) }
func (k *KalmanState) CY() float64 { return k.X.AtVec(1) }
func (k *KalmanState) VX() float64 { return k.X.AtVec(2) }
func (k *KalmanState) VY() float64 { return k.X.AtVec(3) }

// PredictedCenter returns the center position the time-update would move
// to (cx+vx, cy+vy) without mutating the filter. Track association uses
// this, not the last-measured position, as spec §4.4's
// "track_i.predicted_center".
func (k *KalmanState) PredictedCenter() (cx, cy float64) {
	return k.CX() + k.VX(), k.CY() + k.VY()
}

// SeedVelocity sets vx, vy from (measurement - position), used exactly
// once on a track's first measurement per spec §4.4.
func (k *KalmanState) SeedVelocity(mx, my float64) {
	k.X.SetVec(2, mx-k.CX())
	k.X.SetVec(3, my-k.CY())
}

// Update runs the time-update (X <- A*X, P <- A*P*A' + Q) followed by the
// measurement update with Z = (mx, my):
//
//	K = P*H' * (H*P*H' + R)^-1
//	X <- X + K*(Z - H*X)
//	P <- (I - K*H) * P
func (k *KalmanState) Update(mx, my float64) {
	// Time update.
	var xPred mat.VecDense
	xPred.MulVec(k.a, k.X)

	var pPred mat.Dense
	pPred.Mul(k.a, k.P)
	pPred.Mul(&pPred, k.a.T())
	pPred.Add(&pPred, k.q)

	k.X.CopyVec(&xPred)
	k.P.Copy(&pPred)

	// Measurement update.
	z := mat.NewVecDense(2, []float64{mx, my})

	var hx mat.VecDense
	hx.MulVec(k.h, k.X)

	var innovation mat.VecDense
	innovation.SubVec(z, &hx)

	var s mat.Dense // H*P*H' + R
	s.Mul(k.h, k.P)
	s.Mul(&s, k.h.T())
	s.Add(&s, k.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		// Singular innovation covariance: skip the measurement update
		// rather than propagating NaNs into the track state.
		return
	}

	var pht mat.Dense // P*H'
	pht.Mul(k.P, k.h.T())

	var gain mat.Dense // K = P*H' * Sinv
	gain.Mul(&pht, &sInv)

	var correction mat.VecDense
	correction.MulVec(&gain, &innovation)

	var xNew mat.VecDense
	xNew.AddVec(k.X, &correction)
	k.X.CopyVec(&xNew)

	var kh mat.Dense
	kh.Mul(&gain, k.h)

	ident := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		ident.Set(i, i, 1)
	}
	var ikh mat.Dense
	ikh.Sub(ident, &kh)

	var pNew mat.Dense
	pNew.Mul(&ikh, k.P)
	k.P.Copy(&pNew)
}
