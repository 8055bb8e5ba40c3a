package forecast

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// line is y = Intercept + Slope*x.
type line struct {
	Intercept float64
	Slope     float64
}

func (l line) At(x float64) float64 {
	return l.Intercept + l.Slope*x
}

func (l line) finite() bool {
	return !math.IsNaN(l.Intercept) && !math.IsInf(l.Intercept, 0) &&
		!math.IsNaN(l.Slope) && !math.IsInf(l.Slope, 0)
}

type irlsConfig struct {
	MaxIter       int
	Tolerance     float64
	ResidualFloor float64
}

var defaultIRLS = irlsConfig{
	MaxIter:       1000,
	Tolerance:     1e-6,
	ResidualFloor: 1e-6,
}

// quantileFitter fits a linear quantile regression of y on x at level tau.
type quantileFitter func(x, y []float64, tau float64) (line, error)

// fitQuantileIRLS minimises the check loss by iteratively reweighted least
// squares. The first pass uses unit weights, i.e. plain OLS. x is centred
// before solving so the normal equations stay well conditioned.
func fitQuantileIRLS(cfg irlsConfig) quantileFitter {
	return func(x, y []float64, tau float64) (line, error) {
		if tau <= 0 || tau >= 1 {
			return line{}, errors.Errorf("quantile %v outside (0, 1)", tau)
		}
		if len(x) != len(y) || len(x) < 2 {
			return line{}, errors.New("need at least two paired observations")
		}

		n := len(x)
		xm := floats.Sum(x) / float64(n)
		xc := make([]float64, n)
		for i := range x {
			xc[i] = x[i] - xm
		}

		w := make([]float64, n)
		for i := range w {
			w[i] = 1
		}

		var beta line
		for iter := 0; iter < cfg.MaxIter; iter++ {
			next, err := weightedLeastSquares(xc, y, w)
			if err != nil {
				return line{}, errors.Wrapf(err, "quantile %.2f iteration %d", tau, iter)
			}
			diff := math.Max(math.Abs(next.Intercept-beta.Intercept), math.Abs(next.Slope-beta.Slope))
			beta = next

			for i := range xc {
				r := y[i] - beta.At(xc[i])
				a := math.Max(math.Abs(r), cfg.ResidualFloor)
				if r < 0 {
					w[i] = (1 - tau) / a
				} else {
					w[i] = tau / a
				}
			}

			if iter > 0 && diff < cfg.Tolerance {
				break
			}
		}

		fit := line{Intercept: beta.Intercept - beta.Slope*xm, Slope: beta.Slope}
		if !fit.finite() {
			return line{}, errors.Errorf("quantile %.2f produced non-finite coefficients", tau)
		}
		return fit, nil
	}
}

// weightedLeastSquares solves the 2x2 weighted normal equations.
func weightedLeastSquares(x, y, w []float64) (line, error) {
	var sw, swx, swxx, swy, swxy float64
	for i := range x {
		sw += w[i]
		swx += w[i] * x[i]
		swxx += w[i] * x[i] * x[i]
		swy += w[i] * y[i]
		swxy += w[i] * x[i] * y[i]
	}

	a := mat.NewDense(2, 2, []float64{sw, swx, swx, swxx})
	b := mat.NewVecDense(2, []float64{swy, swxy})

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return line{}, errors.Wrap(err, "solve weighted normal equations")
	}
	l := line{Intercept: sol.AtVec(0), Slope: sol.AtVec(1)}
	if !l.finite() {
		return line{}, errors.New("weighted normal equations produced non-finite solution")
	}
	return l, nil
}

// fitOLS returns the least-squares line and the population standard
// deviation of its residuals.
func fitOLS(x, y []float64) (line, float64) {
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	fit := line{Intercept: alpha, Slope: beta}

	residuals := make([]float64, len(y))
	for i := range y {
		residuals[i] = y[i] - fit.At(x[i])
	}
	_, variance := stat.PopMeanVariance(residuals, nil)
	return fit, math.Sqrt(variance)
}
