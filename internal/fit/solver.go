package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when a solver cannot produce coefficients.
var ErrSingular = errors.New("fit: singular design matrix")

// Solver solves the linear least-squares problem min ‖a·x − b‖.
type Solver interface {
	Solve(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error)
	Name() string
}

// SVDSolver returns the minimum-norm solution. Singular values below Rcond
// times the largest are discarded; Rcond <= 0 means machine epsilon times
// the larger dimension.
type SVDSolver struct {
	Rcond float64
}

func (SVDSolver) Name() string { return "svd" }

func (s SVDSolver) Solve(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	r, c := a.Dims()
	if b.Len() != r {
		return nil, fmt.Errorf("%w: %d rows, %d values", mat.ErrShape, r, b.Len())
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrSingular)
	}
	rcond := s.Rcond
	if rcond <= 0 {
		rcond = math.Nextafter(1, 2) - 1
		rcond *= float64(max(r, c))
	}
	rank := svd.Rank(rcond)
	x := mat.NewVecDense(c, nil)
	if rank == 0 {
		return x, nil
	}
	svd.SolveVecTo(x, b, rank)
	return x, nil
}

// QRSolver solves through a QR factorization. It needs at least as many
// rows as columns and a well conditioned matrix.
type QRSolver struct{}

func (QRSolver) Name() string { return "qr" }

func (QRSolver) Solve(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	r, c := a.Dims()
	if b.Len() != r {
		return nil, fmt.Errorf("%w: %d rows, %d values", mat.ErrShape, r, b.Len())
	}
	if r < c {
		return nil, fmt.Errorf("%w: %d rows for %d columns", ErrSingular, r, c)
	}
	var qr mat.QR
	qr.Factorize(a)
	x := mat.NewVecDense(c, nil)
	if err := qr.SolveVecTo(x, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return x, nil
}

// NewSolver returns the solver with the given name.
func NewSolver(name string) (Solver, error) {
	switch name {
	case "", "svd", "lstsq":
		return SVDSolver{}, nil
	case "qr":
		return QRSolver{}, nil
	default:
		return nil, fmt.Errorf("fit: unknown solver %q (want svd or qr)", name)
	}
}
