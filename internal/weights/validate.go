package weights

import (
	"fmt"
	"math"

	"github.com/sona-engine/agentdb/internal/errs"
)

// ValidationWarning describes a non-fatal anomaly surfaced by Validate, such
// as an all-zero tensor or an unusually large magnitude.
type ValidationWarning string

// validate checks a tensor against spec.md §4.2: dimensions must be
// rectangular and, if expectRows/expectCols are non-zero, match the expected
// shape. NaN or infinite values are hard failures. All-zero tensors and
// weights with |w| > 100 are reported as warnings, not failures.
func validate(data [][]float32, expectRows, expectCols int) ([]ValidationWarning, error) {
	rows := len(data)
	if rows == 0 {
		return nil, fmt.Errorf("%w: tensor has zero rows", errs.ErrValidation)
	}
	cols := len(data[0])
	for r, row := range data {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", errs.ErrValidation, r, len(row), cols)
		}
	}
	if expectRows != 0 && rows != expectRows {
		return nil, fmt.Errorf("%w: tensor has %d rows, want %d", errs.ErrValidation, rows, expectRows)
	}
	if expectCols != 0 && cols != expectCols {
		return nil, fmt.Errorf("%w: tensor has %d cols, want %d", errs.ErrValidation, cols, expectCols)
	}

	var warnings []ValidationWarning
	allZero := true
	maxAbs := float32(0)
	for r, row := range data {
		for c, v := range row {
			f := float64(v)
			if math.IsNaN(f) {
				return nil, fmt.Errorf("%w: NaN at [%d][%d]", errs.ErrGradientAnomaly, r, c)
			}
			if math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: Inf at [%d][%d]", errs.ErrGradientAnomaly, r, c)
			}
			if v != 0 {
				allZero = false
			}
			if abs := float32(math.Abs(f)); abs > maxAbs {
				maxAbs = abs
			}
		}
	}
	if allZero {
		warnings = append(warnings, ValidationWarning("tensor is all-zero"))
	}
	if maxAbs > 100 {
		warnings = append(warnings, ValidationWarning(fmt.Sprintf("tensor magnitude %.2f exceeds 100", maxAbs)))
	}
	return warnings, nil
}
