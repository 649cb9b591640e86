// Package gridref encodes projected eastings and northings as Ordnance
// Survey National Grid references, the identifiers used to name terrain
// tiles in the remote catalog.
package gridref

import (
	"fmt"
	"math"
)

const letters = "ABCDEFGHJKLMNOPQRSTUVWXYZ"

// Bounds of the 100 km square index covered by the grid.
const (
	MaxSquareE = 6
	MaxSquareN = 12
)

// Encode returns the grid reference of the point (e, n) with precision
// digits per axis, e.g. Encode(435000, 105000, 1) == "SU30".
//
// An empty string is returned for points outside the grid.
func Encode(e, n float64, precision int) string {
	sqE := int(math.Floor(e / 100000))
	sqN := int(math.Floor(n / 100000))
	if sqE < 0 || sqE > MaxSquareE || sqN < 0 || sqN > MaxSquareN {
		return ""
	}
	if precision < 0 {
		precision = 0
	}
	if precision > 5 {
		precision = 5
	}

	row := 19 - sqN
	l1 := row - row%5 + (sqE+10)/5
	l2 := (row*5)%25 + sqE%5

	digitsE := fmt.Sprintf("%05d", int(math.Floor(e))%100000)
	digitsN := fmt.Sprintf("%05d", int(math.Floor(n))%100000)

	return string(letters[l1]) + string(letters[l2]) + digitsE[:precision] + digitsN[:precision]
}
