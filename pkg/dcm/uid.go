package dcm

import (
	"math/big"

	"github.com/google/uuid"
)

// NewUID generates a DICOM UID in the 2.25 UUID-derived numeric form.
func NewUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}
