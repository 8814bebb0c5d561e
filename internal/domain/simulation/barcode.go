package simulation

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// BarcodeFor derives the fixed-width numeric barcode printed on wristbands
// and medication labels from a destination id. Deterministic on purpose: a
// session-pinned id always yields the same code, so a reset reproduces the
// exact label text without storing codes separately.
func BarcodeFor(destinationID string) string {
	h := fnv.New32a()
	h.Write([]byte(destinationID))
	return fmt.Sprintf("%06d", h.Sum32()%1000000)
}

// RandomCode returns a fresh fixed-width numeric code for restores that run
// without a session. The same snapshot may be restored into many parallel
// tenants, so the template's own code is never carried forward as-is.
func RandomCode() string {
	return fmt.Sprintf("%06d", rand.Intn(1000000))
}
