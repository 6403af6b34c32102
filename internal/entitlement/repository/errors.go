package repository

import (
	"fmt"

	"github.com/predixa/entitlements/internal/entitlement/domain"
)

// storeError marks a driver or connection failure as ErrStoreUnavailable and
// keeps the driver error in the chain.
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
