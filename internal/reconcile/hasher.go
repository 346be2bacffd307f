package reconcile

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultHashCost is the bcrypt work factor used when none is configured.
const DefaultHashCost = 10

// BcryptHasher hashes secrets with bcrypt.
type BcryptHasher struct{}

// Hash returns the bcrypt hash of secret. Costs outside bcrypt's range are rejected.
func (BcryptHasher) Hash(secret string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	b, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UUIDLabels generates storage labels of the form user-<uuid>.
type UUIDLabels struct{}

func (UUIDLabels) NewLabel() string {
	return "user-" + uuid.NewString()
}
