package keyspace

import "fmt"

// DeletionPolicy selects the simulated clients that run the Delete step.
type DeletionPolicy struct {
	Modulus   int
	Remainder int
}

// DefaultDeletionPolicy deletes for every fifth client.
func DefaultDeletionPolicy() DeletionPolicy {
	return DeletionPolicy{Modulus: 5, Remainder: 0}
}

func (p DeletionPolicy) Validate() error {
	if p.Modulus < 1 {
		return fmt.Errorf("delete modulus must be >= 1, got %d", p.Modulus)
	}
	if p.Remainder < 0 || p.Remainder >= p.Modulus {
		return fmt.Errorf("delete remainder must be in [0, %d), got %d", p.Modulus, p.Remainder)
	}
	return nil
}

// ShouldDelete reports whether clientID falls in the deleting sample.
// An invalid policy never deletes.
func (p DeletionPolicy) ShouldDelete(clientID int) bool {
	if p.Validate() != nil {
		return false
	}
	return clientID%p.Modulus == p.Remainder
}
