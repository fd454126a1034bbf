package models

import "fmt"

// PseudonymName renders a participant ordinal as its per-thread pseudonym.
// Ordinal 0 is always the original poster.
func PseudonymName(ordinal int) string {
	if ordinal == 0 {
		return "Author"
	}
	return fmt.Sprintf("Commenter №%04d", ordinal)
}
