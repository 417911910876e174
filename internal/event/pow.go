package event

import (
	"context"
	"strconv"
)

// powCheckInterval bounds how long mining runs between context checks,
// so a publish cancellation is honored promptly.
const powCheckInterval = 4096

// Difficulty returns the number of leading zero bits in a hex event ID.
func Difficulty(id string) int {
	count := 0
	for i := 0; i < len(id); i++ {
		nibble := hexNibble(id[i])
		if nibble == 0 {
			count += 4
			continue
		}
		for mask := byte(8); mask > 0; mask >>= 1 {
			if nibble&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// MinePow mutates the event's nonce tag until its ID carries at least
// target leading zero bits, then fills in the ID. A target of zero is
// a no-op apart from setting the ID. Mining is CPU bound, so the loop
// checks ctx every powCheckInterval attempts.
func MinePow(ctx context.Context, e *Event, target int) error {
	if target <= 0 {
		e.ID = e.ComputeID()
		return nil
	}
	targetStr := strconv.Itoa(target)
	for nonce := uint64(0); ; nonce++ {
		if nonce%powCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		e.SetTag([]string{"nonce", strconv.FormatUint(nonce, 10), targetStr})
		id := e.ComputeID()
		if Difficulty(id) >= target {
			e.ID = id
			return nil
		}
	}
}
