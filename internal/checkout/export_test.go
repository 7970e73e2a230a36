package checkout

import "time"

// SetClaimBackoff replaces the delays between lookups of an order claimed
// by another request.
func (s *Service) SetClaimBackoff(delays ...time.Duration) {
	s.claimBackoff = delays
}
