package payment

import (
	"strconv"
	"sync"
	"time"
)

// orderIDSource hands out strictly increasing millisecond stamps so two links created in the
// same millisecond, or across a backwards clock step, never share an order id.
type orderIDSource struct {
	mu   sync.Mutex
	last int64
}

func (s *orderIDSource) next(now time.Time, userID int64) string {
	s.mu.Lock()
	stamp := now.UnixMilli()
	if stamp <= s.last {
		stamp = s.last + 1
	}
	s.last = stamp
	s.mu.Unlock()

	return strconv.FormatInt(stamp, 10) + "-" + strconv.FormatInt(userID, 10)
}
