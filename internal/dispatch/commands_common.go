package dispatch

import "time"

// nowMS is the wall-clock source for relative expiry calculations
// (SET EX/PX, EXPIRE). Command handlers never read time.Now directly so
// a future replay/testing harness has one seam to intercept.
func nowMS() int64 { return time.Now().UnixMilli() }
