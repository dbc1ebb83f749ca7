package platform

import "time"

func unixUTC(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
