package store

import "time"

func mustTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
