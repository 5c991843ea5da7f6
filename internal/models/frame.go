package models

import "time"

// Frame is one decoded ingest unit: an opaque image payload plus its
// capture timestamp and camera identifier.
type Frame struct {
	CamNo     string // camera identifier, e.g. "CAM0"
	Timestamp int64  // capture time, milliseconds since epoch
	FileHint  string // storage filename suggested by the camera, may be empty
	Payload   []byte
}

// TimeKey is the decomposed capture timestamp the index is ordered by.
// Rows are stored with these fields broken out so queries can filter on
// individual fields, and the lexicographic tuple order matches capture
// order for a monotonically advancing clock.
type TimeKey struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
	Milli  int
}

// KeyFromMillis decomposes an epoch-millisecond timestamp in local time,
// matching how the upload client stamps its rows.
func KeyFromMillis(ms int64) TimeKey {
	t := time.UnixMilli(ms)
	return TimeKey{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
		Milli:  int(ms % 1000),
	}
}

// Millis converts the key back to epoch milliseconds.
func (k TimeKey) Millis() int64 {
	t := time.Date(k.Year, time.Month(k.Month), k.Day, k.Hour, k.Minute, k.Second, 0, time.Local)
	return t.UnixMilli() + int64(k.Milli)
}

// Less reports whether k orders strictly before o.
func (k TimeKey) Less(o TimeKey) bool {
	a := [7]int{k.Year, k.Month, k.Day, k.Hour, k.Minute, k.Second, k.Milli}
	b := [7]int{o.Year, o.Month, o.Day, o.Hour, o.Minute, o.Second, o.Milli}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// IndexEntry is one persisted index row: where a frame's bytes live and
// when it was captured. Entries are insert-only.
type IndexEntry struct {
	CamNo    string
	Key      TimeKey
	Location string
}

// StorageTask is a pending disk write, owned by the storage queue from
// enqueue until the write completes or the task is dropped.
type StorageTask struct {
	CamNo     string
	Filename  string
	Timestamp int64
	Payload   []byte
}

// IndexTask is a completed disk write awaiting its index insert.
type IndexTask struct {
	CamNo     string
	Timestamp int64
	Location  string
}
