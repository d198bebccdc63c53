package record

import "time"

// epoch is the fixed reference point for DATE columns: 32-bit signed days
// since 1970-01-01 UTC.
var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Date is a DATE column's value: days since epoch. Distinct from plain
// int32 so EncodeRow can tell a DATE value apart from an INT value.
type Date int32

// DateFromTime truncates t to a whole day and converts it to a Date.
func DateFromTime(t time.Time) Date {
	days := t.UTC().Sub(epoch).Hours() / 24
	return Date(int32(days))
}

// Time returns the UTC midnight instant this Date represents.
func (d Date) Time() time.Time {
	return epoch.AddDate(0, 0, int(d))
}
