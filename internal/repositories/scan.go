package repositories

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// dateString scans DATE columns into YYYY-MM-DD whether the driver hands back
// text, bytes or a parsed time.
type dateString string

func (d *dateString) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = ""
	case time.Time:
		*d = dateString(v.Format(dateLayout))
	case []byte:
		*d = dateString(trimDate(string(v)))
	case string:
		*d = dateString(trimDate(v))
	default:
		return fmt.Errorf("cannot scan %T into date", src)
	}
	return nil
}

func trimDate(s string) string {
	if len(s) > len(dateLayout) {
		return s[:len(dateLayout)]
	}
	return s
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
