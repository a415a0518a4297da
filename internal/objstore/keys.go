package objstore

import (
	"net/url"
	"strings"
)

// Key layout. All record objects live under resource=<name>/; partition
// index objects add partition=<pname>/ and the encoded field segments.
// Lock leases live under locks/.
//
//	resource=users/id=u1
//	resource=orders/partition=byUserStatus/userId=u1/status=paid/id=o1
//	locks/orders:o1:amount

// EscapeID makes an id safe for use inside an object key.
func EscapeID(id string) string {
	return url.PathEscape(id)
}

// UnescapeID reverses EscapeID; malformed input is returned unchanged.
func UnescapeID(s string) string {
	u, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return u
}

// ResourcePrefix returns the listing prefix for a resource's primary objects.
func ResourcePrefix(resource string) string {
	return "resource=" + resource + "/id="
}

// PrimaryKey returns the key of a record's primary object.
func PrimaryKey(resource, id string) string {
	return "resource=" + resource + "/id=" + EscapeID(id)
}

// PartitionPrefix returns the listing prefix for a partition, optionally
// extended with leading field segments (partial key prefix scans).
func PartitionPrefix(resource, partition string, segments []string) string {
	var b strings.Builder
	b.WriteString("resource=")
	b.WriteString(resource)
	b.WriteString("/partition=")
	b.WriteString(partition)
	b.WriteString("/")
	for _, seg := range segments {
		b.WriteString(seg)
		b.WriteString("/")
	}
	return b.String()
}

// PartitionKey returns the key of one partition index object.
func PartitionKey(resource, partition string, segments []string, id string) string {
	return PartitionPrefix(resource, partition, segments) + "id=" + EscapeID(id)
}

// IDFromKey extracts the record id from a primary or partition index key.
// Returns empty string when the key has no id segment.
func IDFromKey(key string) string {
	idx := strings.LastIndex(key, "/id=")
	if idx < 0 {
		if strings.HasPrefix(key, "id=") {
			return UnescapeID(key[len("id="):])
		}
		return ""
	}
	return UnescapeID(key[idx+len("/id="):])
}

// LockKey returns the key of a lock lease object.
func LockKey(name string) string {
	return "locks/" + EscapeID(name)
}
