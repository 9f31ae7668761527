package index

import "strconv"

// DefaultNamespace prefixes every index key unless configured otherwise.
const DefaultNamespace = "spqs"

// Keys builds store keys for one namespace.
type Keys struct {
	Namespace string
}

// ClassKey returns the ordered-set key for a priority class.
// Format: {ns}:priority:{class}
func (k Keys) ClassKey(priority int) string {
	return k.ns() + ":priority:" + strconv.Itoa(priority)
}

// MetaKey returns the metadata key for a message id.
// Format: {ns}:meta:{id}
func (k Keys) MetaKey(id string) string {
	return k.ns() + ":meta:" + id
}

func (k Keys) ns() string {
	if k.Namespace == "" {
		return DefaultNamespace
	}
	return k.Namespace
}
