package models

// HostModel is a single inventory entry: the target address plus the
// connection parameters parsed from its `key=value` pairs.
type HostModel struct {
	Address string
	User    string
	KeyPath string
	Port    string
}
