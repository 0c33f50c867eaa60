package inventory

import "fmt"

// InventoryError reports a malformed or conflicting inventory. It is never
// retried and aborts a run before any host is contacted.
type InventoryError struct {
	Host string
	Msg  string
	Err  error
}

func (e *InventoryError) Error() string {
	prefix := "inventory"
	if e.Host != "" {
		prefix = fmt.Sprintf("inventory: host %q", e.Host)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *InventoryError) Unwrap() error { return e.Err }

func hostErrorf(host, format string, args ...interface{}) *InventoryError {
	return &InventoryError{Host: host, Msg: fmt.Sprintf(format, args...)}
}
