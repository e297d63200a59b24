package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Listener policy errors
	ErrInvalidAddress = fmt.Errorf("invalid IPv4 address")
	ErrInvalidPort    = fmt.Errorf("invalid port")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
