// Package trigger turns external push-to-talk signals into session calls.
package trigger

import "github.com/loqalabs/loqa-dictate/internal/scheduler"

// Controller is the part of the session controller triggers drive.
type Controller interface {
	BeginSession() error
	EndSession()
	SessionID() string
	State() scheduler.State
}

// Toggle begins a session when idle and ends it otherwise.
func Toggle(c Controller) error {
	if c.SessionID() == "" {
		return c.BeginSession()
	}
	c.EndSession()
	return nil
}
