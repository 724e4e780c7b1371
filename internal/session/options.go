package session

import (
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
)

// ConnectPolicy decides what a connect request does while another attempt is
// still in transition.
type ConnectPolicy string

const (
	// PolicyReplace tears the in-flight attempt down and connects to the new target.
	PolicyReplace ConnectPolicy = "replace"
	// PolicyReject keeps the in-flight attempt and reports AlreadyConnecting.
	PolicyReject ConnectPolicy = "reject"
)

// Options configures a Controller. Zero values are replaced by the defaults
// in the struct tags.
type Options struct {
	NamePrefix           string        `default:"Qualia"`
	IgnoreCase           bool          `default:"false"`
	ConnectTimeout       time.Duration `default:"30s"`
	ConnectPolicy        ConnectPolicy `default:"replace"`
	EventBuffer          int           `default:"64"`
	InboxSize            int           `default:"256"`
	PendingNotifications int           `default:"64"`
	JournalSize          uint32        `default:"256"`
}

// DefaultOptions returns Options filled with defaults.
func DefaultOptions() Options {
	opts := Options{}
	defaults.SetDefaults(&opts)
	return opts
}

func (o *Options) applyDefaults() error {
	defaults.SetDefaults(o)
	switch o.ConnectPolicy {
	case PolicyReplace, PolicyReject:
	default:
		return fmt.Errorf("invalid connect policy %q (want %q or %q)", o.ConnectPolicy, PolicyReplace, PolicyReject)
	}
	if o.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must not be negative: %s", o.ConnectTimeout)
	}
	return nil
}
