package restaurant

import (
	"fmt"
	"time"
)

type Options struct {
	Kitchen   *Kitchen
	TicketTTL time.Duration
}

// NewRole builds the handler playing role on p.
func NewRole(role string, p *Peer, opts Options) (Handler, error) {
	if opts.Kitchen == nil {
		opts.Kitchen = DefaultKitchen()
	}
	switch role {
	case RoleDriveThrough:
		return NewDriveThrough(p, opts.Kitchen), nil
	case RoleClerk:
		return NewClerk(p), nil
	case RoleChef:
		return NewChef(p), nil
	case RoleWaiter:
		return NewWaiter(p, opts.Kitchen.Prices, opts.TicketTTL), nil
	}
	return nil, fmt.Errorf("unknown role %q", role)
}
