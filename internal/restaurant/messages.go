// Package restaurant is the drive-through application that runs on top of the
// token ring. Each role is a Handler fed with the envelopes its ring node
// delivers; roles talk to each other only by sending envelopes back through
// the ring.
package restaurant

import (
	"errors"
	"fmt"
	"time"

	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

const (
	RoleDriveThrough = "Drive-Through"
	RoleClerk        = "Clerk"
	RoleChef         = "Chef"
	RoleWaiter       = "Waiter"
)

// Roles lists every role with the id and ring port it uses by default.
var Roles = []struct {
	Name string
	ID   int
	Port int
}{
	{RoleDriveThrough, 0, 5000},
	{RoleClerk, 1, 5001},
	{RoleChef, 2, 5002},
	{RoleWaiter, 3, 5003},
}

// DefaultRingSize is one node per role.
const DefaultRingSize = 4

func ValidRole(name string) bool {
	for _, r := range Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Application methods carried in envelopes.
const (
	MethodClientOrder      = "CLIENT_ORDER"
	MethodOrderTicket      = "ORDER_TICKET"
	MethodCookOrder        = "COOK_ORDER"
	MethodRequestEquipment = "REQUEST_EQUIPMENT"
	MethodEquipmentGranted = "EQUIPMENT_GRANTED"
	MethodReleaseEquipment = "RELEASE_EQUIPMENT"
	MethodOrderReady       = "ORDER_READY"
	MethodClientPickup     = "CLIENT_PICKUP"
	MethodOrderDelivered   = "ORDER_DELIVERED"
)

var (
	ErrEmptyOrder    = errors.New("order has no items")
	ErrUnknownMethod = errors.New("unexpected method")
)

type Order struct {
	Hamburger int `json:"hamburger"`
	Fries     int `json:"fries"`
	Drink     int `json:"drink"`
}

func (o Order) Items() int { return o.Hamburger + o.Fries + o.Drink }

func (o Order) Validate() error {
	if o.Hamburger < 0 || o.Fries < 0 || o.Drink < 0 {
		return fmt.Errorf("negative item count in %+v", o)
	}
	if o.Items() == 0 {
		return ErrEmptyOrder
	}
	return nil
}

type ClientOrder struct {
	RequestID string        `json:"request_id"`
	Order     Order         `json:"order"`
	From      ring.Identity `json:"from"`
}

type OrderTicket struct {
	RequestID string `json:"request_id"`
	Ticket    string `json:"ticket"`
	Order     Order  `json:"order"`
}

type CookOrder struct {
	Ticket string `json:"ticket"`
	Order  Order  `json:"order"`
}

type EquipmentRequest struct {
	Equipment Equipment     `json:"equipment"`
	Ticket    string        `json:"ticket"`
	From      ring.Identity `json:"from"`
}

// EquipmentGrant lends Equipment for Duration. It goes back to By.
type EquipmentGrant struct {
	Equipment Equipment     `json:"equipment"`
	Ticket    string        `json:"ticket"`
	Duration  time.Duration `json:"duration"`
	By        ring.Identity `json:"by"`
}

type OrderReady struct {
	Ticket string `json:"ticket"`
	Order  Order  `json:"order"`
}

type ClientPickup struct {
	RequestID string        `json:"request_id"`
	Ticket    string        `json:"ticket"`
	From      ring.Identity `json:"from"`
}

// OrderDelivered answers a pickup. Error is set when the ticket could not be
// served.
type OrderDelivered struct {
	RequestID string  `json:"request_id"`
	Ticket    string  `json:"ticket"`
	Order     Order   `json:"order"`
	Cost      float64 `json:"cost"`
	Error     string  `json:"error,omitempty"`
}
