package restaurant

import (
	"math/rand/v2"
	"sync"
	"time"
)

type Equipment string

const (
	Grill Equipment = "barbecue_grill"
	Fryer Equipment = "fryer"
	Bar   Equipment = "bar"
)

// Timing is a normal distribution of work time on one piece of equipment.
type Timing struct {
	Mean time.Duration
	Std  time.Duration
}

type Prices struct {
	Hamburger float64
	Fries     float64
	Drink     float64
}

func (p Prices) Cost(o Order) float64 {
	return float64(o.Hamburger)*p.Hamburger + float64(o.Fries)*p.Fries + float64(o.Drink)*p.Drink
}

// Kitchen samples how long each use of an equipment takes.
type Kitchen struct {
	Timings   map[Equipment]Timing
	TimeScale float64
	Prices    Prices

	mu  sync.Mutex
	rnd *rand.Rand
}

func DefaultKitchen() *Kitchen {
	return &Kitchen{
		Timings: map[Equipment]Timing{
			Grill: {Mean: 3 * time.Second, Std: 500 * time.Millisecond},
			Fryer: {Mean: 5 * time.Second, Std: 500 * time.Millisecond},
			Bar:   {Mean: 1 * time.Second, Std: 500 * time.Millisecond},
		},
		TimeScale: 1,
		Prices:    Prices{Hamburger: 5, Fries: 2, Drink: 1},
	}
}

// Sample draws one work time for eq, never negative.
func (k *Kitchen) Sample(eq Equipment) time.Duration {
	t := k.Timings[eq]
	k.mu.Lock()
	if k.rnd == nil {
		k.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	z := k.rnd.NormFloat64()
	k.mu.Unlock()

	d := (float64(t.Mean) + z*float64(t.Std)) * k.TimeScale
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// nextEquipment picks what the next item of o needs: burgers first, then
// fries, then drinks.
func nextEquipment(o Order) (Equipment, bool) {
	switch {
	case o.Hamburger > 0:
		return Grill, true
	case o.Fries > 0:
		return Fryer, true
	case o.Drink > 0:
		return Bar, true
	}
	return "", false
}

// cooked takes one item made on eq off o.
func cooked(o Order, eq Equipment) Order {
	switch eq {
	case Grill:
		o.Hamburger--
	case Fryer:
		o.Fries--
	case Bar:
		o.Drink--
	}
	return o
}
