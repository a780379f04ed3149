package host

// Offer is one outstanding unit of supply (outgoing) or demand (incoming).
type Offer struct {
	Building BuildingID `json:"building"`
	Category Category   `json:"category"`
	Priority int        `json:"priority"`
	Amount   int        `json:"amount"`
	// Active marks the side that dispatches the vehicle.
	Active bool `json:"active"`
	// Exclude is set on warehouse offers; two excluded offers never match.
	Exclude  bool     `json:"exclude"`
	Outside  bool     `json:"outside"`
	Position Position `json:"position"`
}

type OfferPool struct {
	Incoming []Offer
	Outgoing []Offer
}

func (p *OfferPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Incoming) + len(p.Outgoing)
}

// AddIncoming and AddOutgoing append to the pool for the offer's category.
func AddIncoming(pools map[Category]*OfferPool, o Offer) {
	poolFor(pools, o.Category).Incoming = append(poolFor(pools, o.Category).Incoming, o)
}

func AddOutgoing(pools map[Category]*OfferPool, o Offer) {
	poolFor(pools, o.Category).Outgoing = append(poolFor(pools, o.Category).Outgoing, o)
}

func poolFor(pools map[Category]*OfferPool, c Category) *OfferPool {
	p := pools[c]
	if p == nil {
		p = &OfferPool{}
		pools[c] = p
	}
	return p
}
