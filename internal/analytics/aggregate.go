package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/finance"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/orders"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/returns"
)

// Filters restrict a query; empty fields do not restrict.
type Filters struct {
	City     string `json:"city,omitempty"`
	Courier  string `json:"courier,omitempty"`
	Category string `json:"category,omitempty"`
	SKU      string `json:"sku,omitempty"`
	Source   string `json:"source,omitempty"`
	Campaign string `json:"campaign,omitempty"`
}

func (f Filters) matchOrder(o orders.Order) bool {
	if !match(f.City, o.Shipping.City) || !match(f.Courier, o.Shipping.Courier) ||
		!match(f.Source, o.Shipping.Source) || !match(f.Campaign, o.Shipping.Campaign) {
		return false
	}
	if f.Category == "" && f.SKU == "" {
		return true
	}
	for _, it := range o.Items {
		if f.matchLine(it) {
			return true
		}
	}
	return false
}

func (f Filters) matchLine(it orders.OrderItem) bool {
	return match(f.Category, it.Category) && match(f.SKU, it.SKU)
}

func match(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}

// Snapshot is the history a report is computed from.
type Snapshot struct {
	Orders       []orders.Order
	Returns      []returns.Return
	Transactions []finance.Transaction
}

type StageCount struct {
	Status orders.Status `json:"status"`
	Count  int           `json:"count"`
	Share  float64       `json:"share"`
	// FromPrevious is Count over the previous lifecycle stage. Orders skip
	// stages, so it can exceed 1.
	FromPrevious float64 `json:"from_previous"`
}

type Funnel struct {
	Total  int          `json:"total"`
	Stages []StageCount `json:"stages"`
}

type Rates struct {
	Created      int     `json:"created"`
	Shipped      int     `json:"shipped"` // expediee or later
	Delivered    int     `json:"delivered"`
	Returned     int     `json:"returned"`
	Cancelled    int     `json:"cancelled"`
	DeliveryRate float64 `json:"delivery_rate"`
	RTORate      float64 `json:"rto_rate"`
	CancelRate   float64 `json:"cancel_rate"`
}

type SLAMetric struct {
	Name    string  `json:"name"`
	Unit    string  `json:"unit"`
	Samples int     `json:"samples"`
	P50     float64 `json:"p50"`
	P90     float64 `json:"p90"`
}

type GeoRow struct {
	City    string      `json:"city"`
	Courier string      `json:"courier"`
	SLA     []SLAMetric `json:"sla"`
	Rates
}

// ProductRow rates and SLA count each order carrying the SKU once.
type ProductRow struct {
	SKU           string      `json:"sku"`
	Name          string      `json:"name"`
	Category      string      `json:"category"`
	Orders        int         `json:"orders"`
	Units         int         `json:"units"`
	RevenueCents  int64       `json:"revenue_cents"`
	ReturnedUnits int         `json:"returned_units"`
	ReturnRate    float64     `json:"return_rate"`
	SLA           []SLAMetric `json:"sla"`
	Rates
}

type MarketingRow struct {
	Source          string      `json:"source"`
	Campaign        string      `json:"campaign"`
	NetRevenueCents int64       `json:"net_revenue_cents"`
	SLA             []SLAMetric `json:"sla"`
	Rates
}

type Report struct {
	From      time.Time      `json:"from"`
	To        time.Time      `json:"to"`
	Filters   Filters        `json:"filters"`
	Funnel    Funnel         `json:"funnel"`
	Rates     Rates          `json:"rates"`
	SLA       []SLAMetric    `json:"sla"`
	Geo       []GeoRow       `json:"geo"`
	Products  []ProductRow   `json:"products"`
	Marketing []MarketingRow `json:"marketing"`
}

// linearStages is the nouvelle..livree prefix of orders.Statuses.
const linearStages = 5

const (
	unitHours = "hours"
	unitDays  = "days"
)

// slaPairs are measured in the listed unit.
var slaPairs = []struct {
	name     string
	unit     string
	from, to func(o orders.Order) *time.Time
}{
	{"created_to_confirmed", unitHours, created, func(o orders.Order) *time.Time { return o.ConfirmedAt }},
	{"confirmed_to_packed", unitHours, func(o orders.Order) *time.Time { return o.ConfirmedAt }, func(o orders.Order) *time.Time { return o.PackedAt }},
	{"packed_to_shipped", unitHours, func(o orders.Order) *time.Time { return o.PackedAt }, func(o orders.Order) *time.Time { return o.ShippedAt }},
	{"shipped_to_delivered", unitDays, func(o orders.Order) *time.Time { return o.ShippedAt }, func(o orders.Order) *time.Time { return o.DeliveredAt }},
	{"created_to_delivered", unitDays, created, func(o orders.Order) *time.Time { return o.DeliveredAt }},
}

func created(o orders.Order) *time.Time { return &o.CreatedAt }

// measure returns one duration per slaPairs entry, ok false when either
// timestamp is missing.
func measure(o orders.Order) []sample {
	out := make([]sample, len(slaPairs))
	for i, pair := range slaPairs {
		a, b := pair.from(o), pair.to(o)
		if a == nil || b == nil {
			continue
		}
		d := b.Sub(*a).Hours()
		if pair.unit == unitDays {
			d /= 24
		}
		out[i] = sample{v: d, ok: true}
	}
	return out
}

type sample struct {
	v  float64
	ok bool
}

// partial accumulates counts and SLA samples for one dimension key.
type partial struct {
	created, shipped, delivered, returned, cancelled int
	sla                                              [][]float64
}

func (p *partial) add(s orders.Status, m []sample) {
	p.created++
	switch s {
	case orders.StatusAnnulee:
		p.cancelled++
	case orders.StatusLivree:
		p.delivered++
	case orders.StatusRetournee:
		p.returned++
	}
	if s.Shipped() {
		p.shipped++
	}
	if p.sla == nil {
		p.sla = make([][]float64, len(slaPairs))
	}
	for i, x := range m {
		if x.ok {
			p.sla[i] = append(p.sla[i], x.v)
		}
	}
}

func (p partial) rates() Rates {
	return Rates{
		Created:      p.created,
		Shipped:      p.shipped,
		Delivered:    p.delivered,
		Returned:     p.returned,
		Cancelled:    p.cancelled,
		DeliveryRate: ratio(p.delivered, p.shipped),
		RTORate:      ratio(p.returned, p.shipped),
		CancelRate:   ratio(p.cancelled, p.created),
	}
}

func (p partial) slaMetrics() []SLAMetric {
	out := make([]SLAMetric, 0, len(slaPairs))
	for i, pair := range slaPairs {
		var xs []float64
		if p.sla != nil {
			xs = p.sla[i]
		}
		p50, p90 := summarize(xs)
		out = append(out, SLAMetric{Name: pair.name, Unit: pair.unit, Samples: len(xs), P50: p50, P90: p90})
	}
	return out
}

type productPartial struct {
	partial
	name, category string
	units          int
	revenue        int64
	returnedUnits  int
}

type marketingPartial struct {
	partial
	revenue int64
}

type dimKey struct{ a, b string }

// Build computes every report section over orders created in [from, to)
// that pass f, in a single pass over the snapshot.
func Build(snap Snapshot, from, to time.Time, f Filters) Report {
	var (
		total     partial
		byStatus  = make(map[orders.Status]int)
		geo       = make(map[dimKey]*partial)
		products  = make(map[string]*productPartial)
		marketing = make(map[dimKey]*marketingPartial)
		inScope   = make(map[string]dimKey) // order id -> marketing key
	)

	for _, o := range snap.Orders {
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) || !f.matchOrder(o) {
			continue
		}
		m := measure(o)
		total.add(o.Status, m)
		byStatus[o.Status]++

		gk := dimKey{o.Shipping.City, o.Shipping.Courier}
		if geo[gk] == nil {
			geo[gk] = &partial{}
		}
		geo[gk].add(o.Status, m)

		mk := dimKey{o.Shipping.Source, o.Shipping.Campaign}
		if marketing[mk] == nil {
			marketing[mk] = &marketingPartial{}
		}
		marketing[mk].add(o.Status, m)
		inScope[o.ID] = mk

		for _, it := range o.Items {
			if !f.matchLine(it) {
				continue
			}
			pp := products[it.SKU]
			if pp == nil {
				pp = &productPartial{name: it.Name, category: it.Category}
				products[it.SKU] = pp
			}
			pp.add(o.Status, m)
			if o.Status != orders.StatusAnnulee {
				pp.units += it.Qty
				pp.revenue += it.LineTotal()
			}
		}
	}

	for _, r := range snap.Returns {
		if _, ok := inScope[r.OrderID]; !ok {
			continue
		}
		for _, it := range r.Items {
			if pp := products[it.SKU]; pp != nil {
				pp.returnedUnits += it.Qty
			}
		}
	}
	for _, tx := range snap.Transactions {
		mk, ok := inScope[tx.OrderID]
		if !ok || tx.Status != finance.StatusPosted {
			continue
		}
		marketing[mk].revenue += tx.AmountCents
	}

	rep := Report{From: from, To: to, Filters: f, Rates: total.rates()}

	rep.Funnel.Total = total.created
	prev := 0
	for i, s := range orders.Statuses {
		n := byStatus[s]
		st := StageCount{Status: s, Count: n, Share: ratio(n, total.created)}
		if i > 0 && i < linearStages {
			st.FromPrevious = ratio(n, prev)
		}
		if i < linearStages {
			prev = n
		}
		rep.Funnel.Stages = append(rep.Funnel.Stages, st)
	}

	rep.SLA = total.slaMetrics()

	// merge
	rep.Geo = make([]GeoRow, 0, len(geo))
	for k, p := range geo {
		rep.Geo = append(rep.Geo, GeoRow{City: k.a, Courier: k.b, SLA: p.slaMetrics(), Rates: p.rates()})
	}
	sort.Slice(rep.Geo, func(i, j int) bool {
		if rep.Geo[i].City != rep.Geo[j].City {
			return rep.Geo[i].City < rep.Geo[j].City
		}
		return rep.Geo[i].Courier < rep.Geo[j].Courier
	})

	rep.Products = make([]ProductRow, 0, len(products))
	for sku, p := range products {
		rep.Products = append(rep.Products, ProductRow{
			SKU: sku, Name: p.name, Category: p.category,
			Orders: p.created, Units: p.units, RevenueCents: p.revenue,
			ReturnedUnits: p.returnedUnits, ReturnRate: ratio(p.returnedUnits, p.units),
			SLA: p.slaMetrics(), Rates: p.rates(),
		})
	}
	sort.Slice(rep.Products, func(i, j int) bool {
		if rep.Products[i].RevenueCents != rep.Products[j].RevenueCents {
			return rep.Products[i].RevenueCents > rep.Products[j].RevenueCents
		}
		return rep.Products[i].SKU < rep.Products[j].SKU
	})

	rep.Marketing = make([]MarketingRow, 0, len(marketing))
	for k, p := range marketing {
		rep.Marketing = append(rep.Marketing, MarketingRow{Source: k.a, Campaign: k.b, NetRevenueCents: p.revenue, SLA: p.slaMetrics(), Rates: p.rates()})
	}
	sort.Slice(rep.Marketing, func(i, j int) bool {
		if rep.Marketing[i].Source != rep.Marketing[j].Source {
			return rep.Marketing[i].Source < rep.Marketing[j].Source
		}
		return rep.Marketing[i].Campaign < rep.Marketing[j].Campaign
	})
	return rep
}
