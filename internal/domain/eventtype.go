package domain

// EventType is the closed set of conversion event types the syncer
// knows how to fetch and report. Each type carries its source query
// kind as static data; platform action names are configuration.
type EventType string

const (
	EventTypeTrialStart          EventType = "trial_start"
	EventTypeMonthlySubscription EventType = "monthly_subscription"
	EventTypeYearlySubscription  EventType = "yearly_subscription"
	EventTypeDocumentPurchase    EventType = "document_purchase"
	EventTypeChatPurchase        EventType = "chat_purchase"
	EventTypeRefund              EventType = "refund"
)

// SourceKind selects which warehouse query feeds an event type.
type SourceKind int

const (
	// SourceTrials reads first-occurrence rows from the trial staging table.
	SourceTrials SourceKind = iota
	// SourceSubscriptions reads subscription payments; the billing
	// frequency splits them into monthly/yearly at query time, so both
	// subscription types share one pass.
	SourceSubscriptions
	// SourceOrders reads one-off order payments, split on plan code.
	SourceOrders
	// SourceRefunds reads refund payments joined to the conversion log.
	SourceRefunds
)

type eventTypeInfo struct {
	label   string
	source  SourceKind
	forward bool
}

var eventTypes = map[EventType]eventTypeInfo{
	EventTypeTrialStart:          {label: "Trial Starts", source: SourceTrials, forward: true},
	EventTypeMonthlySubscription: {label: "Subscriptions", source: SourceSubscriptions, forward: true},
	EventTypeYearlySubscription:  {label: "Subscriptions", source: SourceSubscriptions, forward: true},
	EventTypeDocumentPurchase:    {label: "Document Purchases", source: SourceOrders, forward: true},
	EventTypeChatPurchase:        {label: "Chat Purchases", source: SourceOrders, forward: true},
	EventTypeRefund:              {label: "Refunds", source: SourceRefunds, forward: false},
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Label returns the human-readable pass label used in logs.
func (t EventType) Label() string {
	return eventTypes[t].label
}

// Source returns the warehouse query kind that produces this type.
func (t EventType) Source() SourceKind {
	return eventTypes[t].source
}

// Forward reports whether the type takes part in the forward upload
// passes (refunds run as a separate retraction pass).
func (t EventType) Forward() bool {
	return eventTypes[t].forward
}

// ForwardPasses returns the forward passes in fixed execution order.
// Monthly and yearly subscriptions come out of one query, so they form
// a single pass keyed by the pair of types it may emit.
func ForwardPasses() []Pass {
	return []Pass{
		{Label: "Trial Starts", Source: SourceTrials, Types: []EventType{EventTypeTrialStart}},
		{Label: "Subscriptions", Source: SourceSubscriptions, Types: []EventType{EventTypeMonthlySubscription, EventTypeYearlySubscription}},
		{Label: "Document Purchases", Source: SourceOrders, Types: []EventType{EventTypeDocumentPurchase}},
		{Label: "Chat Purchases", Source: SourceOrders, Types: []EventType{EventTypeChatPurchase}},
	}
}

// Pass describes one forward sweep over the warehouse: a source query
// and the event types it may emit.
type Pass struct {
	Label  string
	Source SourceKind
	Types  []EventType
}
