// Package metrics provides per-process pipeline metrics collection.
//
// The Collector accumulates counters across stage runs. It is a leaf package
// with no internal dependencies. All increment methods are nil-receiver safe
// so callers never need to guard a missing collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters. Returned by
// Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Stage lifecycle
	StagesStarted   int64
	StagesSucceeded int64
	StagesFailed    int64
	StagesBusy      int64
	StagesReplayed  int64

	// Admission
	ItemsAdmitted          int64
	ItemsRejectedDuplicate int64
	ItemsRejectedLowScore  int64

	// Collaborator calls
	CollabCalls   int64
	CollabRetries int64

	// Delivery
	Deliveries       int64
	DeliveriesFailed int64

	// Reconciler
	FindingsByKind map[string]int64

	// Dimensions (informational, set at construction)
	ItemBackend    string
	LedgerBackend  string
	StorageBackend string
}

// Collector accumulates pipeline counters. Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	stagesStarted   int64
	stagesSucceeded int64
	stagesFailed    int64
	stagesBusy      int64
	stagesReplayed  int64

	itemsAdmitted          int64
	itemsRejectedDuplicate int64
	itemsRejectedLowScore  int64

	collabCalls   int64
	collabRetries int64

	deliveries       int64
	deliveriesFailed int64

	findingsByKind map[string]int64

	itemBackend    string
	ledgerBackend  string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(itemBackend, ledgerBackend, storageBackend string) *Collector {
	return &Collector{
		findingsByKind: make(map[string]int64),
		itemBackend:    itemBackend,
		ledgerBackend:  ledgerBackend,
		storageBackend: storageBackend,
	}
}

// --- Stage lifecycle ---

// IncStageStarted records a stage attempt opening.
func (c *Collector) IncStageStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stagesStarted++
	c.mu.Unlock()
}

// IncStageSucceeded records a stage attempt finishing succeeded.
func (c *Collector) IncStageSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stagesSucceeded++
	c.mu.Unlock()
}

// IncStageFailed records a stage attempt finishing failed.
func (c *Collector) IncStageFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stagesFailed++
	c.mu.Unlock()
}

// IncStageBusy records a trigger refused because an attempt was running.
func (c *Collector) IncStageBusy() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stagesBusy++
	c.mu.Unlock()
}

// IncStageReplayed records a trigger satisfied from a prior success without
// re-executing collaborators.
func (c *Collector) IncStageReplayed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stagesReplayed++
	c.mu.Unlock()
}

// --- Admission ---

// IncItemAdmitted records an admission-gate admit.
func (c *Collector) IncItemAdmitted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsAdmitted++
	c.mu.Unlock()
}

// IncItemRejectedDuplicate records a duplicate rejection.
func (c *Collector) IncItemRejectedDuplicate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsRejectedDuplicate++
	c.mu.Unlock()
}

// IncItemRejectedLowScore records a below-threshold rejection.
func (c *Collector) IncItemRejectedLowScore() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsRejectedLowScore++
	c.mu.Unlock()
}

// --- Collaborator calls ---

// IncCollabCall records one collaborator invocation (first try or retry).
func (c *Collector) IncCollabCall() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.collabCalls++
	c.mu.Unlock()
}

// IncCollabRetry records a retry after a transient collaborator failure.
func (c *Collector) IncCollabRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.collabRetries++
	c.mu.Unlock()
}

// --- Delivery ---

// IncDelivery records an acknowledged delivery.
func (c *Collector) IncDelivery() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deliveries++
	c.mu.Unlock()
}

// IncDeliveryFailed records a delivery that exhausted its retries.
func (c *Collector) IncDeliveryFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deliveriesFailed++
	c.mu.Unlock()
}

// --- Reconciler ---

// IncFinding records an audit finding by kind.
func (c *Collector) IncFinding(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.findingsByKind == nil {
		c.findingsByKind = make(map[string]int64)
	}
	c.findingsByKind[kind]++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters. The
// returned Snapshot is safe to read concurrently; the Collector can continue
// to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	findings := make(map[string]int64, len(c.findingsByKind))
	for k, v := range c.findingsByKind {
		findings[k] = v
	}

	return Snapshot{
		StagesStarted:   c.stagesStarted,
		StagesSucceeded: c.stagesSucceeded,
		StagesFailed:    c.stagesFailed,
		StagesBusy:      c.stagesBusy,
		StagesReplayed:  c.stagesReplayed,

		ItemsAdmitted:          c.itemsAdmitted,
		ItemsRejectedDuplicate: c.itemsRejectedDuplicate,
		ItemsRejectedLowScore:  c.itemsRejectedLowScore,

		CollabCalls:   c.collabCalls,
		CollabRetries: c.collabRetries,

		Deliveries:       c.deliveries,
		DeliveriesFailed: c.deliveriesFailed,

		FindingsByKind: findings,

		ItemBackend:    c.itemBackend,
		LedgerBackend:  c.ledgerBackend,
		StorageBackend: c.storageBackend,
	}
}
