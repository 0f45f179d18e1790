package accesscontrol

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultDecisionCacheTTL is how long an evaluated decision is served
// without re-evaluation.
const DefaultDecisionCacheTTL = 30 * time.Second

// fingerprint identifies a decision context. Field-wise equality keeps
// components from bleeding into their neighbours, so distinct owner-ID
// pairs can never share an entry.
type fingerprint struct {
	tenantID       string
	principalID    string
	resourceName   string
	actionName     string
	columns        string
	subjectOwnerID string
	rowOwnerID     string
}

type cachedDecision struct {
	decision  Decision
	expiresAt time.Time
}

// DecisionCache memoizes authorization decisions per request
// fingerprint. Deny decisions are cached exactly like allows.
type DecisionCache struct {
	mu      sync.RWMutex
	entries map[fingerprint]cachedDecision
	ttl     time.Duration

	now func() time.Time
}

// NewDecisionCache creates a decision cache with the given TTL
func NewDecisionCache(ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultDecisionCacheTTL
	}
	return &DecisionCache{
		entries: make(map[fingerprint]cachedDecision),
		ttl:     ttl,
		now:     time.Now,
	}
}

// key builds the cache fingerprint for a request. Requested columns are
// sorted so equivalent requests share an entry, and length-prefixed so
// no two column sets encode alike. The table's authorization mode is
// deliberately absent; see the service docs.
func (c *DecisionCache) key(req EvaluationRequest) fingerprint {
	columns := append([]string(nil), req.RequestedColumns...)
	sort.Strings(columns)

	var sb strings.Builder
	for _, col := range columns {
		fmt.Fprintf(&sb, "%d:%s", len(col), col)
	}

	return fingerprint{
		tenantID:       req.TenantID,
		principalID:    req.PrincipalID,
		resourceName:   req.ResourceName,
		actionName:     req.ActionName,
		columns:        sb.String(),
		subjectOwnerID: req.SubjectOwnerID,
		rowOwnerID:     req.RowOwnerID,
	}
}

// Get returns the cached decision for the request if it is still fresh
func (c *DecisionCache) Get(req EvaluationRequest) (Decision, bool) {
	key := c.key(req)

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return Decision{}, false
	}
	return entry.decision, true
}

// Put stores a decision for the request with a fresh TTL
func (c *DecisionCache) Put(req EvaluationRequest, decision Decision) {
	key := c.key(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedDecision{
		decision:  decision,
		expiresAt: c.now().Add(c.ttl),
	}
}
