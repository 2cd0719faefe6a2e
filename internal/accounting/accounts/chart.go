package accounts

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// HistoryFunc reports whether an account already has ledger postings.
type HistoryFunc func(accountID int64) bool

func noHistory(int64) bool { return false }

const noParent = -1

type node struct {
	account  Account
	parent   int
	children []int
}

// Chart is the chart of accounts of one company, stored as an arena indexed
// by position with parents kept as optional indices.
type Chart struct {
	mu        sync.RWMutex
	companyID int64
	nodes     []node
	byCode    map[string]int
	byID      map[int64]int
	nextID    int64
	now       func() time.Time
}

// NewChart returns an empty chart for the company.
func NewChart(companyID int64) *Chart {
	return &Chart{
		companyID: companyID,
		byCode:    make(map[string]int),
		byID:      make(map[int64]int),
		nextID:    1,
		now:       time.Now,
	}
}

// CompanyID returns the owning company.
func (c *Chart) CompanyID() int64 {
	return c.companyID
}

// Load rebuilds the arena from persisted rows. Parents may appear after children.
func (c *Chart) Load(rows []Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(rows)
}

func (c *Chart) load(rows []Account) error {
	c.nodes = make([]node, 0, len(rows))
	c.byCode = make(map[string]int, len(rows))
	c.byID = make(map[int64]int, len(rows))
	for _, a := range rows {
		if _, dup := c.byCode[a.Code]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, a.Code)
		}
		a.CompanyID = c.companyID
		idx := len(c.nodes)
		c.nodes = append(c.nodes, node{account: a, parent: noParent})
		c.byCode[a.Code] = idx
		c.byID[a.ID] = idx
		if a.ID >= c.nextID {
			c.nextID = a.ID + 1
		}
	}
	for idx := range c.nodes {
		pid := c.nodes[idx].account.ParentID
		if pid == nil {
			continue
		}
		pidx, ok := c.byID[*pid]
		if !ok {
			return fmt.Errorf("%w: parent %d of %s", ErrAccountNotFound, *pid, c.nodes[idx].account.Code)
		}
		c.nodes[idx].parent = pidx
		c.nodes[pidx].children = append(c.nodes[pidx].children, idx)
	}
	if err := c.validateAcyclic(); err != nil {
		return err
	}
	for idx := range c.nodes {
		c.refresh(idx)
	}
	return nil
}

// Add inserts a node under an optional parent.
func (c *Chart) Add(in NewAccountInput, actorID int64, history HistoryFunc) (Account, error) {
	if history == nil {
		history = noHistory
	}
	code := strings.TrimSpace(in.Code)
	if !validCode(code) {
		return Account{}, fmt.Errorf("%w: %q", ErrInvalidCode, in.Code)
	}
	if !in.Type.Valid() {
		return Account{}, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	normal := in.Normal
	if normal == "" {
		normal = in.Type.DefaultNormalBalance()
	}
	if !normal.Valid() {
		return Account{}, fmt.Errorf("%w: normal balance %q", ErrInvalidType, in.Normal)
	}
	statement := in.Statement
	if statement == "" {
		statement = in.Type.DefaultStatement()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byCode[code]; dup {
		return Account{}, fmt.Errorf("%w: %s", ErrDuplicateCode, code)
	}
	parent := noParent
	if in.ParentCode != "" {
		pidx, ok := c.byCode[in.ParentCode]
		if !ok {
			return Account{}, fmt.Errorf("%w: parent %s", ErrAccountNotFound, in.ParentCode)
		}
		if len(c.nodes[pidx].children) == 0 && history(c.nodes[pidx].account.ID) {
			return Account{}, fmt.Errorf("%w: %s cannot become a rollup", ErrHasHistory, in.ParentCode)
		}
		parent = pidx
	}
	id := in.ID
	if id == 0 {
		id = c.nextID
	}
	if _, dup := c.byID[id]; dup {
		return Account{}, fmt.Errorf("%w: id %d", ErrDuplicateCode, id)
	}
	if id >= c.nextID {
		c.nextID = id + 1
	}
	now := c.now()
	acct := Account{
		ID:        id,
		CompanyID: c.companyID,
		Code:      code,
		Name:      in.Name,
		Type:      in.Type,
		Normal:    normal,
		Statement: statement,
		IsActive:  true,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedBy: actorID,
		UpdatedAt: now,
	}
	idx := len(c.nodes)
	c.nodes = append(c.nodes, node{account: acct, parent: parent})
	c.byCode[code] = idx
	c.byID[id] = idx
	if parent != noParent {
		c.nodes[parent].children = append(c.nodes[parent].children, idx)
		c.refresh(parent)
	}
	if err := c.validateAcyclic(); err != nil {
		return Account{}, err
	}
	c.refresh(idx)
	return c.nodes[idx].account, nil
}

// Move re-parents code under newParentCode; an empty parent makes it a root.
func (c *Chart) Move(code, newParentCode string, actorID int64, history HistoryFunc) (Account, error) {
	if history == nil {
		history = noHistory
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byCode[code]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	target := noParent
	if newParentCode != "" {
		pidx, ok := c.byCode[newParentCode]
		if !ok {
			return Account{}, fmt.Errorf("%w: parent %s", ErrAccountNotFound, newParentCode)
		}
		for cur := pidx; cur != noParent; cur = c.nodes[cur].parent {
			if cur == idx {
				return Account{}, fmt.Errorf("%w: %s under %s", ErrCycle, code, newParentCode)
			}
		}
		if len(c.nodes[pidx].children) == 0 && history(c.nodes[pidx].account.ID) {
			return Account{}, fmt.Errorf("%w: %s cannot become a rollup", ErrHasHistory, newParentCode)
		}
		target = pidx
	}
	old := c.nodes[idx].parent
	if old == target {
		return c.nodes[idx].account, nil
	}
	if old != noParent {
		c.nodes[old].children = removeIndex(c.nodes[old].children, idx)
	}
	c.nodes[idx].parent = target
	if target != noParent {
		c.nodes[target].children = append(c.nodes[target].children, idx)
	}
	if err := c.validateAcyclic(); err != nil {
		// restore the previous shape
		if target != noParent {
			c.nodes[target].children = removeIndex(c.nodes[target].children, idx)
		}
		c.nodes[idx].parent = old
		if old != noParent {
			c.nodes[old].children = append(c.nodes[old].children, idx)
		}
		return Account{}, err
	}
	c.nodes[idx].account.UpdatedBy = actorID
	c.nodes[idx].account.UpdatedAt = c.now()
	if old != noParent {
		c.refresh(old)
	}
	if target != noParent {
		c.refresh(target)
	}
	c.refreshSubtree(idx)
	return c.nodes[idx].account, nil
}

// SetActive activates or deactivates an account. Inactive accounts keep their history.
func (c *Chart) SetActive(code string, active bool, actorID int64) (Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byCode[code]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	c.nodes[idx].account.IsActive = active
	c.nodes[idx].account.UpdatedBy = actorID
	c.nodes[idx].account.UpdatedAt = c.now()
	return c.nodes[idx].account, nil
}

// Remove deletes a leaf that never received postings.
func (c *Chart) Remove(code string, history HistoryFunc) error {
	if history == nil {
		history = noHistory
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byCode[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	if len(c.nodes[idx].children) > 0 {
		return fmt.Errorf("%w: %s", ErrHasChildren, code)
	}
	if history(c.nodes[idx].account.ID) {
		return fmt.Errorf("%w: %s must be deactivated instead", ErrHasHistory, code)
	}
	rows := make([]Account, 0, len(c.nodes)-1)
	for i, n := range c.nodes {
		if i == idx {
			continue
		}
		rows = append(rows, n.account)
	}
	return c.load(rows)
}

// Resolve returns the account with code.
func (c *Chart) Resolve(code string) (Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byCode[code]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return c.nodes[idx].account, nil
}

// ResolveID returns the account with id.
func (c *Chart) ResolveID(id int64) (Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byID[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: id %d", ErrAccountNotFound, id)
	}
	return c.nodes[idx].account, nil
}

// IsPostable reports whether a can receive direct postings: an active leaf.
func IsPostable(a Account) bool {
	return a.IsActive && !a.HasChildren
}

// Ancestors returns the path from the root to code, inclusive.
func (c *Chart) Ancestors(code string) ([]Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byCode[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	var path []Account
	for cur, steps := idx, 0; cur != noParent; cur, steps = c.nodes[cur].parent, steps+1 {
		if steps > len(c.nodes) {
			return nil, fmt.Errorf("%w: at %s", ErrCycle, code)
		}
		path = append(path, c.nodes[cur].account)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Children returns the direct children of code ordered by code.
func (c *Chart) Children(code string) ([]Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byCode[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	out := make([]Account, 0, len(c.nodes[idx].children))
	for _, child := range c.nodes[idx].children {
		out = append(out, c.nodes[child].account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Accounts returns every node ordered by code.
func (c *Chart) Accounts() []Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Account, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n.account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// validateAcyclic walks every parent chain; a chain longer than the arena is a cycle.
func (c *Chart) validateAcyclic() error {
	limit := len(c.nodes)
	for idx := range c.nodes {
		steps := 0
		for cur := c.nodes[idx].parent; cur != noParent; cur = c.nodes[cur].parent {
			steps++
			if steps > limit {
				return fmt.Errorf("%w: at %s", ErrCycle, c.nodes[idx].account.Code)
			}
		}
	}
	return nil
}

func (c *Chart) refresh(idx int) {
	n := &c.nodes[idx]
	n.account.HasChildren = len(n.children) > 0
	if n.parent == noParent {
		n.account.ParentID = nil
		n.account.Level = 1
		return
	}
	pid := c.nodes[n.parent].account.ID
	n.account.ParentID = &pid
	level := 1
	for cur := n.parent; cur != noParent && level <= len(c.nodes); cur = c.nodes[cur].parent {
		level++
	}
	n.account.Level = level
}

func (c *Chart) refreshSubtree(idx int) {
	c.refresh(idx)
	for _, child := range c.nodes[idx].children {
		c.refreshSubtree(child)
	}
}

func removeIndex(in []int, v int) []int {
	out := in[:0]
	for _, x := range in {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func validCode(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
