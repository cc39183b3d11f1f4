// Package substitute manages substitute groups: named sets of at least two
// interchangeable products with a preference ordering. The one invariant that
// matters is exclusivity: a product belongs to at most one group at any
// committed state.
package substitute

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mwalczyk/priceradar/internal/apperr"
	"github.com/mwalczyk/priceradar/internal/batch"
	"github.com/mwalczyk/priceradar/internal/store"
)

// MaxBulkGroups caps one bulk group creation call.
const MaxBulkGroups = 20

// Priority assigned to group members missing from the priority map when
// reading a group back (the write path fills explicit defaults of 1).
const fallbackPriority = 99

// Manager enforces group invariants over the store. It holds no state of its
// own; every operation runs inside one store transaction.
type Manager struct {
	store *store.Store
}

// New creates a Manager.
func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// GroupInput is the caller-facing shape for creating a group.
type GroupInput struct {
	LocalID     any            `json:"local_id,omitempty"`
	Name        string         `json:"name"`
	ProductIDs  []int64        `json:"product_ids"`
	PriorityMap map[int64]int  `json:"priority_map,omitempty"`
	Settings    *SettingsInput `json:"settings,omitempty"`
}

// SettingsInput allows partial settings; nil fields keep defaults.
type SettingsInput struct {
	MaxPriceIncreasePercent    *float64 `json:"max_price_increase_percent,omitempty"`
	MinQuantityRatio           *float64 `json:"min_quantity_ratio,omitempty"`
	MaxQuantityRatio           *float64 `json:"max_quantity_ratio,omitempty"`
	AllowAutomaticSubstitution *bool    `json:"allow_automatic_substitution,omitempty"`
}

// GroupProduct is a member product annotated with its priority.
type GroupProduct struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	EAN      string `json:"ean,omitempty"`
	Priority int    `json:"priority"`
}

// GroupDetail is a group with resolved member products.
type GroupDetail struct {
	GroupID      string              `json:"group_id"`
	Name         string              `json:"name"`
	Settings     store.GroupSettings `json:"settings"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
	Products     []GroupProduct      `json:"products,omitempty"`
	ProductCount int                 `json:"product_count,omitempty"`
}

// Substitutes is the answer to "what can replace this product".
type Substitutes struct {
	ProductID      int64          `json:"product_id"`
	HasSubstitutes bool           `json:"has_substitutes"`
	Group          *GroupDetail   `json:"group"`
	Substitutes    []GroupProduct `json:"substitutes"`
}

// GroupSummary is a list row with member names joined for display.
type GroupSummary struct {
	store.SubstituteGroup
	ProductNames string `json:"product_names"`
}

func defaultSettings() store.GroupSettings {
	return store.GroupSettings{
		MaxPriceIncreasePercent:    20.0,
		MinQuantityRatio:           0.8,
		MaxQuantityRatio:           1.5,
		AllowAutomaticSubstitution: true,
	}
}

func mergeSettings(in *SettingsInput) store.GroupSettings {
	settings := defaultSettings()
	if in == nil {
		return settings
	}
	if in.MaxPriceIncreasePercent != nil {
		settings.MaxPriceIncreasePercent = *in.MaxPriceIncreasePercent
	}
	if in.MinQuantityRatio != nil {
		settings.MinQuantityRatio = *in.MinQuantityRatio
	}
	if in.MaxQuantityRatio != nil {
		settings.MaxQuantityRatio = *in.MaxQuantityRatio
	}
	if in.AllowAutomaticSubstitution != nil {
		settings.AllowAutomaticSubstitution = *in.AllowAutomaticSubstitution
	}
	return settings
}

// newGroupID generates a time-and-randomness based id. Uniqueness is still
// enforced by the group_id primary key.
func newGroupID() string {
	return fmt.Sprintf("grp_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}

func validateGroupInput(in GroupInput) error {
	if in.Name == "" {
		return apperr.Validationf("group name is required")
	}
	if len(in.ProductIDs) < 2 {
		return apperr.Validationf("at least 2 products are required for a substitute group")
	}
	for _, id := range in.ProductIDs {
		if id <= 0 {
			return apperr.Validationf("all product ids must be positive integers")
		}
	}
	return nil
}

// CreateGroup validates and persists a new group, returning its generated id.
// Membership exclusivity is checked and recorded inside one transaction.
func (m *Manager) CreateGroup(ctx context.Context, userID string, in GroupInput) (string, error) {
	if err := validateGroupInput(in); err != nil {
		return "", err
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return "", apperr.Infra("create group", err)
	}
	defer tx.Rollback()

	groupID, err := m.createInTx(ctx, tx, userID, in)
	if err != nil {
		return "", err
	}

	if err := tx.IncrementContributions(ctx, userID, 1); err != nil {
		return "", apperr.Infra("create group", err)
	}
	if err := tx.Commit(); err != nil {
		return "", apperr.Infra("create group", err)
	}
	return groupID, nil
}

// createInTx runs the existence and exclusivity checks and persists the group
// within the caller's transaction. Shared by CreateGroup and BulkCreateGroups.
func (m *Manager) createInTx(ctx context.Context, tx *store.Tx, userID string, in GroupInput) (string, error) {
	exists, err := tx.ProductsExist(ctx, in.ProductIDs)
	if err != nil {
		return "", apperr.Infra("create group", err)
	}
	for _, id := range in.ProductIDs {
		if !exists[id] {
			return "", apperr.NotFound("product", id)
		}
	}

	membership, err := tx.MembershipFor(ctx, in.ProductIDs)
	if err != nil {
		return "", apperr.Infra("create group", err)
	}
	for _, id := range in.ProductIDs {
		if groupID, taken := membership[id]; taken {
			return "", apperr.Conflictf(groupID, "product %d is already in group: %s", id, groupID)
		}
	}

	priorities := make(map[int64]int, len(in.ProductIDs))
	for _, id := range in.ProductIDs {
		if p, ok := in.PriorityMap[id]; ok {
			priorities[id] = p
		} else {
			priorities[id] = 1
		}
	}

	group := &store.SubstituteGroup{
		GroupID:     newGroupID(),
		Name:        in.Name,
		ProductIDs:  in.ProductIDs,
		PriorityMap: priorities,
		Settings:    mergeSettings(in.Settings),
		CreatedBy:   userID,
	}
	if err := tx.InsertGroup(ctx, group); err != nil {
		return "", apperr.Infra("create group", err)
	}
	if err := tx.InsertGroupMembers(ctx, group.GroupID, in.ProductIDs); err != nil {
		return "", apperr.Infra("create group", err)
	}
	return group.GroupID, nil
}

// resolveProducts loads member products and sorts them by ascending priority,
// ties broken by product id.
func resolveProducts(ctx context.Context, q interface {
	ProductsByIDs(context.Context, []int64) ([]store.Product, error)
}, g *store.SubstituteGroup, exclude int64) ([]GroupProduct, error) {
	ids := make([]int64, 0, len(g.ProductIDs))
	for _, id := range g.ProductIDs {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	rows, err := q.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Infra("resolve group products", err)
	}

	products := make([]GroupProduct, 0, len(rows))
	for _, p := range rows {
		priority, ok := g.PriorityMap[p.ID]
		if !ok {
			priority = fallbackPriority
		}
		products = append(products, GroupProduct{
			ID:       p.ID,
			Name:     p.Name,
			EAN:      p.EAN,
			Priority: priority,
		})
	}
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Priority != products[j].Priority {
			return products[i].Priority < products[j].Priority
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func toDetail(g *store.SubstituteGroup, products []GroupProduct) *GroupDetail {
	return &GroupDetail{
		GroupID:      g.GroupID,
		Name:         g.Name,
		Settings:     g.Settings,
		CreatedBy:    g.CreatedBy,
		CreatedAt:    g.CreatedAt,
		Products:     products,
		ProductCount: len(products),
	}
}

// SubstitutesFor returns the other members of the product's group, ordered by
// preference. A product in no group yields an empty result, not an error.
func (m *Manager) SubstitutesFor(ctx context.Context, productID int64) (*Substitutes, error) {
	if productID <= 0 {
		return nil, apperr.Validationf("valid product_id is required")
	}

	group, err := m.store.GroupForProduct(ctx, productID)
	if err != nil {
		return nil, apperr.Infra("substitutes for", err)
	}
	if group == nil {
		return &Substitutes{ProductID: productID, Substitutes: []GroupProduct{}}, nil
	}

	subs, err := resolveProducts(ctx, m.store, group, productID)
	if err != nil {
		return nil, err
	}
	return &Substitutes{
		ProductID:      productID,
		HasSubstitutes: len(subs) > 0,
		Group:          toDetail(group, nil),
		Substitutes:    subs,
	}, nil
}

// GetGroup returns full group detail with resolved product names.
func (m *Manager) GetGroup(ctx context.Context, groupID string) (*GroupDetail, error) {
	if groupID == "" {
		return nil, apperr.Validationf("group id is required")
	}
	group, err := m.store.GroupByID(ctx, groupID)
	if err != nil {
		return nil, apperr.Infra("get group", err)
	}
	if group == nil {
		return nil, apperr.NotFound("group", groupID)
	}
	products, err := resolveProducts(ctx, m.store, group, 0)
	if err != nil {
		return nil, err
	}
	return toDetail(group, products), nil
}

// DeleteGroup removes a group permanently.
func (m *Manager) DeleteGroup(ctx context.Context, groupID string) error {
	if groupID == "" {
		return apperr.Validationf("group id is required")
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return apperr.Infra("delete group", err)
	}
	defer tx.Rollback()

	group, err := tx.GroupByID(ctx, groupID)
	if err != nil {
		return apperr.Infra("delete group", err)
	}
	if group == nil {
		return apperr.NotFound("group", groupID)
	}
	if err := tx.DeleteGroup(ctx, groupID); err != nil {
		return apperr.Infra("delete group", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Infra("delete group", err)
	}
	return nil
}

// GroupList is a page of groups.
type GroupList struct {
	Groups []GroupSummary `json:"groups"`
	Total  int            `json:"total"`
}

// ListGroups returns a page of groups with display names of their members.
func (m *Manager) ListGroups(ctx context.Context, limit, offset int) (*GroupList, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	groups, err := m.store.ListGroups(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Infra("list groups", err)
	}
	total, err := m.store.CountGroups(ctx)
	if err != nil {
		return nil, apperr.Infra("list groups", err)
	}

	summaries := make([]GroupSummary, 0, len(groups))
	for i := range groups {
		products, err := m.store.ProductsByIDs(ctx, groups[i].ProductIDs)
		if err != nil {
			return nil, apperr.Infra("list groups", err)
		}
		names := ""
		for j, p := range products {
			if j > 0 {
				names += ", "
			}
			names += p.Name
		}
		summaries = append(summaries, GroupSummary{
			SubstituteGroup: groups[i],
			ProductNames:    names,
		})
	}
	return &GroupList{Groups: summaries, Total: total}, nil
}

// BulkCreateGroups applies a batch of group creations in one transaction.
// Items fail independently; groups with duplicate names are skipped and
// reported, never rejected wholesale. Only an infrastructure fault aborts the
// whole batch.
func (m *Manager) BulkCreateGroups(ctx context.Context, userID string, items []GroupInput) (*batch.Result, error) {
	if len(items) == 0 {
		return nil, apperr.Validationf("groups array is required")
	}
	if len(items) > MaxBulkGroups {
		return nil, apperr.Validationf("maximum %d groups per batch", MaxBulkGroups)
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Infra("bulk create groups", err)
	}
	defer tx.Rollback()

	result := &batch.Result{Summary: batch.Summary{TotalProcessed: len(items)}}

	for i, in := range items {
		localID := batch.LocalID(in.LocalID, i)

		if err := validateGroupInput(in); err != nil {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "invalid group data",
			})
			result.Summary.Skipped++
			continue
		}

		existing, err := tx.GroupByName(ctx, in.Name)
		if err != nil {
			return nil, apperr.Infra("bulk create groups", err)
		}
		if existing != nil {
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: "group name already exists",
			})
			result.Summary.Skipped++
			continue
		}

		groupID, err := m.createInTx(ctx, tx, userID, in)
		switch {
		case err == nil:
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Success: true, GroupID: groupID, Name: in.Name,
			})
			result.Summary.Added++
		case apperr.IsInfra(err):
			return nil, err
		default:
			result.Results = append(result.Results, batch.ItemResult{
				LocalID: localID, Error: err.Error(),
			})
			result.Summary.Skipped++
		}
	}

	if err := tx.IncrementContributions(ctx, userID, result.Summary.Added); err != nil {
		return nil, apperr.Infra("bulk create groups", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Infra("bulk create groups", err)
	}
	return result, nil
}
