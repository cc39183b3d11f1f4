package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// GroupSettings controls substitution behavior for a group.
type GroupSettings struct {
	MaxPriceIncreasePercent    float64 `json:"max_price_increase_percent"`
	MinQuantityRatio           float64 `json:"min_quantity_ratio"`
	MaxQuantityRatio           float64 `json:"max_quantity_ratio"`
	AllowAutomaticSubstitution bool    `json:"allow_automatic_substitution"`
}

// SubstituteGroup is a named set of interchangeable products with a
// preference ordering. Membership is mirrored in group_members, whose
// primary key on product_id enforces at-most-one-group-per-product.
type SubstituteGroup struct {
	GroupID      string    `db:"group_id" json:"group_id"`
	Name         string    `db:"name" json:"name"`
	ProductsJSON string    `db:"product_ids" json:"-"`
	PriorityJSON string    `db:"priority_map" json:"-"`
	SettingsJSON string    `db:"settings" json:"-"`
	CreatedBy    string    `db:"created_by" json:"created_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`

	ProductIDs  []int64       `db:"-" json:"product_ids"`
	PriorityMap map[int64]int `db:"-" json:"priority_map"`
	Settings    GroupSettings `db:"-" json:"settings"`
}

func (g *SubstituteGroup) decode() error {
	if err := json.Unmarshal([]byte(g.ProductsJSON), &g.ProductIDs); err != nil {
		return fmt.Errorf("decode group %s product_ids: %w", g.GroupID, err)
	}
	if err := json.Unmarshal([]byte(g.PriorityJSON), &g.PriorityMap); err != nil {
		return fmt.Errorf("decode group %s priority_map: %w", g.GroupID, err)
	}
	if err := json.Unmarshal([]byte(g.SettingsJSON), &g.Settings); err != nil {
		return fmt.Errorf("decode group %s settings: %w", g.GroupID, err)
	}
	return nil
}

// InsertGroup persists the group row. Membership rows are inserted separately
// via InsertGroupMembers inside the same transaction.
func (q Queries) InsertGroup(ctx context.Context, g *SubstituteGroup) error {
	productsJSON, err := json.Marshal(g.ProductIDs)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.GroupID, err)
	}
	priorityJSON, err := json.Marshal(g.PriorityMap)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.GroupID, err)
	}
	settingsJSON, err := json.Marshal(g.Settings)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.GroupID, err)
	}

	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO substitute_groups (group_id, name, product_ids, priority_map, settings, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, g.GroupID, g.Name, string(productsJSON), string(priorityJSON), string(settingsJSON), g.CreatedBy, createdAt)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.GroupID, err)
	}
	return nil
}

// InsertGroupMembers records group membership for the given products. Fails
// if any product is already a member of a group.
func (q Queries) InsertGroupMembers(ctx context.Context, groupID string, productIDs []int64) error {
	for _, id := range productIDs {
		_, err := q.q.ExecContext(ctx,
			"INSERT INTO group_members (product_id, group_id) VALUES (?, ?)", id, groupID)
		if err != nil {
			return fmt.Errorf("insert group member %d -> %s: %w", id, groupID, err)
		}
	}
	return nil
}

// MembershipFor returns, for each given product that belongs to a group, its
// group id. One batched query.
func (q Queries) MembershipFor(ctx context.Context, productIDs []int64) (map[int64]string, error) {
	membership := make(map[int64]string, len(productIDs))
	if len(productIDs) == 0 {
		return membership, nil
	}
	query, args, err := sqlx.In(
		"SELECT product_id, group_id FROM group_members WHERE product_id IN (?)", productIDs)
	if err != nil {
		return nil, fmt.Errorf("membership for: %w", err)
	}
	rows, err := q.q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("membership for: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var productID int64
		var groupID string
		if err := rows.Scan(&productID, &groupID); err != nil {
			return nil, fmt.Errorf("membership for: %w", err)
		}
		membership[productID] = groupID
	}
	return membership, rows.Err()
}

// GroupByID returns the group with decoded blobs, or nil if absent.
func (q Queries) GroupByID(ctx context.Context, groupID string) (*SubstituteGroup, error) {
	var g SubstituteGroup
	err := q.q.GetContext(ctx, &g, "SELECT * FROM substitute_groups WHERE group_id = ?", groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", groupID, err)
	}
	if err := g.decode(); err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupByName returns the group with the exact name, or nil if absent.
func (q Queries) GroupByName(ctx context.Context, name string) (*SubstituteGroup, error) {
	var g SubstituteGroup
	err := q.q.GetContext(ctx, &g, "SELECT * FROM substitute_groups WHERE name = ? LIMIT 1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("group by name %q: %w", name, err)
	}
	if err := g.decode(); err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupForProduct returns the group the product belongs to, or nil.
func (q Queries) GroupForProduct(ctx context.Context, productID int64) (*SubstituteGroup, error) {
	var g SubstituteGroup
	err := q.q.GetContext(ctx, &g, `
		SELECT sg.* FROM substitute_groups sg
		JOIN group_members gm ON gm.group_id = sg.group_id
		WHERE gm.product_id = ?
	`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("group for product %d: %w", productID, err)
	}
	if err := g.decode(); err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteGroup removes the group row and its membership rows permanently.
func (q Queries) DeleteGroup(ctx context.Context, groupID string) error {
	if _, err := q.q.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = ?", groupID); err != nil {
		return fmt.Errorf("delete group %s members: %w", groupID, err)
	}
	if _, err := q.q.ExecContext(ctx,
		"DELETE FROM substitute_groups WHERE group_id = ?", groupID); err != nil {
		return fmt.Errorf("delete group %s: %w", groupID, err)
	}
	return nil
}

// ListGroups returns a page of groups, newest first, blobs decoded.
func (q Queries) ListGroups(ctx context.Context, limit, offset int) ([]SubstituteGroup, error) {
	var groups []SubstituteGroup
	err := q.q.SelectContext(ctx, &groups,
		"SELECT * FROM substitute_groups ORDER BY created_at DESC, group_id LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	for i := range groups {
		if err := groups[i].decode(); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// CountGroups counts all substitute groups.
func (q Queries) CountGroups(ctx context.Context) (int, error) {
	var total int
	if err := q.q.GetContext(ctx, &total, "SELECT COUNT(*) FROM substitute_groups"); err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return total, nil
}
