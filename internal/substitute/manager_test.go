package substitute

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mwalczyk/priceradar/internal/apperr"
	"github.com/mwalczyk/priceradar/internal/store"
)

const testUser = "USR-TESTUSER0001-20240101"

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureUser(context.Background(), testUser, ""); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return s
}

func seedProducts(t *testing.T, s *store.Store, names ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, err := s.InsertProduct(ctx, name, strings.ToLower(name), "", testUser)
		if err != nil {
			t.Fatalf("seed product %q: %v", name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestCreateGroupAndGet(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Mleko Łaciate 3.2%", "Mleko Mlekovita 3.2%", "Mleko UHT 3.2%")

	groupID, err := m.CreateGroup(ctx, testUser, GroupInput{
		Name:       "Mleko 3.2%",
		ProductIDs: ids,
		PriorityMap: map[int64]int{
			ids[0]: 1,
			ids[1]: 2,
			ids[2]: 3,
		},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if !strings.HasPrefix(groupID, "grp_") {
		t.Errorf("group id %q missing grp_ prefix", groupID)
	}

	detail, err := m.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if detail.Name != "Mleko 3.2%" {
		t.Errorf("name = %q", detail.Name)
	}
	if detail.ProductCount != 3 {
		t.Fatalf("product count = %d, want 3", detail.ProductCount)
	}
	for i, want := range ids {
		if detail.Products[i].ID != want {
			t.Errorf("products[%d].ID = %d, want %d (priority order)", i, detail.Products[i].ID, want)
		}
	}

	// Defaults when no settings were supplied.
	if detail.Settings.MaxPriceIncreasePercent != 20.0 {
		t.Errorf("max price increase = %v, want 20.0", detail.Settings.MaxPriceIncreasePercent)
	}
	if !detail.Settings.AllowAutomaticSubstitution {
		t.Error("automatic substitution should default to true")
	}

	user, err := s.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ContributionsCount != 1 {
		t.Errorf("contributions = %d, want 1", user.ContributionsCount)
	}
}

func TestCreateGroupPartialSettings(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Masło Extra", "Masło Polskie")

	maxIncrease := 50.0
	groupID, err := m.CreateGroup(ctx, testUser, GroupInput{
		Name:       "Masło",
		ProductIDs: ids,
		Settings:   &SettingsInput{MaxPriceIncreasePercent: &maxIncrease},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	detail, err := m.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if detail.Settings.MaxPriceIncreasePercent != 50.0 {
		t.Errorf("max price increase = %v, want 50.0", detail.Settings.MaxPriceIncreasePercent)
	}
	if detail.Settings.MinQuantityRatio != 0.8 {
		t.Errorf("min quantity ratio = %v, want default 0.8", detail.Settings.MinQuantityRatio)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Jogurt naturalny")

	_, err := m.CreateGroup(ctx, testUser, GroupInput{Name: "Jogurty", ProductIDs: ids})
	if !apperr.IsValidation(err) {
		t.Errorf("single product: got %v, want validation error", err)
	}

	_, err = m.CreateGroup(ctx, testUser, GroupInput{ProductIDs: []int64{1, 2}})
	if !apperr.IsValidation(err) {
		t.Errorf("missing name: got %v, want validation error", err)
	}

	_, err = m.CreateGroup(ctx, testUser, GroupInput{Name: "Duchy", ProductIDs: []int64{ids[0], 9999}})
	if !apperr.IsNotFound(err) {
		t.Errorf("unknown product: got %v, want not found error", err)
	}
}

func TestExclusivityConflict(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Ser Gouda", "Ser Edamski", "Ser Tylżycki", "Ser Podlaski")

	firstID, err := m.CreateGroup(ctx, testUser, GroupInput{Name: "Sery A", ProductIDs: ids[:2]})
	if err != nil {
		t.Fatalf("first group: %v", err)
	}

	_, err = m.CreateGroup(ctx, testUser, GroupInput{Name: "Sery B", ProductIDs: ids[1:3]})
	if !apperr.IsConflict(err) {
		t.Fatalf("overlapping group: got %v, want conflict error", err)
	}
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) || conflict.ExistingID != firstID {
		t.Errorf("conflict should name the holding group %s, got %v", firstID, conflict)
	}

	// The failed attempt left no trace: its other product is still free.
	if _, err := m.CreateGroup(ctx, testUser, GroupInput{Name: "Sery C", ProductIDs: ids[2:]}); err != nil {
		t.Fatalf("ids[2] should be free after rolled-back attempt: %v", err)
	}
}

func TestSubstitutesFor(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Płatki owsiane", "Płatki górskie", "Płatki błyskawiczne", "Kasza manna")

	_, err := m.CreateGroup(ctx, testUser, GroupInput{
		Name:       "Płatki",
		ProductIDs: ids[:3],
		PriorityMap: map[int64]int{
			ids[0]: 3,
			ids[1]: 1,
			ids[2]: 2,
		},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	subs, err := m.SubstitutesFor(ctx, ids[0])
	if err != nil {
		t.Fatalf("substitutes for: %v", err)
	}
	if !subs.HasSubstitutes {
		t.Fatal("expected substitutes")
	}
	if len(subs.Substitutes) != 2 {
		t.Fatalf("got %d substitutes, want 2", len(subs.Substitutes))
	}
	if subs.Substitutes[0].ID != ids[1] || subs.Substitutes[1].ID != ids[2] {
		t.Errorf("substitutes not in priority order: %+v", subs.Substitutes)
	}
	for _, sub := range subs.Substitutes {
		if sub.ID == ids[0] {
			t.Error("queried product must not appear in its own substitutes")
		}
	}

	// Ungrouped product: empty answer, not an error.
	empty, err := m.SubstitutesFor(ctx, ids[3])
	if err != nil {
		t.Fatalf("ungrouped product: %v", err)
	}
	if empty.HasSubstitutes || len(empty.Substitutes) != 0 {
		t.Errorf("ungrouped product should have no substitutes: %+v", empty)
	}
}

func TestSubstitutesForGroupShape(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Cukier biały", "Cukier trzcinowy")
	if _, err := m.CreateGroup(ctx, testUser, GroupInput{Name: "Cukry", ProductIDs: ids}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	subs, err := m.SubstitutesFor(ctx, ids[0])
	if err != nil {
		t.Fatalf("substitutes for: %v", err)
	}

	// The group object carries name and settings only; members live in the
	// top-level substitutes list, not inside the group.
	raw, err := json.Marshal(subs.Group)
	if err != nil {
		t.Fatalf("marshal group: %v", err)
	}
	var encoded map[string]any
	if err := json.Unmarshal(raw, &encoded); err != nil {
		t.Fatalf("unmarshal group: %v", err)
	}
	if _, ok := encoded["products"]; ok {
		t.Errorf("group should omit products: %s", raw)
	}
	if _, ok := encoded["product_count"]; ok {
		t.Errorf("group should omit product_count: %s", raw)
	}
	if encoded["name"] != "Cukry" {
		t.Errorf("group name = %v", encoded["name"])
	}
}

func TestDeleteGroupFreesMembership(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Woda gazowana", "Woda niegazowana")

	groupID, err := m.CreateGroup(ctx, testUser, GroupInput{Name: "Woda", ProductIDs: ids})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := m.DeleteGroup(ctx, groupID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if err := m.DeleteGroup(ctx, groupID); !apperr.IsNotFound(err) {
		t.Errorf("second delete: got %v, want not found", err)
	}

	// Products are free again.
	if _, err := m.CreateGroup(ctx, testUser, GroupInput{Name: "Woda v2", ProductIDs: ids}); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
}

func TestBulkCreateGroups(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Kawa ziarnista", "Kawa mielona", "Herbata czarna", "Herbata zielona")

	// Item b reuses item a's name; item c claims ids[1], grouped by item a.
	result, err := m.BulkCreateGroups(ctx, testUser, []GroupInput{
		{LocalID: "a", Name: "Kawy", ProductIDs: ids[:2]},
		{LocalID: "b", Name: "Kawy", ProductIDs: ids[2:]},
		{LocalID: "c", Name: "Mieszane", ProductIDs: ids[1:3]},
		{LocalID: "d", Name: "Herbaty", ProductIDs: ids[2:]},
	})
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}

	if result.Summary.TotalProcessed != 4 || result.Summary.Added != 2 || result.Summary.Skipped != 2 {
		t.Fatalf("summary = %+v, want total 4, added 2, skipped 2", result.Summary)
	}

	byLocal := make(map[any]int)
	for i, r := range result.Results {
		byLocal[r.LocalID] = i
	}
	if !result.Results[byLocal["a"]].Success {
		t.Error("item a should succeed")
	}
	if got := result.Results[byLocal["b"]].Error; got != "group name already exists" {
		t.Errorf("item b error = %q", got)
	}
	if got := result.Results[byLocal["c"]].Error; !strings.Contains(got, "already in group") {
		t.Errorf("item c error = %q, want membership conflict", got)
	}
	if !result.Results[byLocal["d"]].Success {
		t.Error("item d should succeed despite earlier failures")
	}

	// One aggregate counter update for the whole batch.
	user, err := s.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ContributionsCount != 2 {
		t.Errorf("contributions = %d, want 2", user.ContributionsCount)
	}
}

func TestListGroups(t *testing.T) {
	s := newTestStore(t)
	m := New(s)
	ctx := context.Background()

	ids := seedProducts(t, s, "Makaron penne", "Makaron fusilli")
	if _, err := m.CreateGroup(ctx, testUser, GroupInput{Name: "Makarony", ProductIDs: ids}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	list, err := m.ListGroups(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if list.Total != 1 || len(list.Groups) != 1 {
		t.Fatalf("total = %d, groups = %d, want 1/1", list.Total, len(list.Groups))
	}
	if !strings.Contains(list.Groups[0].ProductNames, "Makaron penne") {
		t.Errorf("product names %q missing member", list.Groups[0].ProductNames)
	}
}
