package store

import (
	"context"
	"testing"
	"time"
)

const testUser = "USR-TESTUSER0001-20240101"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureUser(ctx, testUser, ""); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	user, err := s.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user == nil {
		t.Fatal("user not created")
	}
	if user.InstanceName != "priceradar-20240101" {
		t.Errorf("instance name = %q, want token-derived default", user.InstanceName)
	}
	if user.ContributionsCount != 0 {
		t.Errorf("contributions = %d, want 0", user.ContributionsCount)
	}

	// Second contact refreshes last_active, never duplicates.
	if err := s.EnsureUser(ctx, testUser, "custom-name"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	again, err := s.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("get user again: %v", err)
	}
	if again.ID != user.ID {
		t.Errorf("user duplicated: %d vs %d", again.ID, user.ID)
	}
}

func TestIncrementContributions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureUser(ctx, testUser, ""); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := s.IncrementContributions(ctx, testUser, 3); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementContributions(ctx, testUser, 0); err != nil {
		t.Fatalf("zero increment: %v", err)
	}

	user, err := s.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ContributionsCount != 3 {
		t.Errorf("contributions = %d, want 3", user.ContributionsCount)
	}
}

func TestProductNameUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertProduct(ctx, "Mleko UHT", "mleko uht", "", testUser); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertProduct(ctx, "Mleko UHT", "mleko uht", "", testUser); err == nil {
		t.Error("duplicate name should violate the unique constraint")
	}
}

func TestGroupMembershipExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.InsertProduct(ctx, "Ser A", "ser a", "", testUser)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	b, err := s.InsertProduct(ctx, "Ser B", "ser b", "", testUser)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	group := &SubstituteGroup{
		GroupID:     "grp_test_1",
		Name:        "Sery",
		ProductIDs:  []int64{a, b},
		PriorityMap: map[int64]int{a: 1, b: 2},
		Settings:    GroupSettings{MaxPriceIncreasePercent: 20, MinQuantityRatio: 0.8, MaxQuantityRatio: 1.5, AllowAutomaticSubstitution: true},
		CreatedBy:   testUser,
	}
	if err := s.InsertGroup(ctx, group); err != nil {
		t.Fatalf("insert group: %v", err)
	}
	if err := s.InsertGroupMembers(ctx, "grp_test_1", []int64{a, b}); err != nil {
		t.Fatalf("insert members: %v", err)
	}

	// The membership primary key rejects a second claim on the same product.
	if err := s.InsertGroupMembers(ctx, "grp_test_2", []int64{b}); err == nil {
		t.Error("second membership for the same product should fail")
	}

	membership, err := s.MembershipFor(ctx, []int64{a, b})
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if membership[a] != "grp_test_1" || membership[b] != "grp_test_1" {
		t.Errorf("membership = %v", membership)
	}

	// Round trip preserves decoded fields.
	loaded, err := s.GroupByID(ctx, "grp_test_1")
	if err != nil {
		t.Fatalf("group by id: %v", err)
	}
	if len(loaded.ProductIDs) != 2 || loaded.PriorityMap[a] != 1 || loaded.PriorityMap[b] != 2 {
		t.Errorf("decoded group = %+v", loaded)
	}

	if err := s.DeleteGroup(ctx, "grp_test_1"); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	freed, err := s.MembershipFor(ctx, []int64{a, b})
	if err != nil {
		t.Fatalf("membership after delete: %v", err)
	}
	if len(freed) != 0 {
		t.Errorf("membership should be empty after delete: %v", freed)
	}
}

func TestLinksByShop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"Mleko UHT", "Masło Extra", "Chleb żytni"} {
		id, err := s.InsertProduct(ctx, name, name, "", testUser)
		if err != nil {
			t.Fatalf("insert product: %v", err)
		}
		ids = append(ids, id)
	}
	if _, err := s.InsertLink(ctx, ids[0], "biedronka", "https://biedronka.pl/mleko", testUser); err != nil {
		t.Fatalf("insert link: %v", err)
	}
	if _, err := s.InsertLink(ctx, ids[1], "biedronka", "https://biedronka.pl/maslo", testUser); err != nil {
		t.Fatalf("insert link: %v", err)
	}
	if _, err := s.InsertLink(ctx, ids[2], "lidl", "https://lidl.pl/chleb", testUser); err != nil {
		t.Fatalf("insert link: %v", err)
	}

	stats, err := s.LinksByShop(ctx)
	if err != nil {
		t.Fatalf("links by shop: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d shops, want 2", len(stats))
	}
	if stats[0].ShopID != "biedronka" || stats[0].LinksCount != 2 {
		t.Errorf("busiest shop = %+v, want biedronka with 2 links", stats[0])
	}
	if stats[1].ShopID != "lidl" || stats[1].LinksCount != 1 {
		t.Errorf("second shop = %+v, want lidl with 1 link", stats[1])
	}
	for _, st := range stats {
		if st.LastAdded.IsZero() {
			t.Errorf("shop %s last_added did not round-trip", st.ShopID)
		}
		if time.Since(st.LastAdded) > time.Minute {
			t.Errorf("shop %s last_added = %v, want recent", st.ShopID, st.LastAdded)
		}
	}
}

func TestLatestPricesWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertProduct(ctx, "Kawa", "kawa", "", testUser)
	if err != nil {
		t.Fatalf("insert product: %v", err)
	}

	now := time.Now().UTC()
	// Newest row inserted first: the window must order by created_at, not
	// by insertion order.
	for _, rec := range []PriceRecord{
		{ProductID: id, ShopID: "lidl", Price: 42.99, Currency: "PLN", PriceType: "scraped", UserID: testUser, Source: "test", CreatedAt: now},
		{ProductID: id, ShopID: "lidl", Price: 39.99, Currency: "PLN", PriceType: "scraped", UserID: testUser, Source: "test", CreatedAt: now.Add(-time.Hour)},
	} {
		if _, err := s.InsertPrice(ctx, rec); err != nil {
			t.Fatalf("insert price: %v", err)
		}
	}

	latest, err := s.LatestPrices(ctx, nil, nil, 10)
	if err != nil {
		t.Fatalf("latest prices: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("got %d rows, want 1", len(latest))
	}
	if latest[0].Price != 42.99 {
		t.Errorf("latest price = %v, want 42.99", latest[0].Price)
	}
}

func TestDatabaseSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureUser(ctx, testUser, ""); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := s.InsertProduct(ctx, "Herbata", "herbata", "", testUser); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	summary, err := s.DatabaseSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TableCounts["products"] != 1 || summary.TableCounts["users"] != 1 {
		t.Errorf("table counts = %v", summary.TableCounts)
	}
	if summary.LatestProductDate == nil {
		t.Error("latest product date missing")
	}
	if summary.LatestPriceDate != nil {
		t.Error("latest price date should be nil with no prices")
	}
	if summary.ActiveUsers30d != 1 {
		t.Errorf("active users = %d, want 1", summary.ActiveUsers30d)
	}
}

func TestRecentChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertProduct(ctx, "Cukier", "cukier", "", testUser)
	if err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.InsertLink(ctx, id, "auchan", "https://auchan.pl/cukier", testUser); err != nil {
		t.Fatalf("insert link: %v", err)
	}
	if _, err := s.InsertPrice(ctx, PriceRecord{
		ProductID: id, ShopID: "auchan", Price: 4.99, Currency: "PLN",
		PriceType: "scraped", UserID: testUser, Source: "test",
	}); err != nil {
		t.Fatalf("insert price: %v", err)
	}

	changes, err := s.RecentChanges(ctx, time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("recent changes: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(changes))
	}
	kinds := map[string]bool{}
	for _, c := range changes {
		kinds[c.Type] = true
	}
	for _, kind := range []string{"product", "link", "price"} {
		if !kinds[kind] {
			t.Errorf("missing %s change", kind)
		}
	}
}
