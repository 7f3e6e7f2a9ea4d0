package service

import (
	"errors"
	"testing"

	"thingdb/internal/model"
	"thingdb/internal/repository"

	"gorm.io/gorm"
)

// memAliasRepo 内存别名表；和 memItemRepo 共享物品 map，
// 让占位合并的"插别名 + 删占位行"在假实现里也保持原子语义。
type memAliasRepo struct {
	aliases map[string]string
	items   *memItemRepo
}

func newMemAliasRepo(items *memItemRepo) *memAliasRepo {
	return &memAliasRepo{aliases: make(map[string]string), items: items}
}

func (m *memAliasRepo) FindByCode(code string) (*model.QRAlias, error) {
	itemGUID, ok := m.aliases[code]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &model.QRAlias{QRCode: code, ItemGUID: itemGUID}, nil
}

func (m *memAliasRepo) Create(alias *model.QRAlias) error {
	if _, ok := m.aliases[alias.QRCode]; ok {
		return repository.ErrAliasExists
	}
	m.aliases[alias.QRCode] = alias.ItemGUID
	return nil
}

func (m *memAliasRepo) DeleteByCode(code string) error {
	if _, ok := m.aliases[code]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.aliases, code)
	return nil
}

func (m *memAliasRepo) CreateAndDeletePlaceholder(alias *model.QRAlias, placeholderGUID string) error {
	if _, ok := m.aliases[alias.QRCode]; ok {
		return repository.ErrAliasExists
	}
	m.aliases[alias.QRCode] = alias.ItemGUID
	if placeholderGUID != "" && m.items != nil {
		delete(m.items.items, placeholderGUID)
	}
	return nil
}

func newMemIdentity(t *testing.T) (*memItemRepo, *memAliasRepo, IdentityService) {
	t.Helper()
	items := newMemItemRepo()
	aliases := newMemAliasRepo(items)
	return items, aliases, NewIdentityService(items, aliases, nil)
}

func TestResolve_PassThrough(t *testing.T) {
	_, _, svc := newMemIdentity(t)

	got, err := svc.Resolve("some-code")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != "some-code" {
		t.Fatalf("unaliased code must resolve to itself, got %q", got)
	}
}

func TestResolve_AliasHit(t *testing.T) {
	_, aliases, svc := newMemIdentity(t)
	aliases.aliases["sticker"] = "canonical-guid"

	got, err := svc.Resolve("sticker")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != "canonical-guid" {
		t.Fatalf("expected canonical-guid, got %q", got)
	}

	// 解析是幂等的
	again, err := svc.Resolve("sticker")
	if err != nil || again != got {
		t.Fatalf("repeated resolve differs: %q, %v", again, err)
	}
}

// 解析只做一层间接：别名的值不会再被当作别名继续查。
func TestResolve_SingleHopOnly(t *testing.T) {
	_, aliases, svc := newMemIdentity(t)
	aliases.aliases["a"] = "b"
	aliases.aliases["b"] = "c"

	got, err := svc.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != "b" {
		t.Fatalf("expected one-hop result b, got %q", got)
	}
}

func TestResolve_EmptyCode(t *testing.T) {
	_, _, svc := newMemIdentity(t)

	if _, err := svc.Resolve("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got: %v", err)
	}
}

// 首次扫到未知的码要建出占位物品；再扫同一个码直接命中，不再新建。
func TestEnsureItemForScan_CreatesPlaceholderOnce(t *testing.T) {
	items, _, svc := newMemIdentity(t)

	code := "11111111-1111-1111-1111-111111111111"
	itemGUID, created, err := svc.EnsureItemForScan(code)
	if err != nil {
		t.Fatalf("EnsureItemForScan() error: %v", err)
	}
	if !created || itemGUID != code {
		t.Fatalf("first scan: created=%v guid=%q", created, itemGUID)
	}

	placeholder, err := items.FindByGUID(code)
	if err != nil {
		t.Fatalf("placeholder missing after scan: %v", err)
	}
	if placeholder.ItemName != "Item_0001" || placeholder.LabelNumber != 1 {
		t.Fatalf("unexpected placeholder: %+v", placeholder)
	}

	itemGUID, created, err = svc.EnsureItemForScan(code)
	if err != nil {
		t.Fatalf("second scan error: %v", err)
	}
	if created || itemGUID != code {
		t.Fatalf("second scan: created=%v guid=%q", created, itemGUID)
	}
	if len(items.items) != 1 {
		t.Fatalf("expected exactly one item, got %d", len(items.items))
	}
}

func TestEnsureItemForScan_ResolvesAliasFirst(t *testing.T) {
	items, aliases, svc := newMemIdentity(t)

	seedItem(t, items, "canonical", nil)
	aliases.aliases["sticker"] = "canonical"

	itemGUID, created, err := svc.EnsureItemForScan("sticker")
	if err != nil {
		t.Fatalf("EnsureItemForScan() error: %v", err)
	}
	if created || itemGUID != "canonical" {
		t.Fatalf("alias scan: created=%v guid=%q", created, itemGUID)
	}
}

// 并发扫码撞了主键唯一约束：输家重读赢家的行，对调用方表现为"已存在"。
func TestEnsureItemForScan_DuplicateRaceFolds(t *testing.T) {
	finds := 0
	itemRepo := &fakeItemRepo{
		findByGUIDFn: func(itemGUID string) (*model.Item, error) {
			finds++
			if finds == 1 {
				return nil, gorm.ErrRecordNotFound
			}
			return &model.Item{GUID: itemGUID, ItemName: "Item_0001", LabelNumber: 1}, nil
		},
		createFn: func(item *model.Item) error {
			return repository.ErrDuplicateGUID
		},
	}
	aliasRepo := newMemAliasRepo(nil)
	svc := NewIdentityService(itemRepo, aliasRepo, nil)

	itemGUID, created, err := svc.EnsureItemForScan("racing-code")
	if err != nil {
		t.Fatalf("EnsureItemForScan() error: %v", err)
	}
	if created || itemGUID != "racing-code" {
		t.Fatalf("lost race must fold to existing: created=%v guid=%q", created, itemGUID)
	}
}

// 占位合并：先扫出占位物品，再和已命名的物品建别名。
// 之后该码解析到规范物品，占位行消失，再扫也不再新建。
func TestMakeAlias_MergesPlaceholder(t *testing.T) {
	items, aliases, svc := newMemIdentity(t)

	seedItem(t, items, "named-item", nil)

	placeholderCode := "22222222-2222-2222-2222-222222222222"
	if _, created, err := svc.EnsureItemForScan(placeholderCode); err != nil || !created {
		t.Fatalf("setup scan failed: created=%v err=%v", created, err)
	}

	if err := svc.MakeAlias("named-item", placeholderCode); err != nil {
		t.Fatalf("MakeAlias() error: %v", err)
	}

	got, err := svc.Resolve(placeholderCode)
	if err != nil || got != "named-item" {
		t.Fatalf("resolve after merge: %q, %v", got, err)
	}
	if _, err := items.FindByGUID(placeholderCode); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("placeholder row must be gone, got: %v", err)
	}
	if _, ok := aliases.aliases[placeholderCode]; !ok {
		t.Fatal("alias row missing after merge")
	}

	itemGUID, created, err := svc.EnsureItemForScan(placeholderCode)
	if err != nil || created || itemGUID != "named-item" {
		t.Fatalf("scan after merge: guid=%q created=%v err=%v", itemGUID, created, err)
	}
}

func TestMakeAlias_SelfRejected(t *testing.T) {
	_, _, svc := newMemIdentity(t)

	if err := svc.MakeAlias("x", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got: %v", err)
	}
}

func TestMakeAlias_FirstMissing(t *testing.T) {
	items, _, svc := newMemIdentity(t)
	seedItem(t, items, "second", nil)

	if err := svc.MakeAlias("ghost", "second"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestMakeAlias_SecondAlreadyAliased(t *testing.T) {
	items, aliases, svc := newMemIdentity(t)
	seedItem(t, items, "base", nil)
	seedItem(t, items, "other", nil)
	aliases.aliases["second"] = "base"

	if err := svc.MakeAlias("other", "second"); !errors.Is(err, ErrAliasExists) {
		t.Fatalf("expected ErrAliasExists, got: %v", err)
	}
}

// 两个码解析到同一个基准物品时拒绝，不产生自指向的别名。
func TestMakeAlias_SameBaseRejected(t *testing.T) {
	items, aliases, svc := newMemIdentity(t)
	seedItem(t, items, "base", nil)
	aliases.aliases["sticker"] = "base"

	if err := svc.MakeAlias("sticker", "base"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got: %v", err)
	}
}

func TestMakeAlias_PlaceholderHasChildren(t *testing.T) {
	items, _, svc := newMemIdentity(t)
	seedItem(t, items, "named-item", nil)
	seedItem(t, items, "crate", nil)
	crate := "crate"
	seedItem(t, items, "inside", &crate)

	if err := svc.MakeAlias("named-item", "crate"); !errors.Is(err, ErrItemHasChildren) {
		t.Fatalf("expected ErrItemHasChildren, got: %v", err)
	}
}

func TestRemoveAlias(t *testing.T) {
	_, aliases, svc := newMemIdentity(t)
	aliases.aliases["sticker"] = "base"

	if err := svc.RemoveAlias("sticker"); err != nil {
		t.Fatalf("RemoveAlias() error: %v", err)
	}
	if _, ok := aliases.aliases["sticker"]; ok {
		t.Fatal("alias still present after removal")
	}

	if err := svc.RemoveAlias("sticker"); !errors.Is(err, ErrAliasNotFound) {
		t.Fatalf("expected ErrAliasNotFound, got: %v", err)
	}
}
