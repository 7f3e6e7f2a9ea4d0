package repository

import (
	"errors"
	"testing"
	"time"

	"thingdb/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	driver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockItemRepo(t *testing.T) (ItemRepository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open() error: %v", err)
	}

	return NewItemRepository(gdb), mock
}

func itemRows(itemGUID string, parentGUID interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"guid", "item_name", "description", "source_url", "label_number", "parent_guid", "created_at", "updated_at",
	}).AddRow(itemGUID, "Toolbox", "", "", 7, parentGUID, now, now)
}

func TestItemRepository_Create(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	item := &model.Item{
		GUID:        "11111111-1111-1111-1111-111111111111",
		ItemName:    "Toolbox",
		LabelNumber: 7,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `items`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Create(item); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// 并发扫码时第二个插入会撞主键：1062 必须翻译成 ErrDuplicateGUID，
// 让上层走"重读赢家"的分支而不是把数据库错误漏出去。
func TestItemRepository_Create_DuplicateKey(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	item := &model.Item{
		GUID:        "11111111-1111-1111-1111-111111111111",
		ItemName:    "Toolbox",
		LabelNumber: 7,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `items`").
		WillReturnError(&driver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	err := repo.Create(item)
	if !errors.Is(err, ErrDuplicateGUID) {
		t.Fatalf("expected ErrDuplicateGUID, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestItemRepository_FindByGUID(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	mock.ExpectQuery("SELECT .* FROM `items` WHERE guid = \\? ORDER BY .* LIMIT \\?").
		WithArgs("11111111-1111-1111-1111-111111111111", 1).
		WillReturnRows(itemRows("11111111-1111-1111-1111-111111111111", nil))

	item, err := repo.FindByGUID("11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("FindByGUID() error: %v", err)
	}
	if item == nil || item.ItemName != "Toolbox" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestItemRepository_FindByParent_Root(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	mock.ExpectQuery("SELECT .* FROM `items` WHERE parent_guid IS NULL ORDER BY label_number ASC").
		WillReturnRows(itemRows("11111111-1111-1111-1111-111111111111", nil))

	items, err := repo.FindByParent(nil)
	if err != nil {
		t.Fatalf("FindByParent(nil) error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestItemRepository_ListSummaries_ChildCountSubquery(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	parent := "11111111-1111-1111-1111-111111111111"
	mock.ExpectQuery("SELECT items.guid, items.item_name, items.label_number, items.parent_guid, \\(SELECT COUNT\\(\\*\\) FROM items children WHERE children.parent_guid = items.guid\\) AS child_count FROM `items` WHERE items.parent_guid = \\?").
		WithArgs(parent).
		WillReturnRows(sqlmock.NewRows([]string{"guid", "item_name", "label_number", "parent_guid", "child_count"}).
			AddRow("22222222-2222-2222-2222-222222222222", "Drawer", 8, parent, 3))

	rows, err := repo.ListSummaries(&parent)
	if err != nil {
		t.Fatalf("ListSummaries() error: %v", err)
	}
	if len(rows) != 1 || rows[0].ChildCount != 3 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestItemRepository_UpdateParent_RowsAffectedZero(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	parent := "22222222-2222-2222-2222-222222222222"
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `items` SET .* WHERE guid = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.UpdateParent("missing", &parent)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got: %v", err)
	}
}

func TestItemRepository_UpdateParents_SingleTransaction(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	parent := "99999999-9999-9999-9999-999999999999"
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `items` SET .* WHERE guid = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `items` SET .* WHERE guid = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateParents([]string{
		"11111111-1111-1111-1111-111111111111",
		"22222222-2222-2222-2222-222222222222",
	}, parent)
	if err != nil {
		t.Fatalf("UpdateParents() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// 批次里任何一个 GUID 落空都要回滚整个事务，不能留下半批移动。
func TestItemRepository_UpdateParents_MissingRowRollsBack(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	parent := "99999999-9999-9999-9999-999999999999"
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `items` SET .* WHERE guid = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `items` SET .* WHERE guid = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdateParents([]string{
		"11111111-1111-1111-1111-111111111111",
		"22222222-2222-2222-2222-222222222222",
	}, parent)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestItemRepository_DeleteWithAliases_HasChildren(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	target := "11111111-1111-1111-1111-111111111111"
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `items` WHERE guid = \\? ORDER BY .* LIMIT \\?").
		WithArgs(target, 1).
		WillReturnRows(itemRows(target, nil))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `items` WHERE parent_guid = \\?").
		WithArgs(target).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.DeleteWithAliases(target)
	if !errors.Is(err, ErrItemHasChildren) {
		t.Fatalf("expected ErrItemHasChildren, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestItemRepository_DeleteWithAliases_Success(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	target := "11111111-1111-1111-1111-111111111111"
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `items` WHERE guid = \\? ORDER BY .* LIMIT \\?").
		WithArgs(target, 1).
		WillReturnRows(itemRows(target, nil))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `items` WHERE parent_guid = \\?").
		WithArgs(target).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))
	mock.ExpectExec("DELETE FROM `qr_aliases` WHERE item_guid = \\?").
		WithArgs(target).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM `items` WHERE guid = \\?").
		WithArgs(target).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.DeleteWithAliases(target); err != nil {
		t.Fatalf("DeleteWithAliases() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestItemRepository_NextLabelNumber(t *testing.T) {
	repo, mock := newMockItemRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE label_counters SET value = value \\+ 1 WHERE id = 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT value FROM label_counters WHERE id = 1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(42))
	mock.ExpectCommit()

	n, err := repo.NextLabelNumber()
	if err != nil {
		t.Fatalf("NextLabelNumber() error: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
