package repository

import (
	"errors"
	"fmt"

	"thingdb/internal/model"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	// ErrItemHasChildren 表示物品下仍有被收纳的子物品，禁止直接删除。
	ErrItemHasChildren = errors.New("item has contained items")
	// ErrDuplicateGUID 表示插入的 GUID 已存在（主键冲突）。
	// 并发扫码时第二个请求会撞上它，调用方应重读已有行而不是报错。
	ErrDuplicateGUID = errors.New("item guid already exists")
)

// ItemRepository 定义物品的持久化操作接口。
// 物品是森林结构，通过 ParentGUID 实现父子关系；所有图状态都在数据库里，
// 进程内不缓存层级结构。
type ItemRepository interface {
	Create(item *model.Item) error
	FindByGUID(guid string) (*model.Item, error)
	// FindByParent 按父节点查直接子物品；parentGUID 为 nil 时查顶层物品。
	FindByParent(parentGUID *string) ([]model.Item, error)
	// ListSummaries 同 FindByParent，但每行带子物品数量（SQL 子查询），
	// 供树形视图懒加载用。
	ListSummaries(parentGUID *string) ([]model.ItemSummary, error)
	CountChildren(guid string) (int64, error)

	// UpdateParent 更新父指针并自动刷新 updated_at；单条语句，天然原子。
	// GUID 不存在时返回 gorm.ErrRecordNotFound。
	UpdateParent(guid string, parentGUID *string) error
	// UpdateParents 在一个事务里把一批物品挂到同一个父节点下。
	// 调用方负责先完成全部校验（存在性、环检测）。
	UpdateParents(guids []string, parentGUID string) error
	UpdateLabelNumber(guid string, labelNumber int) error
	// Touch 只刷新 updated_at（扫码盘点的审计时间戳）。
	Touch(guid string) error

	// DeleteWithAliases 保护删除：有子物品则返回 ErrItemHasChildren；
	// 否则在同一事务里删除物品和指向它的全部 alias 行。
	DeleteWithAliases(guid string) error

	// NextLabelNumber 从存储端计数器取下一个标签号，跨实例并发安全。
	NextLabelNumber() (int, error)
}

// itemRepository 物品仓库的 GORM 实现
type itemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

// isDuplicateKey 识别主键/唯一键冲突。
// MySQL 错误号 1062；gorm 开启 TranslateError 时也可能给出 ErrDuplicatedKey。
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func (r *itemRepository) Create(item *model.Item) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}
	if item.GUID == "" {
		return fmt.Errorf("item guid is required")
	}
	if err := r.db.Create(item).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateGUID
		}
		return err
	}
	return nil
}

func (r *itemRepository) FindByGUID(guid string) (*model.Item, error) {
	if guid == "" {
		return nil, fmt.Errorf("item guid is required")
	}

	var item model.Item
	if err := r.db.Where("guid = ?", guid).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *itemRepository) FindByParent(parentGUID *string) ([]model.Item, error) {
	var items []model.Item

	tx := r.db.Order("label_number ASC")
	if parentGUID == nil {
		tx = tx.Where("parent_guid IS NULL")
	} else {
		tx = tx.Where("parent_guid = ?", *parentGUID)
	}

	if err := tx.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListSummaries 用子查询一次取出 child_count，避免对每个子物品再发一条 COUNT。
func (r *itemRepository) ListSummaries(parentGUID *string) ([]model.ItemSummary, error) {
	tx := r.db.Model(&model.Item{}).
		Select("items.guid, items.item_name, items.label_number, items.parent_guid, " +
			"(SELECT COUNT(*) FROM items children WHERE children.parent_guid = items.guid) AS child_count").
		Order("items.label_number ASC")
	if parentGUID == nil {
		tx = tx.Where("items.parent_guid IS NULL")
	} else {
		tx = tx.Where("items.parent_guid = ?", *parentGUID)
	}

	var rows []model.ItemSummary
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *itemRepository) CountChildren(guid string) (int64, error) {
	if guid == "" {
		return 0, fmt.Errorf("item guid is required")
	}

	var count int64
	if err := r.db.Model(&model.Item{}).
		Where("parent_guid = ?", guid).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *itemRepository) UpdateParent(guid string, parentGUID *string) error {
	if guid == "" {
		return fmt.Errorf("item guid is required")
	}

	tx := r.db.Model(&model.Item{}).
		Where("guid = ?", guid).
		Update("parent_guid", parentGUID)

	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *itemRepository) UpdateParents(guids []string, parentGUID string) error {
	if len(guids) == 0 {
		return nil
	}
	if parentGUID == "" {
		return fmt.Errorf("parent guid is required")
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, guid := range guids {
			res := tx.Model(&model.Item{}).
				Where("guid = ?", guid).
				Update("parent_guid", parentGUID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		}
		return nil
	})
}

func (r *itemRepository) UpdateLabelNumber(guid string, labelNumber int) error {
	if guid == "" {
		return fmt.Errorf("item guid is required")
	}

	tx := r.db.Model(&model.Item{}).
		Where("guid = ?", guid).
		Update("label_number", labelNumber)

	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Touch 通过空更新触发 autoUpdateTime，把 updated_at 刷到当前时间。
func (r *itemRepository) Touch(guid string) error {
	if guid == "" {
		return fmt.Errorf("item guid is required")
	}

	tx := r.db.Model(&model.Item{}).
		Where("guid = ?", guid).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP"))

	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteWithAliases 保护删除：在事务中先确认记录存在、再检查是否有子物品、
// 然后删除指向该物品的 alias 行，最后删除物品本身。
// 有子物品时返回 ErrItemHasChildren，调用方应提示用户先移走或删除子物品。
func (r *itemRepository) DeleteWithAliases(guid string) error {
	if guid == "" {
		return fmt.Errorf("item guid is required")
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var current model.Item
		if err := tx.Where("guid = ?", guid).First(&current).Error; err != nil {
			return err
		}

		var childCount int64
		if err := tx.Model(&model.Item{}).
			Where("parent_guid = ?", guid).
			Count(&childCount).Error; err != nil {
			return err
		}
		if childCount > 0 {
			return ErrItemHasChildren
		}

		// 孤立的 alias 直接清掉，不做重指向
		if err := tx.Where("item_guid = ?", guid).
			Delete(&model.QRAlias{}).Error; err != nil {
			return err
		}

		res := tx.Where("guid = ?", guid).Delete(&model.Item{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// NextLabelNumber 在事务里自增单行计数器并读回当前值。
// 计数器行由 RunMigrate 预置；万一缺失（比如手工清库），这里补一行再重试。
func (r *itemRepository) NextLabelNumber() (int, error) {
	var value int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Exec("UPDATE label_counters SET value = value + 1 WHERE id = 1")
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(&model.LabelCounter{ID: 1, Value: 0}).Error; err != nil && !isDuplicateKey(err) {
				return err
			}
			res = tx.Exec("UPDATE label_counters SET value = value + 1 WHERE id = 1")
			if res.Error != nil {
				return res.Error
			}
		}
		return tx.Raw("SELECT value FROM label_counters WHERE id = 1").Scan(&value).Error
	})
	if err != nil {
		return 0, err
	}
	return int(value), nil
}
