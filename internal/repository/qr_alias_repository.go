package repository

import (
	"errors"
	"fmt"

	"thingdb/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrAliasExists 表示该扫码串已经是别名键，不能再次建立映射。
	ErrAliasExists = errors.New("qr code is already aliased")
)

// QRAliasRepository 定义扫码别名表的持久化操作接口。
// 别名是多对一的间接层：多张实体标签（QR 码）可以指向同一个规范物品。
// 别名行只会被显式删除，不做自动回收。
type QRAliasRepository interface {
	// FindByCode 按扫码串做点查；查不到返回 gorm.ErrRecordNotFound。
	FindByCode(code string) (*model.QRAlias, error)
	Create(alias *model.QRAlias) error
	DeleteByCode(code string) error

	// CreateAndDeletePlaceholder 合并占位物品：在同一事务里插入别名行、
	// 删除以该码为 GUID 的占位物品行。两步必须同时生效，否则会出现
	// 同一个码既是别名又是物品的中间状态。占位行不存在时只插入别名。
	CreateAndDeletePlaceholder(alias *model.QRAlias, placeholderGUID string) error
}

// qrAliasRepository 扫码别名仓库的 GORM 实现
type qrAliasRepository struct {
	db *gorm.DB
}

func NewQRAliasRepository(db *gorm.DB) QRAliasRepository {
	return &qrAliasRepository{db: db}
}

func (r *qrAliasRepository) FindByCode(code string) (*model.QRAlias, error) {
	if code == "" {
		return nil, fmt.Errorf("qr code is required")
	}

	var alias model.QRAlias
	if err := r.db.Where("qr_code = ?", code).First(&alias).Error; err != nil {
		return nil, err
	}
	return &alias, nil
}

func (r *qrAliasRepository) Create(alias *model.QRAlias) error {
	if alias == nil {
		return fmt.Errorf("alias is nil")
	}
	if alias.QRCode == "" || alias.ItemGUID == "" {
		return fmt.Errorf("qr code and item guid are required")
	}
	if err := r.db.Create(alias).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrAliasExists
		}
		return err
	}
	return nil
}

func (r *qrAliasRepository) DeleteByCode(code string) error {
	if code == "" {
		return fmt.Errorf("qr code is required")
	}

	res := r.db.Where("qr_code = ?", code).Delete(&model.QRAlias{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateAndDeletePlaceholder 插入别名并删除占位物品，保证两者原子生效。
// 占位行的删除不走保护删除：占位物品刚扫出来，不可能有子物品；
// 真有子物品的物品不会走到合并流程（上层已拦截）。
func (r *qrAliasRepository) CreateAndDeletePlaceholder(alias *model.QRAlias, placeholderGUID string) error {
	if alias == nil {
		return fmt.Errorf("alias is nil")
	}
	if alias.QRCode == "" || alias.ItemGUID == "" {
		return fmt.Errorf("qr code and item guid are required")
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(alias).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrAliasExists
			}
			return err
		}

		if placeholderGUID == "" {
			return nil
		}
		// 占位行可能已被别处清理，删 0 行不算错误
		return tx.Where("guid = ?", placeholderGUID).
			Delete(&model.Item{}).Error
	})
}
