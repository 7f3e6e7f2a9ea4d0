package model

import "time"

// QRAlias 对应数据库中 qr_aliases 表：把一个实体标签上的扫码串
// 映射到规范物品 GUID。一个物品可以贴多张标签，多条 alias 指向同一物品。
// 约束：QRCode 全表唯一；同一个码不会同时既是 alias 又是某个 Item 的 GUID，
// 合并占位物品时两步操作在同一事务里完成。
type QRAlias struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	QRCode    string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"qr_code"`
	ItemGUID  string    `gorm:"type:varchar(36);not null;index" json:"item_guid"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定 GORM 使用的表名
func (QRAlias) TableName() string {
	return "qr_aliases"
}

// LabelCounter 是标签号序列的存储端计数器（单行表，id 恒为 1）。
// 用数据库行而不是进程内计数器，保证多实例部署下编号不重复。
type LabelCounter struct {
	ID    uint  `gorm:"primaryKey" json:"id"`
	Value int64 `gorm:"not null" json:"value"`
}

// TableName 指定 GORM 使用的表名
func (LabelCounter) TableName() string {
	return "label_counters"
}
