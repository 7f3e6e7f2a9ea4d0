package model

import "time"

// Item 对应数据库中 items 表，表示被收纳的物品或容器。
// 物品支持嵌套收纳（箱子放进柜子、柜子放在房间里），通过 ParentGUID
// 指向父级物品实现层级关系；ParentGUID 为 NULL 表示顶层物品。
type Item struct {
	GUID        string    `gorm:"type:varchar(36);primaryKey" json:"guid"`
	ItemName    string    `gorm:"type:varchar(255)" json:"item_name"`
	Description string    `gorm:"type:text" json:"description"`
	SourceURL   string    `gorm:"type:text" json:"source_url"`
	LabelNumber int       `gorm:"index" json:"label_number"`
	ParentGUID  *string   `gorm:"type:varchar(36);index" json:"parent_guid"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定 GORM 使用的表名
func (Item) TableName() string {
	return "items"
}

// ItemTreeNode 是物品的树形节点，用于构建前端需要的嵌套结构响应。
// 与 Item（数据库模型）的区别：
//   - 不含 Description/SourceURL/时间戳等详情字段
//   - 增加了 Children 字段，用于嵌套子节点
//   - 增加了 ChildCount 字段，供前端树懒加载时判断是否可展开
type ItemTreeNode struct {
	GUID        string          `json:"guid"`
	Name        string          `json:"name"`
	LabelNumber int             `json:"labelNumber"`
	ChildCount  int64           `json:"childCount"`
	Children    []*ItemTreeNode `json:"children"`
}

// ItemSummary 是子物品列表里的一行，带子物品数量（SQL 子查询算出）。
type ItemSummary struct {
	GUID        string  `json:"guid"`
	ItemName    string  `json:"item_name"`
	LabelNumber int     `json:"label_number"`
	ParentGUID  *string `json:"parent_guid"`
	ChildCount  int64   `json:"child_count"`
}

// Breadcrumb 是面包屑导航中的一级（从根到当前位置）。
type Breadcrumb struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// BulkMoveSkip 记录批量移动中被跳过的物品及原因。
type BulkMoveSkip struct {
	GUID   string `json:"guid"`
	Reason string `json:"reason"`
}

// BulkMoveResult 是批量移动的逐项结果：部分成功语义，
// 调用方据此提示"移动了 7 个，跳过 2 个"之类的信息。
type BulkMoveResult struct {
	Moved   []string       `json:"moved"`
	Skipped []BulkMoveSkip `json:"skipped"`
}
