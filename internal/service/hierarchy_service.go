package service

import (
	"errors"
	"fmt"
	"strings"

	"thingdb/internal/model"
	"thingdb/internal/repository"
	"thingdb/pkg/guid"

	"gorm.io/gorm"
)

// 哨兵错误：对外统一语义，隐藏底层实现细节
var (
	// ErrInvalidInput 参数不合法（自挂载、自别名、空 GUID 等）
	ErrInvalidInput = errors.New("invalid input")
	// ErrItemNotFound 物品或别名基准不存在
	ErrItemNotFound = errors.New("item not found")
	// ErrItemAlreadyExists 指定 GUID 的物品已存在（显式建物品时）
	ErrItemAlreadyExists = errors.New("item already exists")
	// ErrCycleDetected 重新挂载会产生循环包含
	ErrCycleDetected = errors.New("cycle detected")
	// ErrItemHasChildren 物品下仍有子物品，删除/合并被拒绝
	ErrItemHasChildren = errors.New("item has contained items")
	// ErrAliasExists 扫码串已经是别名键
	ErrAliasExists = errors.New("qr code is already aliased")
	// ErrAliasNotFound 别名不存在
	ErrAliasNotFound = errors.New("alias not found")
	// ErrInternal 内部错误（对外不暴露细节）
	ErrInternal = errors.New("internal server error")
)

// maxBreadcrumbHops 面包屑向上追溯的安全上界。
// 超过 10 层的树静默截断在第 10 个祖先，不报错。
const maxBreadcrumbHops = 10

// defaultMaxTreeDepth 子树展开的默认深度上限（配置可覆盖）。
const defaultMaxTreeDepth = 50

// HierarchyService 封装物品层级的领域逻辑。
// 设计目标：
// 1. Handler 不直接操作 Repository，避免协议层混入业务规则。
// 2. 统一错误语义，把底层 gorm/repository 错误转换为 service 哨兵错误。
// 3. 聚合环检测、批量移动的部分成功策略等"非纯 CRUD"的业务逻辑。
// 所有图状态都在数据库里；环检测和随后的写入不在同一事务内，
// 并发写者理论上可以各自通过检查后共同构成环（实践中单写者部署）。
type HierarchyService interface {
	// CreateItem 显式新建物品；guid 为空时自动生成，标签号取自序列。
	CreateItem(itemGUID, name, description, sourceURL string, parentGUID *string) (*model.Item, error)
	FindByGUID(itemGUID string) (*model.Item, error)
	UpdateLabelNumber(itemGUID string, labelNumber int) error
	// TouchItem 刷新盘点时间戳（扫码审计）。
	TouchItem(itemGUID string) error

	// SetParent 单个移动，全有或全无；parentGUID 为 nil 表示升为顶层。
	SetParent(itemGUID string, parentGUID *string) error
	// BulkSetParent 批量移动，部分成功：每个物品针对移动前的图独立校验，
	// 校验通过的在一个事务里统一落库，失败的记入 Skipped 并附原因。
	BulkSetParent(itemGUIDs []string, parentGUID string) (*model.BulkMoveResult, error)
	// DeleteItem 保护删除：有子物品则拒绝；同事务清掉指向它的别名。
	DeleteItem(itemGUID string) error

	// Breadcrumbs 返回从根到该物品的路径（includeSelf 控制是否含自身）。
	Breadcrumbs(itemGUID string, includeSelf bool) ([]model.Breadcrumb, error)
	// Ancestors 返回从根到指定父节点的路径（渲染位置时不含节点自身）。
	Ancestors(parentGUID string) ([]model.Breadcrumb, error)
	// Descendants 迭代展开子树；第二个返回值表示是否因深度上限被截断。
	Descendants(itemGUID string) (*model.ItemTreeNode, bool, error)
	// Children 列直接子物品（parentGUID 为 nil 时列顶层物品）。
	Children(parentGUID *string) ([]model.ItemSummary, error)
}

type hierarchyService struct {
	itemRepo     repository.ItemRepository
	cycleGuard   *CycleGuard
	maxTreeDepth int
}

// NewHierarchyService 创建层级服务；maxTreeDepth <= 0 时用默认值。
func NewHierarchyService(itemRepo repository.ItemRepository, cycleGuard *CycleGuard, maxTreeDepth int) HierarchyService {
	if maxTreeDepth <= 0 {
		maxTreeDepth = defaultMaxTreeDepth
	}
	return &hierarchyService{
		itemRepo:     itemRepo,
		cycleGuard:   cycleGuard,
		maxTreeDepth: maxTreeDepth,
	}
}

// CreateItem 新建物品。
// 关键规则：
// 1. guid 可选；给了就必须未被占用，没给就现场生成。
// 2. 指定 parentGUID 时父物品必须存在（写入时保证引用完整性）。
// 3. 标签号永远取自存储端序列；名字缺省为 Item_<标签号>。
func (s *hierarchyService) CreateItem(itemGUID, name, description, sourceURL string, parentGUID *string) (*model.Item, error) {
	if s.itemRepo == nil {
		return nil, ErrInternal
	}

	itemGUID = strings.TrimSpace(itemGUID)
	if itemGUID == "" {
		itemGUID = guid.New()
	}

	normalizedParent := normalizeOptionalGUID(parentGUID)
	if normalizedParent != nil {
		if *normalizedParent == itemGUID {
			return nil, ErrInvalidInput
		}
		if _, err := s.itemRepo.FindByGUID(*normalizedParent); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrItemNotFound
			}
			return nil, err
		}
	}

	labelNumber, err := s.itemRepo.NextLabelNumber()
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Item_%d", labelNumber)
	}

	item := &model.Item{
		GUID:        itemGUID,
		ItemName:    name,
		Description: description,
		SourceURL:   sourceURL,
		LabelNumber: labelNumber,
		ParentGUID:  normalizedParent,
	}
	if err := s.itemRepo.Create(item); err != nil {
		if errors.Is(err, repository.ErrDuplicateGUID) {
			return nil, ErrItemAlreadyExists
		}
		return nil, err
	}
	return item, nil
}

func (s *hierarchyService) FindByGUID(itemGUID string) (*model.Item, error) {
	if s.itemRepo == nil {
		return nil, ErrInternal
	}
	itemGUID = strings.TrimSpace(itemGUID)
	if itemGUID == "" {
		return nil, ErrInvalidInput
	}

	item, err := s.itemRepo.FindByGUID(itemGUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *hierarchyService) UpdateLabelNumber(itemGUID string, labelNumber int) error {
	if s.itemRepo == nil {
		return ErrInternal
	}
	itemGUID = strings.TrimSpace(itemGUID)
	if itemGUID == "" || labelNumber < 0 {
		return ErrInvalidInput
	}

	if err := s.itemRepo.UpdateLabelNumber(itemGUID, labelNumber); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	return nil
}

func (s *hierarchyService) TouchItem(itemGUID string) error {
	if s.itemRepo == nil {
		return ErrInternal
	}
	itemGUID = strings.TrimSpace(itemGUID)
	if itemGUID == "" {
		return ErrInvalidInput
	}

	if err := s.itemRepo.Touch(itemGUID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	return nil
}

// SetParent 单个移动。
// 关键规则：
// 1. 不能把物品挂到自己下面。
// 2. 目标父物品必须存在。
// 3. 环检测不通过直接拒绝（I1：森林里永远没有环）。
// 4. parentGUID 为 nil 表示移除父关系，升为顶层。
func (s *hierarchyService) SetParent(itemGUID string, parentGUID *string) error {
	if s.itemRepo == nil || s.cycleGuard == nil {
		return ErrInternal
	}
	itemGUID = strings.TrimSpace(itemGUID)
	if itemGUID == "" {
		return ErrInvalidInput
	}

	normalizedParent := normalizeOptionalGUID(parentGUID)
	if normalizedParent != nil {
		if *normalizedParent == itemGUID {
			return ErrInvalidInput
		}
		if _, err := s.itemRepo.FindByGUID(*normalizedParent); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		cyclic, err := s.cycleGuard.WouldCreateCycle(itemGUID, *normalizedParent)
		if err != nil {
			return err
		}
		if cyclic {
			return ErrCycleDetected
		}
	}

	if err := s.itemRepo.UpdateParent(itemGUID, normalizedParent); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	return nil
}

// BulkSetParent 批量移动。
// 与 SetParent 的全有或全无不同，这里是刻意的部分成功策略：
// 单个物品校验失败只记入 Skipped，不让整批失败。
// 每个物品都针对移动前的图独立做环检测，不考虑同批里其他待移动项。
func (s *hierarchyService) BulkSetParent(itemGUIDs []string, parentGUID string) (*model.BulkMoveResult, error) {
	if s.itemRepo == nil || s.cycleGuard == nil {
		return nil, ErrInternal
	}
	parentGUID = strings.TrimSpace(parentGUID)
	if parentGUID == "" || len(itemGUIDs) == 0 {
		return nil, ErrInvalidInput
	}

	// 去重并保持输入顺序
	seen := make(map[string]struct{}, len(itemGUIDs))
	deduped := make([]string, 0, len(itemGUIDs))
	for _, raw := range itemGUIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, ErrInvalidInput
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}

	// 不能把容器挂进正在被移动的物品里
	if _, ok := seen[parentGUID]; ok {
		return nil, ErrInvalidInput
	}

	if _, err := s.itemRepo.FindByGUID(parentGUID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	result := &model.BulkMoveResult{
		Moved:   []string{},
		Skipped: []model.BulkMoveSkip{},
	}
	valid := make([]string, 0, len(deduped))
	for _, id := range deduped {
		if _, err := s.itemRepo.FindByGUID(id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Skipped = append(result.Skipped, model.BulkMoveSkip{
					GUID:   id,
					Reason: ErrItemNotFound.Error(),
				})
				continue
			}
			return nil, err
		}
		cyclic, err := s.cycleGuard.WouldCreateCycle(id, parentGUID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			result.Skipped = append(result.Skipped, model.BulkMoveSkip{
				GUID:   id,
				Reason: ErrCycleDetected.Error(),
			})
			continue
		}
		valid = append(valid, id)
	}

	if len(valid) > 0 {
		if err := s.itemRepo.UpdateParents(valid, parentGUID); err != nil {
			return nil, err
		}
		result.Moved = valid
	}
	return result, nil
}

func (s *hierarchyService) DeleteItem(itemGUID string) error {
	if s.itemRepo == nil {
		return ErrInternal
	}
	itemGUID = strings.TrimSpace(itemGUID)
	if itemGUID == "" {
		return ErrInvalidInput
	}

	if err := s.itemRepo.DeleteWithAliases(itemGUID); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return ErrItemNotFound
		case errors.Is(err, repository.ErrItemHasChildren):
			return ErrItemHasChildren
		default:
			return err
		}
	}
	return nil
}

// Breadcrumbs 返回从根到该物品的路径。
// 物品本身必须存在；祖先链超过 maxBreadcrumbHops 时静默截断。
func (s *hierarchyService) Breadcrumbs(itemGUID string, includeSelf bool) ([]model.Breadcrumb, error) {
	item, err := s.FindByGUID(itemGUID)
	if err != nil {
		return nil, err
	}

	trail := []model.Breadcrumb{}
	if item.ParentGUID != nil && *item.ParentGUID != "" {
		trail, err = s.Ancestors(*item.ParentGUID)
		if err != nil {
			return nil, err
		}
	}
	if includeSelf {
		trail = append(trail, model.Breadcrumb{GUID: item.GUID, Name: item.ItemName})
	}
	return trail, nil
}

// Ancestors 从 parentGUID 沿父指针向上走，逐级插到队首，
// 最终得到 根 → ... → parent 的顺序。最多走 maxBreadcrumbHops 层。
func (s *hierarchyService) Ancestors(parentGUID string) ([]model.Breadcrumb, error) {
	if s.itemRepo == nil {
		return nil, ErrInternal
	}
	parentGUID = strings.TrimSpace(parentGUID)
	if parentGUID == "" {
		return nil, ErrInvalidInput
	}

	trail := []model.Breadcrumb{}
	current := parentGUID
	for i := 0; i < maxBreadcrumbHops; i++ {
		item, err := s.itemRepo.FindByGUID(current)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 链条断了就停在这里，已收集的部分仍然有用
				break
			}
			return nil, err
		}

		trail = append([]model.Breadcrumb{{GUID: item.GUID, Name: item.ItemName}}, trail...)

		if item.ParentGUID == nil || *item.ParentGUID == "" {
			break
		}
		current = *item.ParentGUID
	}
	return trail, nil
}

// Descendants 用显式队列按层展开子树，代替无界递归：
// 深链不会打爆栈，超过 maxTreeDepth 的部分不再展开并置 truncated。
func (s *hierarchyService) Descendants(itemGUID string) (*model.ItemTreeNode, bool, error) {
	item, err := s.FindByGUID(itemGUID)
	if err != nil {
		return nil, false, err
	}

	childCount, err := s.itemRepo.CountChildren(item.GUID)
	if err != nil {
		return nil, false, err
	}

	root := &model.ItemTreeNode{
		GUID:        item.GUID,
		Name:        item.ItemName,
		LabelNumber: item.LabelNumber,
		ChildCount:  childCount,
		Children:    []*model.ItemTreeNode{},
	}

	type queued struct {
		node  *model.ItemTreeNode
		depth int
	}
	truncated := false
	queue := []queued{{node: root, depth: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.node.ChildCount == 0 {
			continue
		}
		if cur.depth >= s.maxTreeDepth {
			truncated = true
			continue
		}

		rows, err := s.itemRepo.ListSummaries(&cur.node.GUID)
		if err != nil {
			return nil, false, err
		}
		for _, row := range rows {
			child := &model.ItemTreeNode{
				GUID:        row.GUID,
				Name:        row.ItemName,
				LabelNumber: row.LabelNumber,
				ChildCount:  row.ChildCount,
				Children:    []*model.ItemTreeNode{},
			}
			cur.node.Children = append(cur.node.Children, child)
			queue = append(queue, queued{node: child, depth: cur.depth + 1})
		}
	}
	return root, truncated, nil
}

func (s *hierarchyService) Children(parentGUID *string) ([]model.ItemSummary, error) {
	if s.itemRepo == nil {
		return nil, ErrInternal
	}
	return s.itemRepo.ListSummaries(normalizeOptionalGUID(parentGUID))
}

// normalizeOptionalGUID 把可选字符串指针做标准化：
// 1. nil -> nil
// 2. 空白字符串 -> nil
// 3. 非空 -> trim 后返回新指针
func normalizeOptionalGUID(raw *string) *string {
	if raw == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
