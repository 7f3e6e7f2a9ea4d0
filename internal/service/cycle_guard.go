package service

import (
	"errors"

	"thingdb/internal/repository"

	"gorm.io/gorm"
)

// maxCycleCheckHops 限制向上追溯的步数。
// 这是实用上界而不是正确性证明：链条超过 20 层时保守地放行。
// 合法森林里的链条远小于这个值。
const maxCycleCheckHops = 20

// CycleGuard 判断一次重新挂载（item 挂到 newParent 下）会不会把森林变成环。
// 算法：从候选父节点出发沿 ParentGUID 向上走，途中遇到 item 本身即成环。
// 纯读操作，不持有任何进程内图状态。
type CycleGuard struct {
	itemRepo repository.ItemRepository
}

func NewCycleGuard(itemRepo repository.ItemRepository) *CycleGuard {
	return &CycleGuard{itemRepo: itemRepo}
}

// WouldCreateCycle 返回 true 表示把 proposedParentGUID 设为 itemGUID 的
// 父节点会产生环。visited 集合让已经成环的脏数据也能终止，
// 不依赖 maxCycleCheckHops 兜底。
func (g *CycleGuard) WouldCreateCycle(itemGUID, proposedParentGUID string) (bool, error) {
	if g.itemRepo == nil {
		return false, ErrInternal
	}
	if itemGUID == "" || proposedParentGUID == "" {
		return false, ErrInvalidInput
	}

	visited := make(map[string]struct{}, maxCycleCheckHops)
	current := proposedParentGUID

	for i := 0; i < maxCycleCheckHops; i++ {
		if current == itemGUID {
			return true, nil
		}
		if _, ok := visited[current]; ok {
			break
		}
		visited[current] = struct{}{}

		item, err := g.itemRepo.FindByGUID(current)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 链条断在不存在的节点上，不可能绕回 item
				break
			}
			return false, err
		}
		if item.ParentGUID == nil || *item.ParentGUID == "" {
			break
		}
		current = *item.ParentGUID
	}

	return false, nil
}
