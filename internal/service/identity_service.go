package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"thingdb/internal/model"
	"thingdb/internal/repository"
	"thingdb/pkg/log"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// aliasCacheTTL 扫码解析缓存的存活时间。
// 别名几乎只增不改，短 TTL 加写路径主动失效已经足够。
const aliasCacheTTL = 10 * time.Minute

const aliasCachePrefix = "qr:alias:"

// IdentityService 负责把扫到的码解析成规范物品身份。
// 一个物品可以贴多张实体标签（别名），解析永远收敛到同一个规范 GUID。
// 约定：解析只做一层间接——别名的值不会再被当作别名继续查
// （沿用线上行为，见 DESIGN.md）。
type IdentityService interface {
	// Resolve 把扫码串解析成规范 GUID：是别名就返回映射值，
	// 否则原样返回。纯查找，不校验物品是否真的存在。
	Resolve(code string) (string, error)
	// EnsureItemForScan 解析后确保物品存在：没有就按占位物品建出来
	// （标签号取自序列，名字 Item_%04d），返回是否新建。
	// 与并发扫码的竞态靠主键唯一约束收敛：撞了主键就重读赢家的行。
	EnsureItemForScan(code string) (itemGUID string, created bool, err error)
	// MakeAlias 建立 secondCode -> firstCode 基准物品的映射。
	// secondCode 当前是占位物品时，插别名和删占位行在同一事务完成。
	MakeAlias(firstCode, secondCode string) error
	RemoveAlias(code string) error
}

type identityService struct {
	itemRepo  repository.ItemRepository
	aliasRepo repository.QRAliasRepository
	// rdb 可以为 nil：测试和小部署不启缓存，行为完全一致
	rdb *redis.Client
}

func NewIdentityService(itemRepo repository.ItemRepository, aliasRepo repository.QRAliasRepository, rdb *redis.Client) IdentityService {
	return &identityService{
		itemRepo:  itemRepo,
		aliasRepo: aliasRepo,
		rdb:       rdb,
	}
}

func (s *identityService) Resolve(code string) (string, error) {
	if s.aliasRepo == nil {
		return "", ErrInternal
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidInput
	}

	if s.rdb != nil {
		cached, err := s.rdb.Get(context.Background(), aliasCachePrefix+code).Result()
		if err == nil && cached != "" {
			return cached, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			// 缓存故障不影响解析，降级走数据库
			log.Warnf("Resolve: alias cache read failed for %q: %v", code, err)
		}
	}

	base, isAlias, err := s.resolveBase(code)
	if err != nil {
		return "", err
	}
	if isAlias && s.rdb != nil {
		if err := s.rdb.Set(context.Background(), aliasCachePrefix+code, base, aliasCacheTTL).Err(); err != nil {
			log.Warnf("Resolve: alias cache write failed for %q: %v", code, err)
		}
	}
	return base, nil
}

// resolveBase 单层解析：查一次别名表，是别名返回映射值，否则原样返回。
// 刻意不递归——别名链不在契约内。
func (s *identityService) resolveBase(code string) (base string, isAlias bool, err error) {
	alias, err := s.aliasRepo.FindByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return code, false, nil
		}
		return "", false, err
	}
	return alias.ItemGUID, true, nil
}

func (s *identityService) EnsureItemForScan(code string) (string, bool, error) {
	if s.itemRepo == nil || s.aliasRepo == nil {
		return "", false, ErrInternal
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false, ErrInvalidInput
	}

	base, _, err := s.resolveBase(code)
	if err != nil {
		return "", false, err
	}

	if _, err := s.itemRepo.FindByGUID(base); err == nil {
		return base, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, err
	}

	// 第一次见到这个码：建占位物品，等用户命名或合并
	labelNumber, err := s.itemRepo.NextLabelNumber()
	if err != nil {
		return "", false, err
	}

	placeholder := &model.Item{
		GUID:        base,
		ItemName:    fmt.Sprintf("Item_%04d", labelNumber),
		LabelNumber: labelNumber,
	}
	if err := s.itemRepo.Create(placeholder); err != nil {
		if errors.Is(err, repository.ErrDuplicateGUID) {
			// 并发扫码输给了别人：赢家的行就是答案，不算失败
			if _, err := s.itemRepo.FindByGUID(base); err != nil {
				return "", false, err
			}
			return base, false, nil
		}
		return "", false, err
	}
	return base, true, nil
}

// MakeAlias 建立别名。
// 关键规则：
// 1. 两个码各自单层解析成基准 GUID，基准物品都必须存在。
// 2. secondCode 已经是别名键、或两个基准相同，都拒绝。
// 3. secondCode 名下是占位物品时，合并必须原子：插别名 + 删占位行一个事务。
// 4. 有子物品的物品不允许被合并掉（否则它装的东西会悬空）。
func (s *identityService) MakeAlias(firstCode, secondCode string) error {
	if s.itemRepo == nil || s.aliasRepo == nil {
		return ErrInternal
	}
	firstCode = strings.TrimSpace(firstCode)
	secondCode = strings.TrimSpace(secondCode)
	if firstCode == "" || secondCode == "" {
		return ErrInvalidInput
	}
	if firstCode == secondCode {
		return ErrInvalidInput
	}

	firstBase, _, err := s.resolveBase(firstCode)
	if err != nil {
		return err
	}
	if _, err := s.itemRepo.FindByGUID(firstBase); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}

	secondBase, secondIsAlias, err := s.resolveBase(secondCode)
	if err != nil {
		return err
	}
	if _, err := s.itemRepo.FindByGUID(secondBase); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	if secondIsAlias {
		return ErrAliasExists
	}
	if firstBase == secondBase {
		return ErrInvalidInput
	}

	// secondBase 此时必然等于 secondCode（不是别名键），
	// 名下的物品行就是待合并的占位行
	childCount, err := s.itemRepo.CountChildren(secondBase)
	if err != nil {
		return err
	}
	if childCount > 0 {
		return ErrItemHasChildren
	}

	alias := &model.QRAlias{QRCode: secondCode, ItemGUID: firstBase}
	if err := s.aliasRepo.CreateAndDeletePlaceholder(alias, secondBase); err != nil {
		if errors.Is(err, repository.ErrAliasExists) {
			return ErrAliasExists
		}
		return err
	}

	s.invalidateCache(secondCode)
	return nil
}

func (s *identityService) RemoveAlias(code string) error {
	if s.aliasRepo == nil {
		return ErrInternal
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidInput
	}

	if err := s.aliasRepo.DeleteByCode(code); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAliasNotFound
		}
		return err
	}

	s.invalidateCache(code)
	return nil
}

func (s *identityService) invalidateCache(code string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(context.Background(), aliasCachePrefix+code).Err(); err != nil {
		log.Warnf("alias cache invalidation failed for %q: %v", code, err)
	}
}
