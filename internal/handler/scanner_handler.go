package handler

import (
	"net/http"

	"thingdb/internal/service"
	"thingdb/pkg/guid"
	"thingdb/pkg/log"

	"github.com/gin-gonic/gin"
)

// ScannerHandler 负责扫码设备接口。
// 设备只会发规范形状的 GUID 码；所有格式校验在这一层完成，
// 业务层拿到的都是合法形状的码。
type ScannerHandler struct {
	identityService  service.IdentityService
	hierarchyService service.HierarchyService
	feed             *ScanFeed
}

func NewScannerHandler(identityService service.IdentityService, hierarchyService service.HierarchyService, feed *ScanFeed) *ScannerHandler {
	return &ScannerHandler{
		identityService:  identityService,
		hierarchyService: hierarchyService,
		feed:             feed,
	}
}

// ScanItemRequest 是扫码上报的请求体。
type ScanItemRequest struct {
	GUID string `json:"guid" binding:"required"`
}

// MoveItemRequest 是单个移动的请求体。
type MoveItemRequest struct {
	ItemGUID   string `json:"item_guid" binding:"required"`
	ParentGUID string `json:"parent_guid" binding:"required"`
}

// BulkMoveRequest 是批量移动的请求体。
type BulkMoveRequest struct {
	ItemGUIDs  []string `json:"item_guids" binding:"required"`
	ParentGUID string   `json:"parent_guid" binding:"required"`
}

// MakeAliasRequest 是建立别名的请求体：second_code 将指向 first_code 的基准物品。
type MakeAliasRequest struct {
	FirstCode  string `json:"first_code" binding:"required"`
	SecondCode string `json:"second_code" binding:"required"`
}

// DeleteItemRequest 是扫码删除的请求体。
type DeleteItemRequest struct {
	GUID string `json:"guid" binding:"required"`
}

// RemoveAliasRequest 是删除别名的请求体。
type RemoveAliasRequest struct {
	Code string `json:"code" binding:"required"`
}

// ScanItem 处理一次扫码：解析别名、必要时建占位物品，返回规范身份。
// 即使扫的是别名，返回的也永远是基准 GUID。
func (h *ScannerHandler) ScanItem(c *gin.Context) {
	var req ScanItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "GUID is required")
		return
	}
	if !guid.IsValid(req.GUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	itemGUID, created, err := h.identityService.EnsureItemForScan(req.GUID)
	if err != nil {
		log.Warnf("ScannerHandler.ScanItem: scan failed for %s: %v", req.GUID, err)
		respondError(c, err)
		return
	}

	item, err := h.hierarchyService.FindByGUID(itemGUID)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.feed != nil {
		h.feed.Broadcast(ScanEvent{
			GUID:        item.GUID,
			Name:        item.ItemName,
			LabelNumber: item.LabelNumber,
			Created:     created,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Item scanned successfully",
		"data": gin.H{
			"guid":         item.GUID,
			"name":         item.ItemName,
			"label_number": item.LabelNumber,
			"created":      created,
		},
	})
}

// MoveItem 单个移动：校验和执行一次完成，全有或全无。
func (h *ScannerHandler) MoveItem(c *gin.Context) {
	var req MoveItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "item_guid and parent_guid are required")
		return
	}
	if !guid.IsValid(req.ItemGUID) || !guid.IsValid(req.ParentGUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	if err := h.hierarchyService.SetParent(req.ItemGUID, &req.ParentGUID); err != nil {
		log.Warnf("ScannerHandler.MoveItem: failed to move %s: %v", req.ItemGUID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Item moved successfully",
	})
}

// BulkMove 批量移动：部分成功，逐项返回移动/跳过及原因。
func (h *ScannerHandler) BulkMove(c *gin.Context) {
	var req BulkMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "item_guids and parent_guid are required")
		return
	}
	if !guid.IsValid(req.ParentGUID) {
		respondBadRequest(c, "Invalid parent_guid format")
		return
	}
	for _, id := range req.ItemGUIDs {
		if !guid.IsValid(id) {
			respondBadRequest(c, "Invalid GUID format: "+id)
			return
		}
	}

	result, err := h.hierarchyService.BulkSetParent(req.ItemGUIDs, req.ParentGUID)
	if err != nil {
		log.Warnf("ScannerHandler.BulkMove: bulk move failed: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Bulk move completed",
		"data": gin.H{
			"moved_count":   len(result.Moved),
			"skipped_count": len(result.Skipped),
			"moved":         result.Moved,
			"skipped":       result.Skipped,
		},
	})
}

// MakeAlias 把 second_code 关联成 first_code 基准物品的别名。
// second_code 名下是占位物品时会被一并合并掉。
func (h *ScannerHandler) MakeAlias(c *gin.Context) {
	var req MakeAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "first_code and second_code are required")
		return
	}
	if !guid.IsValid(req.FirstCode) || !guid.IsValid(req.SecondCode) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	if err := h.identityService.MakeAlias(req.FirstCode, req.SecondCode); err != nil {
		log.Warnf("ScannerHandler.MakeAlias: %s -> %s failed: %v", req.SecondCode, req.FirstCode, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Alias created successfully",
	})
}

// RemoveAlias 显式删除一条别名映射（别名从不自动回收）。
func (h *ScannerHandler) RemoveAlias(c *gin.Context) {
	var req RemoveAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "code is required")
		return
	}
	if !guid.IsValid(req.Code) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	if err := h.identityService.RemoveAlias(req.Code); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Alias removed successfully",
	})
}

// DeleteItem 扫码删除，与网页端同一套保护删除语义。
func (h *ScannerHandler) DeleteItem(c *gin.Context) {
	var req DeleteItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "GUID is required")
		return
	}
	if !guid.IsValid(req.GUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	if err := h.hierarchyService.DeleteItem(req.GUID); err != nil {
		log.Warnf("ScannerHandler.DeleteItem: failed to delete %s: %v", req.GUID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Item deleted successfully",
	})
}

// AuditItem 盘点：解析到基准物品后刷新它的 updated_at。
func (h *ScannerHandler) AuditItem(c *gin.Context) {
	var req ScanItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "GUID is required")
		return
	}
	if !guid.IsValid(req.GUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	base, err := h.identityService.Resolve(req.GUID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.hierarchyService.TouchItem(base); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Item audit timestamp updated",
	})
}
