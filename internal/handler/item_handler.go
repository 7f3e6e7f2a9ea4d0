package handler

import (
	"net/http"
	"strconv"
	"strings"

	"thingdb/internal/service"
	"thingdb/pkg/guid"
	"thingdb/pkg/log"

	"github.com/gin-gonic/gin"
)

// ItemHandler 负责物品管理接口（网页端路由）。
type ItemHandler struct {
	hierarchyService service.HierarchyService
}

func NewItemHandler(hierarchyService service.HierarchyService) *ItemHandler {
	return &ItemHandler{hierarchyService: hierarchyService}
}

// CreateItemRequest 是新建物品的请求体。
// guid 可选（不传则服务端生成）；parent_guid 使用指针以区分
// "没传该字段"和"显式传空字符串"两种情况。
type CreateItemRequest struct {
	GUID        string  `json:"guid"`
	ItemName    string  `json:"item_name"`
	Description string  `json:"description"`
	SourceURL   string  `json:"source_url"`
	ParentGUID  *string `json:"parent_guid"`
}

// SetParentRequest 是设置父物品的请求体；parent_guid 为空表示升为顶层。
type SetParentRequest struct {
	ParentGUID *string `json:"parent_guid"`
}

// UpdateLabelRequest 是更新标签号的请求体。
type UpdateLabelRequest struct {
	LabelNumber string `json:"label_number"`
}

// Create 新建物品。
func (h *ItemHandler) Create(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	if req.GUID != "" && !guid.IsValid(req.GUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}
	if req.ParentGUID != nil && strings.TrimSpace(*req.ParentGUID) != "" && !guid.IsValid(strings.TrimSpace(*req.ParentGUID)) {
		respondBadRequest(c, "Invalid parent GUID format")
		return
	}

	item, err := h.hierarchyService.CreateItem(req.GUID, req.ItemName, req.Description, req.SourceURL, req.ParentGUID)
	if err != nil {
		log.Warnf("ItemHandler.Create: failed to create item: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":    http.StatusCreated,
		"message": "Item created successfully",
		"data":    item,
	})
}

// Detail 返回物品详情：字段 + 面包屑（封顶截断）+ 直接子物品。
func (h *ItemHandler) Detail(c *gin.Context) {
	itemGUID := c.Param("guid")
	if !guid.IsValid(itemGUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	item, err := h.hierarchyService.FindByGUID(itemGUID)
	if err != nil {
		respondError(c, err)
		return
	}

	breadcrumbs, err := h.hierarchyService.Breadcrumbs(itemGUID, false)
	if err != nil {
		respondError(c, err)
		return
	}

	children, err := h.hierarchyService.Children(&itemGUID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Item retrieved successfully",
		"data": gin.H{
			"item":        item,
			"breadcrumbs": breadcrumbs,
			"children":    children,
		},
	})
}

// SetParent 设置或移除父物品。
func (h *ItemHandler) SetParent(c *gin.Context) {
	itemGUID := c.Param("guid")
	if !guid.IsValid(itemGUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	var req SetParentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}
	if req.ParentGUID != nil && strings.TrimSpace(*req.ParentGUID) != "" && !guid.IsValid(strings.TrimSpace(*req.ParentGUID)) {
		respondBadRequest(c, "Invalid parent GUID format")
		return
	}

	if err := h.hierarchyService.SetParent(itemGUID, req.ParentGUID); err != nil {
		log.Warnf("ItemHandler.SetParent: failed to move %s: %v", itemGUID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Item moved successfully",
	})
}

// Delete 保护删除：有子物品时拒绝，提示先移走或删除子物品。
func (h *ItemHandler) Delete(c *gin.Context) {
	itemGUID := c.Param("guid")
	if !guid.IsValid(itemGUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	if err := h.hierarchyService.DeleteItem(itemGUID); err != nil {
		log.Warnf("ItemHandler.Delete: failed to delete %s: %v", itemGUID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Item deleted successfully",
	})
}

// UpdateLabel 更新标签号（人面向的编号，不是身份）。
func (h *ItemHandler) UpdateLabel(c *gin.Context) {
	itemGUID := c.Param("guid")
	if !guid.IsValid(itemGUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	var req UpdateLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	labelNumber, err := strconv.Atoi(strings.TrimSpace(req.LabelNumber))
	if err != nil || labelNumber < 0 {
		respondBadRequest(c, "Label number must be numeric")
		return
	}

	if err := h.hierarchyService.UpdateLabelNumber(itemGUID, labelNumber); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Label updated successfully",
		"data":    gin.H{"label_number": labelNumber},
	})
}

// Tree 返回顶层物品及各自的子物品数量（树视图第一层）。
func (h *ItemHandler) Tree(c *gin.Context) {
	roots, err := h.hierarchyService.Children(nil)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Tree roots retrieved successfully",
		"data":    roots,
	})
}

// TreeChildren 返回某个物品的直接子物品（树懒加载展开用）。
func (h *ItemHandler) TreeChildren(c *gin.Context) {
	itemGUID := c.Param("guid")
	if !guid.IsValid(itemGUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	children, err := h.hierarchyService.Children(&itemGUID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Children retrieved successfully",
		"data": gin.H{
			"parent_guid":    itemGUID,
			"children":       children,
			"total_children": len(children),
		},
	})
}

// Descendants 返回整棵子树（有深度上限，超出部分置 truncated）。
func (h *ItemHandler) Descendants(c *gin.Context) {
	itemGUID := c.Param("guid")
	if !guid.IsValid(itemGUID) {
		respondBadRequest(c, "Invalid GUID format")
		return
	}

	tree, truncated, err := h.hierarchyService.Descendants(itemGUID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Descendants retrieved successfully",
		"data": gin.H{
			"tree":      tree,
			"truncated": truncated,
		},
	})
}
