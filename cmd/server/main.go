package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thingdb/internal/config"
	"thingdb/internal/handler"
	"thingdb/internal/middleware"
	"thingdb/internal/repository"
	"thingdb/internal/service"
	"thingdb/pkg/database"
	"thingdb/pkg/log"

	"github.com/gin-gonic/gin"
)

func main() {
	config.Init("configs/config.yaml")
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	log.Info("Server starting")

	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.RunMigrate(); err != nil {
		log.Fatal("Failed to run migrations", err)
		return
	}
	if cfg.Database.Redis.Addr != "" {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	}

	// 依赖组装：repository -> service -> handler
	itemRepo := repository.NewItemRepository(database.DB)
	aliasRepo := repository.NewQRAliasRepository(database.DB)

	cycleGuard := service.NewCycleGuard(itemRepo)
	hierarchyService := service.NewHierarchyService(itemRepo, cycleGuard, cfg.Hierarchy.MaxTreeDepth)
	identityService := service.NewIdentityService(itemRepo, aliasRepo, database.RDB)

	scanFeed := handler.NewScanFeed()
	itemHandler := handler.NewItemHandler(hierarchyService)
	scannerHandler := handler.NewScannerHandler(identityService, hierarchyService, scanFeed)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok", "scan_feed_clients": scanFeed.ClientCount()})
	})

	api := r.Group("/api")
	{
		api.POST("/items", itemHandler.Create)
		api.GET("/items/:guid", itemHandler.Detail)
		api.POST("/items/:guid/set-parent", itemHandler.SetParent)
		api.POST("/items/:guid/delete", itemHandler.Delete)
		api.POST("/items/:guid/label", itemHandler.UpdateLabel)
		api.GET("/items/:guid/descendants", itemHandler.Descendants)
		api.GET("/tree", itemHandler.Tree)
		api.GET("/tree/:guid/children", itemHandler.TreeChildren)

		scanner := api.Group("/scanner")
		{
			scanner.POST("/scan-item", scannerHandler.ScanItem)
			scanner.POST("/move-item", scannerHandler.MoveItem)
			scanner.POST("/bulk-move", scannerHandler.BulkMove)
			scanner.POST("/make-alias", scannerHandler.MakeAlias)
			scanner.POST("/remove-alias", scannerHandler.RemoveAlias)
			scanner.POST("/delete-item", scannerHandler.DeleteItem)
			scanner.POST("/audit-item", scannerHandler.AuditItem)
			scanner.GET("/feed", scanFeed.Handle)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
