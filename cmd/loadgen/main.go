// Command loadgen hammers the approval path with concurrent transitions
// against a sufficiency boundary: with stock for only half the submitted
// requests, exactly that many approvals must succeed and the rest must
// fail with insufficient stock.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/istrom/siteinv/internal/adapter/storage"
	"github.com/istrom/siteinv/internal/core/domain"
	"github.com/istrom/siteinv/internal/core/service"
)

const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/siteinv?parseTime=true"
	redisAddr     = "localhost:6379"
	initialStock  = 20
	totalRequests = 40
)

func main() {
	ctx := context.Background()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	if err := storage.RunMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)
	notifier := service.NewNotificationService(mysqlAdapter, mysqlAdapter, 1024, logger)
	requests := service.NewRequestService(mysqlAdapter, redisAdapter, mysqlAdapter, notifier, logger)

	go notifier.Worker(0)
	defer notifier.Close()

	// Seed: one site, one admin, one member, one item at the boundary.
	suffix := time.Now().UnixNano()
	site := fmt.Sprintf("loadgen-site-%d", suffix)
	if err := mysqlAdapter.AddSite(ctx, domain.ProjectSite{Name: site}); err != nil {
		log.Fatalf("failed to add site: %v", err)
	}
	adminID := fmt.Sprintf("loadgen-admin-%d", suffix)
	memberID := fmt.Sprintf("loadgen-member-%d", suffix)
	now := time.Now()
	if err := mysqlAdapter.CreateUser(ctx, domain.User{ID: adminID, FullName: "Loadgen Admin", Role: domain.RoleAdmin, ProjectSite: site, CreatedAt: now}); err != nil {
		log.Fatalf("failed to create admin: %v", err)
	}
	if err := mysqlAdapter.CreateUser(ctx, domain.User{ID: memberID, FullName: "Loadgen Member", Role: domain.RoleMember, ProjectSite: site, CreatedAt: now}); err != nil {
		log.Fatalf("failed to create member: %v", err)
	}

	itemID, err := requests.CreateItem(ctx, domain.Item{
		Name:        fmt.Sprintf("loadgen-cement-%d", suffix),
		Category:    domain.CategoryMaterial,
		Unit:        "bag",
		Qty:         decimal.NewFromInt(initialStock),
		ProjectSite: site,
	}, adminID)
	if err != nil {
		log.Fatalf("failed to create item: %v", err)
	}

	requestIDs := make([]string, totalRequests)
	for i := range requestIDs {
		id, err := requests.Submit(ctx, itemID, memberID, decimal.NewFromInt(1), "loadgen")
		if err != nil {
			log.Fatalf("failed to submit request: %v", err)
		}
		requestIDs[i] = id
	}

	var approved, insufficient, other atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range requestIDs {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()
			err := requests.Transition(ctx, requestID, domain.StatusApproved, adminID)
			switch {
			case err == nil:
				approved.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficient.Add(1)
			default:
				other.Add(1)
				log.Printf("unexpected error: %v", err)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== LOADGEN RESULTS ==========")
	fmt.Printf("Initial Stock:      %d\n", initialStock)
	fmt.Printf("Total Requests:     %d\n", totalRequests)
	fmt.Printf("Approved:           %d\n", approved.Load())
	fmt.Printf("Insufficient Stock: %d\n", insufficient.Load())
	fmt.Printf("Other Errors:       %d\n", other.Load())
	fmt.Printf("Duration:           %v\n", elapsed)
	fmt.Println("=====================================")

	if approved.Load() == initialStock && insufficient.Load() == totalRequests-initialStock && other.Load() == 0 {
		fmt.Println("PASS: exactly the stock's worth of approvals succeeded")
	} else {
		fmt.Printf("FAIL: expected %d approved / %d insufficient\n", initialStock, totalRequests-initialStock)
	}

	item, err := mysqlAdapter.GetItem(ctx, itemID)
	if err != nil || item == nil {
		log.Fatalf("failed to reload item: %v", err)
	}
	fmt.Printf("Final Quantity: %s\n", item.Qty)
	if item.Qty.IsZero() {
		fmt.Println("PASS: stock depleted to 0")
	} else {
		fmt.Printf("FAIL: expected quantity 0, got %s\n", item.Qty)
	}
}
