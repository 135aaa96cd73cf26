package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/engine"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
)

// Regression: the full recommendation lifecycle against a real MySQL.
// CREATE on first analysis, feedback freezing the stock snapshot, the outcome
// sweep settling an accepted recommendation, and the in-place UPDATE flipping
// Accepted to Updated on the next run.
func TestRecommendationLifecycle_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDR", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "inventory_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	const storeId = "store-e2e"
	ctx = utils.SetStoreIdInContext(ctx, storeId)

	product := &models.Product{
		StoreId:      storeId,
		Sku:          "COF-3IN1",
		Name:         "Instant Coffee 3-in-1",
		Category:     "Beverages",
		SellingPrice: decimal.NewFromInt(1500),
		CostPrice:    decimal.NewFromInt(1000),
		CasePackSize: 1,
		CurrentQty:   decimal.NewFromInt(1),
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// 30 days of steady 2/day demand ending yesterday.
	now := time.Now().UTC()
	for i := 1; i <= 30; i++ {
		sale := models.DailySale{
			StoreId:   storeId,
			ProductId: product.ID,
			SaleDate:  time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -i),
			Qty:       decimal.NewFromInt(2),
		}
		if err := db.Create(&sale).Error; err != nil {
			t.Fatalf("seed sale day -%d: %v", i, err)
		}
	}

	orchestrator := engine.NewOrchestrator(nil)

	// First run: 1 unit against ~2/day demand must CREATE an urgent BuyMore.
	run, err := orchestrator.Process(ctx, engine.RunRequest{
		StoreId: storeId,
		SkuIds:  []int{product.ID},
		Trigger: models.TriggerEventDailyClose,
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("first run status = %s (%s)", run.Status, run.ErrorMessage)
	}
	if run.RecommendationsMade != 1 || run.SkusAnalyzed != 1 {
		t.Fatalf("first run totals: %+v", run)
	}

	active, err := models.GetActiveRecommendations(ctx, storeId)
	if err != nil {
		t.Fatalf("load active: %v", err)
	}
	rec := active[product.ID]
	if rec == nil {
		t.Fatal("no active recommendation created")
	}
	if rec.Action != models.ActionTypeBuyMore || !rec.Urgent {
		t.Fatalf("expected urgent BuyMore, got %s urgent=%v", rec.Action, rec.Urgent)
	}
	if rec.FeedbackStatus != models.FeedbackStatusPending {
		t.Fatalf("fresh recommendation status = %s", rec.FeedbackStatus)
	}
	if rec.Justification == "" {
		t.Fatal("recommendation has no justification")
	}

	// Manager accepts: the on-hand snapshot freezes at 1.
	accepted, err := models.ApplyFeedback(ctx, storeId, rec.ID, models.FeedbackStatusAccepted)
	if err != nil {
		t.Fatalf("apply feedback: %v", err)
	}
	if accepted.FeedbackQtySnapshot == nil || !accepted.FeedbackQtySnapshot.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("snapshot = %v, want 1", accepted.FeedbackQtySnapshot)
	}

	// The reorder lands; backdate the feedback so the sweep will look at it.
	if err := db.Model(&models.Product{}).Where("id = ?", product.ID).
		Update("current_qty", decimal.NewFromInt(20)).Error; err != nil {
		t.Fatalf("restock product: %v", err)
	}
	backdated := time.Now().Add(-25 * time.Hour)
	if err := db.Model(&models.Recommendation{}).Where("id = ?", rec.ID).
		Update("feedback_at", backdated).Error; err != nil {
		t.Fatalf("backdate feedback: %v", err)
	}

	resolved, err := engine.SweepOutcomesForStore(storeId)
	if err != nil {
		t.Fatalf("outcome sweep: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("resolved = %d, want 1", resolved)
	}
	var settled models.Recommendation
	if err := db.Where("id = ?", rec.ID).First(&settled).Error; err != nil {
		t.Fatalf("reload recommendation: %v", err)
	}
	if settled.RealizedOutcome == nil || *settled.RealizedOutcome != models.OutcomeOpportunitySaved {
		t.Fatalf("realized outcome = %v, want Opportunity Saved", settled.RealizedOutcome)
	}

	// A record that has burned all of its bounded checks is permanently out of
	// the sweep's reach; one check short of the limit is still examined once
	// more and then parks at the limit, unresolved.
	snap := decimal.NewFromInt(5)
	exhausted := models.Recommendation{
		StoreId:             storeId,
		ProductId:           product.ID + 1000,
		RunId:               run.ID,
		Action:              models.ActionTypeBuyMore,
		ConfidenceTier:      models.ConfidenceTierLow,
		FeedbackStatus:      models.FeedbackStatusIgnored,
		FeedbackQtySnapshot: &snap,
		FeedbackAt:          &backdated,
		OutcomeCheckCount:   7,
	}
	if err := db.Create(&exhausted).Error; err != nil {
		t.Fatalf("seed exhausted recommendation: %v", err)
	}
	lastChance := models.Recommendation{
		StoreId:             storeId,
		ProductId:           product.ID + 1001,
		RunId:               run.ID,
		Action:              models.ActionTypeBuyMore,
		ConfidenceTier:      models.ConfidenceTierLow,
		FeedbackStatus:      models.FeedbackStatusIgnored,
		FeedbackQtySnapshot: &snap,
		FeedbackAt:          &backdated,
		OutcomeCheckCount:   6,
	}
	if err := db.Create(&lastChance).Error; err != nil {
		t.Fatalf("seed last-chance recommendation: %v", err)
	}

	resolved, err = engine.SweepOutcomesForStore(storeId)
	if err != nil {
		t.Fatalf("bounded sweep: %v", err)
	}
	if resolved != 0 {
		t.Fatalf("bounded sweep resolved = %d, want 0", resolved)
	}
	if err := db.Where("id = ?", exhausted.ID).First(&exhausted).Error; err != nil {
		t.Fatalf("reload exhausted slot: %v", err)
	}
	if exhausted.RealizedOutcome != nil || exhausted.OutcomeCheckCount != 7 {
		t.Fatalf("exhausted slot was touched: outcome=%v checks=%d",
			exhausted.RealizedOutcome, exhausted.OutcomeCheckCount)
	}
	if err := db.Where("id = ?", lastChance.ID).First(&lastChance).Error; err != nil {
		t.Fatalf("reload last-chance slot: %v", err)
	}
	if lastChance.OutcomeCheckCount != 7 {
		t.Fatalf("last-chance checks = %d, want 7 after its final examination", lastChance.OutcomeCheckCount)
	}
	if lastChance.RealizedOutcome != nil {
		t.Fatalf("last-chance slot settled unexpectedly: %v", *lastChance.RealizedOutcome)
	}

	// Second run: stock is now 20 (10 days of cover), bucket flips to BuyLess,
	// so the accepted slot goes Obsolete and a fresh one is created.
	run2, err := orchestrator.Process(ctx, engine.RunRequest{
		StoreId: storeId,
		SkuIds:  []int{product.ID},
		Trigger: models.TriggerEventDailyClose,
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if run2.Status != models.RunStatusCompleted {
		t.Fatalf("second run status = %s (%s)", run2.Status, run2.ErrorMessage)
	}

	var old models.Recommendation
	if err := db.Where("id = ?", rec.ID).First(&old).Error; err != nil {
		t.Fatalf("reload old slot: %v", err)
	}
	if old.FeedbackStatus != models.FeedbackStatusObsolete {
		t.Fatalf("superseded slot status = %s, want Obsolete", old.FeedbackStatus)
	}
	if old.RealizedOutcome == nil {
		t.Fatal("obsoleting must not erase the settled outcome")
	}

	active, err = models.GetActiveRecommendations(ctx, storeId)
	if err != nil {
		t.Fatalf("reload active: %v", err)
	}
	fresh := active[product.ID]
	if fresh == nil || fresh.ID == rec.ID {
		t.Fatal("bucket change must create a fresh recommendation")
	}
	if fresh.Action != models.ActionTypeBuyLess {
		t.Fatalf("new bucket = %s, want BuyLess", fresh.Action)
	}
	if fresh.RecommendedQty != 0 {
		t.Fatalf("BuyLess carries qty %d, want 0", fresh.RecommendedQty)
	}
	if fresh.FeedbackStatus != models.FeedbackStatusPending {
		t.Fatalf("fresh slot status = %s, want Pending", fresh.FeedbackStatus)
	}

	// Obsolete slots are read-only.
	if _, err := models.ApplyFeedback(ctx, storeId, rec.ID, models.FeedbackStatusAccepted); err != models.ErrRecommendationObsolete {
		t.Fatalf("feedback on obsolete slot: err = %v, want ErrRecommendationObsolete", err)
	}

	// Missing ids surface the shared not-found sentinel.
	if _, err := models.ApplyFeedback(ctx, storeId, 999999, models.FeedbackStatusAccepted); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("feedback on missing slot: err = %v, want ErrorRecordNotFound", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("inventory-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("inventory-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=inventory_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
