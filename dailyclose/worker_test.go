package dailyclose

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// NOTE: These tests are intentionally DB-free. They validate the intended
// delivery semantics: at-least-once Pub/Sub delivery is safe because messages
// are deduped by durable idempotency key, and concurrent deliveries for one
// store collapse to a single engine run. Full DB+PubSub integration tests
// belong in an environment with MySQL and the Pub/Sub emulator.

type fakeCloseProcessor struct {
	muByStore map[string]*sync.Mutex
	mu        sync.Mutex
	seen      map[string]bool
	runs      int
}

func newFakeCloseProcessor() *fakeCloseProcessor {
	return &fakeCloseProcessor{
		muByStore: map[string]*sync.Mutex{},
		seen:      map[string]bool{},
	}
}

func (p *fakeCloseProcessor) process(storeId, messageId string) {
	// Serialize per store (engine run guard).
	p.mu.Lock()
	sm := p.muByStore[storeId]
	if sm == nil {
		sm = &sync.Mutex{}
		p.muByStore[storeId] = sm
	}
	p.mu.Unlock()

	sm.Lock()
	defer sm.Unlock()

	// Dedupe (models.IdempotencyKey).
	key := storeId + "|" + handlerName + "|" + messageId
	p.mu.Lock()
	if p.seen[key] {
		p.mu.Unlock()
		return
	}
	p.seen[key] = true
	p.mu.Unlock()

	p.mu.Lock()
	p.runs++
	p.mu.Unlock()
}

func TestDailyClose_DuplicateDelivery_RunsOnce(t *testing.T) {
	p := newFakeCloseProcessor()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.process("store-1", "msg-42")
		}()
	}
	wg.Wait()

	if p.runs != 1 {
		t.Fatalf("expected exactly 1 engine run, got %d", p.runs)
	}
}

func TestDailyClose_DistinctStoresRunIndependently(t *testing.T) {
	p := newFakeCloseProcessor()

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(s int) {
				defer wg.Done()
				p.process(fmt.Sprintf("store-%d", s), "msg-1")
			}(s)
		}
	}
	wg.Wait()

	if p.runs != 4 {
		t.Fatalf("expected 1 run per store (4), got %d", p.runs)
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	dup := &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if !isDuplicateKeyErr(dup) {
		t.Fatal("1062 not recognized as duplicate key")
	}
	if !isDuplicateKeyErr(fmt.Errorf("create idempotency key: %w", dup)) {
		t.Fatal("wrapped 1062 not recognized")
	}
	if isDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1213}) {
		t.Fatal("deadlock error misclassified as duplicate key")
	}
	if isDuplicateKeyErr(errors.New("something else")) {
		t.Fatal("plain error misclassified as duplicate key")
	}
}
