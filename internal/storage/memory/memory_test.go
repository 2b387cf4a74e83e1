package memory

import (
	"testing"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/internal/storage/storetest"
)

func TestQueueStoreContract(t *testing.T) {
	storetest.RunQueueStore(t, func(*testing.T) queue.Store { return NewQueueStore() })
}

func TestJournalStoreContract(t *testing.T) {
	storetest.RunJournalStore(t, func(*testing.T) journal.Store { return NewJournalStore() })
}

func TestProviderReturnsSameStore(t *testing.T) {
	p := NewProvider()
	if p.Store("a") != p.Store("a") {
		t.Fatal("expected the same store for the same name")
	}
	if p.Store("a") == p.Store("b") {
		t.Fatal("expected distinct stores per name")
	}
}
