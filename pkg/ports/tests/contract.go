package tests

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/ports"
)

// LockerContractTest is a reusable test suite that verifies if an adapter complies with ports.DistributedLocker.
func LockerContractTest(t *testing.T, locker ports.DistributedLocker) {
	t.Helper()
	ctx := context.Background()

	// 1. Lock and Unlock
	t.Run("Lock_Unlock", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "contract-a", time.Second)
		if err != nil {
			t.Fatalf("unexpected error acquiring lock: %v", err)
		}
		if err := unlock(ctx); err != nil {
			t.Fatalf("unexpected error releasing lock: %v", err)
		}

		// Reacquire after release
		unlock, err = locker.Lock(ctx, "contract-a", time.Second)
		if err != nil {
			t.Fatalf("lock not reacquirable after release: %v", err)
		}
		_ = unlock(ctx)
	})

	// 2. Contention honours context cancellation
	t.Run("Contention_Timeout", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "contract-b", 5*time.Second)
		if err != nil {
			t.Fatalf("unexpected error acquiring lock: %v", err)
		}
		defer func() { _ = unlock(ctx) }()

		short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
		defer cancel()
		if _, err := locker.Lock(short, "contract-b", 5*time.Second); err == nil {
			t.Error("expected error acquiring a held lock, got nil")
		}
	})

	// 3. Independent keys do not contend
	t.Run("Independent_Keys", func(t *testing.T) {
		u1, err := locker.Lock(ctx, "contract-c1", time.Second)
		if err != nil {
			t.Fatalf("lock c1: %v", err)
		}
		defer func() { _ = u1(ctx) }()

		short, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		u2, err := locker.Lock(short, "contract-c2", time.Second)
		if err != nil {
			t.Fatalf("lock c2 should not contend with c1: %v", err)
		}
		_ = u2(short)
	})
}
