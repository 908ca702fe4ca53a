package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/persistence/middleware"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := NewMockStore()
	mw := middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns)
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	sessionID := "pii-session"
	snap := domain.NewSnapshot("bot")

	snap.Metadata["agentId"] = "a1"
	snap.Metadata["email"] = "me@example.com"
	snap.Metadata["contact"] = map[string]any{
		"city":        "Recife",
		"phoneNumber": "+55 81 0000-0000",
	}

	if err := secureStore.Save(ctx, sessionID, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if snap.Metadata["email"] != "me@example.com" {
		t.Error("Middleware modified the caller's snapshot!")
	}

	stored, err := underlyingStore.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}

	if stored.Metadata["agentId"] != "a1" {
		t.Error("agentId shouldn't be masked")
	}
	if stored.Metadata["email"] != middleware.MaskedValue {
		t.Errorf("Email should be masked, got: %v", stored.Metadata["email"])
	}

	contact := stored.Metadata["contact"].(map[string]any)
	if contact["phoneNumber"] != middleware.MaskedValue {
		t.Errorf("Nested phone should be masked, got: %v", contact["phoneNumber"])
	}
	if contact["city"] != "Recife" {
		t.Errorf("Nested city shouldn't be masked, got: %v", contact["city"])
	}
	if stored.Mode != "bot" {
		t.Errorf("Mode should pass through, got: %v", stored.Mode)
	}
}

func TestChain_Order(t *testing.T) {
	underlyingStore := NewMockStore()
	key := make([]byte, 32)
	store := middleware.Chain(underlyingStore,
		middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
	)

	ctx := context.Background()
	snap := domain.NewSnapshot("bot")
	snap.Metadata["userEmail"] = "me@example.com"

	if err := store.Save(ctx, "s1", snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Metadata["userEmail"] != middleware.MaskedValue {
		t.Errorf("Expected masking before encryption, got: %v", loaded.Metadata["userEmail"])
	}
}
