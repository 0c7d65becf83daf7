package recovery

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRecoverAllRunsInOrder(t *testing.T) {
	var order []string
	rm := NewRecoveryManager()
	for _, name := range []string{"outbox", "engine", "mirror"} {
		name := name
		rm.RegisterRecoverable(name, RecoverableFunc(func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}))
	}

	if err := rm.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	want := []string{"outbox", "engine", "mirror"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
	if !reflect.DeepEqual(rm.Steps(), want) {
		t.Errorf("expected steps %v, got %v", want, rm.Steps())
	}
}

func TestRecoverAllContinuesAfterFailure(t *testing.T) {
	ran := false
	rm := NewRecoveryManager()
	rm.RegisterRecoverable("outbox", RecoverableFunc(func(ctx context.Context) error {
		return errors.New("database is locked")
	}))
	rm.RegisterRecoverable("engine", RecoverableFunc(func(ctx context.Context) error {
		ran = true
		return nil
	}))

	err := rm.RecoverAll(context.Background())
	if err == nil {
		t.Fatal("expected an error when a step fails")
	}
	if !strings.Contains(err.Error(), "1 errors out of 2 steps") || !strings.Contains(err.Error(), "outbox") {
		t.Errorf("unexpected error message: %v", err)
	}
	if !ran {
		t.Error("expected the engine step to run after the outbox step failed")
	}
}

func TestRecoverAllStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	rm := NewRecoveryManager()
	rm.RegisterRecoverable("engine", RecoverableFunc(func(ctx context.Context) error {
		ran = true
		return nil
	}))

	if err := rm.RecoverAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("no step should run once the context is cancelled")
	}
}

func TestRecoverAllEmpty(t *testing.T) {
	if err := NewRecoveryManager().RecoverAll(context.Background()); err != nil {
		t.Errorf("expected no error with no steps, got %v", err)
	}
}
