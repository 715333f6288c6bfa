package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, tenantID, domain.TopicSMSReceived, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicSMSReceived, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", msg.Payload)
			}
			if msg.TenantID != tenantID || msg.Topic != domain.TopicSMSReceived {
				t.Errorf("unexpected envelope %+v", msg)
			}
			if msg.ID == "" {
				t.Error("expected message id")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "tenant-001", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "tenant-002", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-001", "isolation.topic", []byte("msg1"))
		waitFor(t, func() bool { return received1.Load() == 1 })
		time.Sleep(20 * time.Millisecond)

		if received2.Load() != 0 {
			t.Errorf("tenant-002 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("AllTenants", func(t *testing.T) {
		var count atomic.Int32
		tenants := make(chan string, 2)

		_, err := bus.Subscribe(ctx, domain.AllTenants, domain.TopicFraudAlert, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			tenants <- msg.TenantID
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		bus.Publish(ctx, "tenant-a", domain.TopicFraudAlert, []byte("1"))
		bus.Publish(ctx, "tenant-b", domain.TopicFraudAlert, []byte("2"))
		waitFor(t, func() bool { return count.Load() == 2 })

		seen := map[string]bool{<-tenants: true, <-tenants: true}
		if !seen["tenant-a"] || !seen["tenant-b"] {
			t.Errorf("expected messages from both tenants, got %v", seen)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if err := bus.Publish(ctx, domain.AllTenants, "topic", []byte("data")); err == nil {
			t.Error("expected error when publishing to every tenant")
		}

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		waitFor(t, func() bool { return count.Load() == 1 })

		sub.Unsubscribe()

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, tenantID, domain.TopicVerificationDecided, func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, tenantID, domain.TopicVerificationDecided, func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, tenantID, domain.TopicVerificationDecided, []byte("broadcast"))
		waitFor(t, func() bool { return count1.Load() == 1 && count2.Load() == 1 })
	})

	t.Run("PublishJSON", func(t *testing.T) {
		got := make(chan []byte, 1)
		bus.Subscribe(ctx, tenantID, domain.TopicPaymentIngested, func(ctx context.Context, msg *domain.Message) error {
			got <- msg.Payload
			return nil
		})

		payment := domain.Payment{ID: "pay-001", ParsedPayment: domain.ParsedPayment{TransactionID: "TX123456789", Amount: 5000}}
		if err := PublishJSON(ctx, bus, tenantID, domain.TopicPaymentIngested, payment); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}

		select {
		case data := <-got:
			var decoded domain.Payment
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("invalid payload: %v", err)
			}
			if decoded.TransactionID != "TX123456789" {
				t.Errorf("unexpected payment %+v", decoded)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for payment event")
		}

		if err := PublishJSON(ctx, bus, tenantID, "bad", make(chan int)); err == nil {
			t.Error("expected encode error")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})

	bus.Subscribe(ctx, "tenant-001", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		<-release
		return nil
	})

	// One message is held by the handler, one fills the buffer; the rest drop.
	for i := 0; i < 5; i++ {
		bus.Publish(ctx, "tenant-001", "slow.topic", []byte("msg"))
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	if bus.Dropped() < 3 {
		t.Errorf("expected at least 3 dropped messages, got %d", bus.Dropped())
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	tenantID := "tenant-001"

	bus.Subscribe(ctx, tenantID, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, tenantID, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-load"

	var received atomic.Int32
	const messageCount = 100

	bus.Subscribe(ctx, tenantID, domain.TopicSMSReceived, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, tenantID, domain.TopicSMSReceived, []byte("msg"))
	}

	waitFor(t, func() bool { return received.Load() == messageCount })
}
