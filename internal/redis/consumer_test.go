package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/koios/device-bridge/internal/config"
	"github.com/koios/device-bridge/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fakeStream struct {
	acked      []string
	published  []*models.BridgeResult
	publishErr error
}

func (f *fakeStream) ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeStream) AcknowledgeMessage(_ context.Context, id string) error {
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeStream) PublishResult(_ context.Context, result *models.BridgeResult) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, result)
	return nil
}

func (f *fakeStream) IsHealthy() bool { return true }

type echoHandler struct {
	err error
}

func (h echoHandler) Handle(_ context.Context, req *models.BridgeRequest) (*models.BridgeResult, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &models.BridgeResult{
		Type:     models.TypeBridgeResult,
		UUID:     req.UUID,
		ClientID: req.ClientID,
		Method:   req.Method,
		Result:   map[string]any{"id": "unknown"},
	}, nil
}

func payload(t *testing.T, req models.BridgeRequest) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return map[string]interface{}{PayloadField: string(data)}
}

func TestResultChannel(t *testing.T) {
	if got := ResultChannel("webview-1"); got != "device:results:webview-1" {
		t.Errorf("ResultChannel = %q", got)
	}
}

func TestHandleStreamMessage(t *testing.T) {
	req := models.BridgeRequest{Type: models.TypeBridgeRequest, UUID: "u1", ClientID: "webview-1", Method: "Device.GetId"}

	t.Run("published then acked", func(t *testing.T) {
		fs := &fakeStream{}
		c := newConsumer(fs, echoHandler{}, zap.NewNop())

		c.handleStreamMessage(redis.XMessage{ID: "1-0", Values: payload(t, req)})

		if len(fs.published) != 1 || fs.published[0].UUID != "u1" {
			t.Fatalf("published = %+v", fs.published)
		}
		if len(fs.acked) != 1 || fs.acked[0] != "1-0" {
			t.Errorf("acked = %v", fs.acked)
		}
	})

	t.Run("handler failure publishes error result", func(t *testing.T) {
		fs := &fakeStream{}
		c := newConsumer(fs, echoHandler{err: errors.New("pool shutting down")}, zap.NewNop())

		c.handleStreamMessage(redis.XMessage{ID: "2-0", Values: payload(t, req)})

		if len(fs.published) != 1 || fs.published[0].Error != "pool shutting down" {
			t.Fatalf("published = %+v", fs.published)
		}
		if fs.published[0].ClientID != "webview-1" {
			t.Errorf("ClientID = %q", fs.published[0].ClientID)
		}
	})

	t.Run("publish failure leaves message pending", func(t *testing.T) {
		fs := &fakeStream{publishErr: errors.New("connection reset")}
		c := newConsumer(fs, echoHandler{}, zap.NewNop())

		c.handleStreamMessage(redis.XMessage{ID: "3-0", Values: payload(t, req)})

		if len(fs.acked) != 0 {
			t.Errorf("message acked despite publish failure: %v", fs.acked)
		}
	})

	t.Run("bad entries are acked and dropped", func(t *testing.T) {
		fs := &fakeStream{}
		c := newConsumer(fs, echoHandler{}, zap.NewNop())

		c.handleStreamMessage(redis.XMessage{ID: "4-0", Values: map[string]interface{}{"other": "x"}})
		c.handleStreamMessage(redis.XMessage{ID: "5-0", Values: map[string]interface{}{PayloadField: "{not json"}})

		if len(fs.published) != 0 {
			t.Errorf("published = %+v", fs.published)
		}
		if len(fs.acked) != 2 {
			t.Errorf("acked = %v", fs.acked)
		}
	})
}

func TestConsumer_StopEndsStart(t *testing.T) {
	c := newConsumer(&fakeStream{}, echoHandler{}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- c.Start() }()

	c.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestClient_RoundTrip(t *testing.T) {
	// Requires a running Redis instance
	cfg := config.RedisConfig{
		Addr:          "localhost:6379",
		DB:            1,
		ConsumerGroup: "device-bridge-test",
	}

	client, err := NewClient(cfg, zap.NewNop())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	defer client.client.Del(ctx, RequestStream)

	sub := client.client.Subscribe(ctx, ResultChannel("webview-test"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	req := models.BridgeRequest{Type: models.TypeBridgeRequest, UUID: "rt-1", ClientID: "webview-test", Method: "Device.GetId"}
	if err := client.client.XAdd(ctx, &redis.XAddArgs{Stream: RequestStream, Values: payload(t, req)}).Err(); err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	c := NewConsumer(client, echoHandler{}, zap.NewNop())
	go c.Start()
	defer c.Stop()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case msg := <-sub.Channel():
			var result models.BridgeResult
			if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			// Entries left over from earlier runs may be delivered first
			if result.UUID != "rt-1" {
				continue
			}
			if result.Type != models.TypeBridgeResult || result.Result["id"] != "unknown" {
				t.Errorf("unexpected result %+v", result)
			}
			return
		case <-timeout:
			t.Fatal("no result published")
		}
	}
}
