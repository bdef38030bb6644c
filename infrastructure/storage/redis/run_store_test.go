package redis

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

func TestNewRunStoreFromClient(t *testing.T) {
	t.Parallel()

	s := NewRunStoreFromClient(nil, "test:")
	if s.keyPrefix != "test:" {
		t.Errorf("keyPrefix = %s, want test:", s.keyPrefix)
	}
	if s.client != nil {
		t.Error("client should be nil")
	}
}

func TestRunStore_Keys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix   string
		id       string
		runKey   string
		indexKey string
	}{
		{"merlin:", "abc", "merlin:run:abc", "merlin:runs"},
		{"", "abc", "run:abc", "runs"},
		{"prod:merlin:", "x-1", "prod:merlin:run:x-1", "prod:merlin:runs"},
	}

	for _, tt := range tests {
		t.Run(tt.runKey, func(t *testing.T) {
			t.Parallel()

			s := NewRunStoreFromClient(nil, tt.prefix)
			if got := s.runKey(tt.id); got != tt.runKey {
				t.Errorf("runKey() = %s, want %s", got, tt.runKey)
			}
			if got := s.indexKey(); got != tt.indexKey {
				t.Errorf("indexKey() = %s, want %s", got, tt.indexKey)
			}
		})
	}
}

func TestRunStore_ValidatesBeforeCallingRedis(t *testing.T) {
	t.Parallel()

	s := NewRunStoreFromClient(nil, "test:")
	ctx := context.Background()

	if err := s.Save(ctx, nil); !errors.Is(err, run.ErrInvalidRunID) {
		t.Errorf("Save(nil) error = %v, want ErrInvalidRunID", err)
	}
	if _, err := s.Get(ctx, ""); !errors.Is(err, run.ErrInvalidRunID) {
		t.Errorf("Get(\"\") error = %v, want ErrInvalidRunID", err)
	}
	if err := s.Delete(ctx, ""); !errors.Is(err, run.ErrInvalidRunID) {
		t.Errorf("Delete(\"\") error = %v, want ErrInvalidRunID", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.List(cancelled, run.ListFilter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("List() error = %v, want context.Canceled", err)
	}
}

func TestScoreRange(t *testing.T) {
	t.Parallel()

	open := scoreRange(run.ListFilter{})
	if open.Min != "-inf" || open.Max != "+inf" {
		t.Errorf("scoreRange() = %+v, want open range", open)
	}

	from := time.UnixMilli(1_700_000_000_000)
	bounded := scoreRange(run.ListFilter{FromTime: from, ToTime: from.Add(time.Second)})
	if bounded.Min != "1700000000000" || bounded.Max != "1700000001000" {
		t.Errorf("scoreRange() = %+v", bounded)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestWrapError(t *testing.T) {
	t.Parallel()

	if wrapError(nil) != nil {
		t.Error("wrapError(nil) should be nil")
	}
	if err := wrapError(context.DeadlineExceeded); !errors.Is(err, ErrOperationTimeout) {
		t.Errorf("wrapError(deadline) = %v", err)
	}
	if err := wrapError(timeoutErr{}); !errors.Is(err, ErrOperationTimeout) {
		t.Errorf("wrapError(net timeout) = %v", err)
	}
	other := errors.New("WRONGTYPE")
	if err := wrapError(other); err != other {
		t.Errorf("wrapError(other) = %v, want unchanged", err)
	}
}
