package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRegisterDiscover(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	reg.Register(ctx, "HelloService", ServiceInstance{Addr: "b:2", Weight: 1}, 10)
	reg.Register(ctx, "HelloService", ServiceInstance{Addr: "a:1", Weight: 3}, 10)
	reg.Register(ctx, "Other", ServiceInstance{Addr: "c:3"}, 10)

	list, err := reg.Discover(ctx, "HelloService")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Addr != "a:1" || list[1].Addr != "b:2" {
		t.Fatalf("unexpected instances %+v", list)
	}

	// 同一地址重复注册只更新
	reg.Register(ctx, "HelloService", ServiceInstance{Addr: "a:1", Weight: 7}, 10)
	list, _ = reg.Discover(ctx, "HelloService")
	if len(list) != 2 || list[0].Weight != 7 {
		t.Fatalf("re-register should replace, got %+v", list)
	}

	reg.Deregister(ctx, "HelloService", "a:1")
	list, _ = reg.Discover(ctx, "HelloService")
	if len(list) != 1 || list[0].Addr != "b:2" {
		t.Fatalf("unexpected instances after deregister %+v", list)
	}

	if list, _ := reg.Discover(ctx, "Missing"); len(list) != 0 {
		t.Fatalf("expect no instances, got %+v", list)
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	ch := reg.Watch(ctx, "HelloService")
	reg.Register(context.Background(), "HelloService", ServiceInstance{Addr: "a:1"}, 10)
	reg.Register(context.Background(), "HelloService", ServiceInstance{Addr: "b:2"}, 10)

	// 只保留最新的列表
	select {
	case list := <-ch:
		if len(list) != 2 {
			t.Fatalf("expect latest list with 2 instances, got %+v", list)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expect channel closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestMemoryClosed(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Close()
	if err := reg.Register(context.Background(), "S", ServiceInstance{Addr: "a"}, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	if _, ok := <-reg.Watch(context.Background(), "S"); ok {
		t.Fatal("watch on a closed registry should be closed")
	}
}
