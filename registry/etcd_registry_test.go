package registry

import (
	"context"
	"testing"
	"time"
)

// 需要本地 etcd (localhost:2379)，连不上就跳过
func newTestEtcd(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"}, time.Second, nil)
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Get(ctx, keyPrefix+"ping"); err != nil {
		reg.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestEtcd(t)
	ctx := context.Background()

	// Register two instances
	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5}

	if err := reg.Register(ctx, "HelloService", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "HelloService", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "HelloService")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	// Deregister one
	if err := reg.Deregister(ctx, "HelloService", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "HelloService")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr || instances[0].Weight != 5 {
		t.Fatalf("expect %+v, got %+v", inst2, instances[0])
	}

	// Cleanup
	reg.Deregister(ctx, "HelloService", inst2.Addr)
}

func TestEtcdWatch(t *testing.T) {
	reg := newTestEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := reg.Watch(ctx, "WatchService")
	time.Sleep(100 * time.Millisecond)

	inst := ServiceInstance{Addr: "127.0.0.1:9001", Weight: 1}
	if err := reg.Register(ctx, "WatchService", inst, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), "WatchService", inst.Addr)

	select {
	case list := <-ch:
		if len(list) != 1 || list[0].Addr != inst.Addr {
			t.Fatalf("unexpected watch update %+v", list)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update")
	}
}
