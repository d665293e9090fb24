package client

import (
	"context"
	"lite-rpc/internal/hello"
	"lite-rpc/loadbalance"
	"lite-rpc/registry"
	"lite-rpc/server"
	"testing"
	"time"
)

// TestMultiServerWithEtcd 多实例 + 负载均衡 + etcd
// 链路: Client → Registry(etcd) → LB → Pool → Protocol → Codec → Middleware → Server → 反射调用
func TestMultiServerWithEtcd(t *testing.T) {
	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"}, time.Second, nil)
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	defer reg.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.Discover(ctx, hello.Name); err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}

	// 启动 2 个 Server，启动时自动注册到 etcd
	_, addr1 := startServer(t, server.WithRegistry(reg, "", 10), server.WithWeight(10))
	_, addr2 := startServer(t, server.WithRegistry(reg, "", 10), server.WithWeight(10))

	bal, _ := loadbalance.New("weighted_random")
	cli, err := NewClient(WithRegistry(reg), WithBalancer(bal))
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	ref := cli.Reference(hello.Name, "")
	for i := 1; i <= 10; i++ {
		var reply string
		if err := ref.Invoke(context.Background(), "hello", &reply, hello.Person{Name: "etcd", Age: i}); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	list, err := reg.Discover(context.Background(), hello.Name)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, inst := range list {
		seen[inst.Addr] = true
	}
	if !seen[addr1] || !seen[addr2] {
		t.Fatalf("expect both servers registered, got %+v", list)
	}
}
