package main

import (
	"context"
	"errors"
	"fmt"
	"lite-rpc/client"
	"lite-rpc/internal/hello"
	"lite-rpc/loadbalance"
	"lite-rpc/middleware"

	"github.com/spf13/cobra"
)

func callCmd(a *app) *cobra.Command {
	var (
		addr     string
		version  string
		age      int
		rawBytes bool
	)

	cmd := &cobra.Command{
		Use:   "call <name>",
		Short: "Call hello on a running server",
		Long: `Call HelloService.hello with one argument.

The argument type picks the overload:
  literpc call World                 # hello(string)
  literpc call Alice --age 30        # hello(hello.Person)
  literpc call data --bytes          # hello([]byte), fails remotely
  literpc call World --version v2    # the v2 implementation`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Client.Address = addr
			}
			var arg any = args[0]
			switch {
			case rawBytes:
				arg = []byte(args[0])
			case age > 0:
				arg = hello.Person{Name: args[0], Age: age}
			}

			reply, err := runCall(cmd.Context(), a, version, arg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Server address (default: configuration, then etcd)")
	cmd.Flags().StringVar(&version, "version", "", "Service version")
	cmd.Flags().IntVar(&age, "age", 0, "Send a hello.Person with this age")
	cmd.Flags().BoolVar(&rawBytes, "bytes", false, "Send the name as []byte")

	return cmd
}

func runCall(ctx context.Context, a *app, version string, arg any) (string, error) {
	cfg, logger := a.cfg, a.logger
	defer logger.Sync()

	bal, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		return "", err
	}
	opts := []client.Option{
		client.WithCodecType(cfg.CodecType()),
		client.WithLogger(logger),
		client.WithBalancer(bal),
		client.WithPoolSize(cfg.Client.PoolSize),
		client.WithTimeout(cfg.Client.Timeout.Std()),
		client.WithDialTimeout(cfg.Client.DialTimeout.Std()),
		client.WithMiddleware(middleware.LoggingMiddleware(logger)),
	}
	if cfg.Client.Retries > 0 {
		opts = append(opts, client.WithMiddleware(middleware.RetryMiddleware(cfg.Client.Retries, cfg.Client.RetryDelay.Std(), logger)))
	}

	switch {
	case cfg.Client.Address != "":
		opts = append(opts, client.WithAddress(cfg.Client.Address))
	case cfg.UseEtcd():
		reg, err := a.registry()
		if err != nil {
			return "", err
		}
		defer reg.Close()
		opts = append(opts, client.WithRegistry(reg))
	default:
		return "", errors.New("no server: pass --addr, or configure client.address or etcd.endpoints")
	}

	cli, err := client.NewClient(opts...)
	if err != nil {
		return "", err
	}
	defer cli.Close()

	var reply string
	if err := cli.Reference(hello.Name, version).Invoke(ctx, "hello", &reply, arg); err != nil {
		return "", fmt.Errorf("hello: %w", err)
	}
	return reply, nil
}
