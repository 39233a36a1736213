//go:build darwin || freebsd || linux

// Command sockfd-close connects a socket, disposes of it with the chosen close
// semantics, and prints the classified result.
package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/containerd/log"
	"github.com/database64128/sockfd-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

type closeOptions struct {
	network         string
	linger          int
	nonBlocking     bool
	emulateBlocking bool
	abortive        bool
	shutdownSend    bool
	unblock         bool
	fastOpen        bool
	timeout         time.Duration
	payload         string
	metrics         bool
	logLevel        string
}

func newCloseCommand() *cobra.Command {
	var opts closeOptions

	cmd := &cobra.Command{
		Use:   "sockfd-close [OPTIONS] ADDRESS",
		Short: "Connect a socket and close it, printing the classified close result",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.SetLevel(opts.logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClose(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.network, "network", "tcp", "Socket network: tcp or udp")
	flags.IntVar(&opts.linger, "linger", -1, "SO_LINGER timeout in seconds; negative disables lingering")
	flags.BoolVar(&opts.nonBlocking, "non-blocking", false, "Put the socket in non-blocking mode")
	flags.BoolVar(&opts.emulateBlocking, "emulate-blocking", false, "Switch to non-blocking and back, so blocking is emulated")
	flags.BoolVar(&opts.abortive, "abortive", false, "Reset the connection instead of closing gracefully")
	flags.BoolVar(&opts.shutdownSend, "shutdown-send", false, "Shut down the send direction before closing")
	flags.BoolVar(&opts.unblock, "unblock", false, "Close while a read is in flight")
	flags.BoolVar(&opts.fastOpen, "fast-open", false, "Enable TCP Fast Open")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Connect timeout")
	flags.StringVar(&opts.payload, "payload", "", "Data to write before closing")
	flags.BoolVar(&opts.metrics, "metrics", false, "Print close metrics in the Prometheus text format")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level")
	return cmd
}

func runClose(ctx context.Context, out io.Writer, opts closeOptions, address string) error {
	addr, err := netip.ParseAddrPort(address)
	if err != nil {
		return err
	}

	var sotype int
	switch opts.network {
	case "tcp":
		sotype = unix.SOCK_STREAM
	case "udp":
		sotype = unix.SOCK_DGRAM
	default:
		return fmt.Errorf("unknown network %q", opts.network)
	}
	family := unix.AF_INET6
	if addr.Addr().Is4() {
		family = unix.AF_INET
	}

	reg := prometheus.NewRegistry()
	if opts.metrics {
		if err = sockfd.RegisterMetrics(reg); err != nil {
			return err
		}
	}

	c := sockfd.Config{
		NonBlocking: opts.nonBlocking,
		FastOpen:    opts.fastOpen,
		SendTimeout: opts.timeout,
	}
	h, err := c.Socket(family, sotype, 0)
	if err != nil {
		return err
	}
	l := log.G(ctx).WithFields(log.Fields{"address": addr, "network": opts.network})

	if opts.emulateBlocking {
		if err = h.SetNonBlocking(true); err == nil {
			err = h.SetNonBlocking(false)
		}
		if err != nil {
			h.Abort()
			return err
		}
	}
	if opts.linger >= 0 {
		if err = h.SetLinger(opts.linger); err != nil {
			h.Abort()
			return err
		}
	}

	if err = h.Connect(ctx, addr); err != nil && h.HasFlag(sockfd.FlagLastConnectFailed) {
		l.WithError(err).Warn("connect failed")
	}
	if opts.payload != "" {
		if _, err = h.Write([]byte(opts.payload)); err != nil {
			l.WithError(err).Warn("write failed")
		}
	}
	if opts.shutdownSend {
		if err = h.Shutdown(unix.SHUT_WR); err != nil {
			l.WithError(err).Warn("shutdown failed")
		}
	}

	if opts.unblock {
		readDone := make(chan error, 1)
		go func() {
			_, err := h.Read(make([]byte, 1))
			readDone <- err
		}()
		time.Sleep(50 * time.Millisecond)
		defer func() {
			l.WithError(<-readDone).Info("in-flight read returned")
		}()
	}

	start := time.Now()
	r := h.CloseWithResult(opts.abortive)
	fmt.Fprintf(out, "%s (flags=%s, remapped=%t, deferred=%t, took %s)\n", r, h.Flags(), r.Remapped, r.Deferred, time.Since(start))

	if opts.metrics {
		mfs, err := reg.Gather()
		if err != nil {
			return err
		}
		for _, mf := range mfs {
			if _, err = expfmt.MetricFamilyToText(out, mf); err != nil {
				return err
			}
		}
	}
	return r.Err()
}

func main() {
	if err := newCloseCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
