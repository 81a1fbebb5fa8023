package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob"
	"golang.org/x/sys/unix"

	"parcel/internal/revocation"
	"parcel/internal/storage"
)

const checkTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBucket opens a gocloud bucket URL and lists one object.
func CheckBucket(ctx context.Context, name, bucketURL string) Result {
	if strings.TrimSpace(bucketURL) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	bucket, err := blob.OpenBucket(checkCtx, bucketURL)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: open: %v)", bucketURL, err)}
	}
	defer bucket.Close()
	if err := storage.Ping(checkCtx, bucket); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", bucketURL, summarize(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", bucketURL)}
}

// CheckRedis dials the revocation signal store and issues a PING.
func CheckRedis(ctx context.Context, redisURL string) Result {
	const name = "Revocation signal (Redis)"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	signal, err := revocation.Dial(checkCtx, redisURL, "", 0)
	if err != nil {
		return Result{Name: name, Detail: summarize(err)}
	}
	_ = signal.Close()
	return Result{Name: name, Passed: true, Detail: "PING ok"}
}

// CheckWebhook verifies that the webhook host accepts TCP connections. It
// does not post anything.
func CheckWebhook(ctx context.Context, webhookURL string) Result {
	const name = "Notification webhook"

	parsed, err := url.Parse(strings.TrimSpace(webhookURL))
	if err != nil || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url %q", webhookURL)}
	}
	host := parsed.Host
	if parsed.Port() == "" {
		port := "80"
		if parsed.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(parsed.Hostname(), port)
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", host)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", host, summarize(err))}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", host)}
}

// CheckKafka connects to the first reachable broker and reads the cluster
// controller.
func CheckKafka(ctx context.Context, brokers []string) Result {
	const name = "Notification brokers (Kafka)"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	var errs []error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(checkCtx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		controller, err := conn.Controller()
		_ = conn.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: controller: %w", broker, err))
			continue
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (controller %s:%d)", broker, controller.Host, controller.Port)}
	}
	return Result{Name: name, Detail: summarize(errors.Join(errs...))}
}

// summarize produces a human-readable summary for connectivity failures.
func summarize(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
