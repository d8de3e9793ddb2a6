package e2e

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// Credentials of the account the server seeds at startup.
const (
	adminUser     = "testuser"
	adminPassword = "testpass123"
)

var appURL string

func TestMain(m *testing.M) {
	os.Exit(runTestMain(m))
}

func runTestMain(m *testing.M) int {
	workDir, err := os.MkdirTemp("", "spendbook-e2e-")
	if err != nil {
		fmt.Printf("create work dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(workDir)

	binary := filepath.Join(workDir, "spendbook")
	if err := buildServer(binary); err != nil {
		fmt.Println(err)
		return 1
	}

	port, err := freePort()
	if err != nil {
		fmt.Printf("pick port: %v\n", err)
		return 1
	}
	appURL = "http://127.0.0.1:" + strconv.Itoa(port)

	server := exec.Command(binary)
	server.Env = append(os.Environ(),
		"PORT="+strconv.Itoa(port),
		"DATABASE_URL="+filepath.Join(workDir, "expenses.db"),
		"AUTH_ENABLED=true",
		"ALLOW_REGISTRATION=false",
		"SESSION_SECRET=e2e-session-secret-0123456789abcdef",
		"ADMIN_USER="+adminUser,
		"ADMIN_PASSWORD="+adminPassword,
		"AMQP_URL=",
		"TRUSTED_PROXIES=",
		"LOG_LEVEL=warn",
	)
	// Templates are embedded; running in workDir keeps a developer .env out.
	server.Dir = workDir
	server.Stdout = os.Stdout
	server.Stderr = os.Stderr

	if err := server.Start(); err != nil {
		fmt.Printf("start server: %v\n", err)
		return 1
	}
	defer func() {
		if err := server.Process.Signal(os.Interrupt); err != nil {
			server.Process.Kill()
		}
		server.Wait()
	}()

	if err := waitHealthy(appURL+"/healthz", 10*time.Second); err != nil {
		fmt.Println(err)
		return 1
	}

	return m.Run()
}

// buildServer compiles cmd/server from the module root into binary.
func buildServer(binary string) error {
	root, err := moduleRoot()
	if err != nil {
		return err
	}
	cmd := exec.Command("go", "build", "-o", binary, "./cmd/server")
	cmd.Dir = root
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("build server: %w\n%s", err, out)
	}
	return nil
}

func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above the working directory")
		}
		dir = parent
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitHealthy(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server not healthy at %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}
