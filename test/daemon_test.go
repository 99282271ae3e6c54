package test

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// daemonBinary is built from the repository root with `go build -o instrlink .`
func daemonBinary(t testing.TB) string {
	t.Helper()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get CWD: %v", err)
	}
	bin := filepath.Join(cwd, "..", "instrlink")
	if _, err := os.Stat(bin); os.IsNotExist(err) {
		t.Skipf("instrlink binary not found at %s. Build it first.", bin)
	}
	return bin
}

// startDaemon runs the daemon with the given YAML config until the test ends.
func startDaemon(t testing.TB, configContent string) {
	t.Helper()
	bin := daemonBinary(t)

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := exec.Command(bin, "--config", configFile)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start instrlink: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			cmd.Process.Kill()
		}
	})
}

// waitHTTP polls url until the daemon answers.
func waitHTTP(t testing.TB, url string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("daemon did not come up at %s", url)
}

// queryBridge sends one line to the bridge and returns the reply line.
func queryBridge(addr, cmd string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return "", fmt.Errorf("failed to connect to bridge: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return "", err
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("bridge read failed: %w", err)
	}
	return strings.TrimRight(line, "\n"), nil
}

func bridgeQuery(t testing.TB, addr, cmd string) string {
	t.Helper()
	reply, err := queryBridge(addr, cmd)
	if err != nil {
		t.Fatal(err)
	}
	return reply
}
