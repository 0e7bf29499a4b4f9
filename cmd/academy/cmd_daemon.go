package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/academyhq/academy/internal/config"
)

// cmdStart starts the daemon in the background
func cmdStart() error {
	if isRunning() {
		fmt.Println("✓ Daemon is already running")
		return nil
	}

	academyDir, err := config.EnsureAcademyDir()
	if err != nil {
		return fmt.Errorf("setup academy directory: %w", err)
	}

	daemonPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	cmd := exec.Command(daemonPath)
	cmd.Dir = academyDir
	cmd.Stdout = nil
	cmd.Stderr = nil
	configureDaemonProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Print("Starting daemon...")
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if isRunning() {
			fmt.Println(" ✓")
			fmt.Printf("Daemon running at %s\n", daemonURL())
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon failed to start (check logs with 'academy logs')")
}

// cmdStop stops the daemon
func cmdStop() error {
	if !isRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	academyDir, err := config.AcademyDir()
	if err != nil {
		return err
	}
	pid, err := readPID(filepath.Join(academyDir, pidFile))
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Print("Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isRunning() {
			fmt.Println(" ✓")
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon did not stop gracefully")
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID: %w", err)
	}
	return pid, nil
}

// cmdStatus shows daemon status
func cmdStatus() error {
	if !isRunning() {
		fmt.Println("Status: stopped")
		return nil
	}

	var status struct {
		Status         string   `json:"status"`
		Version        string   `json:"version"`
		Uptime         int      `json:"uptime_seconds"`
		LLMProviders   []string `json:"llm_providers"`
		GradingBackend string   `json:"grading_backend"`
		StorageBackend string   `json:"storage_backend"`
		LearnerID      string   `json:"learner_id"`
		Active         *struct {
			AssignmentID string `json:"assignment_id"`
			ExerciseID   string `json:"exercise_id"`
		} `json:"active"`
	}
	if err := call("GET", "/v1/status", nil, &status); err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("Status:    %s\n", status.Status)
	fmt.Printf("Version:   %s\n", status.Version)
	fmt.Printf("Uptime:    %s\n", formatDuration(status.Uptime))
	fmt.Printf("Learner:   %s\n", status.LearnerID)
	fmt.Printf("Storage:   %s\n", status.StorageBackend)
	fmt.Printf("Grading:   %s\n", status.GradingBackend)
	fmt.Printf("Providers: %s\n", strings.Join(status.LLMProviders, ", "))
	if status.Active != nil {
		fmt.Printf("Active:    %s / %s\n", status.Active.AssignmentID, status.Active.ExerciseID)
	}
	fmt.Printf("Address:   %s\n", daemonURL())
	return nil
}

// cmdLogs prints the tail of the daemon log
func cmdLogs() error {
	academyDir, err := config.AcademyDir()
	if err != nil {
		return err
	}
	logPath := filepath.Join(academyDir, "logs", "academyd.log")

	file, err := os.Open(logPath)
	if os.IsNotExist(err) {
		fmt.Println("No log file found. Start the daemon first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	return tailLines(file, os.Stdout, 4096)
}

// tailLines copies roughly the last window bytes of r to w, starting at a
// line boundary
func tailLines(r io.ReadSeeker, w io.Writer, window int64) error {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	offset := size - window
	if offset < 0 {
		offset = 0
	}
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(r)
	if offset > 0 {
		_, _ = reader.ReadString('\n')
	}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	return scanner.Err()
}

// findDaemonBinary locates the academyd binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("academyd"); err == nil {
		return path, nil
	}

	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), "academyd")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, path := range []string{"/usr/local/bin/academyd", "./academyd", "./cmd/academyd/academyd"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("academyd binary not found (build with 'go build ./cmd/academyd')")
}
