package logger

import (
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// ========================================
// defaultLogger 数据竞争: 多 goroutine 并发读写
// ========================================

func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	const goroutines = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", "key", "value")
			_ = Get()
		}()
	}

	// 同时执行写操作 (模拟 Init 或 AttachDBHandler)
	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()

	wg.Wait()
}

// TestGetReturnsCurrentLogger 验证 Get() 返回最新的 logger。
func TestGetReturnsCurrentLogger(t *testing.T) {
	Init("production")
	l := Get()
	if l == nil {
		t.Fatal("Get() returned nil")
	}
}

// ========================================
// InitWithFile 重复调用应关闭旧文件
// ========================================

func TestInitWithFile_ClosesOldFile(t *testing.T) {
	dir := t.TempDir()

	if err := InitWithFile(dir); err != nil {
		t.Fatalf("first InitWithFile: %v", err)
	}

	logFileMu.Lock()
	oldFile := logFile
	logFileMu.Unlock()

	if oldFile == nil {
		t.Fatal("logFile should not be nil after InitWithFile")
	}

	if err := InitWithFile(dir); err != nil {
		t.Fatalf("second InitWithFile: %v", err)
	}

	// 旧文件应已被关闭
	_, err := oldFile.Stat()
	if err == nil {
		t.Error("old logFile should be closed after second InitWithFile, but Stat succeeded")
	}

	ShutdownFileHandler()
	Init("production")
}

// ========================================
// ShutdownFileHandler 后 logger 仍可用
// ========================================

func TestShutdownFileHandlerSafety(t *testing.T) {
	ShutdownFileHandler() // 即使没有 InitWithFile 也不应 panic
	Info("after shutdown", "key", "val")
}

// ========================================
// Fatal 应通过 exitFunc 退出 (可拦截)
// ========================================

func TestFatal_FlushesBeforeExit(t *testing.T) {
	exitCalled := false
	exitCode := 0
	origExit := exitFunc
	exitFunc = func(code int) {
		exitCalled = true
		exitCode = code
	}
	defer func() { exitFunc = origExit }()

	origLogger := getLogger()
	defer storeLogger(origLogger)
	Init("production")

	Fatal("test fatal", "key", "value")

	if !exitCalled {
		t.Fatal("exitFunc should have been called")
	}
	if exitCode != 1 {
		t.Errorf("exit code = %d, want 1", exitCode)
	}
}

// ========================================
// StderrCollector
// ========================================

func TestStderrCollector_BasicLine(t *testing.T) {
	var records []slog.Record
	origLogger := getLogger()
	defer storeLogger(origLogger)
	storeLogger(slog.New(&captureHandler{records: &records}))

	c := NewStderrCollector("thread-1", nil)
	_, _ = c.Write([]byte("hello from stderr\n"))
	_ = c.Close()

	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Message != "hello from stderr" {
		t.Errorf("unexpected message: %s", records[0].Message)
	}
	if records[0].Level != slog.LevelInfo {
		t.Errorf("expected INFO, got %s", records[0].Level)
	}
}

func TestStderrCollector_ErrorLevel(t *testing.T) {
	var records []slog.Record
	origLogger := getLogger()
	defer storeLogger(origLogger)
	storeLogger(slog.New(&captureHandler{records: &records}))

	c := NewStderrCollector("thread-1", nil)
	_, _ = c.Write([]byte("something went Error here\n"))
	_ = c.Close()

	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Level != slog.LevelError {
		t.Errorf("expected ERROR, got %s", records[0].Level)
	}
}

func TestStderrCollector_EmptyLinesSkipped(t *testing.T) {
	var records []slog.Record
	origLogger := getLogger()
	defer storeLogger(origLogger)
	storeLogger(slog.New(&captureHandler{records: &records}))

	c := NewStderrCollector("thread-1", nil)
	_, _ = c.Write([]byte("\n\nactual line\n\n"))
	_ = c.Close()

	if len(records) != 1 {
		t.Fatalf("expected 1 record (empty lines skipped), got %d", len(records))
	}
}

func TestStderrCollector_OnLineCallback(t *testing.T) {
	origLogger := getLogger()
	defer storeLogger(origLogger)
	storeLogger(slog.New(&captureHandler{records: &[]slog.Record{}}))

	var lines []string
	c := NewStderrCollector("thread-1", func(line string) { lines = append(lines, line) })
	_, _ = c.Write([]byte("line1\nline2\n"))
	_ = c.Close()

	if len(lines) != 2 || lines[0] != "line1" || lines[1] != "line2" {
		t.Errorf("onLine lines = %v, want [line1 line2]", lines)
	}
}

func TestStderrCollector_ScannerErrorHandled(t *testing.T) {
	origLogger := getLogger()
	defer storeLogger(origLogger)
	storeLogger(slog.New(&captureHandler{records: &[]slog.Record{}}))

	c := NewStderrCollector("thread-1", nil)

	// 超长行 (超过默认 bufio.Scanner 64KB 限制) 触发 scanner 错误
	longLine := strings.Repeat("x", 80*1024)
	_, _ = c.Write([]byte(longLine))

	// Close 等待 goroutine 完成; 未超时即说明错误被处理而非死锁
	_ = c.Close()
}

func TestContainsErrorKeyword(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"lowercase error", "something went error here", true},
		{"uppercase ERROR", "FATAL ERROR occurred", true},
		{"capitalized Error", "Error: connection refused", true},
		{"panic keyword", "goroutine panic detected", true},
		{"fatal keyword", "fatal: cannot open file", true},
		{"no match", "all systems operational", false},
		{"empty string", "", false},
		{"substring at end", "this is an error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := containsErrorKeyword(tt.line)
			if got != tt.want {
				t.Errorf("containsErrorKeyword(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
