package logging

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gluk-w/hopshell/internal/config"
	"github.com/gluk-w/hopshell/internal/sshkeys"
)

var (
	logFile *os.File
	logPath string
	mu      sync.Mutex
)

// Path returns the log file location for the current settings.
func Path() string {
	if config.Cfg.LogPath != "" {
		return sshkeys.ExpandHome(config.Cfg.LogPath)
	}
	return filepath.Join(sshkeys.ExpandHome(config.Cfg.DataPath), "hopshell.log")
}

// Init sets up dual logging to stderr and a log file.
// Must be called after config.Load().
func Init() {
	initOutput(true)
}

// InitFileOnly logs to the file alone, for commands whose stdout and stderr
// belong to the user.
func InitFileOnly() {
	initOutput(false)
}

func initOutput(stderr bool) {
	path := Path()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		log.Printf("WARNING: cannot create log directory: %v", err)
		return
	}

	// Session transcripts may include internal host names.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.Printf("WARNING: cannot open log file %s: %v", path, err)
		return
	}

	mu.Lock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	logPath = path
	mu.Unlock()

	if stderr {
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	} else {
		log.SetOutput(f)
	}
	log.Printf("Logging to file: %s", path)
}

// Close restores stderr logging and closes the log file.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(os.Stderr)
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func currentPath() string {
	if logPath != "" {
		return logPath
	}
	return Path()
}

// ReadTail returns the last n lines from the log file.
func ReadTail(n int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	// Increase buffer for potentially long lines
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > 2*n && n > 0 {
			lines = append(lines[:0], lines[len(lines)-n:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n"), nil
}

// Clear truncates the log file.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if err := logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
		if _, err := logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("seek log file: %w", err)
		}
		return nil
	}

	err := os.Truncate(currentPath(), 0)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
