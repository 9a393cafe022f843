// Package log sets up the process-wide zerolog logger from a Config,
// with optional file rotation by size, count, and age.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lakeformat/iceberg/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrDirectoryCreationFailed = errors.MustNewCode("log.directory_creation_failed")
	ErrFileOpenFailed          = errors.MustNewCode("log.file_open_failed")
	ErrFilePathRequired        = errors.MustNewCode("log.file_path_required")
	ErrRotationCheckFailed     = errors.MustNewCode("log.rotation_check_failed")
	ErrRotationFailed          = errors.MustNewCode("log.rotation_failed")
	ErrBackupReadFailed        = errors.MustNewCode("log.backup_read_failed")
	ErrBackupRemoveFailed      = errors.MustNewCode("log.backup_remove_failed")
)

// Config is the logging section of the module's top-level Config.
type Config struct {
	Level      string `yaml:"level"`
	Console    bool   `yaml:"console"`
	FilePath   string `yaml:"file_path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// Manager rotates a single log file by size and prunes old backups by
// count and age.
type Manager struct {
	cfg     Config
	current *os.File
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Writer opens (creating if absent) the configured log file, rotating it
// first if it has grown past MaxSizeMB.
func (m *Manager) Writer() (io.Writer, error) {
	if m.cfg.FilePath == "" {
		return nil, errors.New(ErrFilePathRequired, "no log file path specified", nil)
	}
	dir := filepath.Dir(m.cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(ErrDirectoryCreationFailed, "failed to create log directory", err)
	}
	if err := m.rotateIfNeeded(); err != nil {
		return nil, errors.New(ErrRotationCheckFailed, "failed to check log rotation", err)
	}
	file, err := os.OpenFile(m.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.New(ErrFileOpenFailed, "failed to open log file", err)
	}
	m.current = file
	return file, nil
}

func (m *Manager) rotateIfNeeded() error {
	if m.cfg.MaxSizeMB <= 0 {
		return nil
	}
	info, err := os.Stat(m.cfg.FilePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < int64(m.cfg.MaxSizeMB)*1024*1024 {
		return nil
	}
	return m.rotate()
}

func (m *Manager) rotate() error {
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
	backupPath := fmt.Sprintf("%s.%s", m.cfg.FilePath, time.Now().Format("2006-01-02-15-04-05"))
	if err := os.Rename(m.cfg.FilePath, backupPath); err != nil {
		return errors.New(ErrRotationFailed, "failed to rotate log file", err)
	}
	return m.pruneBackups()
}

func (m *Manager) pruneBackups() error {
	if m.cfg.MaxBackups <= 0 && m.cfg.MaxAgeDays <= 0 {
		return nil
	}
	dir := filepath.Dir(m.cfg.FilePath)
	base := filepath.Base(m.cfg.FilePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.New(ErrBackupReadFailed, "failed to read log directory", err)
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var backups []backup
	for _, e := range entries {
		if e.IsDir() || !isBackupFile(e.Name(), base) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	for i := 0; i < len(backups)-1; i++ {
		for j := i + 1; j < len(backups); j++ {
			if backups[i].modTime.After(backups[j].modTime) {
				backups[i], backups[j] = backups[j], backups[i]
			}
		}
	}
	if m.cfg.MaxBackups > 0 && len(backups) > m.cfg.MaxBackups {
		for _, b := range backups[:len(backups)-m.cfg.MaxBackups] {
			if err := os.Remove(b.path); err != nil {
				return errors.New(ErrBackupRemoveFailed, "failed to remove old backup", err).AddContext("path", b.path)
			}
		}
		backups = backups[len(backups)-m.cfg.MaxBackups:]
	}
	if m.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -m.cfg.MaxAgeDays)
		for _, b := range backups {
			if b.modTime.Before(cutoff) {
				if err := os.Remove(b.path); err != nil {
					return errors.New(ErrBackupRemoveFailed, "failed to remove old backup", err).AddContext("path", b.path)
				}
			}
		}
	}
	return nil
}

func (m *Manager) Close() error {
	if m.current != nil {
		return m.current.Close()
	}
	return nil
}

func isBackupFile(name, base string) bool {
	return len(name) > len(base) && name[:len(base)] == base && name[len(base)] == '.'
}

// New builds a zerolog.Logger from cfg: console output, file output with
// rotation, or both.
func New(cfg Config) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.Console || cfg.FilePath == "" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	if cfg.FilePath != "" {
		w, err := NewManager(cfg).Writer()
		if err != nil {
			return zerolog.Logger{}, err
		}
		writers = append(writers, w)
	}

	var out io.Writer
	switch len(writers) {
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}
	return zerolog.New(out).With().Timestamp().Str("component", "iceberg").Logger(), nil
}
