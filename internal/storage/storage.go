// Package storage appends report lines to daily files and compresses the
// previous day's file on rotation.
package storage

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	filePrefix = "pkes_report_"
	dayLayout  = "2006-01-02"
)

// Storage writes report lines to <outputDir>/pkes_report_YYYY-MM-DD.log
type Storage struct {
	outputDir string
	file      *os.File
	day       string
	now       func() time.Time
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new Storage instance
func New(outputDir string) *Storage {
	return &Storage{
		outputDir: outputDir,
		now:       func() time.Time { return time.Now().UTC() },
		stopChan:  make(chan struct{}),
	}
}

// FileName returns the report file name for the given day
func FileName(day time.Time) string {
	return filePrefix + day.UTC().Format(dayLayout) + ".log"
}

// Start creates the output directory, opens today's file and starts the rotation timer
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s.mu.Lock()
	err := s.openFile()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer
func (s *Storage) Stop() error {
	close(s.stopChan)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// WriteLine appends one line to the current day's file, rotating first
// if the day has changed since the file was opened
func (s *Storage) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || s.day != s.today() {
		if err := s.rotateAndCompress(); err != nil {
			return err
		}
	}

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	if _, err := io.WriteString(s.file, line); err != nil {
		return fmt.Errorf("failed to write report line: %w", err)
	}
	return nil
}

func (s *Storage) today() string {
	return s.now().Format(dayLayout)
}

// rotationTimer handles daily rotation at midnight UTC
func (s *Storage) rotationTimer() {
	defer s.wg.Done()

	for {
		now := time.Now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

		select {
		case <-time.After(nextMidnight.Sub(now)):
			s.mu.Lock()
			err := s.rotateAndCompress()
			s.mu.Unlock()
			if err != nil {
				fmt.Printf("Error during rotation: %v\n", err)
			}
		case <-s.stopChan:
			return
		}
	}
}

// rotateAndCompress closes the open file, compresses it if it belongs to an
// earlier day and opens today's file. Callers hold s.mu.
func (s *Storage) rotateAndCompress() error {
	previous := ""
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			fmt.Printf("Warning: failed to close report file: %v\n", err)
		}
		s.file = nil
		previous = s.day
	}

	if previous != "" && previous != s.today() {
		path := filepath.Join(s.outputDir, filePrefix+previous+".log")
		if err := compressFile(path); err != nil {
			return fmt.Errorf("failed to compress file: %w", err)
		}
	}

	return s.openFile()
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	gzipWriter.Name = filepath.Base(path)

	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// openFile opens (or creates) the file for the current day. Callers hold s.mu.
func (s *Storage) openFile() error {
	day := s.now()
	filename := filepath.Join(s.outputDir, FileName(day))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	s.file = file
	s.day = day.Format(dayLayout)
	return nil
}
