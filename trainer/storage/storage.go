/*
 *     Copyright 2024 The AnyPrec Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package storage persists per-epoch training history as csv files and
// aggregated run summaries as json, under the run directory.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"
)

const (
	// HistoryFileName is the name of the epoch history file.
	HistoryFileName = "history"

	// SummaryFileName is the name of the run summary file.
	SummaryFileName = "summary"

	// CSVFileExt is the extension of csv files.
	CSVFileExt = "csv"

	// JSONFileExt is the extension of json files.
	JSONFileExt = "json"
)

// EpochRecord is one measurement of a split at one bit width after an
// epoch.
type EpochRecord struct {
	Epoch    int     `csv:"epoch"`
	Split    string  `csv:"split"`
	BitWidth int     `csv:"bit_width"`
	LR       float64 `csv:"lr"`
	Loss     float64 `csv:"loss"`
	Top1     float64 `csv:"top1"`
	Top5     float64 `csv:"top5"`
	Seconds  float64 `csv:"seconds"`
}

// BitWidthSummary aggregates the test history of one bit width.
type BitWidthSummary struct {
	BitWidth  int     `json:"bitWidth"`
	BestTop1  float64 `json:"bestTop1"`
	BestEpoch int     `json:"bestEpoch"`
	FinalTop1 float64 `json:"finalTop1"`
	MeanLoss  float64 `json:"meanLoss"`
}

// Summary is the aggregated result of a run.
type Summary struct {
	RunID     string            `json:"runId"`
	Project   string            `json:"project"`
	Epochs    int               `json:"epochs"`
	BitWidths []BitWidthSummary `json:"bitWidths"`
}

// Storage is the interface used for run persistence.
type Storage interface {
	// CreateEpochRecords appends records to the history csv file.
	CreateEpochRecords([]EpochRecord) error

	// ListEpochRecords returns all records of the history csv file.
	ListEpochRecords() ([]EpochRecord, error)

	// OpenHistory opens the history csv file for read.
	OpenHistory() (io.ReadCloser, error)

	// CreateSummary aggregates the test history into a summary and
	// writes it as json.
	CreateSummary(runID, project string) (*Summary, error)

	// Clear removes all files.
	Clear() error
}

type storage struct {
	baseDir string
	mu      sync.Mutex
}

// New returns a new Storage instance rooted at baseDir.
func New(baseDir string) Storage {
	return &storage{baseDir: baseDir}
}

// CreateEpochRecords appends records to the history csv file. The
// header is written once, on first append.
func (s *storage) CreateEpochRecords(records []EpochRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.historyFilename(), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		return gocsv.MarshalFile(&records, file)
	}
	return gocsv.MarshalWithoutHeaders(&records, file)
}

// ListEpochRecords returns all records of the history csv file.
func (s *storage) ListEpochRecords() ([]EpochRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.historyFilename())
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []EpochRecord
	if err := gocsv.UnmarshalFile(file, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// OpenHistory opens the history csv file for read.
func (s *storage) OpenHistory() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.Open(s.historyFilename())
}

// CreateSummary aggregates the test history into a summary and writes
// it as json.
func (s *storage) CreateSummary(runID, project string) (*Summary, error) {
	records, err := s.ListEpochRecords()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byBits := map[int][]EpochRecord{}
	epochs := 0
	for _, r := range records {
		if r.Split != "test" {
			continue
		}
		byBits[r.BitWidth] = append(byBits[r.BitWidth], r)
		if r.Epoch+1 > epochs {
			epochs = r.Epoch + 1
		}
	}

	summary := &Summary{
		RunID:   runID,
		Project: project,
		Epochs:  epochs,
	}

	bws := make([]int, 0, len(byBits))
	for bw := range byBits {
		bws = append(bws, bw)
	}
	sort.Ints(bws)

	for _, bw := range bws {
		rs := byBits[bw]
		losses := make([]float64, len(rs))
		best := BitWidthSummary{BitWidth: bw, BestEpoch: -1}
		for i, r := range rs {
			losses[i] = r.Loss
			if r.Top1 > best.BestTop1 || best.BestEpoch < 0 {
				best.BestTop1 = r.Top1
				best.BestEpoch = r.Epoch
			}
		}
		best.FinalTop1 = rs[len(rs)-1].Top1

		meanLoss, err := stats.Mean(losses)
		if err != nil {
			return nil, err
		}
		best.MeanLoss = meanLoss

		summary.BitWidths = append(summary.BitWidths, best)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.summaryFilename(), data, 0600); err != nil {
		return nil, err
	}
	return summary, nil
}

// Clear removes all files.
func (s *storage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := removeIfExists(s.historyFilename()); err != nil {
		return err
	}
	return removeIfExists(s.summaryFilename())
}

func (s *storage) historyFilename() string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.%s", HistoryFileName, CSVFileExt))
}

func (s *storage) summaryFilename() string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.%s", SummaryFileName, JSONFileExt))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
