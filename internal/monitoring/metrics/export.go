// Licensed under the MIT License. See LICENSE file in the project root for details.

package metrics

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Binary format specification:
// Header: [4 bytes magic] [4 bytes version] [8 bytes count]
// Magic: "EBRS" (0x45425253)
// Version: 1
// For each field: [4 bytes name_len] [name_bytes] [8 bytes value]

const (
	MagicNumber = 0x45425253 // "EBRS"
	Version     = 1
	HeaderSize  = 16 // 4 + 4 + 8
)

// ExportHeader represents the binary file header
type ExportHeader struct {
	Magic   uint32
	Version uint32
	Count   uint64
}

// Flatten converts a snapshot into named counter fields. Latencies are
// reduced to their nanosecond summary values; the configuration is not a
// measurement and is left out.
func Flatten(snap MetricsSnapshot) map[string]uint64 {
	fields := map[string]uint64{
		"operations.pins":           snap.Operations.Pins,
		"operations.defers_small":   snap.Operations.DefersSmall,
		"operations.defers_medium":  snap.Operations.DefersMedium,
		"operations.defers_large":   snap.Operations.DefersLarge,
		"operations.flushes":        snap.Operations.Flushes,
		"operations.flushed_tasks":  snap.Operations.FlushedTasks,
		"operations.collect_passes": snap.Operations.CollectPasses,
		"operations.executed_tasks": snap.Operations.ExecutedTasks,
		"advances.attempts":         snap.Advances.Attempts,
		"advances.successes":        snap.Advances.Successes,
		"errors.task_faults":        snap.Errors.TaskFaults,
		"engine.handles":            snap.Engine.Handles,
		"engine.global_epoch":       snap.Engine.GlobalEpoch,
		"engine.backlog_small":      snap.Engine.BacklogSmall,
		"engine.backlog_medium":     snap.Engine.BacklogMedium,
		"engine.backlog_large":      snap.Engine.BacklogLarge,
		"engine.recycled_entries":   snap.Engine.RecycledEntries,
	}
	for path, stats := range map[string]LatencyStats{
		"flush":   snap.Latency.Flush,
		"collect": snap.Latency.Collect,
	} {
		fields["latency."+path+".count"] = stats.Count
		fields["latency."+path+".min_ns"] = uint64(stats.Min.Nanoseconds())   // #nosec G115
		fields["latency."+path+".max_ns"] = uint64(stats.Max.Nanoseconds())   // #nosec G115
		fields["latency."+path+".mean_ns"] = uint64(stats.Mean.Nanoseconds()) // #nosec G115
		fields["latency."+path+".p99_ns"] = uint64(stats.P99.Nanoseconds())   // #nosec G115
	}
	return fields
}

// sortedFieldNames returns the field names in a stable order so exports of
// the same snapshot are byte-identical.
func sortedFieldNames(fields map[string]uint64) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteSnapshotBinary exports a snapshot to a compact binary format
func WriteSnapshotBinary(snap MetricsSnapshot, filename string) error {
	file, err := os.Create(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create file %s: %v", filename, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	fields := Flatten(snap)

	// Write header
	header := ExportHeader{
		Magic:   MagicNumber,
		Version: Version,
		Count:   uint64(len(fields)),
	}
	if err := binary.Write(writer, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write header: %v", err)
	}

	// Write fields in a deterministic order
	for _, name := range sortedFieldNames(fields) {
		nameLen := uint32(len(name)) // #nosec G115
		if err := binary.Write(writer, binary.LittleEndian, nameLen); err != nil {
			return fmt.Errorf("failed to write field name length: %v", err)
		}
		if _, err := writer.WriteString(name); err != nil {
			return fmt.Errorf("failed to write field name: %v", err)
		}
		if err := binary.Write(writer, binary.LittleEndian, fields[name]); err != nil {
			return fmt.Errorf("failed to write field value: %v", err)
		}
	}

	return nil
}

// ReadSnapshotBinary reads back a binary snapshot file as named fields
func ReadSnapshotBinary(filename string) (map[string]uint64, error) {
	file, err := os.Open(filename) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %v", filename, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	// Read header
	var header ExportHeader
	if err := binary.Read(reader, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %v", err)
	}

	// Validate header
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("invalid magic number: expected %x, got %x", MagicNumber, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("unsupported version: expected %d, got %d", Version, header.Version)
	}

	// Read fields
	fields := make(map[string]uint64, header.Count)
	for i := uint64(0); i < header.Count; i++ {
		var nameLen uint32
		if err := binary.Read(reader, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("failed to read field name length: %v", err)
		}

		name := make([]byte, nameLen)
		if _, err := io.ReadFull(reader, name); err != nil {
			return nil, fmt.Errorf("failed to read field name: %v", err)
		}

		var value uint64
		if err := binary.Read(reader, binary.LittleEndian, &value); err != nil {
			return nil, fmt.Errorf("failed to read field value: %v", err)
		}

		fields[string(name)] = value
	}

	return fields, nil
}

// WriteSnapshotCSV exports a snapshot to CSV format (good for spreadsheets
// and quick diffs between runs)
func WriteSnapshotCSV(snap MetricsSnapshot, filename string) error {
	file, err := os.Create(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create file %s: %v", filename, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	// Write CSV header
	if _, err := writer.WriteString("metric,value\n"); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	fields := Flatten(snap)
	for _, name := range sortedFieldNames(fields) {
		line := fmt.Sprintf("%s,%d\n", name, fields[name])
		if _, err := writer.WriteString(line); err != nil {
			return fmt.Errorf("failed to write CSV line: %v", err)
		}
	}

	return nil
}

// ReadSnapshotCSV reads back a CSV snapshot file as named fields
func ReadSnapshotCSV(filename string) (map[string]uint64, error) {
	file, err := os.Open(filename) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %v", filename, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	// Skip header
	if _, err := reader.ReadString('\n'); err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %v", err)
	}

	fields := make(map[string]uint64)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF && line == "" {
			break
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read CSV line: %v", err)
		}

		line = strings.TrimRight(line, "\n")
		if line == "" {
			if err == io.EOF {
				break
			}
			continue
		}

		name, raw, found := strings.Cut(line, ",")
		if !found {
			continue // Skip malformed lines
		}
		value, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr != nil {
			continue
		}
		fields[name] = value

		if err == io.EOF {
			break
		}
	}

	return fields, nil
}

// WriteSnapshotJSON exports a full snapshot, configuration included, as
// indented JSON
func WriteSnapshotJSON(snap MetricsSnapshot, filename string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %v", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file %s: %v", filename, err)
	}
	return nil
}

// ReadSnapshotJSON reads back a JSON snapshot file
func ReadSnapshotJSON(filename string) (MetricsSnapshot, error) {
	var snap MetricsSnapshot

	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return snap, fmt.Errorf("failed to open file %s: %v", filename, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode snapshot: %v", err)
	}
	return snap, nil
}
