package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kart-io/anticorruption-bot/pkg/utils/json"
)

// 快照文件头：magic "ACVX"，随后是 version、dim、count，均为小端 uint32。
const (
	snapshotMagic   = "ACVX"
	snapshotVersion = 1

	// maxSnapshotDim 防止损坏的头部触发超大分配。
	maxSnapshotDim = 1 << 16
)

var errCorruptSnapshot = errors.New("corrupt snapshot")

type snapshotHeader struct {
	Version uint32
	Dim     uint32
	Count   uint32
}

// WriteSnapshot 写出向量文件和并行的元数据文件。
// 第 i 个向量与第 i 条元数据对应。
func WriteSnapshot(vectorsPath, metaPath string, records []Record) error {
	dim := 0
	if len(records) > 0 {
		dim = len(records[0].Embedding)
	}
	for i, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("record %d has dimension %d, want %d", i, len(r.Embedding), dim)
		}
	}

	f, err := os.Create(vectorsPath)
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(snapshotMagic); err != nil {
		return err
	}
	hdr := snapshotHeader{Version: snapshotVersion, Dim: uint32(dim), Count: uint32(len(records))}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := binary.Write(w, binary.LittleEndian, r.Embedding); err != nil {
			return fmt.Errorf("write vectors: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	meta, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, meta, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// readVectors 读取向量文件，返回维度和按行展开的向量数据。
func readVectors(path string) (int, int, []float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != snapshotMagic {
		return 0, 0, nil, fmt.Errorf("%w: bad magic", errCorruptSnapshot)
	}

	var hdr snapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: short header", errCorruptSnapshot)
	}
	if hdr.Version != snapshotVersion {
		return 0, 0, nil, fmt.Errorf("%w: unsupported version %d", errCorruptSnapshot, hdr.Version)
	}
	if hdr.Count > 0 && (hdr.Dim == 0 || hdr.Dim > maxSnapshotDim) {
		return 0, 0, nil, fmt.Errorf("%w: invalid dimension %d", errCorruptSnapshot, hdr.Dim)
	}

	if info, err := f.Stat(); err == nil {
		want := int64(len(snapshotMagic)) + 12 + int64(hdr.Dim)*int64(hdr.Count)*4
		if info.Size() != want {
			return 0, 0, nil, fmt.Errorf("%w: size %d, want %d", errCorruptSnapshot, info.Size(), want)
		}
	}

	data := make([]float32, int(hdr.Dim)*int(hdr.Count))
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: truncated vectors", errCorruptSnapshot)
	}
	return int(hdr.Dim), int(hdr.Count), data, nil
}

func readMetadata(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", errCorruptSnapshot, err)
	}
	for i := range records {
		records[i].ID = i
	}
	return records, nil
}

// ReadSnapshot 读取完整快照，记录带有向量。多出的向量或元数据会被忽略。
func ReadSnapshot(vectorsPath, metaPath string) ([]Record, error) {
	dim, count, vectors, err := readVectors(vectorsPath)
	if err != nil {
		return nil, fmt.Errorf("load vectors %s: %w", vectorsPath, err)
	}
	records, err := readMetadata(metaPath)
	if err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", metaPath, err)
	}
	if len(records) > count {
		records = records[:count]
	}
	for i := range records {
		records[i].Embedding = vectors[i*dim : (i+1)*dim]
	}
	return records, nil
}
